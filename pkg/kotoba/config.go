package kotoba

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Persona       PersonaConfig       `mapstructure:"persona"`
	Memory        MemoryConfig        `mapstructure:"memory"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Avatar        AvatarConfig        `mapstructure:"avatar"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	BasePrompt    string              `mapstructure:"base_prompt"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type SpeechConfig struct {
	QueueSize      int  `mapstructure:"queue_size"`
	PollIntervalMS int  `mapstructure:"poll_interval_ms"`
	LipSync        bool `mapstructure:"lip_sync"`
	MinSegmentLen  int  `mapstructure:"min_segment_len"`
	MaxSegmentLen  int  `mapstructure:"max_segment_len"`
}

type TurnConfig struct {
	BargeInThresholdMS int `mapstructure:"barge_in_threshold_ms"`
	DrainTimeoutMS     int `mapstructure:"drain_timeout_ms"`
	MinTranscriptChars int `mapstructure:"min_transcript_chars"`
}

type PersonaConfig struct {
	Name           string `mapstructure:"name"`
	IdlePollMS     int    `mapstructure:"idle_poll_ms"`
	EnforcerActive bool   `mapstructure:"enforcer_active"`
}

type MemoryConfig struct {
	SearchResults  int  `mapstructure:"search_results"`
	SummaryEnabled bool `mapstructure:"summary_enabled"`
}

type ToolsConfig struct {
	SearchEndpoint string `mapstructure:"search_endpoint"`
	SearchAPIKey   string `mapstructure:"search_api_key"`
	FetchMaxChars  int    `mapstructure:"fetch_max_chars"`
}

type AvatarConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	PluginName      string `mapstructure:"plugin_name"`
	PluginDeveloper string `mapstructure:"plugin_developer"`
	Parameter       string `mapstructure:"parameter"`
}

type ResilienceConfig struct {
	MaxRetries        int `mapstructure:"max_retries"`
	RetryBackoffMS    int `mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type ObservabilityConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("speech.queue_size", 5)
	v.SetDefault("speech.poll_interval_ms", 10)
	v.SetDefault("speech.lip_sync", true)
	v.SetDefault("speech.min_segment_len", 4)
	v.SetDefault("speech.max_segment_len", 50)
	v.SetDefault("turn.barge_in_threshold_ms", 500)
	v.SetDefault("turn.drain_timeout_ms", 30000)
	v.SetDefault("turn.min_transcript_chars", 3)
	v.SetDefault("persona.name", "kotoba")
	v.SetDefault("persona.idle_poll_ms", 1000)
	v.SetDefault("persona.enforcer_active", true)
	v.SetDefault("memory.search_results", 3)
	v.SetDefault("memory.summary_enabled", true)
	v.SetDefault("tools.fetch_max_chars", 4000)
	v.SetDefault("avatar.enabled", false)
	v.SetDefault("avatar.url", "ws://localhost:8001")
	v.SetDefault("avatar.parameter", "MouthOpen")
	v.SetDefault("resilience.max_retries", 1)
	v.SetDefault("resilience.retry_backoff_ms", 250)
	v.SetDefault("resilience.breaker_threshold", 3)
	v.SetDefault("resilience.breaker_cooldown_ms", 30000)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if c.Speech.MinSegmentLen > c.Speech.MaxSegmentLen {
		return fmt.Errorf("speech.min_segment_len must not exceed max_segment_len")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
