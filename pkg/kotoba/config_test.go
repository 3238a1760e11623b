package kotoba

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
vendors:
  llm:
    provider: mock
  tts:
    provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Speech.QueueSize != 5 {
		t.Fatalf("expected default queue size 5, got %d", cfg.Speech.QueueSize)
	}
	if cfg.Turn.BargeInThresholdMS != 500 {
		t.Fatalf("expected default barge-in threshold 500, got %d", cfg.Turn.BargeInThresholdMS)
	}
	if !cfg.Speech.LipSync {
		t.Fatal("lip sync should default on")
	}
	if cfg.Avatar.Parameter != "MouthOpen" {
		t.Fatalf("expected default avatar parameter MouthOpen, got %q", cfg.Avatar.Parameter)
	}
	if !cfg.Memory.SummaryEnabled {
		t.Fatal("memory summaries should default on")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("KOTOBA_TEST_KEY", "secret-value")
	path := writeConfig(t, `
vendors:
  llm:
    provider: openai
    settings:
      api_key: ${KOTOBA_TEST_KEY}
  tts:
    provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.Vendors.LLM.Settings["api_key"]; got != "secret-value" {
		t.Fatalf("expected env expansion in settings, got %v", got)
	}
}

func TestLoadConfigRequiresProviders(t *testing.T) {
	path := writeConfig(t, `
vendors:
  tts:
    provider: mock
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error without llm provider")
	}
}

func TestLoadConfigRejectsInvertedSegmentBounds(t *testing.T) {
	path := writeConfig(t, `
vendors:
  llm:
    provider: mock
  tts:
    provider: mock
speech:
  min_segment_len: 60
  max_segment_len: 50
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for min > max segment length")
	}
}
