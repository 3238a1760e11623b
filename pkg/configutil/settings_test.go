package configutil

import "testing"

func TestDecodeSettingsMatchesLooseKeys(t *testing.T) {
	var out struct {
		APIKey       string `mapstructure:"api_key"`
		SampleRate   int    `mapstructure:"sample_rate"`
		InterimAudio bool   `mapstructure:"interim_audio"`
	}
	in := map[string]any{
		"api-key":       "abc",
		"SAMPLE_RATE":   "16000",
		"interim_audio": "true",
	}
	if err := DecodeSettings(in, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "abc" {
		t.Fatalf("key matching failed: %+v", out)
	}
	if out.SampleRate != 16000 {
		t.Fatalf("weak typing should coerce strings to ints: %+v", out)
	}
	if !out.InterimAudio {
		t.Fatalf("weak typing should coerce strings to bools: %+v", out)
	}
}

func TestDecodeSettingsEmptyInputIsNoop(t *testing.T) {
	var out struct {
		Value string `mapstructure:"value"`
	}
	out.Value = "keep"
	if err := DecodeSettings(nil, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Value != "keep" {
		t.Fatal("empty input must not touch the target")
	}
}

func TestRequireString(t *testing.T) {
	if err := RequireString("set", "vendors.llm.api_key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RequireString("   ", "vendors.llm.api_key"); err == nil {
		t.Fatal("expected error for blank value")
	}
}

func TestOptionalValues(t *testing.T) {
	b := true
	if !BoolValue(&b, false) {
		t.Fatal("explicit value should win")
	}
	if BoolValue(nil, false) {
		t.Fatal("nil should fall back to default")
	}
	n := 7
	if IntValue(&n, 3) != 7 {
		t.Fatal("explicit value should win")
	}
	if IntValue(nil, 3) != 3 {
		t.Fatal("nil should fall back to default")
	}
}
