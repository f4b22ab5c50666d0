package configutil

import (
	"strings"
	"testing"
)

type sampleSettings struct {
	APIKey     string `mapstructure:"api_key"`
	SampleRate int    `mapstructure:"sample_rate"`
	Interim    *bool  `mapstructure:"interim"`
}

func TestDecodeSettingsLooseKeys(t *testing.T) {
	var out sampleSettings
	err := DecodeSettings(map[string]any{
		"API-Key":    "sk-1",
		"sampleRate": "8000",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "sk-1" {
		t.Fatalf("api key not matched loosely, got %q", out.APIKey)
	}
	if out.SampleRate != 8000 {
		t.Fatalf("weak typing must coerce string to int, got %d", out.SampleRate)
	}
	if out.Interim != nil {
		t.Fatalf("absent optional must stay nil")
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{
		Required: []string{"api_key"},
		Optional: []string{"model"},
	}
	cases := []struct {
		name    string
		input   map[string]any
		wantErr string
	}{
		{name: "valid", input: map[string]any{"api_key": "x", "model": "m"}},
		{name: "missing required", input: map[string]any{"model": "m"}, wantErr: "missing: api_key"},
		{name: "blank required", input: map[string]any{"api_key": "  "}, wantErr: "missing: api_key"},
		{name: "unknown key", input: map[string]any{"api_key": "x", "tempo": 1}, wantErr: "unknown: tempo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSettings(tc.input, schema)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateSettingsAllowUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{"api_key": "x", "extra": true}, Schema{
		Required:     []string{"api_key"},
		AllowUnknown: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOptionalValueDefaults(t *testing.T) {
	on := true
	if !BoolValue(&on, false) || BoolValue(nil, false) {
		t.Fatalf("BoolValue must prefer the set pointer")
	}
	n := 7
	if IntValue(&n, 3) != 7 || IntValue(nil, 3) != 3 {
		t.Fatalf("IntValue must prefer the set pointer")
	}
	if err := RequireString("", "vendors.stt.settings.api_key"); err == nil {
		t.Fatalf("blank required string must error")
	}
}
