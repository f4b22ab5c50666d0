package gateway

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
  llm:
    provider: mock
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerAddr != ":8080" {
		t.Fatalf("expected default server_addr, got %q", cfg.ServerAddr)
	}
	if cfg.Audio.SampleRate != 8000 || cfg.Audio.FrameMS != 200 {
		t.Fatalf("unexpected audio defaults %+v", cfg.Audio)
	}
	if cfg.Turn.SilenceThreshold() != 500*time.Millisecond {
		t.Fatalf("unexpected silence threshold %s", cfg.Turn.SilenceThreshold())
	}
	if cfg.Turn.ReplyTimeout() != 8*time.Second {
		t.Fatalf("unexpected reply timeout %s", cfg.Turn.ReplyTimeout())
	}
	if cfg.Session.IdleTimeout() != time.Minute {
		t.Fatalf("unexpected idle timeout %s", cfg.Session.IdleTimeout())
	}
	if cfg.Session.MaxPendingFrames != 64 || cfg.Session.MaxOutboundFrames != 256 {
		t.Fatalf("unexpected session defaults %+v", cfg.Session)
	}
	if cfg.FallbackReply == "" {
		t.Fatalf("expected a default fallback reply")
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("expected redaction on by default")
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("VG_TEST_API_KEY", "sk-secret")
	t.Setenv("VG_TEST_HOST", "gw.example.com")
	cfg, err := LoadConfig(writeConfig(t, `
public_url: https://${VG_TEST_HOST}
vendors:
  stt:
    provider: mock
    settings:
      transcript: hello
  tts:
    provider: mock
  llm:
    provider: gemini
    settings:
      api_key: ${VG_TEST_API_KEY}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PublicURL != "https://gw.example.com" {
		t.Fatalf("public_url not expanded: %q", cfg.PublicURL)
	}
	if cfg.Vendors.LLM.Settings["api_key"] != "sk-secret" {
		t.Fatalf("settings not expanded: %v", cfg.Vendors.LLM.Settings)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing llm provider",
			content: `
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
`,
			wantErr: "vendors.llm.provider",
		},
		{
			name: "unsupported sample rate",
			content: `
audio:
  sample_rate: 16000
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
  llm:
    provider: mock
`,
			wantErr: "sample_rate",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}
