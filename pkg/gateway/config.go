// Package gateway assembles the call-streaming agent: config, provider
// construction, and the glue between the media transport, the session
// registry, and the per-call turn loop.
package gateway

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ecomatrix/voicegate/pkg/dialer"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	PublicURL      string   `mapstructure:"public_url"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"`
	Greeting       string   `mapstructure:"greeting"`
	SystemPrompt   string   `mapstructure:"system_prompt"`
	FallbackReply  string   `mapstructure:"fallback_reply"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	Audio   AudioConfig   `mapstructure:"audio"`
	Turn    TurnConfig    `mapstructure:"turn"`
	Session SessionConfig `mapstructure:"session"`
	Privacy PrivacyConfig `mapstructure:"privacy"`
	Vendors VendorsConfig `mapstructure:"vendors"`
	Dialer  dialer.Config `mapstructure:"dialer"`
}

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	FrameMS    int `mapstructure:"frame_ms"`
}

type TurnConfig struct {
	SilenceMS       int `mapstructure:"silence_ms"`
	ReplyTimeoutMS  int `mapstructure:"reply_timeout_ms"`
	EnergyThreshold int `mapstructure:"energy_threshold"`
	MaxHistory      int `mapstructure:"max_history"`
}

type SessionConfig struct {
	IdleTimeoutMS     int `mapstructure:"idle_timeout_ms"`
	ReapIntervalMS    int `mapstructure:"reap_interval_ms"`
	MaxPendingFrames  int `mapstructure:"max_pending_frames"`
	MaxOutboundFrames int `mapstructure:"max_outbound_frames"`
}

// PrivacyConfig controls what caller data may reach the logs. Transcripts
// and replies are scrubbed of emails and phone numbers when RedactPII is on.
type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
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

func (c TurnConfig) SilenceThreshold() time.Duration {
	return time.Duration(c.SilenceMS) * time.Millisecond
}

func (c TurnConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMS) * time.Millisecond
}

func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

func (c SessionConfig) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalMS) * time.Millisecond
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("fallback_reply", "Sorry, I did not catch that. Could you say it again?")
	v.SetDefault("audio.sample_rate", 8000)
	v.SetDefault("audio.frame_ms", 200)
	v.SetDefault("turn.silence_ms", 500)
	v.SetDefault("turn.reply_timeout_ms", 8000)
	v.SetDefault("turn.energy_threshold", 100)
	v.SetDefault("turn.max_history", 12)
	v.SetDefault("session.idle_timeout_ms", 60000)
	v.SetDefault("session.reap_interval_ms", 10000)
	v.SetDefault("session.max_pending_frames", 64)
	v.SetDefault("session.max_outbound_frames", 256)
	v.SetDefault("privacy.redact_pii", true)

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
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Audio.SampleRate != 8000 {
		return fmt.Errorf("audio.sample_rate must be 8000, got %d", c.Audio.SampleRate)
	}
	if c.Audio.FrameMS <= 0 {
		return fmt.Errorf("audio.frame_ms must be positive, got %d", c.Audio.FrameMS)
	}
	return nil
}

// expandEnvStrings substitutes ${VAR} references in every string field so
// secrets can live in the environment rather than on disk.
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
