package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/ecomatrix/voicegate/pkg/capability"
	"github.com/ecomatrix/voicegate/pkg/configutil"
	"github.com/ecomatrix/voicegate/pkg/providers/deepgram"
	"github.com/ecomatrix/voicegate/pkg/providers/elevenlabs"
	"github.com/ecomatrix/voicegate/pkg/providers/gemini"
	"github.com/ecomatrix/voicegate/pkg/providers/mock"
)

// STTFactory builds one transcriber for one call.
type STTFactory func(call capability.STTConfig) capability.Transcriber

// TTSFactory builds one synthesizer for one call.
type TTSFactory func(call capability.TTSConfig) capability.Synthesizer

type STTBuilder func(cfg Config) (STTFactory, error)
type TTSBuilder func(cfg Config) (TTSFactory, error)
type LLMBuilder func(ctx context.Context, cfg Config) (capability.Responder, error)

// ProviderRegistry maps provider names from config to capability builders.
type ProviderRegistry struct {
	stt map[string]STTBuilder
	tts map[string]TTSBuilder
	llm map[string]LLMBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTBuilder),
		tts: make(map[string]TTSBuilder),
		llm: make(map[string]LLMBuilder),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, builder STTBuilder) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = builder
}

func (r *ProviderRegistry) RegisterTTS(name string, builder TTSBuilder) {
	r.tts[strings.ToLower(strings.TrimSpace(name))] = builder
}

func (r *ProviderRegistry) RegisterLLM(name string, builder LLMBuilder) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = builder
}

func (r *ProviderRegistry) BuildSTTFactory(provider string, cfg Config) (STTFactory, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTSFactory(provider string, cfg Config) (TTSFactory, error) {
	fn := r.tts[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildLLM(ctx context.Context, provider string, cfg Config) (capability.Responder, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(ctx, cfg)
}

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Interim        *bool  `mapstructure:"interim"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
}

type elevenlabsSettings struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	SampleRate   int    `mapstructure:"sample_rate"`
}

type geminiSettings struct {
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
}

type mockSTTSettings struct {
	Transcript   string `mapstructure:"transcript"`
	EmitInterim  *bool  `mapstructure:"emit_interim"`
	EmitBoundary *bool  `mapstructure:"emit_boundary"`
}

type mockTTSSettings struct {
	ChunkBytes int `mapstructure:"chunk_bytes"`
}

type mockLLMSettings struct {
	ResponseText string `mapstructure:"response_text"`
}

// DefaultRegistry registers the built-in providers: deepgram transcription,
// elevenlabs synthesis, gemini responses, and mocks for all three.
func DefaultRegistry() *ProviderRegistry {
	reg := NewProviderRegistry()

	reg.RegisterSTT("deepgram", func(cfg Config) (STTFactory, error) {
		if err := validateSettings("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "utterance_end_ms"},
		}); err != nil {
			return nil, err
		}
		var settings deepgramSettings
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		if settings.SampleRate == 0 {
			settings.SampleRate = cfg.Audio.SampleRate
		}
		utteranceEnd := configutil.IntValue(settings.UtteranceEndMS, 1000)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("vendors.stt.settings.utterance_end_ms must be between 0 and 5000, got %d", utteranceEnd)
		}
		interim := configutil.BoolValue(settings.Interim, true)
		return func(call capability.STTConfig) capability.Transcriber {
			language := settings.Language
			if language == "" {
				language = call.Language
			}
			return deepgram.New(deepgram.Config{
				APIKey:         settings.APIKey,
				Model:          settings.Model,
				Language:       language,
				SampleRate:     settings.SampleRate,
				Encoding:       settings.Encoding,
				Interim:        interim,
				UtteranceEndMS: utteranceEnd,
				StreamID:       call.StreamID,
				CallID:         call.CallID,
				TraceID:        call.TraceID,
			})
		}, nil
	})

	reg.RegisterSTT("mock", func(cfg Config) (STTFactory, error) {
		if err := validateSettings("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
			Optional: []string{"transcript", "emit_interim", "emit_boundary"},
		}); err != nil {
			return nil, err
		}
		var settings mockSTTSettings
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		emitInterim := configutil.BoolValue(settings.EmitInterim, false)
		emitBoundary := configutil.BoolValue(settings.EmitBoundary, true)
		return func(call capability.STTConfig) capability.Transcriber {
			return mock.NewTranscriber(mock.STTConfig{
				StreamID:     call.StreamID,
				CallID:       call.CallID,
				TraceID:      call.TraceID,
				Transcript:   settings.Transcript,
				EmitInterim:  emitInterim,
				EmitBoundary: emitBoundary,
			})
		}, nil
	})

	reg.RegisterTTS("elevenlabs", func(cfg Config) (TTSFactory, error) {
		if err := validateSettings("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "sample_rate"},
		}); err != nil {
			return nil, err
		}
		var settings elevenlabsSettings
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.VoiceID, "vendors.tts.settings.voice_id"); err != nil {
			return nil, err
		}
		if settings.SampleRate == 0 {
			settings.SampleRate = cfg.Audio.SampleRate
		}
		return func(call capability.TTSConfig) capability.Synthesizer {
			voice := settings.VoiceID
			if call.Voice != "" {
				voice = call.Voice
			}
			return elevenlabs.New(elevenlabs.Config{
				APIKey:       settings.APIKey,
				VoiceID:      voice,
				ModelID:      settings.ModelID,
				OutputFormat: settings.OutputFormat,
				SampleRate:   settings.SampleRate,
				StreamID:     call.StreamID,
				CallID:       call.CallID,
			})
		}, nil
	})

	reg.RegisterTTS("mock", func(cfg Config) (TTSFactory, error) {
		if err := validateSettings("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
			Optional: []string{"chunk_bytes"},
		}); err != nil {
			return nil, err
		}
		var settings mockTTSSettings
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
			return nil, err
		}
		return func(call capability.TTSConfig) capability.Synthesizer {
			return mock.NewSynthesizer(mock.TTSConfig{
				StreamID:   call.StreamID,
				CallID:     call.CallID,
				SampleRate: call.SampleRate,
				ChunkBytes: settings.ChunkBytes,
			})
		}, nil
	})

	reg.RegisterLLM("gemini", func(ctx context.Context, cfg Config) (capability.Responder, error) {
		if err := validateSettings("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "temperature", "top_p", "max_output_tokens"},
		}); err != nil {
			return nil, err
		}
		var settings geminiSettings
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		return gemini.New(ctx, gemini.Config{
			APIKey:          settings.APIKey,
			Model:           settings.Model,
			Temperature:     float32(settings.Temperature),
			TopP:            float32(settings.TopP),
			MaxOutputTokens: int32(settings.MaxOutputTokens),
		})
	})

	reg.RegisterLLM("mock", func(ctx context.Context, cfg Config) (capability.Responder, error) {
		if err := validateSettings("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Optional: []string{"response_text"},
		}); err != nil {
			return nil, err
		}
		var settings mockLLMSettings
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
			return nil, err
		}
		return mock.NewResponder(mock.LLMConfig{ResponseText: settings.ResponseText}), nil
	})

	return reg
}

func validateSettings(path string, input map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
