package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/capability"
	"github.com/ecomatrix/voicegate/pkg/errorsx"
	"github.com/ecomatrix/voicegate/pkg/logging"
	"github.com/ecomatrix/voicegate/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	StreamID     string
	CallID       string
}

// Synthesizer streams text to ElevenLabs over its stream-input websocket and
// relays PCM chunks back. Output is pcm_8000 so no transcoding is needed for
// the telephony leg.
type Synthesizer struct {
	cfg     Config
	conn    *websocket.Conn
	out     chan capability.AudioChunk
	writeCh chan ttsMessage
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	logger  *slog.Logger
}

type ttsMessage struct {
	text  string
	flush bool
}

func New(cfg Config) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_8000"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	return &Synthesizer{
		cfg:     cfg,
		out:     make(chan capability.AudioChunk, 256),
		writeCh: make(chan ttsMessage, 256),
		logger:  logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonTTSConnect)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Debug("connecting to elevenlabs",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("output_format", s.cfg.OutputFormat))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	header := http.Header{"xi-api-key": []string{s.cfg.APIKey}}
	retry := resilience.NewRetryPolicy(2, 300*time.Millisecond)
	err := retry.DoCtx(s.ctx, func(ctx context.Context) error {
		conn, resp, err := dialer.DialContext(ctx, s.buildURL(), header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
				return resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
			}
			return errorsx.Wrap(err, errorsx.ReasonTTSRetry)
		}
		s.conn = conn
		return nil
	})
	if err != nil {
		if resilience.IsRateLimit(err) {
			return err
		}
		return errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	s.logger.Info("connected to elevenlabs",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("output_format", s.cfg.OutputFormat))

	_ = s.send(map[string]any{
		"text":                   " ",
		"try_trigger_generation": true,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	})
	go s.readLoop()
	go s.writeLoop()
	return nil
}

func (s *Synthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("tts close called",
		slog.String("stream_id", s.cfg.StreamID))
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return s.conn.Close()
	}
	return nil
}

func (s *Synthesizer) SendText(text string) error {
	if s.conn == nil {
		return errorsx.Wrap(errors.New("not connected"), errorsx.ReasonTTSSend)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	select {
	case s.writeCh <- ttsMessage{text: text}:
	default:
		return errorsx.Wrap(errors.New("write queue full"), errorsx.ReasonTTSSend)
	}
	return nil
}

// Flush forces generation of everything buffered upstream. The provider
// answers with the remaining audio followed by an isFinal message.
func (s *Synthesizer) Flush() error {
	if s.conn == nil {
		return errorsx.Wrap(errors.New("not connected"), errorsx.ReasonTTSSend)
	}
	select {
	case s.writeCh <- ttsMessage{text: " ", flush: true}:
	default:
		return errorsx.Wrap(errors.New("write queue full"), errorsx.ReasonTTSSend)
	}
	return nil
}

func (s *Synthesizer) Results() <-chan capability.AudioChunk { return s.out }

func (s *Synthesizer) buildURL() string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func (s *Synthesizer) writeLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.writeCh:
			payload := map[string]any{"text": msg.text}
			if msg.flush {
				payload["flush"] = true
			}
			_ = s.send(payload)
		case <-ticker.C:
			// Keep-alive to stay under the provider's idle timeout.
			_ = s.send(map[string]any{"text": " "})
		}
	}
}

func (s *Synthesizer) readLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Error("tts read loop error",
						slog.String("stream_id", s.cfg.StreamID),
						slog.String("error", err.Error()))
					s.emit(capability.AudioChunk{Err: errorsx.Wrap(err, errorsx.ReasonTTSSend)})
				}
				return
			}
			s.handleMessage(data)
		}
	}
}

func (s *Synthesizer) handleMessage(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("tts websocket raw data", slog.String("data", string(data)))
		return
	}
	if final, ok := msg["isFinal"].(bool); ok && final {
		s.emit(capability.AudioChunk{Final: true})
		return
	}
	encoded, ok := msg["audio"].(string)
	if !ok {
		if a, ok := msg["audio_base_64"].(string); ok {
			encoded = a
		} else if a, ok := msg["audio_base64"].(string); ok {
			encoded = a
		} else {
			if _, isAlign := msg["alignment"]; !isAlign {
				s.logger.Debug("tts websocket message", slog.Any("payload", msg))
			}
			return
		}
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.logger.Error("tts audio decode error", slog.String("error", err.Error()))
		return
	}

	s.logger.Debug("tts audio chunk received",
		slog.String("stream_id", s.cfg.StreamID),
		slog.Int("size_bytes", len(raw)))
	s.emit(capability.AudioChunk{Data: raw})
}

func (s *Synthesizer) emit(chunk capability.AudioChunk) {
	select {
	case s.out <- chunk:
	default:
		s.logger.Warn("tts output buffer full",
			slog.String("stream_id", s.cfg.StreamID))
	}
}

func (s *Synthesizer) send(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

var _ capability.Synthesizer = (*Synthesizer)(nil)
