package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/capability"
	"github.com/ecomatrix/voicegate/pkg/logging"
	"github.com/ecomatrix/voicegate/pkg/metrics"
	"github.com/ecomatrix/voicegate/pkg/redact"
	"github.com/ecomatrix/voicegate/pkg/runner"
	"github.com/ecomatrix/voicegate/pkg/session"
	"github.com/ecomatrix/voicegate/pkg/transports/exotel"
	"github.com/ecomatrix/voicegate/pkg/turn"
)

// Engine wires the media transport to per-call turn runners. One engine
// serves many concurrent calls; capabilities are built per call from the
// provider registry, except the responder which is stateless and shared.
type Engine struct {
	cfg       Config
	registry  *session.Registry
	transport *exotel.Transport
	llm       capability.Responder
	sttNew    STTFactory
	ttsNew    TTSFactory
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(ctx context.Context, cfg Config, providers *ProviderRegistry, log *slog.Logger) (*Engine, error) {
	if providers == nil {
		providers = DefaultRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	llm, err := providers.BuildLLM(ctx, cfg.Vendors.LLM.Provider, cfg)
	if err != nil {
		return nil, err
	}
	sttNew, err := providers.BuildSTTFactory(cfg.Vendors.STT.Provider, cfg)
	if err != nil {
		return nil, err
	}
	ttsNew, err := providers.BuildTTSFactory(cfg.Vendors.TTS.Provider, cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		registry: session.NewRegistry(cfg.Session.MaxPendingFrames, log),
		llm:      llm,
		sttNew:   sttNew,
		ttsNew:   ttsNew,
		log:      log,
	}
	e.transport = exotel.New(exotel.Config{
		ServerAddr:     cfg.ServerAddr,
		PublicURL:      cfg.PublicURL,
		AllowAnyOrigin: cfg.AllowAnyOrigin,
		AllowedOrigins: cfg.AllowedOrigins,
		OutboundFrames: cfg.Session.MaxOutboundFrames,
		Version:        runner.Version,
	}, e.registry, e.attach, log)
	return e, nil
}

// Registry exposes the session registry for inspection.
func (e *Engine) Registry() *session.Registry { return e.registry }

// Transport exposes the HTTP/websocket surface, mainly so callers can mount
// it under their own server.
func (e *Engine) Transport() *exotel.Transport { return e.transport }

func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}
	e.registry.StartReaper(e.ctx, e.cfg.Session.IdleTimeout(), e.cfg.Session.ReapInterval(), func(s *session.Session) {
		metrics.ActiveSessions.Set(float64(e.registry.Count()))
	})
	e.log.Info("gateway ready",
		slog.String("stt", e.cfg.Vendors.STT.Provider),
		slog.String("tts", e.cfg.Vendors.TTS.Provider),
		slog.String("llm", e.cfg.Vendors.LLM.Provider),
		slog.Any("endpoints", e.transport.ReadyFields()))
	return nil
}

func (e *Engine) Stop() error {
	err := e.transport.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	return err
}

// Drain stops accepting new streams and waits for live sessions to settle.
// The lifecycle runner bounds the wait.
func (e *Engine) Drain() error {
	_ = e.transport.Stop()
	for e.registry.Count() > 0 {
		time.Sleep(100 * time.Millisecond)
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// attach builds everything one call needs: a session, per-call capabilities,
// and a runner goroutine pumping frames from the session to the providers.
func (e *Engine) attach(ctx context.Context, info exotel.StartInfo, out exotel.Sender) (exotel.Handler, error) {
	s := e.registry.Create(info.StreamID, info.CallID, info.Direction, info.From, info.To)
	s.TraceID = info.TraceID

	direction := info.Direction
	if direction == "" {
		direction = "inbound"
	}
	metrics.CallsTotal.WithLabelValues(direction).Inc()
	metrics.ActiveSessions.Set(float64(e.registry.Count()))

	callLog := logging.WithCall(e.log, info.StreamID, info.CallID, info.TraceID)

	stt := e.sttNew(capability.STTConfig{
		StreamID:   info.StreamID,
		CallID:     info.CallID,
		TraceID:    info.TraceID,
		SampleRate: e.cfg.Audio.SampleRate,
	})
	tts := e.ttsNew(capability.TTSConfig{
		StreamID:   info.StreamID,
		CallID:     info.CallID,
		TraceID:    info.TraceID,
		SampleRate: e.cfg.Audio.SampleRate,
	})

	clear := func() {
		out.Clear()
		metrics.Interruptions.Inc()
	}
	r := turn.NewRunner(turn.RunnerConfig{
		SilenceThreshold: e.cfg.Turn.SilenceThreshold(),
		EnergyThreshold:  e.cfg.Turn.EnergyThreshold,
		ReplyTimeout:     e.cfg.Turn.ReplyTimeout(),
		MaxHistory:       e.cfg.Turn.MaxHistory,
		SystemPrompt:     e.cfg.SystemPrompt,
		FallbackReply:    e.cfg.FallbackReply,
		Greeting:         e.cfg.Greeting,
		OnTurn: func(elapsed time.Duration) {
			metrics.TurnLatency.Observe(elapsed.Seconds())
		},
	}, s.Machine, s, s.PendingAudio, stt, e.llm, tts, out.SendAudio, clear, callLog)

	base := e.ctx
	if base == nil {
		base = context.Background()
	}
	runCtx, cancel := context.WithCancel(base)
	// A session can close without socket traffic (idle reap, webhook
	// settlement); the runner must not outlive it.
	s.Machine.AddListener(turn.StateListenerFunc(func(ch turn.StateChange) {
		if ch.ToState == turn.StateClosed {
			cancel()
		}
	}))
	h := &callHandler{
		engine: e,
		s:      s,
		runner: r,
		cancel: cancel,
		log:    callLog,
	}
	go func() {
		if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			callLog.Error("turn runner stopped", slog.String("error", err.Error()))
		}
	}()
	return h, nil
}

// callHandler bridges one connection's inbound events onto its session and
// runner. The transport calls it from the connection read loop.
type callHandler struct {
	engine *Engine
	s      *session.Session
	runner *turn.Runner
	cancel context.CancelFunc
	log    *slog.Logger

	stopOnce sync.Once
}

func (h *callHandler) HandleMedia(frame audio.Frame) {
	if !h.s.PushAudio(frame) {
		metrics.DroppedFrames.Inc()
	}
}

func (h *callHandler) HandleDTMF(digit string) {
	h.s.Touch()
	h.log.Info("dtmf received", slog.String("digit", digit))
}

func (h *callHandler) HandleInterrupt() {
	h.runner.Interrupt()
}

func (h *callHandler) HandleStop(reason string) {
	h.stopOnce.Do(func() {
		if h.s.MarkSocketClosed(reason) {
			h.engine.registry.Remove(h.s.StreamID())
		}
		metrics.ActiveSessions.Set(float64(h.engine.registry.Count()))
		close(h.s.PendingAudio)
		h.cancel()
		h.log.Info("stream stopped",
			slog.String("reason", reason),
			slog.Int("turns", h.s.TurnCount()),
			slog.String("state", h.s.Machine.State().String()))
	})
}

var _ exotel.Handler = (*callHandler)(nil)
