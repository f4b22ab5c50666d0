package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/capability"
)

type STTConfig struct {
	StreamID          string
	CallID            string
	TraceID           string
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	EmitBoundary      bool
}

// Transcriber emits a scripted transcript on the first audio frame it sees.
type Transcriber struct {
	cfg     STTConfig
	out     chan capability.TranscriptEvent
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	emitted bool
}

func NewTranscriber(cfg STTConfig) *Transcriber {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Transcriber{cfg: cfg, out: make(chan capability.TranscriptEvent, 16)}
}

func (s *Transcriber) Name() string { return "mock_stt" }

func (s *Transcriber) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Transcriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.started = false
	return nil
}

func (s *Transcriber) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.emitted {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	out := s.out
	s.mu.Unlock()

	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		out <- capability.TranscriptEvent{Text: interim}
	}
	out <- capability.TranscriptEvent{Text: s.cfg.Transcript, Final: true}
	if s.cfg.EmitBoundary {
		out <- capability.TranscriptEvent{Boundary: true}
	}
	return nil
}

func (s *Transcriber) Results() <-chan capability.TranscriptEvent { return s.out }

var _ capability.Transcriber = (*Transcriber)(nil)
