package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/capability"
)

type TTSConfig struct {
	StreamID   string
	CallID     string
	SampleRate int
	ChunkBytes int
}

// Synthesizer emits one deterministic silent chunk per SendText and a final
// marker on Flush.
type Synthesizer struct {
	cfg     TTSConfig
	out     chan capability.AudioChunk
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.ChunkBytes == 0 {
		cfg.ChunkBytes = audio.FrameBytes
	}
	return &Synthesizer{cfg: cfg, out: make(chan capability.AudioChunk, 16)}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) Close() error {
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

func (s *Synthesizer) SendText(text string) error {
	s.mu.Lock()
	started := s.started
	out := s.out
	s.mu.Unlock()
	if !started {
		return errors.New("not started")
	}
	out <- capability.AudioChunk{Data: make([]byte, s.cfg.ChunkBytes)}
	return nil
}

func (s *Synthesizer) Flush() error {
	s.mu.Lock()
	started := s.started
	out := s.out
	s.mu.Unlock()
	if !started {
		return errors.New("not started")
	}
	out <- capability.AudioChunk{Final: true}
	return nil
}

func (s *Synthesizer) Results() <-chan capability.AudioChunk { return s.out }

var _ capability.Synthesizer = (*Synthesizer)(nil)
