package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/capability"
)

type scriptedTranscriber struct {
	results chan capability.TranscriptEvent
	mu      sync.Mutex
	frames  int
}

func newScriptedTranscriber() *scriptedTranscriber {
	return &scriptedTranscriber{results: make(chan capability.TranscriptEvent, 8)}
}

func (s *scriptedTranscriber) Name() string                                  { return "scripted" }
func (s *scriptedTranscriber) Start(ctx context.Context) error               { return nil }
func (s *scriptedTranscriber) Close() error                                  { return nil }
func (s *scriptedTranscriber) Results() <-chan capability.TranscriptEvent    { return s.results }
func (s *scriptedTranscriber) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
	return nil
}

func (s *scriptedTranscriber) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

type scriptedResponder struct {
	reply string
	err   error
}

func (s *scriptedResponder) Name() string { return "scripted" }
func (s *scriptedResponder) Generate(ctx context.Context, conv capability.Context) (capability.Reply, error) {
	if s.err != nil {
		return capability.Reply{}, s.err
	}
	return capability.Reply{Text: s.reply, Tokens: len(s.reply)}, nil
}

type scriptedSynthesizer struct {
	results chan capability.AudioChunk
	gate    chan struct{}
	mu      sync.Mutex
	texts   []string
}

func newScriptedSynthesizer(gated bool) *scriptedSynthesizer {
	s := &scriptedSynthesizer{results: make(chan capability.AudioChunk, 8)}
	if gated {
		s.gate = make(chan struct{})
	}
	return s
}

func (s *scriptedSynthesizer) Name() string                               { return "scripted" }
func (s *scriptedSynthesizer) Start(ctx context.Context) error            { return nil }
func (s *scriptedSynthesizer) Close() error                               { return nil }
func (s *scriptedSynthesizer) Results() <-chan capability.AudioChunk      { return s.results }
func (s *scriptedSynthesizer) SendText(text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return nil
}

func (s *scriptedSynthesizer) Flush() error {
	go func() {
		s.results <- capability.AudioChunk{Data: make([]byte, audio.FrameBytes)}
		if s.gate != nil {
			<-s.gate
		}
		s.results <- capability.AudioChunk{Data: make([]byte, audio.FrameBytes/2), Final: true}
	}()
	return nil
}

func (s *scriptedSynthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

type fakeConversation struct {
	mu      sync.Mutex
	history []capability.Message
	turns   int
}

func (f *fakeConversation) AppendHistory(role, content string, max int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, capability.Message{Role: role, Content: content})
}

func (f *fakeConversation) History() []capability.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capability.Message, len(f.history))
	copy(out, f.history)
	return out
}

func (f *fakeConversation) IncTurn() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns++
	return f.turns
}

func (f *fakeConversation) Turns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns
}

func (f *fakeConversation) Touch() {}

type sendCapture struct {
	mu     sync.Mutex
	bytes  int
	clears int
}

func (c *sendCapture) send(pcm []byte) error {
	c.mu.Lock()
	c.bytes += len(pcm)
	c.mu.Unlock()
	return nil
}

func (c *sendCapture) clear() {
	c.mu.Lock()
	c.clears++
	c.mu.Unlock()
}

func (c *sendCapture) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *sendCapture) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

func speechFrame(t *testing.T) audio.Frame {
	t.Helper()
	payload := make([]byte, audio.FrameBytes)
	for i := 0; i < len(payload); i += 2 {
		payload[i] = 0x10
		payload[i+1] = 0x27
	}
	return audio.Frame{Payload: payload, Format: audio.FormatLinear16Mono8k}
}

func silenceFrame() audio.Frame {
	return audio.Frame{Payload: make([]byte, audio.FrameBytes), Format: audio.FormatLinear16Mono8k}
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, at %s", want, m.State())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunnerFullTurn(t *testing.T) {
	stt := newScriptedTranscriber()
	tts := newScriptedSynthesizer(false)
	llm := &scriptedResponder{reply: "The thermostat is set to 72."}
	conv := &fakeConversation{}
	capture := &sendCapture{}
	machine := NewMachine()
	frames := make(chan audio.Frame, 8)

	r := NewRunner(RunnerConfig{}, machine, conv, frames, stt, llm, tts, capture.send, capture.clear, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	frames <- speechFrame(t)
	waitForState(t, machine, StateListening)

	stt.results <- capability.TranscriptEvent{Text: "what is the thermostat at", Final: true, Boundary: true}

	waitFor(t, "turn completion", func() bool { return conv.Turns() == 1 })
	waitForState(t, machine, StateListening)

	if capture.Bytes() == 0 {
		t.Fatalf("expected synthesized audio sent outbound")
	}
	hist := conv.History()
	if len(hist) != 2 || hist[0].Role != capability.RoleUser || hist[1].Role != capability.RoleAgent {
		t.Fatalf("unexpected history %+v", hist)
	}
	texts := tts.Texts()
	if len(texts) != 1 || texts[0] != llm.reply {
		t.Fatalf("expected reply sent to synthesizer, got %v", texts)
	}

	cancel()
	<-done
}

func TestRunnerSilenceBoundary(t *testing.T) {
	stt := newScriptedTranscriber()
	tts := newScriptedSynthesizer(false)
	llm := &scriptedResponder{reply: "Sure."}
	conv := &fakeConversation{}
	capture := &sendCapture{}
	machine := NewMachine()
	frames := make(chan audio.Frame, 8)

	cfg := RunnerConfig{SilenceThreshold: 20 * time.Millisecond}
	r := NewRunner(cfg, machine, conv, frames, stt, llm, tts, capture.send, capture.clear, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	frames <- speechFrame(t)
	waitForState(t, machine, StateListening)
	stt.results <- capability.TranscriptEvent{Text: "hello there", Final: true}
	waitFor(t, "transcript buffered", func() bool { return r.pendingUtterance() != "" })

	time.Sleep(40 * time.Millisecond)
	frames <- silenceFrame()

	waitFor(t, "turn completion", func() bool { return conv.Turns() == 1 })
}

func TestRunnerBargeIn(t *testing.T) {
	stt := newScriptedTranscriber()
	tts := newScriptedSynthesizer(true)
	llm := &scriptedResponder{reply: "Let me explain that in detail."}
	conv := &fakeConversation{}
	capture := &sendCapture{}
	machine := NewMachine()
	frames := make(chan audio.Frame, 8)

	r := NewRunner(RunnerConfig{}, machine, conv, frames, stt, llm, tts, capture.send, capture.clear, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	frames <- speechFrame(t)
	waitForState(t, machine, StateListening)
	stt.results <- capability.TranscriptEvent{Text: "tell me everything", Final: true, Boundary: true}
	waitForState(t, machine, StateSpeaking)

	// User speaks over the agent.
	frames <- speechFrame(t)
	waitForState(t, machine, StateListening)
	close(tts.gate)

	waitFor(t, "outbound flush", func() bool { return capture.Clears() == 1 })
	if conv.Turns() != 0 {
		t.Fatalf("interrupted turn must not be counted, got %d", conv.Turns())
	}
}

func TestRunnerResponderFailureFallsBack(t *testing.T) {
	stt := newScriptedTranscriber()
	tts := newScriptedSynthesizer(false)
	llm := &scriptedResponder{err: errors.New("upstream 500")}
	conv := &fakeConversation{}
	capture := &sendCapture{}
	machine := NewMachine()
	frames := make(chan audio.Frame, 8)

	cfg := RunnerConfig{FallbackReply: "Sorry, give me a second."}
	r := NewRunner(cfg, machine, conv, frames, stt, llm, tts, capture.send, capture.clear, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	frames <- speechFrame(t)
	waitForState(t, machine, StateListening)
	stt.results <- capability.TranscriptEvent{Text: "are you there", Final: true, Boundary: true}

	waitFor(t, "fallback spoken", func() bool {
		texts := tts.Texts()
		return len(texts) == 1 && texts[0] == cfg.FallbackReply
	})
	waitFor(t, "turn completion", func() bool { return conv.Turns() == 1 })
	waitForState(t, machine, StateListening)
}

func TestRunnerTranscriberStreamCloses(t *testing.T) {
	stt := newScriptedTranscriber()
	tts := newScriptedSynthesizer(false)
	llm := &scriptedResponder{reply: "Noted."}
	conv := &fakeConversation{}
	capture := &sendCapture{}
	machine := NewMachine()
	frames := make(chan audio.Frame, 8)

	cfg := RunnerConfig{SilenceThreshold: 20 * time.Millisecond}
	r := NewRunner(cfg, machine, conv, frames, stt, llm, tts, capture.send, capture.clear, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	frames <- speechFrame(t)
	waitForState(t, machine, StateListening)
	stt.results <- capability.TranscriptEvent{Text: "goodbye", Final: true}
	waitFor(t, "transcript buffered", func() bool { return r.pendingUtterance() != "" })
	close(stt.results)

	// The local silence boundary still completes the turn.
	time.Sleep(40 * time.Millisecond)
	frames <- silenceFrame()
	waitFor(t, "turn completion", func() bool { return conv.Turns() == 1 })

	close(frames)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("runner did not exit after frames closed")
	}
}

func TestRunnerSendFailureReturnsToListening(t *testing.T) {
	stt := newScriptedTranscriber()
	tts := newScriptedSynthesizer(false)
	llm := &scriptedResponder{reply: "Here is a long answer."}
	conv := &fakeConversation{}
	machine := NewMachine()
	frames := make(chan audio.Frame, 8)

	send := func(pcm []byte) error { return errors.New("socket gone") }
	r := NewRunner(RunnerConfig{}, machine, conv, frames, stt, llm, tts, send, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	frames <- speechFrame(t)
	waitForState(t, machine, StateListening)
	stt.results <- capability.TranscriptEvent{Text: "say something long", Final: true, Boundary: true}

	waitFor(t, "turn attempt finished", func() bool {
		return len(tts.Texts()) == 1 && !r.turnBusy.Load()
	})
	if conv.Turns() != 0 {
		t.Fatalf("failed playback must not count a turn, got %d", conv.Turns())
	}
	if machine.State() != StateListening {
		t.Fatalf("expected LISTENING after send failure, at %s", machine.State())
	}
}

func TestRunnerGreeting(t *testing.T) {
	stt := newScriptedTranscriber()
	tts := newScriptedSynthesizer(false)
	llm := &scriptedResponder{reply: "ok"}
	conv := &fakeConversation{}
	capture := &sendCapture{}
	machine := NewMachine()
	frames := make(chan audio.Frame, 8)

	cfg := RunnerConfig{Greeting: "Hello, how can I help?"}
	r := NewRunner(cfg, machine, conv, frames, stt, llm, tts, capture.send, capture.clear, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	waitFor(t, "greeting synthesized", func() bool {
		texts := tts.Texts()
		return len(texts) == 1 && texts[0] == cfg.Greeting
	})
	if conv.Turns() != 0 {
		t.Fatalf("greeting must not count as a turn")
	}
	if machine.State() != StateConnecting {
		t.Fatalf("greeting must not advance the machine, at %s", machine.State())
	}
}
