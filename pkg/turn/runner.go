package turn

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/capability"
	"github.com/ecomatrix/voicegate/pkg/redact"
	"github.com/ecomatrix/voicegate/pkg/resilience"
)

// SendFunc delivers synthesized PCM toward the caller. The transport owns
// enveloping and sequencing.
type SendFunc func(pcm []byte) error

// ClearFunc tells the transport to drop any queued outbound audio.
type ClearFunc func()

// Conversation is the per-call state the runner reads and writes. It is
// satisfied by the session type without the runner knowing about registries.
type Conversation interface {
	AppendHistory(role, content string, max int)
	History() []capability.Message
	IncTurn() int
	Touch()
}

// RunnerConfig tunes one call's turn loop.
type RunnerConfig struct {
	SilenceThreshold time.Duration
	EnergyThreshold  int
	ReplyTimeout     time.Duration
	MaxHistory       int
	SystemPrompt     string
	FallbackReply    string
	Greeting         string

	// OnTurn observes the latency of each completed turn, measured from the
	// utterance boundary to the end of playback.
	OnTurn func(elapsed time.Duration)
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 500 * time.Millisecond
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 100
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 8 * time.Second
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 12
	}
	if c.FallbackReply == "" {
		c.FallbackReply = "Sorry, I did not catch that. Could you say it again?"
	}
	return c
}

// Runner drives one call: inbound frames feed the transcriber, utterance
// boundaries trigger a response, synthesized audio flows back out, and
// inbound speech during playback interrupts it.
type Runner struct {
	cfg     RunnerConfig
	machine *Machine
	conv    Conversation
	frames  <-chan audio.Frame

	stt capability.Transcriber
	llm capability.Responder
	tts capability.Synthesizer

	send    SendFunc
	clear   ClearFunc
	breaker *resilience.CircuitBreaker
	log     *slog.Logger

	codec audio.Codec

	mu          sync.Mutex
	utterance   strings.Builder
	speakCancel context.CancelFunc

	speechFrames int
	lastSpeech   time.Time
	turnBusy     atomic.Bool
}

func NewRunner(
	cfg RunnerConfig,
	machine *Machine,
	conv Conversation,
	frames <-chan audio.Frame,
	stt capability.Transcriber,
	llm capability.Responder,
	tts capability.Synthesizer,
	send SendFunc,
	clear ClearFunc,
	log *slog.Logger,
) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if clear == nil {
		clear = func() {}
	}
	return &Runner{
		cfg:     cfg.withDefaults(),
		machine: machine,
		conv:    conv,
		frames:  frames,
		stt:     stt,
		llm:     llm,
		tts:     tts,
		send:    send,
		clear:   clear,
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		log:     log,
		codec:   audio.DefaultCodec(),
	}
}

// Run blocks until ctx is cancelled or the machine reaches a terminal state.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.stt.Start(ctx); err != nil {
		return err
	}
	defer r.stt.Close()
	if err := r.tts.Start(ctx); err != nil {
		return err
	}
	defer r.tts.Close()

	if r.cfg.Greeting != "" {
		// The greeting plays before the first turn and is not counted.
		r.speakText(ctx, r.cfg.Greeting, false)
	}

	results := r.stt.Results()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-r.frames:
			if !ok {
				return nil
			}
			r.onFrame(ctx, frame)
			if r.machine.State().Terminal() {
				return nil
			}
		case ev, ok := <-results:
			if !ok {
				// Stop selecting on a closed result stream; local silence
				// boundaries still fire from the frame path.
				results = nil
				continue
			}
			r.onTranscript(ctx, ev)
		}
	}
}

func (r *Runner) onFrame(ctx context.Context, frame audio.Frame) {
	r.conv.Touch()
	r.machine.TransitionIf(StateConnecting, StateListening, "first media frame")

	energy := audio.Energy(frame.Payload)
	if err := r.stt.SendAudio(frame); err != nil {
		r.log.Warn("transcriber rejected frame", slog.String("error", err.Error()))
	}
	audio.Release(frame)

	if energy >= r.cfg.EnergyThreshold {
		r.speechFrames++
		r.lastSpeech = time.Now()
		r.interruptIfSpeaking()
		return
	}

	// Silence. A local boundary fires when speech was heard and the pause
	// is long enough; the transcriber's own boundary events take priority
	// when the provider emits them.
	if r.speechFrames > 0 && time.Since(r.lastSpeech) >= r.cfg.SilenceThreshold {
		r.speechFrames = 0
		if r.pendingUtterance() != "" {
			r.takeTurn(ctx, "silence boundary")
		}
	}
}

func (r *Runner) onTranscript(ctx context.Context, ev capability.TranscriptEvent) {
	if ev.Err != nil {
		r.log.Warn("transcriber error", slog.String("error", ev.Err.Error()))
		return
	}
	if ev.Text != "" && ev.Final {
		r.mu.Lock()
		if r.utterance.Len() > 0 {
			r.utterance.WriteByte(' ')
		}
		r.utterance.WriteString(ev.Text)
		r.mu.Unlock()
	}
	if ev.Boundary {
		r.speechFrames = 0
		if r.pendingUtterance() != "" {
			r.takeTurn(ctx, "transcriber boundary")
		}
	}
}

// Interrupt aborts playback in flight, if any. The transport calls this when
// the provider signals a customer interrupt out of band.
func (r *Runner) Interrupt() {
	r.interruptIfSpeaking()
}

// interruptIfSpeaking handles barge-in: inbound speech while the agent is
// speaking cancels synthesis, flushes the outbound queue, and returns the
// machine to LISTENING. The aborted turn is not counted.
func (r *Runner) interruptIfSpeaking() {
	if !r.machine.TransitionIf(StateSpeaking, StateInterrupted, "inbound speech while speaking") {
		return
	}
	r.mu.Lock()
	cancel := r.speakCancel
	r.speakCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.clear()
	_ = r.machine.Transition(StateListening, "interrupt flushed")
	r.log.Info("barge-in", slog.String("state", r.machine.State().String()))
}

func (r *Runner) pendingUtterance() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.utterance.String()
}

func (r *Runner) drainUtterance() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := strings.TrimSpace(r.utterance.String())
	r.utterance.Reset()
	return text
}

// takeTurn runs one full think/speak cycle in its own goroutine so the frame
// loop keeps observing inbound audio for barge-in.
func (r *Runner) takeTurn(ctx context.Context, reason string) {
	if !r.turnBusy.CompareAndSwap(false, true) {
		return
	}
	text := r.drainUtterance()
	if text == "" {
		r.turnBusy.Store(false)
		return
	}
	if !r.machine.TransitionIf(StateListening, StateThinking, reason) {
		r.turnBusy.Store(false)
		return
	}
	r.log.Info("utterance boundary",
		slog.String("reason", reason),
		slog.String("text", redact.Text(text)))

	started := time.Now()
	go func() {
		defer r.turnBusy.Store(false)
		r.conv.AppendHistory(capability.RoleUser, text, r.cfg.MaxHistory)

		reply := r.generate(ctx)
		r.conv.AppendHistory(capability.RoleAgent, reply, r.cfg.MaxHistory)

		if !r.machine.TransitionIf(StateThinking, StateSpeaking, "reply ready") {
			return
		}
		if r.speakText(ctx, reply, true) {
			r.conv.IncTurn()
			if r.cfg.OnTurn != nil {
				r.cfg.OnTurn(time.Since(started))
			}
		}
	}()
}

// generate asks the responder for a reply, falling back to a canned apology
// on failure or timeout. A failing responder never ends the call.
func (r *Runner) generate(ctx context.Context) string {
	if !r.breaker.Allow() {
		r.log.Warn("responder circuit open, using fallback")
		return r.cfg.FallbackReply
	}
	genCtx, cancel := context.WithTimeout(ctx, r.cfg.ReplyTimeout)
	defer cancel()

	reply, err := r.llm.Generate(genCtx, capability.Context{
		System:   r.cfg.SystemPrompt,
		Messages: r.conv.History(),
	})
	if err != nil {
		r.breaker.OnFailure(err)
		r.log.Error("responder failed",
			slog.String("provider", r.llm.Name()),
			slog.String("error", err.Error()))
		return r.cfg.FallbackReply
	}
	r.breaker.OnSuccess()
	r.log.Info("agent reply",
		slog.String("text", redact.Text(reply.Text)),
		slog.Int("tokens", reply.Tokens))
	return reply.Text
}

// speakText synthesizes text and streams the audio out. It reports whether
// playback ran to completion; interruption or cancellation returns false.
// When countTurn is set the SPEAKING to LISTENING transition is attempted on
// completion.
func (r *Runner) speakText(ctx context.Context, text string, countTurn bool) bool {
	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.speakCancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.speakCancel != nil {
			r.speakCancel = nil
		}
		r.mu.Unlock()
	}()

	if err := r.tts.SendText(text); err != nil {
		r.log.Error("synthesizer send failed", slog.String("error", err.Error()))
		r.machine.TransitionIf(StateSpeaking, StateListening, "synthesis failed")
		return false
	}
	if err := r.tts.Flush(); err != nil {
		r.log.Error("synthesizer flush failed", slog.String("error", err.Error()))
		r.machine.TransitionIf(StateSpeaking, StateListening, "synthesis failed")
		return false
	}

	frameBytes := r.codec.FrameBytes()
	var buf []byte
	for {
		select {
		case <-speakCtx.Done():
			return false
		case chunk, ok := <-r.tts.Results():
			if !ok {
				return false
			}
			if chunk.Err != nil {
				r.log.Error("synthesizer error", slog.String("error", chunk.Err.Error()))
				r.machine.TransitionIf(StateSpeaking, StateListening, "synthesis failed")
				return false
			}
			buf = append(buf, chunk.Data...)
			for len(buf) >= frameBytes {
				if err := r.send(buf[:frameBytes]); err != nil {
					r.log.Warn("outbound send failed", slog.String("error", err.Error()))
					r.machine.TransitionIf(StateSpeaking, StateListening, "send failed")
					return false
				}
				buf = buf[frameBytes:]
			}
			if chunk.Final {
				if len(buf) > 0 {
					if err := r.send(buf); err != nil {
						r.log.Warn("outbound send failed", slog.String("error", err.Error()))
						r.machine.TransitionIf(StateSpeaking, StateListening, "send failed")
						return false
					}
				}
				done := true
				if countTurn {
					done = r.machine.TransitionIf(StateSpeaking, StateListening, "playback complete")
				}
				return done
			}
		}
	}
}
