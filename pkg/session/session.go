package session

import (
	"sync"
	"time"

	"github.com/ecomatrix/voicegate/pkg/audio"
	"github.com/ecomatrix/voicegate/pkg/capability"
	"github.com/ecomatrix/voicegate/pkg/metadata"
	"github.com/ecomatrix/voicegate/pkg/turn"
)

// Session is the per-call state shared between the media socket, the webhook
// handler, and the turn runner. All mutable fields are guarded by its own
// mutex; cross-session work never holds more than one session lock.
type Session struct {
	TraceID string

	Machine *turn.Machine

	// PendingAudio carries decoded inbound frames to the turn runner. The
	// channel is bounded; the transport drops frames when the runner lags.
	PendingAudio chan audio.Frame

	mu              sync.Mutex
	streamID        string
	callID          string
	direction       string
	from            string
	to              string
	startedAt       time.Time
	endedAt         time.Time
	durationSeconds int
	recordingURL    string
	disconnectedBy  metadata.Disconnector
	turnCount       int
	history         []capability.Message
	lastActivity    time.Time

	placeholder    bool
	socketClosed   bool
	webhookSettled bool
	droppedFrames  uint64
}

func newSession(streamID, traceID string, pendingFrames int) *Session {
	if pendingFrames <= 0 {
		pendingFrames = 64
	}
	now := time.Now()
	return &Session{
		streamID:       streamID,
		TraceID:        traceID,
		Machine:        turn.NewMachine(),
		PendingAudio:   make(chan audio.Frame, pendingFrames),
		startedAt:      now,
		lastActivity:   now,
		disconnectedBy: metadata.DisconnectedByUnknown,
	}
}

// Bind fills in call identity from the stream start event.
func (s *Session) Bind(callID, direction, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callID = callID
	s.direction = direction
	s.from = from
	s.to = to
	s.placeholder = false
	s.lastActivity = time.Now()
}

// StreamID returns the session's stream key. A placeholder is rekeyed when
// its real stream starts, so the value can change once early in the
// session's life.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

func (s *Session) rekey(streamID string) {
	s.mu.Lock()
	s.streamID = streamID
	s.mu.Unlock()
}

func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

func (s *Session) Direction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Touch records activity for the idle reaper.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor returns the time since the last recorded activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// PushAudio enqueues a decoded frame for the turn runner without blocking.
// It reports false when the runner is lagging and the frame was dropped.
func (s *Session) PushAudio(frame audio.Frame) bool {
	select {
	case s.PendingAudio <- frame:
		return true
	default:
		audio.Release(frame)
		s.mu.Lock()
		s.droppedFrames++
		s.mu.Unlock()
		return false
	}
}

// DroppedFrames returns how many inbound frames were discarded under backpressure.
func (s *Session) DroppedFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedFrames
}

// IncTurn bumps the completed-turn counter. Interrupted turns are not counted.
func (s *Session) IncTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCount++
	return s.turnCount
}

func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// AppendHistory records one exchange entry, keeping at most max entries.
func (s *Session) AppendHistory(role, content string, max int) {
	if content == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, capability.Message{Role: role, Content: content})
	if max > 0 && len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
}

// History returns a copy of the conversation so far.
func (s *Session) History() []capability.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capability.Message, len(s.history))
	copy(out, s.history)
	return out
}

// ApplyMetadata merges a webhook delivery into the session. It reports
// whether the session is now fully settled and should be removed, which is
// the case only when the media socket has already closed.
func (s *Session) ApplyMetadata(evt metadata.Event) (remove bool) {
	s.mu.Lock()
	if s.callID == "" {
		s.callID = evt.CallID
	}
	if evt.DurationSeconds > 0 {
		s.durationSeconds = evt.DurationSeconds
	}
	if evt.RecordingURL != "" {
		s.recordingURL = evt.RecordingURL
	}
	if evt.DisconnectedBy != metadata.DisconnectedByUnknown {
		s.disconnectedBy = evt.DisconnectedBy
	}
	s.lastActivity = time.Now()
	terminal := evt.Status.Terminal()
	if terminal {
		s.webhookSettled = true
		if s.endedAt.IsZero() {
			s.endedAt = time.Now()
		}
	}
	socketClosed := s.socketClosed
	s.mu.Unlock()

	if !terminal {
		return false
	}
	if socketClosed {
		s.forceClosed("webhook settled after socket close")
		return true
	}
	// Socket still open: start winding down, removal waits for the close.
	if s.Machine.State() != turn.StateClosing {
		_ = s.Machine.Transition(turn.StateClosing, "terminal call status")
	}
	return false
}

// MarkSocketClosed records the media socket teardown. It reports whether the
// session should be removed now: immediately when the webhook side already
// settled, otherwise the caller keeps the entry until the webhook arrives or
// the reaper times it out.
func (s *Session) MarkSocketClosed(reason string) (remove bool) {
	s.mu.Lock()
	if s.socketClosed {
		s.mu.Unlock()
		return false
	}
	s.socketClosed = true
	if s.endedAt.IsZero() {
		s.endedAt = time.Now()
	}
	s.lastActivity = time.Now()
	settled := s.webhookSettled
	s.mu.Unlock()

	if settled {
		s.forceClosed(reason)
		return true
	}
	if s.Machine.State() != turn.StateClosing {
		_ = s.Machine.Transition(turn.StateClosing, reason)
	}
	return false
}

// forceClosed drives the machine to CLOSED regardless of where it is.
func (s *Session) forceClosed(reason string) {
	if s.Machine.State().Terminal() {
		return
	}
	if err := s.Machine.Transition(turn.StateClosed, reason); err != nil {
		_ = s.Machine.Transition(turn.StateClosing, reason)
		_ = s.Machine.Transition(turn.StateClosed, reason)
	}
}

// Summary is a point-in-time snapshot used for logs and the health endpoint.
type Summary struct {
	StreamID        string
	CallID          string
	Direction       string
	State           string
	TurnCount       int
	DurationSeconds int
	RecordingURL    string
	DisconnectedBy  metadata.Disconnector
}

func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		StreamID:        s.streamID,
		CallID:          s.callID,
		Direction:       s.direction,
		State:           s.Machine.State().String(),
		TurnCount:       s.turnCount,
		DurationSeconds: s.durationSeconds,
		RecordingURL:    s.recordingURL,
		DisconnectedBy:  s.disconnectedBy,
	}
}
