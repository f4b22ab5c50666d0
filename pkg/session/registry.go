package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks live sessions by stream id, with a secondary index by call
// id for webhook lookups. The registry lock covers only the maps; per-session
// state is guarded by each Session.
type Registry struct {
	mu       sync.RWMutex
	byStream map[string]*Session
	byCall   map[string]string

	pendingFrames int
	log           *slog.Logger
}

func NewRegistry(pendingFrames int, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		byStream:      map[string]*Session{},
		byCall:        map[string]string{},
		pendingFrames: pendingFrames,
		log:           log,
	}
}

// Create registers a session for a newly started media stream. When a
// placeholder already exists for the call (the webhook raced ahead of the
// socket), the placeholder is adopted and rekeyed under the stream id.
func (r *Registry) Create(streamID, callID, direction, from, to string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byStream[streamID]; ok {
		existing.Bind(callID, direction, from, to)
		return existing
	}

	if callID != "" {
		if placeholderID, ok := r.byCall[callID]; ok {
			if ph, ok := r.byStream[placeholderID]; ok && ph.isPlaceholder() {
				delete(r.byStream, placeholderID)
				ph.rekey(streamID)
				ph.Bind(callID, direction, from, to)
				r.byStream[streamID] = ph
				r.byCall[callID] = streamID
				r.log.Debug("adopted placeholder session",
					slog.String("stream_id", streamID),
					slog.String("call_id", callID))
				return ph
			}
		}
	}

	s := newSession(streamID, uuid.NewString(), r.pendingFrames)
	s.Bind(callID, direction, from, to)
	r.byStream[streamID] = s
	if callID != "" {
		r.byCall[callID] = streamID
	}
	return s
}

// CreatePlaceholder registers a session for a webhook that arrived before
// any socket. The entry is keyed by a synthetic stream id until the real
// stream starts, or reaped if it never does.
func (r *Registry) CreatePlaceholder(callID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if streamID, ok := r.byCall[callID]; ok {
		if s, ok := r.byStream[streamID]; ok {
			return s
		}
	}
	s := newSession("pending-"+callID, uuid.NewString(), r.pendingFrames)
	s.mu.Lock()
	s.callID = callID
	s.placeholder = true
	s.mu.Unlock()
	r.byStream[s.StreamID()] = s
	r.byCall[callID] = s.StreamID()
	return s
}

func (s *Session) isPlaceholder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placeholder
}

// Get returns the session for a stream id.
func (r *Registry) Get(streamID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byStream[streamID]
	return s, ok
}

// GetByCallID returns the session for a call id.
func (r *Registry) GetByCallID(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	streamID, ok := r.byCall[callID]
	if !ok {
		return nil, false
	}
	s, ok := r.byStream[streamID]
	return s, ok
}

// Remove drops a session from both indexes. It is idempotent and reports
// whether an entry was actually removed.
func (r *Registry) Remove(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byStream[streamID]
	if !ok {
		return false
	}
	delete(r.byStream, streamID)
	if callID := s.CallID(); callID != "" && r.byCall[callID] == streamID {
		delete(r.byCall, callID)
	}
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byStream)
}

// Snapshot returns summaries of every live session.
func (r *Registry) Snapshot() []Summary {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byStream))
	for _, s := range r.byStream {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summarize())
	}
	return out
}

// StartReaper launches the idle reaper. Sessions idle beyond idleTimeout are
// force-closed exactly once and dropped; onReap, when set, observes each
// reaped session. The goroutine exits with ctx.
func (r *Registry) StartReaper(ctx context.Context, idleTimeout, interval time.Duration, onReap func(*Session)) {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	if interval <= 0 {
		interval = idleTimeout / 4
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapIdle(idleTimeout, onReap)
			}
		}
	}()
}

func (r *Registry) reapIdle(idleTimeout time.Duration, onReap func(*Session)) {
	for _, s := range r.liveSessions() {
		if s.IdleFor() < idleTimeout {
			continue
		}
		if !r.Remove(s.StreamID()) {
			continue
		}
		s.forceClosed("idle timeout")
		r.log.Warn("reaped idle session",
			slog.String("stream_id", s.StreamID()),
			slog.String("call_id", s.CallID()),
			slog.Duration("idle", s.IdleFor()))
		if onReap != nil {
			onReap(s)
		}
	}
}

func (r *Registry) liveSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byStream))
	for _, s := range r.byStream {
		out = append(out, s)
	}
	return out
}
