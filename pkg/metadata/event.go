package metadata

// Status is a normalized call/stream status. Providers report a zoo of
// spellings; everything downstream sees only these.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
)

// Terminal reports whether the status ends the call.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed:
		return true
	default:
		return false
	}
}

// Disconnector identifies which side hung up.
type Disconnector string

const (
	DisconnectedByUser    Disconnector = "user"
	DisconnectedByAgent   Disconnector = "agent"
	DisconnectedByUnknown Disconnector = "unknown"
)

// Event is one parsed call-metadata delivery. It arrives out of band with
// respect to the media socket and may precede or follow it.
type Event struct {
	CallID          string
	StreamID        string
	Status          Status
	DurationSeconds int
	StreamURL       string
	RecordingURL    string
	DisconnectedBy  Disconnector
	Direction       string
	From            string
	To              string

	// Raw holds every parameter that did not map to a named field, so
	// nothing the provider sends is silently lost.
	Raw map[string]string
}
