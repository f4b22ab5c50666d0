// Package capability defines the pluggable speech and language interfaces
// the gateway drives: transcription, response generation, and synthesis.
// Providers live under pkg/providers and are built by name from config.
package capability

import (
	"context"

	"github.com/ecomatrix/voicegate/pkg/audio"
)

// TranscriptEvent is one unit of transcriber output. Boundary marks the end
// of a user utterance as detected by the provider; Final marks text that will
// not be revised further.
type TranscriptEvent struct {
	Text     string
	Final    bool
	Boundary bool
	Err      error
}

// Transcriber converts inbound telephony audio into text. Implementations
// own their upstream connection; SendAudio must not block on network I/O.
type Transcriber interface {
	Name() string
	Start(ctx context.Context) error
	Close() error
	SendAudio(frame audio.Frame) error
	Results() <-chan TranscriptEvent
}

// Message is one entry of conversation history.
type Message struct {
	Role    string
	Content string
}

const (
	RoleUser  = "user"
	RoleAgent = "model"
)

// Context carries everything a Responder needs for one reply.
type Context struct {
	System   string
	Messages []Message
}

// Reply is the Responder's answer for one turn.
type Reply struct {
	Text   string
	Tokens int
}

// Responder generates the agent's reply for a completed user utterance.
// Generate honors ctx cancellation; a cancelled call abandons the turn.
type Responder interface {
	Name() string
	Generate(ctx context.Context, conv Context) (Reply, error)
}

// AudioChunk is one block of synthesized audio. Final marks the end of the
// utterance; Err reports a synthesis failure for the in-flight request.
type AudioChunk struct {
	Data  []byte
	Final bool
	Err   error
}

// Synthesizer streams reply text to speech. SendText may be called multiple
// times per utterance; Flush forces the provider to emit buffered audio.
type Synthesizer interface {
	Name() string
	Start(ctx context.Context) error
	Close() error
	SendText(text string) error
	Flush() error
	Results() <-chan AudioChunk
}

// STTConfig carries per-call transcriber settings.
type STTConfig struct {
	StreamID   string
	CallID     string
	TraceID    string
	SampleRate int
	Language   string
}

// TTSConfig carries per-call synthesizer settings.
type TTSConfig struct {
	StreamID   string
	CallID     string
	TraceID    string
	SampleRate int
	Voice      string
}
