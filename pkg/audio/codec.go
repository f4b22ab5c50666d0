package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// Format identifies a telephony audio encoding. The gateway speaks exactly
// one: 8 kHz 16-bit signed little-endian PCM, mono.
type Format string

const FormatLinear16Mono8k Format = "linear16_8000_1ch"

const (
	SampleRate     = 8000
	BytesPerSample = 2
	Channels       = 1
	FrameMillis    = 200

	// FrameBytes is the fixed payload size of a single frame.
	FrameBytes = SampleRate * BytesPerSample * FrameMillis / 1000
)

var (
	ErrMalformedFrame  = errors.New("audio: malformed frame")
	ErrUnknownEncoding = errors.New("audio: unknown encoding")
)

// Frame is one fixed-size block of telephony audio. Sequence is the monotonic
// index within the stream; it is used to detect gaps, never to reorder.
type Frame struct {
	Payload  []byte
	Sequence uint64
	Format   Format
	pooled   bool
}

// Codec converts between raw byte blocks and Frames. It is pure: no state,
// no side effects, so it can be fuzz-tested independently of the socket layer.
type Codec struct {
	frameBytes int
}

func NewCodec(sampleRate, frameMillis int) Codec {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	if frameMillis <= 0 {
		frameMillis = FrameMillis
	}
	return Codec{frameBytes: sampleRate * BytesPerSample * frameMillis / 1000}
}

func DefaultCodec() Codec {
	return Codec{frameBytes: FrameBytes}
}

// FrameBytes returns the fixed frame size this codec accepts.
func (c Codec) FrameBytes() int { return c.frameBytes }

// Decode validates raw against the fixed frame size and returns a Frame
// backed by a pooled buffer. Callers release it with Release once the payload
// has been handed off. Length mismatches fail; the codec never pads or
// truncates.
func (c Codec) Decode(raw []byte, seq uint64) (Frame, error) {
	if len(raw) != c.frameBytes {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedFrame, len(raw), c.frameBytes)
	}
	buf := acquireBuf(len(raw))
	copy(buf, raw)
	return Frame{
		Payload:  buf,
		Sequence: seq,
		Format:   FormatLinear16Mono8k,
		pooled:   true,
	}, nil
}

// DecodeDeclared decodes a frame that declares its own encoding, as the
// provider's start message does. Anything other than the single supported
// telephony format is rejected before the length check.
func (c Codec) DecodeDeclared(declared string, raw []byte, seq uint64) (Frame, error) {
	if !supportedEncoding(declared) {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownEncoding, declared)
	}
	return c.Decode(raw, seq)
}

// Encode is the pure inverse of Decode: Encode(Decode(x)) == x for any
// well-formed x.
func (c Codec) Encode(f Frame) []byte {
	out := make([]byte, len(f.Payload))
	copy(out, f.Payload)
	return out
}

// DecodeBase64 unwraps the provider's base64 media payload and decodes it.
func (c Codec) DecodeBase64(payload string, seq uint64) (Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return c.Decode(raw, seq)
}

// EncodeBase64 wraps a frame for the provider's JSON media envelope.
func (c Codec) EncodeBase64(f Frame) string {
	return base64.StdEncoding.EncodeToString(f.Payload)
}

func supportedEncoding(v string) bool {
	switch v {
	case "", string(FormatLinear16Mono8k), "linear16", "slin", "raw/slin", "audio/x-l16":
		return true
	default:
		return false
	}
}

// Energy returns the mean absolute amplitude of the 16-bit samples in
// payload. It backs the local speech/silence decision when the transcription
// capability does not emit its own boundary events.
func Energy(payload []byte) int {
	if len(payload) < BytesPerSample {
		return 0
	}
	var sum int64
	n := len(payload) / BytesPerSample
	for i := 0; i < n; i++ {
		s := int16(uint16(payload[2*i]) | uint16(payload[2*i+1])<<8)
		if s < 0 {
			sum -= int64(s)
		} else {
			sum += int64(s)
		}
	}
	return int(sum / int64(n))
}
