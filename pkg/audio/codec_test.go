package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecodeRejectsWrongLength(t *testing.T) {
	c := DefaultCodec()
	for _, size := range []int{0, 1, FrameBytes - 1, FrameBytes + 1, FrameBytes * 2} {
		_, err := c.Decode(make([]byte, size), 0)
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("size %d: expected ErrMalformedFrame, got %v", size, err)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := DefaultCodec()
	raw := make([]byte, FrameBytes)
	for i := range raw {
		raw[i] = byte(i * 7)
	}
	f, err := c.Decode(raw, 42)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if f.Sequence != 42 {
		t.Fatalf("expected sequence 42, got %d", f.Sequence)
	}
	if f.Format != FormatLinear16Mono8k {
		t.Fatalf("unexpected format %s", f.Format)
	}
	out := c.Encode(f)
	if !bytes.Equal(out, raw) {
		t.Fatalf("round trip mismatch")
	}
	Release(f)
}

func TestDecodeDeclaredEncoding(t *testing.T) {
	c := DefaultCodec()
	raw := make([]byte, FrameBytes)

	for _, enc := range []string{"", "linear16", "slin", string(FormatLinear16Mono8k)} {
		if _, err := c.DecodeDeclared(enc, raw, 0); err != nil {
			t.Fatalf("encoding %q: unexpected error %v", enc, err)
		}
	}
	for _, enc := range []string{"mulaw", "opus", "linear16_16000_2ch"} {
		_, err := c.DecodeDeclared(enc, raw, 0)
		if !errors.Is(err, ErrUnknownEncoding) {
			t.Fatalf("encoding %q: expected ErrUnknownEncoding, got %v", enc, err)
		}
	}
}

func TestDecodeBase64(t *testing.T) {
	c := DefaultCodec()
	raw := make([]byte, FrameBytes)
	raw[0] = 0x7F
	f, err := c.DecodeBase64(base64.StdEncoding.EncodeToString(raw), 3)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if c.EncodeBase64(f) != base64.StdEncoding.EncodeToString(raw) {
		t.Fatalf("base64 round trip mismatch")
	}

	if _, err := c.DecodeBase64("not-base64!!", 0); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for invalid base64, got %v", err)
	}
}

func TestCustomFrameSize(t *testing.T) {
	c := NewCodec(8000, 20)
	if c.FrameBytes() != 320 {
		t.Fatalf("expected 320 byte frames, got %d", c.FrameBytes())
	}
	if _, err := c.Decode(make([]byte, 320), 0); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}

func TestEnergy(t *testing.T) {
	silence := make([]byte, FrameBytes)
	if got := Energy(silence); got != 0 {
		t.Fatalf("expected zero energy for silence, got %d", got)
	}

	loud := make([]byte, FrameBytes)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0x10
		loud[i+1] = 0x27 // 10000 little-endian
	}
	if got := Energy(loud); got != 10000 {
		t.Fatalf("expected energy 10000, got %d", got)
	}

	if got := Energy(nil); got != 0 {
		t.Fatalf("expected zero energy for empty payload, got %d", got)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(make([]byte, FrameBytes))
	f.Add([]byte{})
	f.Add(make([]byte, FrameBytes+1))
	c := DefaultCodec()
	f.Fuzz(func(t *testing.T, raw []byte) {
		fr, err := c.Decode(raw, 0)
		if len(raw) != FrameBytes {
			if !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("expected ErrMalformedFrame for %d bytes", len(raw))
			}
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(c.Encode(fr), raw) {
			t.Fatalf("round trip mismatch")
		}
		Release(fr)
	})
}
