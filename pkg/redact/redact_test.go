package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	in := "email a@b.com and phone +62 812 3456 7890"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
}

func TestNumberMasksAllButLastFour(t *testing.T) {
	if got := Number("+15550001234"); got != "+*******1234" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := Number("1234"); got != "1234" {
		t.Fatalf("short numbers pass through, got %q", got)
	}
	if got := Number(""); got != "" {
		t.Fatalf("empty input must pass through")
	}
}
