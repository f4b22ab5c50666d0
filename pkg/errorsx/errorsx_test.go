package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAttachesReason(t *testing.T) {
	base := errors.New("upstream refused")
	err := Wrap(base, ReasonSTTConnect)
	if Reason(err) != ReasonSTTConnect {
		t.Fatalf("expected %s, got %s", ReasonSTTConnect, Reason(err))
	}
	if !HasReason(err, ReasonSTTConnect) {
		t.Fatalf("HasReason must match the attached code")
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapping must preserve the error chain")
	}
	if err.Error() != "upstream refused" {
		t.Fatalf("message must come from the wrapped error, got %q", err.Error())
	}
}

func TestWrapFirstReasonWins(t *testing.T) {
	first := Wrap(errors.New("queue full"), ReasonTTSSend)
	second := Wrap(first, ReasonLLMGenerate)
	if Reason(second) != ReasonTTSSend {
		t.Fatalf("expected the original reason, got %s", Reason(second))
	}
}

func TestWrapSurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("generate reply: %w", Wrap(errors.New("deadline"), ReasonLLMTimeout))
	if Reason(err) != ReasonLLMTimeout {
		t.Fatalf("reason must be found through fmt wrapping, got %s", Reason(err))
	}
}

func TestWrapNilAndUnreasoned(t *testing.T) {
	if Wrap(nil, ReasonMediaDecode) != nil {
		t.Fatalf("wrapping nil must stay nil")
	}
	if Reason(errors.New("plain")) != ReasonUnknown {
		t.Fatalf("plain errors report ReasonUnknown")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("nil reports ReasonUnknown")
	}
}
