package metadata

import (
	"errors"
	"net/url"
	"testing"
)

func bracketForm() url.Values {
	return url.Values{
		"CallSid":                {"CA123"},
		"Direction":              {"inbound"},
		"From":                   {"+15550001111"},
		"To":                     {"+15550002222"},
		"Stream[StreamSID]":      {"MZ999"},
		"Stream[Status]":         {"completed"},
		"Stream[Duration]":       {"42"},
		"Stream[StreamUrl]":      {"wss://gw.example.com/media"},
		"Stream[RecordingUrl]":   {"https://rec.example.com/CA123.wav"},
		"Stream[DisconnectedBy]": {"user"},
	}
}

func jsonForm() url.Values {
	return url.Values{
		"CallSid":   {"CA123"},
		"Direction": {"inbound"},
		"From":      {"+15550001111"},
		"To":        {"+15550002222"},
		"Stream": {`{
			"StreamSID": "MZ999",
			"Status": "completed",
			"Duration": "42",
			"StreamUrl": "wss://gw.example.com/media",
			"RecordingUrl": "https://rec.example.com/CA123.wav",
			"DisconnectedBy": "user"
		}`},
	}
}

func TestParseShapeEquivalence(t *testing.T) {
	a, err := Parse(bracketForm())
	if err != nil {
		t.Fatalf("bracket parse: %v", err)
	}
	b, err := Parse(jsonForm())
	if err != nil {
		t.Fatalf("json parse: %v", err)
	}

	for name, pair := range map[string][2]string{
		"call id":       {a.CallID, b.CallID},
		"stream id":     {a.StreamID, b.StreamID},
		"status":        {string(a.Status), string(b.Status)},
		"stream url":    {a.StreamURL, b.StreamURL},
		"recording url": {a.RecordingURL, b.RecordingURL},
		"disconnector":  {string(a.DisconnectedBy), string(b.DisconnectedBy)},
	} {
		if pair[0] != pair[1] {
			t.Fatalf("%s differs between shapes: %q vs %q", name, pair[0], pair[1])
		}
	}
	if a.DurationSeconds != 42 || b.DurationSeconds != 42 {
		t.Fatalf("expected duration 42, got %d and %d", a.DurationSeconds, b.DurationSeconds)
	}
	if a.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", a.Status)
	}
	if a.DisconnectedBy != DisconnectedByUser {
		t.Fatalf("expected user disconnect, got %s", a.DisconnectedBy)
	}
}

func TestParseMissingRequired(t *testing.T) {
	cases := []struct {
		name   string
		values url.Values
	}{
		{"empty", url.Values{}},
		{"no call id", url.Values{"Stream[Status]": {"completed"}}},
		{"no status", url.Values{"CallSid": {"CA123"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.values)
			if !errors.Is(err, ErrMissingRequiredFields) {
				t.Fatalf("expected ErrMissingRequiredFields, got %v", err)
			}
		})
	}
}

func TestParseTopLevelCallStatusFallback(t *testing.T) {
	evt, err := Parse(url.Values{
		"CallSid":    {"CA777"},
		"CallStatus": {"busy"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Status != StatusBusy {
		t.Fatalf("expected busy, got %s", evt.Status)
	}
	if !evt.Status.Terminal() {
		t.Fatalf("busy should be terminal")
	}
}

func TestParseMalformedStreamJSONFallsBackToBrackets(t *testing.T) {
	values := bracketForm()
	values.Set("Stream", "{not json")
	evt, err := Parse(values)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.StreamID != "MZ999" {
		t.Fatalf("expected bracket fallback stream id, got %q", evt.StreamID)
	}
}

func TestParsePreservesUnknownParams(t *testing.T) {
	values := bracketForm()
	values.Set("CustomField", "echo-7")
	evt, err := Parse(values)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Raw["CustomField"] != "echo-7" {
		t.Fatalf("expected unknown param preserved, got %v", evt.Raw)
	}
	if _, ok := evt.Raw["Stream[Status]"]; ok {
		t.Fatalf("named fields should not leak into Raw")
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"completed":        StatusCompleted,
		"Call-Ended":       StatusCompleted,
		"hangup":           StatusCompleted,
		"in-progress":      StatusInProgress,
		"ringing":          StatusInProgress,
		"busy":             StatusBusy,
		"no-answer":        StatusNoAnswer,
		"canceled":         StatusFailed,
		"transport_closed": StatusFailed,
		"weird":            StatusUnknown,
	}
	for raw, want := range cases {
		if got := normalizeStatus(raw); got != want {
			t.Fatalf("normalizeStatus(%q) = %s, want %s", raw, got, want)
		}
	}
	if StatusInProgress.Terminal() || StatusUnknown.Terminal() {
		t.Fatalf("non-final statuses must not be terminal")
	}
}

func TestParseDuration(t *testing.T) {
	for raw, want := range map[string]int{"42": 42, "0": 0, "": 0, "abc": 0, "-5": 0, " 7 ": 7} {
		if got := parseDuration(raw); got != want {
			t.Fatalf("parseDuration(%q) = %d, want %d", raw, got, want)
		}
	}
}
