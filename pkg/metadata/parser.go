package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMissingRequiredFields is returned when neither parse shape yields the
// mandatory call identifier and status.
var ErrMissingRequiredFields = errors.New("metadata: missing call id or status")

// streamBody mirrors the nested JSON object the provider sends when it packs
// stream details into a single Stream parameter.
type streamBody struct {
	StreamSID      string `json:"StreamSID"`
	Status         string `json:"Status"`
	Duration       string `json:"Duration"`
	StreamURL      string `json:"StreamUrl"`
	RecordingURL   string `json:"RecordingUrl"`
	DisconnectedBy string `json:"DisconnectedBy"`
}

// Parse builds an Event from merged query and form parameters. The provider
// delivers stream details in one of two shapes: a Stream parameter holding a
// JSON object, or flattened bracket-suffixed keys like Stream[Status]. JSON
// is tried first, brackets second; both feed the same Event.
func Parse(values url.Values) (Event, error) {
	evt := Event{
		CallID:         firstValue(values, "CallSid", "CallSID", "call_sid"),
		Direction:      firstValue(values, "Direction", "direction"),
		From:           firstValue(values, "From", "from"),
		To:             firstValue(values, "To", "to"),
		DisconnectedBy: DisconnectedByUnknown,
		Raw:            map[string]string{},
	}

	rawStatus := ""
	if body, ok := streamJSON(values); ok {
		evt.StreamID = body.StreamSID
		evt.StreamURL = body.StreamURL
		evt.RecordingURL = body.RecordingURL
		evt.DurationSeconds = parseDuration(body.Duration)
		evt.DisconnectedBy = normalizeDisconnector(body.DisconnectedBy)
		rawStatus = body.Status
	} else {
		evt.StreamID = bracketValue(values, "StreamSID")
		evt.StreamURL = bracketValue(values, "StreamUrl")
		evt.RecordingURL = bracketValue(values, "RecordingUrl")
		evt.DurationSeconds = parseDuration(bracketValue(values, "Duration"))
		evt.DisconnectedBy = normalizeDisconnector(bracketValue(values, "DisconnectedBy"))
		rawStatus = bracketValue(values, "Status")
	}
	if rawStatus == "" {
		rawStatus = firstValue(values, "CallStatus", "Status")
	}
	evt.Status = normalizeStatus(rawStatus)

	for key, vals := range values {
		if knownKey(key) || len(vals) == 0 {
			continue
		}
		evt.Raw[key] = vals[0]
	}

	if evt.CallID == "" || rawStatus == "" {
		return evt, fmt.Errorf("%w: call_id=%q status=%q", ErrMissingRequiredFields, evt.CallID, rawStatus)
	}
	return evt, nil
}

func streamJSON(values url.Values) (streamBody, bool) {
	raw := strings.TrimSpace(values.Get("Stream"))
	if raw == "" || !strings.HasPrefix(raw, "{") {
		return streamBody{}, false
	}
	var body streamBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return streamBody{}, false
	}
	return body, true
}

func bracketValue(values url.Values, field string) string {
	return values.Get("Stream[" + field + "]")
}

func firstValue(values url.Values, keys ...string) string {
	for _, k := range keys {
		if v := values.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func parseDuration(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func normalizeStatus(raw string) Status {
	r := strings.ToLower(strings.TrimSpace(raw))
	switch r {
	case "":
		return StatusUnknown
	case "queued", "ringing", "in-progress", "inprogress", "in_progress", "connected", "started":
		return StatusInProgress
	case "completed", "call_ended", "call-ended", "completed_by_user", "hangup":
		return StatusCompleted
	case "busy":
		return StatusBusy
	case "no_answer", "noanswer", "no-answer":
		return StatusNoAnswer
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func normalizeDisconnector(raw string) Disconnector {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "caller", "callee", "customer":
		return DisconnectedByUser
	case "agent", "bot", "app", "application", "server":
		return DisconnectedByAgent
	default:
		return DisconnectedByUnknown
	}
}

func knownKey(key string) bool {
	switch key {
	case "CallSid", "CallSID", "call_sid", "CallStatus", "Status",
		"Direction", "direction", "From", "from", "To", "to", "Stream":
		return true
	}
	return strings.HasPrefix(key, "Stream[") && strings.HasSuffix(key, "]")
}
