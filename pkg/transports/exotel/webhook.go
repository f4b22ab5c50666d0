package exotel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ecomatrix/voicegate/pkg/errorsx"
	"github.com/ecomatrix/voicegate/pkg/metadata"
	"github.com/ecomatrix/voicegate/pkg/metrics"
)

// handlePassthru ingests the out-of-band call metadata webhook. The provider
// retries on non-2xx, so anything we could parse at all is acknowledged with
// 200; only an entirely unusable request earns a 400.
func (t *Transport) handlePassthru(w http.ResponseWriter, r *http.Request) {
	values := url.Values{}
	for k, v := range r.URL.Query() {
		values[k] = v
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			for k, v := range r.PostForm {
				if _, ok := values[k]; !ok {
					values[k] = v
				}
			}
		}
	}

	evt, err := metadata.Parse(values)
	if err != nil {
		t.log.Warn("unparseable metadata delivery",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.ReasonMetadataParse)))
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	t.log.Info("metadata received",
		slog.String("call_id", evt.CallID),
		slog.String("stream_id", evt.StreamID),
		slog.String("status", string(evt.Status)),
		slog.Int("duration_s", evt.DurationSeconds),
		slog.String("disconnected_by", string(evt.DisconnectedBy)))

	t.applyMetadata(evt)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Passthru processed successfully",
	})
}

// applyMetadata routes a parsed event to its session: stream id first, call
// id second. A terminal event for an unknown call is an orphan and is
// dropped; a non-terminal one creates a placeholder in case the socket is
// still on its way.
func (t *Transport) applyMetadata(evt metadata.Event) {
	s, ok := t.registry.Get(evt.StreamID)
	if !ok {
		s, ok = t.registry.GetByCallID(evt.CallID)
	}
	if !ok {
		if evt.Status.Terminal() {
			metrics.OrphanWebhooks.Inc()
			t.log.Info("orphan metadata dropped",
				slog.String("call_id", evt.CallID),
				slog.String("status", string(evt.Status)))
			return
		}
		s = t.registry.CreatePlaceholder(evt.CallID)
		t.log.Debug("placeholder session created",
			slog.String("call_id", evt.CallID))
	}

	if s.ApplyMetadata(evt) {
		t.registry.Remove(s.StreamID())
		metrics.ActiveSessions.Set(float64(t.registry.Count()))
		t.log.Info("session settled",
			slog.String("stream_id", s.StreamID()),
			slog.String("call_id", evt.CallID),
			slog.Int("turns", s.TurnCount()))
	}
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now().Format(time.RFC3339),
		"version":         t.cfg.Version,
		"active_sessions": t.registry.Count(),
	})
}

func (t *Transport) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "voicegate call-streaming gateway",
		"version": t.cfg.Version,
		"endpoints": map[string]string{
			"websocket": t.cfg.MediaPath,
			"passthru":  t.cfg.PassthruPath,
			"health":    t.cfg.HealthPath,
			"metrics":   t.cfg.MetricsPath,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
