// Package metrics exposes the gateway's Prometheus instruments. Everything
// is registered once via promauto and served on the metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicegate_active_sessions",
		Help: "Number of live call sessions.",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_calls_total",
		Help: "Calls handled, by direction.",
	}, []string{"direction"})

	FramesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_frames_in_total",
		Help: "Inbound media frames decoded.",
	})

	FramesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_frames_out_total",
		Help: "Outbound media frames sent.",
	})

	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_frame_decode_errors_total",
		Help: "Inbound media payloads dropped as malformed.",
	})

	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_frames_dropped_total",
		Help: "Inbound frames dropped under backpressure.",
	})

	OrphanWebhooks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_orphan_webhooks_total",
		Help: "Metadata deliveries that matched no session.",
	})

	Interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_interruptions_total",
		Help: "Barge-ins that flushed agent playback.",
	})

	TurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicegate_turn_latency_seconds",
		Help:    "Time from utterance boundary to first outbound audio.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
	})
)
