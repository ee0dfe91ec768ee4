// Package prometheus provides Prometheus metrics for the relay.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voicewire"

var (
	// sessionsActive is a gauge of currently live sessions.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		},
	)

	// sessionsTotal is a counter of sessions by end reason.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions ended, by reason",
		},
		[]string{"reason"},
	)

	// contentStreamsTotal is a counter of opened content streams.
	contentStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_streams_total",
			Help:      "Total number of content streams opened",
		},
		[]string{"role", "kind"},
	)

	// audioFramesTotal is a counter of assembled audio frames.
	audioFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Total number of audio frames delivered to clients",
		},
	)

	// audioFrameBytes is a histogram of assembled frame sizes.
	audioFrameBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_frame_bytes",
			Help:      "Size distribution of assembled audio frames",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// transferTimeoutsTotal is a counter of reclaimed idle transfers.
	transferTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_timeouts_total",
			Help:      "Total number of chunk transfers reclaimed after idle timeout",
		},
	)

	// toolInvocationsTotal is a counter of tool invocations.
	toolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	// tokensTotal is a counter of tokens reported by the service.
	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens reported by usage events",
		},
		[]string{"type"}, // type: input, output
	)
)

// allMetrics lists every collector for registration.
var allMetrics = []prometheus.Collector{
	sessionsActive,
	sessionsTotal,
	contentStreamsTotal,
	audioFramesTotal,
	audioFrameBytes,
	transferTimeoutsTotal,
	toolInvocationsTotal,
	tokensTotal,
}
