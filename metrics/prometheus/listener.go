package prometheus

import (
	"github.com/sonicbridge/voicewire/events"
)

// Listener records relay events as Prometheus metrics. It implements the
// events.Listener signature and should be registered with a Bus using
// SubscribeAll.
type Listener struct{}

// NewListener creates a Listener.
func NewListener() *Listener {
	return &Listener{}
}

// Handle processes an event and records the relevant metrics.
func (l *Listener) Handle(event *events.Event) {
	switch event.Type {
	case events.EventSessionStarted:
		sessionsActive.Inc()
	case events.EventSessionEnded:
		sessionsActive.Dec()
		sessionsTotal.WithLabelValues(stringField(event, "reason")).Inc()
	case events.EventContentOpened:
		contentStreamsTotal.WithLabelValues(
			stringField(event, "role"), stringField(event, "kind")).Inc()
	case events.EventAudioFrameReady:
		audioFramesTotal.Inc()
		if n, ok := event.Data["bytes"].(int); ok {
			audioFrameBytes.Observe(float64(n))
		}
	case events.EventTransferTimedOut:
		transferTimeoutsTotal.Inc()
	case events.EventToolInvoked:
		toolInvocationsTotal.WithLabelValues(
			stringField(event, "tool"), stringField(event, "status")).Inc()
	case events.EventUsageReported:
		if n, ok := event.Data["input_tokens"].(int); ok {
			tokensTotal.WithLabelValues("input").Add(float64(n))
		}
		if n, ok := event.Data["output_tokens"].(int); ok {
			tokensTotal.WithLabelValues("output").Add(float64(n))
		}
	case events.EventContentClosed, events.EventTranscriptUpdated:
		// No metric; transcript volume is visible through tokensTotal.
	}
}

func stringField(event *events.Event, key string) string {
	if event.Data == nil {
		return ""
	}
	s, _ := event.Data[key].(string)
	return s
}
