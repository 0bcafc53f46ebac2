package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver exports session events as Prometheus metrics.
type PrometheusObserver struct {
	events         *prometheus.CounterVec
	activeSessions prometheus.Gauge
	segmentChars   prometheus.Histogram
	saveDuration   prometheus.Histogram
}

func NewPrometheusObserver() *PrometheusObserver {
	return &PrometheusObserver{
		events: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_events_total",
			Help: "Total count of session events by name",
		}, []string{"event"}),
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_sessions",
			Help: "Current number of active transcription sessions",
		}),
		segmentChars: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_segment_chars",
			Help:    "Character length of committed transcript segments",
			Buckets: prometheus.ExponentialBuckets(8, 2, 8),
		}),
		saveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_save_duration_seconds",
			Help:    "Duration of encounter store writes",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (o *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	o.events.WithLabelValues(ev.Name).Inc()
	switch ev.Name {
	case EventSessionStarted:
		o.activeSessions.Inc()
	case EventSessionStopped, EventSessionError:
		o.activeSessions.Dec()
	case EventSegmentCommitted:
		if ev.Value > 0 {
			o.segmentChars.Observe(ev.Value)
		}
	case EventSaveOK:
		if ev.Value > 0 {
			o.saveDuration.Observe(ev.Value)
		}
	}
}

var _ Observer = (*PrometheusObserver)(nil)
