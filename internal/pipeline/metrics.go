package pipeline

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Anomaly kinds reported through Diagnostics and the anomalies counter.
const (
	AnomalyClock         = "clock"
	AnomalyOutOfOrder    = "out_of_order"
	AnomalyTruncated     = "truncated"
	AnomalyUnknownDevice = "unknown_device"
	AnomalyEventType     = "event_type"
)

// Metrics is shared by every pipeline built during the process lifetime, so a
// reloaded layout keeps counting into the same series.
type Metrics struct {
	frames        prometheus.Counter
	rawEvents     prometheus.Counter
	fieldsDecoded prometheus.Counter
	fieldsSkipped prometheus.Counter
	derivedEvents prometheus.Counter
	anomalies     *prometheus.CounterVec
	retained      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neio",
			Name:      "frames_total",
			Help:      "Processed frames",
		}),
		rawEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neio",
			Name:      "raw_events_total",
			Help:      "Raw device events ingested",
		}),
		fieldsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neio",
			Name:      "fields_decoded_total",
			Help:      "Fields extracted because their bits changed",
		}),
		fieldsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neio",
			Name:      "fields_skipped_total",
			Help:      "Fields skipped because their bits did not change",
		}),
		derivedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "neio",
			Name:      "derived_events_total",
			Help:      "Samples produced by graph tasks",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neio",
			Name:      "anomalies_total",
			Help:      "Runtime anomalies by kind",
		}, []string{"kind"}),
		retained: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "neio",
			Name:      "retained_samples",
			Help:      "Samples retained across all graph nodes after the last frame",
		}),
	}
	collectors := []prometheus.Collector{
		m.frames, m.rawEvents, m.fieldsDecoded, m.fieldsSkipped, m.derivedEvents, m.anomalies, m.retained,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func anomalyKind(err error) string {
	var anomaly *Anomaly
	if errors.As(err, &anomaly) {
		return anomaly.Kind
	}
	return "other"
}
