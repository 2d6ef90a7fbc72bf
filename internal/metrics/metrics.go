// Package metrics exposes engine counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vthunder/clr/internal/types"
)

const namespace = "clr"

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Inference ticks executed.",
	})
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one inference tick.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})
	eventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_accepted_total",
		Help:      "Telemetry events accepted, by source.",
	}, []string{"source"})
	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_rejected_total",
		Help:      "Telemetry events rejected, by source.",
	}, []string{"source"})
	loadScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "load_score",
		Help:      "Current smoothed cognitive load score.",
	})
	contextGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "context",
		Help:      "1 for the current attention context, 0 otherwise.",
	}, []string{"context"})
	windowEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "window_events",
		Help:      "Events retained in the sliding window.",
	})
	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_subscribers",
		Help:      "Connected push stream subscribers.",
	})
	controllerFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "controller_faults_total",
		Help:      "Recovered faults per controller.",
	}, []string{"controller"})
)

// ObserveTick records one completed tick
func ObserveTick(d time.Duration, snap types.Snapshot, windowLen int) {
	ticksTotal.Inc()
	tickDuration.Observe(d.Seconds())
	loadScore.Set(snap.LoadScore)
	windowEvents.Set(float64(windowLen))
	for _, c := range types.Contexts {
		v := 0.0
		if c == snap.Context {
			v = 1
		}
		contextGauge.WithLabelValues(string(c)).Set(v)
	}
}

// EventAccepted counts an ingested event
func EventAccepted(source types.Source) {
	eventsAccepted.WithLabelValues(string(source)).Inc()
}

// EventRejected counts a rejected event. Unknown sources share one label.
func EventRejected(source types.Source) {
	label := string(source)
	switch source {
	case types.SourceBrowser, types.SourceIDE, types.SourceDesktop, types.SourceLMS:
	default:
		label = "unknown"
	}
	eventsRejected.WithLabelValues(label).Inc()
}

// SetSubscribers records the stream subscriber count
func SetSubscribers(n int) {
	subscribers.Set(float64(n))
}

// ControllerFault counts a recovered controller panic
func ControllerFault(name string) {
	controllerFaults.WithLabelValues(name).Inc()
}

// Handler serves the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.Handler()
}
