// Package metrics exports fetch outcomes and render latencies in the
// Prometheus exposition format.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	remoteviews "github.com/Arthur1/remote-views"
	"github.com/Arthur1/remote-views/cache"
)

const namespace = "remoteviews"

// Metrics implements both cache.Recorder and remoteviews.Recorder on a
// private registry.
type Metrics struct {
	registry *prometheus.Registry
	fetches  *prometheus.CounterVec
	renders  *prometheus.HistogramVec
}

var (
	_ cache.Recorder       = (*Metrics)(nil)
	_ remoteviews.Recorder = (*Metrics)(nil)
)

// New registers the collectors. Go runtime and process collectors are added
// when runtime is true.
func New(runtime bool) *Metrics {
	registry := prometheus.NewRegistry()
	if runtime {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		registry: registry,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fetches_total",
			Help:      "Resource lookups by bucket and outcome.",
		}, []string{"bucket", "outcome"}),
		renders: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Render latency by bucket, engine and result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bucket", "engine", "result"}),
	}
	registry.MustRegister(m.fetches, m.renders)
	return m
}

func (m *Metrics) ObserveFetch(bucket string, outcome cache.Outcome) {
	m.fetches.WithLabelValues(bucket, string(outcome)).Inc()
}

func (m *Metrics) ObserveRender(bucket, engine string, elapsed time.Duration, err error) {
	m.renders.WithLabelValues(bucket, engine, result(err)).Observe(elapsed.Seconds())
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, remoteviews.ErrConfiguration):
		return "invalid"
	case errors.Is(err, remoteviews.ErrRenderFailed):
		return "render_failed"
	case errors.Is(err, cache.ErrFetchFailed):
		return "fetch_failed"
	default:
		return "error"
	}
}
