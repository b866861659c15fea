// Package metrics exposes the prometheus collectors for instances, the
// command sequencer, the history poller, event buses and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ensemble"

type Registry struct {
	registry *prometheus.Registry

	instancesCreated    *prometheus.CounterVec
	instancesTerminated *prometheus.CounterVec
	instancesByStatus   *prometheus.GaugeVec
	sequencerSteps      *prometheus.CounterVec
	pollReads           *prometheus.CounterVec
	eventsPublished     *prometheus.CounterVec
	eventsDropped       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		instancesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "instances",
			Name:      "created_total",
			Help:      "Instances created, by role and allocation outcome",
		}, []string{"role", "outcome"}),
		instancesTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "instances",
			Name:      "terminated_total",
			Help:      "Instances terminated, by role",
		}, []string{"role"}),
		instancesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "instances",
			Name:      "current",
			Help:      "Instances currently held in the store, by status",
		}, []string{"status"}),
		sequencerSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "steps_total",
			Help:      "Command sequencer steps attempted, by step and outcome",
		}, []string{"step", "outcome"}),
		pollReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "reads_total",
			Help:      "History poller output reads, by outcome",
		}, []string{"outcome"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published, by bus and type",
		}, []string{"bus", "type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped for slow subscribers, by bus and type",
		}, []string{"bus", "type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.instancesCreated,
		r.instancesTerminated,
		r.instancesByStatus,
		r.sequencerSteps,
		r.pollReads,
		r.eventsPublished,
		r.eventsDropped,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) IncInstanceCreated(role, outcome string) {
	if r == nil {
		return
	}
	r.instancesCreated.WithLabelValues(label(role), label(outcome)).Inc()
}

func (r *Registry) IncInstanceTerminated(role string) {
	if r == nil {
		return
	}
	r.instancesTerminated.WithLabelValues(label(role)).Inc()
}

// SetInstanceCounts replaces the per-status gauge. Statuses missing from
// counts are reset to zero.
func (r *Registry) SetInstanceCounts(counts map[string]int, statuses ...string) {
	if r == nil {
		return
	}
	for _, status := range statuses {
		r.instancesByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
	for status, count := range counts {
		r.instancesByStatus.WithLabelValues(label(status)).Set(float64(count))
	}
}

func (r *Registry) RecordSequencerStep(step string, err error) {
	if r == nil {
		return
	}
	r.sequencerSteps.WithLabelValues(label(step), outcome(err)).Inc()
}

func (r *Registry) RecordPoll(err error) {
	if r == nil {
		return
	}
	r.pollReads.WithLabelValues(outcome(err)).Inc()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsPublished.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(label(bus), label(eventType)).Inc()
}

func (r *Registry) ObserveHTTP(path, method string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	code := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(path, method, code).Inc()
	r.httpDuration.WithLabelValues(path, method, code).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
