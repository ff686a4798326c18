package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deployd"

// Collector holds the daemon's Prometheus metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	Transitions      *prometheus.CounterVec
	RejectedCommands *prometheus.CounterVec
	ProcessExits     *prometheus.CounterVec
	BroadcastDrops   prometheus.Counter
	Observers        prometheus.Gauge
	ProbeDuration    *prometheus.HistogramVec
	ProbeResults     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Committed deployment state transitions",
		}, []string{"target", "from", "to"}),
		RejectedCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_commands_total",
			Help:      "Control commands rejected with an error",
		}, []string{"target", "command", "code"}),
		ProcessExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Supervised process exits",
		}, []string{"target", "outcome"}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_events_total",
			Help:      "Events dropped from full observer queues",
		}),
		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Connected event stream observers",
		}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Latency of endpoint validation probes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ProbeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_results_total",
			Help:      "Endpoint validation probe outcomes",
		}, []string{"method", "path", "success"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Control surface requests",
		}, []string{"method", "route", "status_code"}),
	}

	reg.MustRegister(
		c.Transitions,
		c.RejectedCommands,
		c.ProcessExits,
		c.BroadcastDrops,
		c.Observers,
		c.ProbeDuration,
		c.ProbeResults,
		c.HTTPRequests,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordTransition(target, from, to string) {
	c.Transitions.WithLabelValues(target, from, to).Inc()
}

func (c *Collector) RecordRejected(target, command, code string) {
	c.RejectedCommands.WithLabelValues(target, command, code).Inc()
}

func (c *Collector) RecordProcessExit(target string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.ProcessExits.WithLabelValues(target, outcome).Inc()
}

func (c *Collector) RecordDrop() {
	c.BroadcastDrops.Inc()
}

func (c *Collector) SetObservers(n int) {
	c.Observers.Set(float64(n))
}

func (c *Collector) RecordProbe(method, path string, latency time.Duration, success bool) {
	c.ProbeDuration.WithLabelValues(method, path).Observe(latency.Seconds())
	c.ProbeResults.WithLabelValues(method, path, strconv.FormatBool(success)).Inc()
}

func (c *Collector) RecordRequest(method, route string, status int) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
