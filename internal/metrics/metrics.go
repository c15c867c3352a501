// Package metrics exposes Prometheus collectors for HTTP request handling
// and task execution, modeled on the teacher's internal/app/metrics package:
// a package-level registry, init-time MustRegister, and an HTTP-instrumenting
// middleware plus free functions for non-HTTP event recording.
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

var (
	// Registry holds every collector this server registers.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewdeck",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewdeck",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reviewdeck",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	taskAllocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewdeck",
		Subsystem: "task",
		Name:      "allocations_total",
		Help:      "Total number of tasks allocated, by kind.",
	}, []string{"kind"})

	taskTerminal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewdeck",
		Subsystem: "task",
		Name:      "terminal_total",
		Help:      "Total number of tasks reaching a terminal status, by kind and status.",
	}, []string{"kind", "status"})

	taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reviewdeck",
		Subsystem: "task",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration from RUNNING to a terminal status, by kind.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"kind"})

	taskQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewdeck",
		Subsystem: "task",
		Name:      "queue_depth",
		Help:      "Current number of payloads waiting in the task queue.",
	})

	taskWorkersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reviewdeck",
		Subsystem: "task",
		Name:      "workers_busy",
		Help:      "Current number of worker goroutines executing a task.",
	})

	reaperSweeps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reviewdeck",
		Subsystem: "task",
		Name:      "reaper_sweeps_total",
		Help:      "Total number of reaper sweep passes, by outcome.",
	}, []string{"action"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		taskAllocations,
		taskTerminal,
		taskDuration,
		taskQueueDepth,
		taskWorkersBusy,
		reaperSweeps,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry for a GET /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request counting and latency
// histograms, skipping the metrics endpoint itself.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordAllocation records a task.Allocate call for the given kind.
func RecordAllocation(kind string) {
	taskAllocations.WithLabelValues(kind).Inc()
}

// RecordTerminal records a task reaching a terminal status and, when
// runDuration is positive, the RUNNING -> terminal duration.
func RecordTerminal(kind, status string, runDuration time.Duration) {
	taskTerminal.WithLabelValues(kind, status).Inc()
	if runDuration > 0 {
		taskDuration.WithLabelValues(kind).Observe(runDuration.Seconds())
	}
}

// SetQueueDepth reports the task queue's current occupancy.
func SetQueueDepth(n int) {
	taskQueueDepth.Set(float64(n))
}

// SetWorkersBusy reports how many workers are currently executing a task.
func SetWorkersBusy(n int) {
	taskWorkersBusy.Set(float64(n))
}

// RecordReaperSweep tallies a reaper action (e.g. "demote_stale",
// "demote_orphan", "drop_unpushed", "gc_data_dir") once per occurrence.
func RecordReaperSweep(action string) {
	reaperSweeps.WithLabelValues(action).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath keeps the first two path segments and replaces everything
// after them with a single ":id". Segments within the first two are kept
// verbatim, so a parameter there (the token in /tasks/{token}, the product
// in /{product}/...) still yields one series per resource.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) <= 2 {
		return "/" + strings.Join(parts, "/")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts[:2] {
		out = append(out, p)
	}
	out = append(out, ":id")
	return "/" + strings.Join(out, "/")
}
