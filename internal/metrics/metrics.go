package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "photorestore",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photorestore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "photorestore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photorestore",
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Job lifecycle transitions by resulting status.",
		},
		[]string{"status"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "photorestore",
			Subsystem: "jobs",
			Name:      "processing_duration_seconds",
			Help:      "Time from start to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5m
		},
	)

	sweptJobs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "photorestore",
			Subsystem: "jobs",
			Name:      "swept_total",
			Help:      "Jobs force-failed by the timeout sweep.",
		},
	)

	creditMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photorestore",
			Subsystem: "credits",
			Name:      "mutations_total",
			Help:      "Credit ledger mutations by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	tasksHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photorestore",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Background tasks handled by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		jobTransitions,
		jobDuration,
		sweptJobs,
		creditMutations,
		tasksHandled,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func RecordJobTransition(status string, elapsed time.Duration) {
	jobTransitions.WithLabelValues(status).Inc()
	if elapsed > 0 {
		jobDuration.Observe(elapsed.Seconds())
	}
}

func RecordSweep(cleaned int) {
	if cleaned > 0 {
		sweptJobs.Add(float64(cleaned))
	}
}

func RecordCreditMutation(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	creditMutations.WithLabelValues(kind, outcome).Inc()
}

func RecordTask(taskType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tasksHandled.WithLabelValues(taskType, outcome).Inc()
}
