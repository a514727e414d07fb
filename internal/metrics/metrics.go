// Package metrics exposes the process's Prometheus collectors: an HTTP
// request/latency middleware plus counters for the domain events each
// core emits.
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

// Registry holds every collector registered by this package.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "routecore",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routecore",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled, by method/route/status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "routecore",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "route"})

	// BookingsCreated counts bookings by terminal-or-nonterminal outcome of
	// CreateBooking (e.g. "held", "rejected").
	BookingsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routecore",
		Subsystem: "booking",
		Name:      "created_total",
		Help:      "Total booking creation attempts by outcome.",
	}, []string{"outcome"})

	BookingCancellations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routecore",
		Subsystem: "booking",
		Name:      "cancelled_total",
		Help:      "Total booking cancellations by refund status.",
	}, []string{"refund_status"})

	PaymentAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routecore",
		Subsystem: "payment",
		Name:      "attempts_total",
		Help:      "Total payment gateway attempts by outcome.",
	}, []string{"outcome"})

	PaymentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "routecore",
		Subsystem: "payment",
		Name:      "gateway_duration_seconds",
		Help:      "Duration of payment gateway round trips.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"outcome"})

	MatchmakingRounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routecore",
		Subsystem: "matchmaking",
		Name:      "rounds_total",
		Help:      "Total matchmaking rounds run by outcome.",
	}, []string{"outcome"})

	MatchmakingCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "routecore",
		Subsystem: "matchmaking",
		Name:      "candidates_considered",
		Help:      "Number of candidate routes scored per matchmaking round.",
		Buckets:   prometheus.LinearBuckets(0, 5, 10),
	})

	TicketsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "routecore",
		Subsystem: "ticketing",
		Name:      "issued_total",
		Help:      "Total tickets issued.",
	})

	TicketVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routecore",
		Subsystem: "ticketing",
		Name:      "verifications_total",
		Help:      "Total ticket verification attempts by result.",
	}, []string{"result"})

	MerkleBatchesAnchored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "routecore",
		Subsystem: "ticketing",
		Name:      "batches_anchored_total",
		Help:      "Total Merkle batches successfully anchored.",
	})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		BookingsCreated,
		BookingCancellations,
		PaymentAttempts,
		PaymentDuration,
		MatchmakingRounds,
		MatchmakingCandidates,
		TicketsIssued,
		TicketVerifications,
		MerkleBatchesAnchored,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler serves the registered collectors in the Prometheus exposition
// format, meant to be mounted at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
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

// Middleware wraps an http.Handler with request-count and latency
// instrumentation. routeLabel should return a low-cardinality route
// template (e.g. "/v1/bookings/{id}"), not the raw path, to keep label
// cardinality bounded.
func Middleware(routeLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			httpInFlight.Inc()
			defer httpInFlight.Dec()

			next.ServeHTTP(rec, r)

			route := routeLabel(r)
			method := strings.ToUpper(r.Method)
			httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
			httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		})
	}
}
