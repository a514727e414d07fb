package httpapi

import (
	"net/http"

	"github.com/routecore/platform/internal/metrics"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config controls router-level behavior that isn't owned by a single
// handler: the JWT secret, rate limit thresholds, and in-flight cap.
type Config struct {
	JWTSecret             string
	RateLimitPerMinute    int
	RateLimitBurst        int
	MaxInFlightRequests   int
}

// NewRouter assembles the versioned /v1 API: a shared middleware chain
// wraps a mux.Router, with per-route role restrictions layered on top
// via requireRole.
func NewRouter(
	cfg Config,
	booking *BookingHandler,
	paymentH *PaymentHandler,
	matchmaking *MatchmakingHandler,
	ticket *TicketingHandler,
) http.Handler {
	router := mux.NewRouter()
	router.Use(loggingMiddleware, corsMiddleware)
	router.Use(metrics.Middleware(routeLabel))

	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	limiters := newPerUserLimiters(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	auth := authMiddleware(cfg.JWTSecret)
	throttle := throttleMiddleware(cfg.MaxInFlightRequests)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(throttle)

	// Webhooks authenticate via HMAC signature, not Bearer JWT, so they
	// sit outside the authenticated subrouter and are rate limited by IP.
	v1.Handle("/webhooks/gateway", limiters.middleware(http.HandlerFunc(paymentH.Webhook))).Methods(http.MethodPost)

	authed := v1.PathPrefix("").Subrouter()
	authed.Use(auth, limiters.middleware)

	bookings := authed.PathPrefix("/bookings").Subrouter()
	bookings.HandleFunc("", booking.Create).Methods(http.MethodPost)
	bookings.HandleFunc("", booking.List).Methods(http.MethodGet)
	bookings.HandleFunc("/upcoming", booking.Upcoming).Methods(http.MethodGet)
	bookings.HandleFunc("/reference/{ref}", booking.GetByReference).Methods(http.MethodGet)
	bookings.HandleFunc("/{id}", booking.Get).Methods(http.MethodGet)
	bookings.HandleFunc("/{id}/cancel", booking.Cancel).Methods(http.MethodPost)
	bookings.Handle("/{id}/confirm", requireRole(RoleAdmin)(http.HandlerFunc(booking.Confirm))).Methods(http.MethodPost)

	payments := authed.PathPrefix("/payments").Subrouter()
	payments.HandleFunc("/initiate", paymentH.Initiate).Methods(http.MethodPost)
	payments.HandleFunc("/my-payments", paymentH.MyPayments).Methods(http.MethodGet)
	payments.HandleFunc("/booking/{bookingId}", paymentH.GetByBooking).Methods(http.MethodGet)
	payments.HandleFunc("/{id}", paymentH.Get).Methods(http.MethodGet)
	payments.HandleFunc("/{id}/verify", paymentH.Verify).Methods(http.MethodPost)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(requireRole(RoleAdmin))
	admin.HandleFunc("/payments", paymentH.AdminList).Methods(http.MethodGet)
	admin.HandleFunc("/payments/{id}/refund", paymentH.AdminRefund).Methods(http.MethodPost)
	admin.HandleFunc("/payments/expire", paymentH.AdminExpire).Methods(http.MethodPost)
	admin.HandleFunc("/reconciliation/run", paymentH.AdminReconciliationRun).Methods(http.MethodPost)
	admin.HandleFunc("/reconciliation/discrepancies", paymentH.AdminReconciliationDiscrepancies).Methods(http.MethodGet)
	admin.HandleFunc("/reconciliation", paymentH.AdminReconciliationList).Methods(http.MethodGet)

	authed.HandleFunc("/match", matchmaking.Search).Methods(http.MethodPost)

	tickets := authed.PathPrefix("/tickets").Subrouter()
	tickets.Handle("/generate", requireRole(RoleAdmin)(http.HandlerFunc(ticket.Generate))).Methods(http.MethodPost)
	tickets.HandleFunc("/verify", ticket.Verify).Methods(http.MethodPost)
	tickets.HandleFunc("/{id}/cancel", ticket.Cancel).Methods(http.MethodPost)
	tickets.HandleFunc("/{id}/merkle-proof", ticket.MerkleProof).Methods(http.MethodGet)
	tickets.HandleFunc("/{id}", ticket.Get).Methods(http.MethodGet)

	return otelhttp.NewHandler(router, "routecore-api")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// routeLabel derives a low-cardinality metrics label from the matched
// mux route template rather than the raw path, so per-id URLs don't blow
// up the /metrics cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
