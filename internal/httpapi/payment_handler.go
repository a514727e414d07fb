package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/domain"
	"github.com/routecore/platform/internal/payment"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// PaymentService is the subset of payment.Service the HTTP layer needs.
type PaymentService interface {
	InitiatePayment(ctx context.Context, req *domain.InitiatePaymentRequest) (*domain.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetActivePaymentForBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error)
	ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Payment, error)
	ListByFilter(ctx context.Context, status string, riderID *uuid.UUID) ([]domain.Payment, error)
	VerifyPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID, amount *float64, reason string, actorID uuid.UUID) (*domain.Payment, error)
	ExpirePendingPayments(ctx context.Context) (int, error)
	Reconciliation(ctx context.Context, businessDate time.Time) (*domain.ReconciliationRecord, error)
	ListReconciliation(ctx context.Context, limit int) ([]domain.ReconciliationRecord, error)
	ListDiscrepancies(ctx context.Context) ([]domain.ReconciliationRecord, error)
	VerifyWebhookSignature(rawPayload []byte, signatureHex string) bool
	ProcessWebhook(ctx context.Context, event payment.WebhookEvent) error
}

// PaymentHandler serves /v1/payments/*, /v1/admin/payments/*,
// /v1/admin/reconciliation*, and /v1/webhooks/gateway.
type PaymentHandler struct {
	svc PaymentService
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

type initiatePaymentPayload struct {
	BookingID      uuid.UUID `json:"booking_id"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	CustomerEmail  string    `json:"customer_email"`
	CustomerName   string    `json:"customer_name"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Initiate handles POST /v1/payments/initiate.
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var payload initiatePaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_JSON", "request body is not valid JSON"))
		return
	}
	p, err := h.svc.InitiatePayment(r.Context(), &domain.InitiatePaymentRequest{
		BookingID:      payload.BookingID,
		Amount:         payload.Amount,
		Currency:       payload.Currency,
		CustomerEmail:  payload.CustomerEmail,
		CustomerName:   payload.CustomerName,
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /v1/payments/{id}.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "payment id is not a valid uuid"))
		return
	}
	p, err := h.svc.GetPayment(r.Context(), id)
	if err != nil {
		apierr.WriteHTTPError(w, apierr.NotFound("PAYMENT_NOT_FOUND", "payment not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetByBooking handles GET /v1/payments/booking/{bookingId}.
func (h *PaymentHandler) GetByBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(mux.Vars(r)["bookingId"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "booking id is not a valid uuid"))
		return
	}
	p, err := h.svc.GetActivePaymentForBooking(r.Context(), bookingID)
	if err != nil {
		apierr.WriteHTTPError(w, apierr.NotFound("PAYMENT_NOT_FOUND", "no active payment for this booking"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// MyPayments handles GET /v1/payments/my-payments.
func (h *PaymentHandler) MyPayments(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	page, size := pageAndSize(r)
	payments, err := h.svc.ListByRider(r.Context(), principal.UserID, page, size)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// Verify handles POST /v1/payments/{id}/verify.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "payment id is not a valid uuid"))
		return
	}
	p, err := h.svc.VerifyPayment(r.Context(), id)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AdminList handles GET /v1/admin/payments[?status&riderId].
func (h *PaymentHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	var riderID *uuid.UUID
	if raw := r.URL.Query().Get("riderId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			apierr.WriteHTTPError(w, apierr.Validation("INVALID_RIDER_ID", "riderId is not a valid uuid"))
			return
		}
		riderID = &id
	}
	payments, err := h.svc.ListByFilter(r.Context(), status, riderID)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

type refundPayload struct {
	Amount *float64 `json:"amount,omitempty"`
	Reason string   `json:"reason"`
}

// AdminRefund handles POST /v1/admin/payments/{id}/refund.
func (h *PaymentHandler) AdminRefund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "payment id is not a valid uuid"))
		return
	}
	var payload refundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_JSON", "request body is not valid JSON"))
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	p, err := h.svc.Refund(r.Context(), id, payload.Amount, payload.Reason, principal.UserID)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AdminExpire handles POST /v1/admin/payments/expire.
func (h *PaymentHandler) AdminExpire(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.ExpirePendingPayments(r.Context())
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": count})
}

// AdminReconciliationRun handles POST /v1/admin/reconciliation/run?date=YYYY-MM-DD.
func (h *PaymentHandler) AdminReconciliationRun(w http.ResponseWriter, r *http.Request) {
	dateParam := r.URL.Query().Get("date")
	businessDate, err := time.Parse("2006-01-02", dateParam)
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_DATE", "date must be formatted YYYY-MM-DD"))
		return
	}
	record, err := h.svc.Reconciliation(r.Context(), businessDate)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// AdminReconciliationList handles GET /v1/admin/reconciliation[?limit].
func (h *PaymentHandler) AdminReconciliationList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.svc.ListReconciliation(r.Context(), limit)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// AdminReconciliationDiscrepancies handles GET /v1/admin/reconciliation/discrepancies.
func (h *PaymentHandler) AdminReconciliationDiscrepancies(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListDiscrepancies(r.Context())
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Webhook handles POST /v1/webhooks/gateway. Unlike every other endpoint
// it is not Bearer-authenticated; authenticity instead comes from the
// X-Gateway-Signature HMAC over the raw body.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_BODY", "failed to read request body"))
		return
	}
	signature := r.Header.Get("X-Gateway-Signature")
	if !h.svc.VerifyWebhookSignature(body, signature) {
		apierr.WriteHTTPError(w, apierr.Authorization("INVALID_SIGNATURE", "webhook signature verification failed"))
		return
	}

	var event payment.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_JSON", "webhook payload is not valid JSON"))
		return
	}
	if err := h.svc.ProcessWebhook(r.Context(), event); err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
