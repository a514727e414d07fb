package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/domain"
	"github.com/routecore/platform/internal/ticketing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// TicketingService is the subset of ticketing.Service the HTTP layer needs.
type TicketingService interface {
	IssueTicket(ctx context.Context, booking ticketing.BookingView) (*domain.Ticket, error)
	GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	VerifyTicket(ctx context.Context, ticketID uuid.UUID, vctx domain.VerifyContext) (domain.VerificationResult, error)
	CancelTicket(ctx context.Context, id uuid.UUID) error
	GetMerkleProof(ctx context.Context, id uuid.UUID) (*domain.MerkleProof, error)
}

// TicketingHandler serves /v1/tickets/*.
type TicketingHandler struct {
	svc TicketingService
}

// NewTicketingHandler creates a TicketingHandler.
func NewTicketingHandler(svc TicketingService) *TicketingHandler {
	return &TicketingHandler{svc: svc}
}

type generateTicketPayload struct {
	BookingID     uuid.UUID `json:"booking_id"`
	RiderID       uuid.UUID `json:"rider_id"`
	DriverID      uuid.UUID `json:"driver_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	PickupStopID  uuid.UUID `json:"pickup_stop_id"`
	DropoffStopID uuid.UUID `json:"dropoff_stop_id"`
	Fare          float64   `json:"fare"`
	PaymentID     uuid.UUID `json:"payment_id"`
}

// Generate handles POST /v1/tickets/generate. Internal — called once a
// booking is confirmed and its payment captured, not directly by riders.
func (h *TicketingHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var payload generateTicketPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_JSON", "request body is not valid JSON"))
		return
	}

	ticket, err := h.svc.IssueTicket(r.Context(), ticketing.BookingView{
		BookingID:     payload.BookingID,
		RiderID:       payload.RiderID,
		DriverID:      payload.DriverID,
		ScheduledTime: payload.ScheduledTime,
		PickupStopID:  payload.PickupStopID,
		DropoffStopID: payload.DropoffStopID,
		Fare:          payload.Fare,
		PaymentID:     payload.PaymentID,
	})
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// Get handles GET /v1/tickets/{id}.
func (h *TicketingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "ticket id is not a valid uuid"))
		return
	}
	ticket, err := h.svc.GetTicket(r.Context(), id)
	if err != nil {
		apierr.WriteHTTPError(w, apierr.NotFound("TICKET_NOT_FOUND", "ticket not found"))
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type verifyTicketPayload struct {
	TicketID         uuid.UUID `json:"ticket_id"`
	ExpectedDriverID uuid.UUID `json:"expected_driver_id"`
}

// Verify handles POST /v1/tickets/verify.
func (h *TicketingHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var payload verifyTicketPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_JSON", "request body is not valid JSON"))
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	vctx := domain.VerifyContext{
		ExpectedDriverID: payload.ExpectedDriverID,
		VerifierID:       principal.UserID,
		IP:               clientKey(r),
		UserAgent:        r.UserAgent(),
	}

	result, err := h.svc.VerifyTicket(r.Context(), payload.TicketID, vctx)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

// Cancel handles POST /v1/tickets/{id}/cancel.
func (h *TicketingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "ticket id is not a valid uuid"))
		return
	}
	if err := h.svc.CancelTicket(r.Context(), id); err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MerkleProof handles GET /v1/tickets/{id}/merkle-proof.
func (h *TicketingHandler) MerkleProof(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "ticket id is not a valid uuid"))
		return
	}
	proof, err := h.svc.GetMerkleProof(r.Context(), id)
	if err != nil {
		apierr.WriteHTTPError(w, apierr.NotFound("PROOF_NOT_AVAILABLE", "ticket has not yet been anchored"))
		return
	}
	writeJSON(w, http.StatusOK, proof)
}
