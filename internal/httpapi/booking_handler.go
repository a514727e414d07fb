package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// BookingService is the subset of booking.Service the HTTP layer needs.
type BookingService interface {
	CreateBooking(ctx context.Context, req *domain.CreateBookingRequest) (*domain.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*domain.Booking, error)
	ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Booking, error)
	ListUpcomingByRider(ctx context.Context, riderID uuid.UUID) ([]domain.Booking, error)
	CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*domain.Booking, error)
	ConfirmBooking(ctx context.Context, bookingID, paymentID uuid.UUID) error
}

// BookingHandler serves /v1/bookings/*.
type BookingHandler struct {
	svc BookingService
}

// NewBookingHandler creates a BookingHandler.
func NewBookingHandler(svc BookingService) *BookingHandler {
	return &BookingHandler{svc: svc}
}

type createBookingPayload struct {
	RouteID           uuid.UUID `json:"route_id"`
	OriginStopID      uuid.UUID `json:"origin_stop_id"`
	DestinationStopID uuid.UUID `json:"destination_stop_id"`
	TravelDate        time.Time `json:"travel_date"`
	SeatsBooked       int       `json:"seats_booked"`
	IdempotencyKey    string    `json:"idempotency_key,omitempty"`
}

// Create handles POST /v1/bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var payload createBookingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_JSON", "request body is not valid JSON"))
		return
	}

	req := &domain.CreateBookingRequest{
		RiderID:           principal.UserID,
		RouteID:           payload.RouteID,
		OriginStopID:      payload.OriginStopID,
		DestinationStopID: payload.DestinationStopID,
		TravelDate:        payload.TravelDate,
		SeatsBooked:       payload.SeatsBooked,
		IdempotencyKey:    payload.IdempotencyKey,
	}

	booking, err := h.svc.CreateBooking(r.Context(), req)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// Get handles GET /v1/bookings/{id}.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "booking id is not a valid uuid"))
		return
	}
	booking, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		apierr.WriteHTTPError(w, apierr.NotFound("BOOKING_NOT_FOUND", "booking not found"))
		return
	}
	if !ownsBooking(r, booking) {
		apierr.WriteHTTPError(w, apierr.Authorization("NOT_YOUR_BOOKING", "booking belongs to a different rider"))
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// GetByReference handles GET /v1/bookings/reference/{ref}.
func (h *BookingHandler) GetByReference(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	booking, err := h.svc.GetBookingByReference(r.Context(), ref)
	if err != nil {
		apierr.WriteHTTPError(w, apierr.NotFound("BOOKING_NOT_FOUND", "booking not found"))
		return
	}
	if !ownsBooking(r, booking) {
		apierr.WriteHTTPError(w, apierr.Authorization("NOT_YOUR_BOOKING", "booking belongs to a different rider"))
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// List handles GET /v1/bookings?page&size.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	page, size := pageAndSize(r)
	bookings, err := h.svc.ListByRider(r.Context(), principal.UserID, page, size)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// Upcoming handles GET /v1/bookings/upcoming.
func (h *BookingHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	bookings, err := h.svc.ListUpcomingByRider(r.Context(), principal.UserID)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

type cancelBookingPayload struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /v1/bookings/{id}/cancel.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "booking id is not a valid uuid"))
		return
	}
	var payload cancelBookingPayload
	_ = json.NewDecoder(r.Body).Decode(&payload)

	principal, _ := PrincipalFromContext(r.Context())
	booking, err := h.svc.CancelBooking(r.Context(), id, principal.UserID, payload.Reason)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type confirmBookingPayload struct {
	PaymentID uuid.UUID `json:"paymentId"`
}

// Confirm handles POST /v1/bookings/{id}/confirm. Admin-only (the router
// wraps it in requireRole(RoleAdmin)); the payment core's webhook path
// confirms bookings in-process through booking.Service, not through this
// route.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_ID", "booking id is not a valid uuid"))
		return
	}
	var payload confirmBookingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_JSON", "request body is not valid JSON"))
		return
	}
	if err := h.svc.ConfirmBooking(r.Context(), id, payload.PaymentID); err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ownsBooking(r *http.Request, b *domain.Booking) bool {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		return false
	}
	if principal.Role == RoleAdmin {
		return true
	}
	return b.RiderID == principal.UserID
}

func pageAndSize(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return page, size
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
