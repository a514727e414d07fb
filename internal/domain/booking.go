// Package domain holds the persistence-agnostic entities shared by every
// core. Types are plain structs with json/db tags, mirroring
// the rest of the platform.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is one of the ten lifecycle states a Booking moves through.
type BookingStatus string

const (
	BookingPending           BookingStatus = "PENDING"
	BookingHeld              BookingStatus = "HELD"
	BookingPaymentInitiated  BookingStatus = "PAYMENT_INITIATED"
	BookingPaid              BookingStatus = "PAID"
	BookingConfirmed         BookingStatus = "CONFIRMED"
	BookingCheckedIn         BookingStatus = "CHECKED_IN"
	BookingCompleted         BookingStatus = "COMPLETED"
	BookingCancelled         BookingStatus = "CANCELLED"
	BookingExpired           BookingStatus = "EXPIRED"
	BookingFailed            BookingStatus = "FAILED"
)

// IsTerminal reports whether no further transition is permitted.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingCompleted, BookingCancelled, BookingExpired, BookingFailed:
		return true
	default:
		return false
	}
}

// RefundStatus tracks the state of a booking cancellation refund.
type RefundStatus string

const (
	RefundNone    RefundStatus = "NONE"
	RefundPending RefundStatus = "PENDING"
	RefundIssued  RefundStatus = "ISSUED"
)

// Booking is the central reservation entity.
type Booking struct {
	ID                  uuid.UUID     `json:"id" db:"id"`
	Reference            string        `json:"reference" db:"reference"`
	RiderID              uuid.UUID     `json:"rider_id" db:"rider_id"`
	RouteID              uuid.UUID     `json:"route_id" db:"route_id"`
	DriverID              uuid.UUID     `json:"driver_id" db:"driver_id"`
	OriginStopID          uuid.UUID     `json:"origin_stop_id" db:"origin_stop_id"`
	DestinationStopID     uuid.UUID     `json:"destination_stop_id" db:"destination_stop_id"`
	TravelDate            time.Time     `json:"travel_date" db:"travel_date"`
	DepartureTime         time.Time     `json:"departure_time" db:"departure_time"`
	SeatsBooked           int           `json:"seats_booked" db:"seats_booked"`
	AllocatedSeatNumbers  []int         `json:"allocated_seat_numbers" db:"allocated_seat_numbers"`
	PricePerSeat          float64       `json:"price_per_seat" db:"price_per_seat"`
	TotalPrice            float64       `json:"total_price" db:"total_price"`
	PlatformFee           float64       `json:"platform_fee" db:"platform_fee"`
	Status                BookingStatus `json:"status" db:"status"`
	PaymentID             *uuid.UUID    `json:"payment_id,omitempty" db:"payment_id"`
	PaymentStatus         *string       `json:"payment_status,omitempty" db:"payment_status"`
	IdempotencyKey        *string       `json:"idempotency_key,omitempty" db:"idempotency_key"`
	ExpiresAt             *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	ConfirmedAt           *time.Time    `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt           *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CancellationReason    string        `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	RefundAmount          float64       `json:"refund_amount" db:"refund_amount"`
	RefundStatus          RefundStatus  `json:"refund_status" db:"refund_status"`
	CreatedAt             time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at" db:"updated_at"`
}

// CreateBookingRequest is the input to booking.Service.CreateBooking.
type CreateBookingRequest struct {
	RiderID           uuid.UUID
	RouteID           uuid.UUID
	OriginStopID      uuid.UUID
	DestinationStopID uuid.UUID
	TravelDate        time.Time
	SeatsBooked       int
	IdempotencyKey    string
}

// IsValid reports whether the request carries the minimum required fields.
func (r *CreateBookingRequest) IsValid() bool {
	return r.RiderID != uuid.Nil && r.RouteID != uuid.Nil && r.SeatsBooked > 0 && !r.TravelDate.IsZero()
}
