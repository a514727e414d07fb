// Package booking implements the Booking Core: seat
// reservation, payment handoff, cancellation with refund policy, and
// completion, each transition validated and audited through
// internal/statemachine, following a lock -> double-check -> persist ->
// invalidate-cache -> publish shape through the full ten-state booking
// lifecycle table.
package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/routecore/platform/internal/domain"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB the repository needs.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository persists Booking rows in Postgres.
type Repository struct {
	db DB
}

// NewRepository creates a booking Repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const bookingColumns = `
	id, reference, rider_id, route_id, driver_id, origin_stop_id, destination_stop_id,
	travel_date, departure_time, seats_booked, allocated_seat_numbers, price_per_seat,
	total_price, platform_fee, status, payment_id, payment_status, idempotency_key,
	expires_at, confirmed_at, cancelled_at, completed_at, cancellation_reason,
	refund_amount, refund_status, created_at, updated_at
`

// Create inserts a new booking with status PENDING.
func (r *Repository) Create(ctx context.Context, b *domain.Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Reference == "" {
		b.Reference = generateReference()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	seatsJSON, err := json.Marshal(b.AllocatedSeatNumbers)
	if err != nil {
		return fmt.Errorf("failed to marshal allocated seat numbers: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bookings (
			id, reference, rider_id, route_id, driver_id, origin_stop_id, destination_stop_id,
			travel_date, departure_time, seats_booked, allocated_seat_numbers, price_per_seat,
			total_price, platform_fee, status, idempotency_key, expires_at, refund_status,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		b.ID, b.Reference, b.RiderID, b.RouteID, b.DriverID, b.OriginStopID, b.DestinationStopID,
		b.TravelDate, b.DepartureTime, b.SeatsBooked, string(seatsJSON), b.PricePerSeat,
		b.TotalPrice, b.PlatformFee, b.Status, b.IdempotencyKey, b.ExpiresAt, b.RefundStatus,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (r *Repository) scanRow(scan func(dest ...interface{}) error) (*domain.Booking, error) {
	var b domain.Booking
	var seatsJSON string
	err := scan(
		&b.ID, &b.Reference, &b.RiderID, &b.RouteID, &b.DriverID, &b.OriginStopID, &b.DestinationStopID,
		&b.TravelDate, &b.DepartureTime, &b.SeatsBooked, &seatsJSON, &b.PricePerSeat,
		&b.TotalPrice, &b.PlatformFee, &b.Status, &b.PaymentID, &b.PaymentStatus, &b.IdempotencyKey,
		&b.ExpiresAt, &b.ConfirmedAt, &b.CancelledAt, &b.CompletedAt, &b.CancellationReason,
		&b.RefundAmount, &b.RefundStatus, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(seatsJSON), &b.AllocatedSeatNumbers)
	return &b, nil
}

// GetByID loads one booking by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := r.scanRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("booking not found")
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	return b, nil
}

// ListByRider returns a page of a rider's bookings, most recent first.
func (r *Repository) ListByRider(ctx context.Context, riderID uuid.UUID, page, size int) ([]domain.Booking, error) {
	if size <= 0 {
		size = 20
	}
	if page <= 0 {
		page = 1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE rider_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, riderID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// GetByReference loads one booking by its public display reference.
func (r *Repository) GetByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE reference = $1`, reference)
	b, err := r.scanRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("booking not found")
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	return b, nil
}

// ListUpcomingByRider returns a rider's CONFIRMED/CHECKED_IN bookings with
// a travel date today or later ("GET /v1/bookings/upcoming").
func (r *Repository) ListUpcomingByRider(ctx context.Context, riderID uuid.UUID, asOf time.Time) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE rider_id = $1 AND status IN ('CONFIRMED', 'CHECKED_IN') AND travel_date >= $2
		ORDER BY travel_date ASC
	`, riderID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming bookings: %w", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListExpiring returns PENDING/HELD bookings whose expires_at has passed —
// feeds the hold-expiration scheduled job.
func (r *Repository) ListExpiring(ctx context.Context, asOf time.Time) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status IN ('PENDING', 'HELD') AND expires_at IS NOT NULL AND expires_at <= $1
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring bookings: %w", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := r.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// update applies a partial column update and bumps updated_at.
func (r *Repository) update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	cols := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)
	i := 1
	for col, val := range fields {
		cols = append(cols, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	cols = append(cols, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, time.Now().UTC())
	i++
	args = append(args, id)

	query := fmt.Sprintf("UPDATE bookings SET %s WHERE id = $%d", strings.Join(cols, ", "), i)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("booking not found")
	}
	return nil
}

// SetHeld records successful seat allocation (PENDING -> HELD).
func (r *Repository) SetHeld(ctx context.Context, id uuid.UUID, status domain.BookingStatus) error {
	return r.update(ctx, id, map[string]interface{}{"status": status})
}

// SetPaymentInitiated attaches the payment id once checkout starts.
func (r *Repository) SetPaymentInitiated(ctx context.Context, id, paymentID uuid.UUID) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     domain.BookingPaymentInitiated,
		"payment_id": paymentID,
	})
}

// SetConfirmed attaches the payment outcome and moves to CONFIRMED.
func (r *Repository) SetConfirmed(ctx context.Context, id, paymentID uuid.UUID) error {
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]interface{}{
		"status":         domain.BookingConfirmed,
		"payment_id":     paymentID,
		"payment_status": string(domain.PaymentSuccess),
		"confirmed_at":   now,
		"expires_at":     nil,
	})
}

// SetCancelled records a cancellation and its refund outcome.
func (r *Repository) SetCancelled(ctx context.Context, id uuid.UUID, reason string, refundAmount float64, refundStatus domain.RefundStatus) error {
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]interface{}{
		"status":              domain.BookingCancelled,
		"cancelled_at":        now,
		"cancellation_reason": reason,
		"refund_amount":       refundAmount,
		"refund_status":       refundStatus,
	})
}

// SetCompleted marks a checked-in booking as completed (trip finished).
func (r *Repository) SetCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.update(ctx, id, map[string]interface{}{
		"status":       domain.BookingCompleted,
		"completed_at": now,
	})
}

// SetFailed marks a booking FAILED (e.g. seat hold failure).
func (r *Repository) SetFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":              domain.BookingFailed,
		"cancellation_reason": reason,
	})
}

// SetExpired marks a booking EXPIRED (hold-expiration scheduled job).
func (r *Repository) SetExpired(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, map[string]interface{}{"status": domain.BookingExpired})
}

// SetCheckedIn marks a confirmed booking CHECKED_IN.
func (r *Repository) SetCheckedIn(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, map[string]interface{}{"status": domain.BookingCheckedIn})
}

func generateReference() string {
	id := uuid.New().String()
	return "BK-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:10])
}
