// Package seats implements the seat availability engine:
// for a (route, date) pair, it reconciles the durable confirmed count
// (Postgres bookings in CONFIRMED/CHECKED_IN) against the ephemeral held
// count (live Redis hold keys) to compute availability and allocate
// specific seat numbers. Held seat numbers live in one Redis set per
// route+date; confirmed seat numbers are read from the bookings table.
package seats

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/routecore/platform/internal/apierr"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB the engine needs to count confirmed seats.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RedisBackend is the subset of *cache.Client the engine needs for held
// seats: set membership primitives over a per-route-date hold key.
type RedisBackend interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Delete(ctx context.Context, key string) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Engine computes and allocates seat availability for a route+date.
type Engine struct {
	db    DB
	redis RedisBackend
}

// New creates a seat availability Engine.
func New(db DB, redis RedisBackend) *Engine {
	return &Engine{db: db, redis: redis}
}

func heldSetKey(routeID uuid.UUID, date string) string {
	return fmt.Sprintf("seats:held:%s:%s", routeID, date)
}

func bookingIndexKey(bookingID uuid.UUID) string {
	return "seats:booking-index:" + bookingID.String()
}

// confirmedCount returns the count of CONFIRMED/CHECKED_IN bookings for a
// route+date, read straight from Postgres — the durable source of truth.
func (e *Engine) confirmedCount(ctx context.Context, routeID uuid.UUID, date string) (int, error) {
	var count int
	row := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE route_id = $1 AND travel_date = $2
		  AND status IN ('CONFIRMED', 'CHECKED_IN')
	`, routeID, date)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count confirmed seats: %w", err)
	}
	return count, nil
}

// confirmedSeatNumbers returns the specific seat numbers already assigned
// to CONFIRMED/CHECKED_IN bookings, so Allocate never double-assigns a
// seat a prior booking already holds durably.
func (e *Engine) confirmedSeatNumbers(ctx context.Context, routeID uuid.UUID, date string) ([]int, error) {
	var raw string
	row := e.db.QueryRowContext(ctx, `
		SELECT COALESCE(array_agg(seat), ARRAY[]::int[])::text
		FROM (
			SELECT unnest(allocated_seat_numbers) AS seat
			FROM bookings
			WHERE route_id = $1 AND travel_date = $2
			  AND status IN ('CONFIRMED', 'CHECKED_IN')
		) s
	`, routeID, date)
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to load confirmed seat numbers: %w", err)
	}
	return parsePgIntArray(raw), nil
}

func parsePgIntArray(raw string) []int {
	raw = strings.Trim(raw, "{}")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// heldSeatNumbers returns the seat numbers currently on hold for a
// route+date, read from the live Redis set.
func (e *Engine) heldSeatNumbers(ctx context.Context, routeID uuid.UUID, date string) ([]int, error) {
	members, err := e.redis.SMembers(ctx, heldSetKey(routeID, date))
	if err != nil {
		return nil, fmt.Errorf("failed to read held seats: %w", err)
	}
	out := make([]int, 0, len(members))
	for _, m := range members {
		if n, err := strconv.Atoi(m); err == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// AvailableCount computes availableCount = seatsTotal - confirmedCount -
// heldCount.
func (e *Engine) AvailableCount(ctx context.Context, routeID uuid.UUID, date string, seatsTotal int) (int, error) {
	confirmed, err := e.confirmedCount(ctx, routeID, date)
	if err != nil {
		return 0, err
	}
	held, err := e.heldSeatNumbers(ctx, routeID, date)
	if err != nil {
		return 0, err
	}
	available := seatsTotal - confirmed - len(held)
	if available < 0 {
		available = 0
	}
	return available, nil
}

// Allocate picks the lowest unassigned seat numbers in [1..seatsTotal],
// excluding confirmed and held seats, for a booking requesting n seats.
// Must be called under the caller's route:{routeID}:{date} lock — the
// read-then-hold sequence here is not itself atomic.
func (e *Engine) Allocate(ctx context.Context, routeID uuid.UUID, date string, seatsTotal, n int) ([]int, error) {
	taken := make(map[int]bool, seatsTotal)

	heldSeats, err := e.heldSeatNumbers(ctx, routeID, date)
	if err != nil {
		return nil, err
	}
	for _, s := range heldSeats {
		taken[s] = true
	}

	confirmedSeats, err := e.confirmedSeatNumbers(ctx, routeID, date)
	if err != nil {
		return nil, err
	}
	for _, s := range confirmedSeats {
		taken[s] = true
	}

	allocated := make([]int, 0, n)
	for seat := 1; seat <= seatsTotal && len(allocated) < n; seat++ {
		if !taken[seat] {
			allocated = append(allocated, seat)
		}
	}
	if len(allocated) < n {
		return nil, apierr.Conflict("SEATS_UNAVAILABLE", "not enough seats available to allocate")
	}
	sort.Ints(allocated)
	return allocated, nil
}

// Hold adds a booking's seat numbers to the route+date held set and writes
// the per-booking index key (with ttl), so Release can find them later
// without the caller re-supplying the seat list. Aborts with SEAT_CONTENDED
// if any seat is already held. The check and the writes are separate Redis
// calls, not one atomic step; the booking core calls Hold under the
// route:{routeID}:{date} lock.
func (e *Engine) Hold(ctx context.Context, routeID uuid.UUID, date string, seatNumbers []int, bookingID uuid.UUID, ttl time.Duration) error {
	existing, err := e.heldSeatNumbers(ctx, routeID, date)
	if err != nil {
		return err
	}
	existingSet := make(map[int]bool, len(existing))
	for _, s := range existing {
		existingSet[s] = true
	}
	for _, s := range seatNumbers {
		if existingSet[s] {
			return apierr.Conflict("SEAT_CONTENDED", fmt.Sprintf("seat %d is already held", s))
		}
	}

	members := make([]interface{}, len(seatNumbers))
	for i, s := range seatNumbers {
		members[i] = s
	}
	if err := e.redis.SAdd(ctx, heldSetKey(routeID, date), members...); err != nil {
		return fmt.Errorf("failed to hold seats: %w", err)
	}

	index := strings.Trim(strings.Join(strings.Fields(fmt.Sprint(seatNumbers)), ","), "[]")
	if err := e.redis.SetJSON(ctx, bookingIndexKey(bookingID), index, ttl); err != nil {
		return fmt.Errorf("failed to write hold index: %w", err)
	}
	return nil
}

// Release removes the held seat keys for a booking. Idempotent: releasing
// an already-released or never-held booking is a no-op.
func (e *Engine) Release(ctx context.Context, routeID uuid.UUID, date string, seatNumbers []int, bookingID uuid.UUID) error {
	if len(seatNumbers) > 0 {
		members := make([]interface{}, len(seatNumbers))
		for i, s := range seatNumbers {
			members[i] = s
		}
		if err := e.redis.SRem(ctx, heldSetKey(routeID, date), members...); err != nil {
			return fmt.Errorf("failed to release seats: %w", err)
		}
	}
	return e.redis.Delete(ctx, bookingIndexKey(bookingID))
}
