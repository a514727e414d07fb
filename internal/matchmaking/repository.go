// Package matchmaking implements the Matchmaking Core:
// geospatial candidate selection over routes followed by composite scoring.
// Uses raw parameterized SQL extended with PostGIS ST_DWithin predicates —
// PostGIS is a Postgres extension, not a separate client library, so the
// existing lib/pq-over-Postgres stack needs no new driver.
package matchmaking

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/routecore/platform/internal/domain"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB the repository needs.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository loads routes and stops for the geospatial prefilter.
type Repository struct {
	db DB
}

// NewRepository creates a matchmaking Repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// CandidateRoutes returns ACTIVE routes with at least minSeats available
// where some stop lies within radiusKM of origin and a later stop (by
// sequence) lies within radiusKM of destination (stage 1).
// The ST_DWithin predicates run against a geography column so radiusKM is
// converted to meters; Postgres/PostGIS does the spatial indexing.
func (r *Repository) CandidateRoutes(ctx context.Context, origin, destination domain.Point, radiusKM float64, minSeats int) ([]domain.Route, error) {
	radiusMeters := radiusKM * 1000

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT r.id, r.origin_hub_id, r.destination_hub_id, r.departure_time,
		       r.seats_total, r.base_price, r.status, r.driver_id, r.driver_rating,
		       r.driver_rating_count, r.driver_cancellation_rate
		FROM routes r
		JOIN stops origin_stop ON origin_stop.route_id = r.id
		JOIN stops dest_stop ON dest_stop.route_id = r.id
		WHERE r.status = 'ACTIVE'
		  AND (r.seats_total - COALESCE((
		        SELECT COUNT(*) FROM bookings b
		        WHERE b.route_id = r.id AND b.status IN ('CONFIRMED', 'CHECKED_IN')
		      ), 0)) >= $1
		  AND ST_DWithin(origin_stop.location, ST_MakePoint($2, $3)::geography, $4)
		  AND ST_DWithin(dest_stop.location, ST_MakePoint($5, $6)::geography, $4)
		  AND dest_stop.sequence > origin_stop.sequence
		ORDER BY r.id
	`, minSeats, origin.Lon, origin.Lat, radiusMeters, destination.Lon, destination.Lat)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate routes: %w", err)
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var route domain.Route
		if err := rows.Scan(
			&route.ID, &route.OriginHubID, &route.DestinationHubID, &route.DepartureTime,
			&route.SeatsTotal, &route.BasePrice, &route.Status, &route.DriverID,
			&route.DriverRating, &route.DriverRatingCount, &route.DriverCancelRate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate route: %w", err)
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

// GetRoute loads a single route by id — used by the booking core to
// revalidate pricing/availability before creating a booking.
func (r *Repository) GetRoute(ctx context.Context, id uuid.UUID) (*domain.Route, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, origin_hub_id, destination_hub_id, departure_time, seats_total,
		       base_price, status, driver_id, driver_rating, driver_rating_count,
		       driver_cancellation_rate
		FROM routes WHERE id = $1
	`, id)

	var route domain.Route
	err := row.Scan(
		&route.ID, &route.OriginHubID, &route.DestinationHubID, &route.DepartureTime,
		&route.SeatsTotal, &route.BasePrice, &route.Status, &route.DriverID,
		&route.DriverRating, &route.DriverRatingCount, &route.DriverCancelRate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("route not found")
		}
		return nil, fmt.Errorf("failed to load route: %w", err)
	}
	return &route, nil
}
