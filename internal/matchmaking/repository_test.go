package matchmaking

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/routecore/platform/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	cleanup := func() { db.Close() }
	return NewRepository(db), mock, cleanup
}

func TestRepository_CandidateRoutes(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	routeID := uuid.New()
	driverID := uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "origin_hub_id", "destination_hub_id", "departure_time", "seats_total",
		"base_price", "status", "driver_id", "driver_rating", "driver_rating_count",
		"driver_cancellation_rate",
	}).AddRow(routeID, uuid.New(), uuid.New(), time.Now().Add(time.Hour), 4, 25.0, "ACTIVE", driverID, 4.8, 120, 0.02)

	mock.ExpectQuery(regexp.QuoteMeta("FROM routes r")).WillReturnRows(rows)

	origin := domain.Point{Lat: 12.9, Lon: 77.6}
	destination := domain.Point{Lat: 13.0, Lon: 77.7}

	routes, err := repo.CandidateRoutes(context.Background(), origin, destination, 5, 2)
	if err != nil {
		t.Fatalf("CandidateRoutes: %v", err)
	}
	if len(routes) != 1 || routes[0].ID != routeID {
		t.Fatalf("unexpected candidates: %+v", routes)
	}
}

func TestRepository_GetRoute_NotFound(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM routes WHERE id")).WillReturnRows(sqlmock.NewRows(nil))

	if _, err := repo.GetRoute(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error for missing route")
	}
}
