package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/domain"

	"github.com/google/uuid"
)

type fakeRouteSource struct {
	routes []domain.Route
}

func (f *fakeRouteSource) CandidateRoutes(ctx context.Context, origin, destination domain.Point, radiusKM float64, minSeats int) ([]domain.Route, error) {
	return f.routes, nil
}

type fakeCacheBackend struct {
	values map[string]string
}

func newFakeCacheBackend() *fakeCacheBackend { return &fakeCacheBackend{values: map[string]string{}} }

func (f *fakeCacheBackend) Get(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeCacheBackend) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.values[key] = value.(string)
	return nil
}

func testConfig() config.MatchmakingConfig {
	return config.MatchmakingConfig{
		RadiusKM:         5,
		TimeWindow:       15 * time.Minute,
		CandidateCap:     50,
		CacheTTL:         3 * time.Minute,
		WeightRouteMatch: 0.4,
		WeightTimeMatch:  0.3,
		WeightRating:     0.2,
		WeightPrice:      0.1,
		DefaultRating:    4.0,
	}
}

func TestService_Search_RanksByFinalScore(t *testing.T) {
	now := time.Now()
	cheap := domain.Route{ID: uuid.New(), DepartureTime: now.Add(10 * time.Minute), BasePrice: 10, DriverRating: 4.9, DriverRatingCount: 200, Status: domain.RouteActive}
	pricey := domain.Route{ID: uuid.New(), DepartureTime: now.Add(10 * time.Minute), BasePrice: 30, DriverRating: 4.9, DriverRatingCount: 200, Status: domain.RouteActive}

	routes := &fakeRouteSource{routes: []domain.Route{pricey, cheap}}
	cache := NewResultCache(newFakeCacheBackend(), 3*time.Minute)
	svc := NewService(routes, cache, testConfig())

	resp, err := svc.Search(context.Background(), domain.MatchRequest{
		Origin:      domain.Point{Lat: 1, Lon: 1},
		Destination: domain.Point{Lat: 2, Lon: 2},
		DesiredTime: now,
		MinSeats:    1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(resp.Matches))
	}
	if resp.Matches[0].Route.ID != cheap.ID {
		t.Fatalf("expected the cheaper route to rank first, got %s", resp.Matches[0].Route.ID)
	}
}

func TestService_Search_UsesCacheOnRepeat(t *testing.T) {
	now := time.Now()
	route := domain.Route{ID: uuid.New(), DepartureTime: now.Add(10 * time.Minute), BasePrice: 15, DriverRating: 4.5, DriverRatingCount: 50, Status: domain.RouteActive}
	routes := &fakeRouteSource{routes: []domain.Route{route}}
	cache := NewResultCache(newFakeCacheBackend(), 3*time.Minute)
	svc := NewService(routes, cache, testConfig())

	req := domain.MatchRequest{
		Origin:      domain.Point{Lat: 1, Lon: 1},
		Destination: domain.Point{Lat: 2, Lon: 2},
		DesiredTime: now,
		MinSeats:    1,
	}

	first, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	routes.routes = nil // prove the second call serves from cache, not the (now-empty) source
	second, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("Search (cached): %v", err)
	}
	if len(second.Matches) != len(first.Matches) {
		t.Fatalf("expected cached response with %d matches, got %d", len(first.Matches), len(second.Matches))
	}
}

func TestService_Search_FiltersByMaxPrice(t *testing.T) {
	now := time.Now()
	cheap := domain.Route{ID: uuid.New(), DepartureTime: now, BasePrice: 10, Status: domain.RouteActive}
	pricey := domain.Route{ID: uuid.New(), DepartureTime: now, BasePrice: 50, Status: domain.RouteActive}
	routes := &fakeRouteSource{routes: []domain.Route{cheap, pricey}}
	cache := NewResultCache(newFakeCacheBackend(), 3*time.Minute)
	svc := NewService(routes, cache, testConfig())

	maxPrice := 20.0
	resp, err := svc.Search(context.Background(), domain.MatchRequest{
		Origin:      domain.Point{Lat: 1, Lon: 1},
		Destination: domain.Point{Lat: 2, Lon: 2},
		DesiredTime: now,
		MinSeats:    1,
		MaxPrice:    &maxPrice,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].Route.ID != cheap.ID {
		t.Fatalf("expected only the cheap route to survive the price filter, got %+v", resp.Matches)
	}
}

func TestNewService_PanicsOnBadWeights(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for weights that do not sum to 1.0")
		}
	}()
	cfg := testConfig()
	cfg.WeightPrice = 0.9
	NewService(&fakeRouteSource{}, NewResultCache(newFakeCacheBackend(), time.Minute), cfg)
}
