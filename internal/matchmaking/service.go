package matchmaking

import (
	"context"
	"fmt"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/domain"
	"github.com/routecore/platform/internal/metrics"
)

// RouteSource is the subset of *Repository the service needs, kept as an
// interface so service tests can inject a hand-written fake.
type RouteSource interface {
	CandidateRoutes(ctx context.Context, origin, destination domain.Point, radiusKM float64, minSeats int) ([]domain.Route, error)
}

// Service is the Matchmaking Core.
type Service struct {
	routes RouteSource
	cache  *ResultCache
	cfg    config.MatchmakingConfig
}

// NewService creates the Matchmaking Core. Panics if the configured
// weights do not sum to 1.0 — a misconfigured deployment should fail at
// startup, not silently skew every search result.
func NewService(routes RouteSource, cache *ResultCache, cfg config.MatchmakingConfig) *Service {
	sum := cfg.WeightRouteMatch + cfg.WeightTimeMatch + cfg.WeightRating + cfg.WeightPrice
	if sum < 0.999 || sum > 1.001 {
		panic(fmt.Sprintf("matchmaking weights must sum to 1.0, got %.4f", sum))
	}
	return &Service{routes: routes, cache: cache, cfg: cfg}
}

const candidateCap = 50

// Search finds and ranks routes matching a rider's request.
func (s *Service) Search(ctx context.Context, req domain.MatchRequest) (*domain.MatchResponse, error) {
	start := time.Now()

	if req.MinSeats <= 0 {
		req.MinSeats = 1
	}
	radius := req.RadiusKM
	if radius <= 0 {
		radius = s.cfg.RadiusKM
	}
	req.RadiusKM = radius

	cacheKey := Key(req)
	if cached, ok := s.cache.Get(ctx, cacheKey); ok {
		return cached, nil
	}

	candidates, err := s.routes.CandidateRoutes(ctx, req.Origin, req.Destination, radius, req.MinSeats)
	if err != nil {
		metrics.MatchmakingRounds.WithLabelValues("error").Inc()
		return nil, apierr.Internal("MATCH_SEARCH_FAILED", "failed to search candidate routes", err)
	}
	totalCandidates := len(candidates)
	metrics.MatchmakingCandidates.Observe(float64(totalCandidates))

	if req.MaxPrice != nil {
		filtered := candidates[:0]
		for _, r := range candidates {
			if r.BasePrice <= *req.MaxPrice {
				filtered = append(filtered, r)
			}
		}
		candidates = filtered
	}

	if len(candidates) > candidateCap {
		candidates = candidates[:candidateCap]
	}

	matches := rankAndSort(candidates, req.DesiredTime, s.cfg)

	resp := &domain.MatchResponse{
		Matches:           matches,
		TotalCandidates:   totalCandidates,
		MatchedCandidates: len(matches),
		ExecutionTimeMS:   time.Since(start).Milliseconds(),
	}

	if err := s.cache.Set(ctx, cacheKey, resp); err != nil {
		// Cache write failures never fail the search; results still
		// returned to the caller fresh.
		_ = err
	}
	outcome := "matched"
	if len(matches) == 0 {
		outcome = "no_match"
	}
	metrics.MatchmakingRounds.WithLabelValues(outcome).Inc()
	return resp, nil
}
