package matchmaking

import (
	"testing"
	"time"

	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/domain"
)

func TestTimeMatchScore(t *testing.T) {
	window := 15 * time.Minute
	base := time.Now()

	cases := []struct {
		name  string
		diff  time.Duration
		want  float64
	}{
		{"exact", 0, 1.0},
		{"within window", 10 * time.Minute, 1.0},
		{"at window edge", 15 * time.Minute, 1.0},
		{"halfway decay", 22*time.Minute + 30*time.Second, 0.5},
		{"beyond decay", 30 * time.Minute, 0.0},
		{"far beyond", time.Hour, 0.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := timeMatchScore(base.Add(tc.diff), base, window)
			if diff := got - tc.want; diff < -0.01 || diff > 0.01 {
				t.Fatalf("timeMatchScore = %.3f, want ~%.3f", got, tc.want)
			}
		})
	}
}

func TestScore_PriceRelativeToSet(t *testing.T) {
	cfg := config.MatchmakingConfig{
		WeightRouteMatch: 0.4, WeightTimeMatch: 0.3, WeightRating: 0.2, WeightPrice: 0.1,
		TimeWindow: 15 * time.Minute, DefaultRating: 4.0,
	}
	now := time.Now()
	cheapest := domain.Route{BasePrice: 10, DepartureTime: now}
	result := score(cheapest, now, cfg, 10, 30)
	if result.Price != 1.0 {
		t.Fatalf("expected cheapest route to score price=1.0, got %.3f", result.Price)
	}

	priciest := domain.Route{BasePrice: 30, DepartureTime: now}
	result = score(priciest, now, cfg, 10, 30)
	if result.Price != 0.0 {
		t.Fatalf("expected priciest route to score price=0.0, got %.3f", result.Price)
	}
}

func TestScore_RatingFallsBackToDefaultWhenNoRatings(t *testing.T) {
	cfg := config.MatchmakingConfig{
		WeightRouteMatch: 0.4, WeightTimeMatch: 0.3, WeightRating: 0.2, WeightPrice: 0.1,
		TimeWindow: 15 * time.Minute, DefaultRating: 4.0,
	}
	route := domain.Route{BasePrice: 10, DriverRatingCount: 0, DriverRating: 0}
	result := score(route, time.Now(), cfg, 10, 10)
	if result.Rating != 0.8 {
		t.Fatalf("expected default rating 4.0/5=0.8, got %.3f", result.Rating)
	}
}
