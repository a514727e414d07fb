package matchmaking

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/routecore/platform/internal/config"
	"github.com/routecore/platform/internal/domain"
)

// score computes the four sub-scores and final weighted score for one
// candidate route (stage 2). minPrice/maxPrice are taken
// across the full candidate set so the price sub-score is relative.
func score(route domain.Route, desiredTime time.Time, cfg config.MatchmakingConfig, minPrice, maxPrice float64) domain.MatchResult {
	routeMatch := 1.0 // candidate already passed the origin/destination-in-order prefilter

	timeMatch := timeMatchScore(route.DepartureTime, desiredTime, cfg.TimeWindow)

	rating := cfg.DefaultRating / 5.0
	if route.DriverRatingCount > 0 {
		rating = route.DriverRating / 5.0
	}

	price := 1.0
	if maxPrice > minPrice {
		price = (maxPrice - route.BasePrice) / (maxPrice - minPrice)
	}

	final := cfg.WeightRouteMatch*routeMatch +
		cfg.WeightTimeMatch*timeMatch +
		cfg.WeightRating*rating +
		cfg.WeightPrice*price

	return domain.MatchResult{
		Route:       route,
		RouteMatch:  routeMatch,
		TimeMatch:   timeMatch,
		Rating:      rating,
		Price:       price,
		FinalScore:  final,
		Explanation: explain(routeMatch, timeMatch, rating, route, desiredTime),
		Recommended: final >= 0.8,
	}
}

func timeMatchScore(departure, desired time.Time, window time.Duration) float64 {
	diff := departure.Sub(desired)
	if diff < 0 {
		diff = -diff
	}
	if diff <= window {
		return 1.0
	}
	if diff >= 2*window {
		return 0.0
	}
	// linear decay from 1.0 at `window` to 0.0 at `2*window`
	return 1.0 - float64(diff-window)/float64(window)
}

func explain(routeMatch, timeMatch, rating float64, route domain.Route, desiredTime time.Time) string {
	var matchPhrase string
	switch {
	case routeMatch >= 1.0:
		matchPhrase = "Exact route match"
	case routeMatch > 0:
		matchPhrase = "Partial route match"
	default:
		matchPhrase = "No direct route match"
	}

	diff := route.DepartureTime.Sub(desiredTime)
	var timePhrase string
	switch {
	case diff >= 0:
		timePhrase = fmt.Sprintf("departs in %s", formatDuration(diff))
	default:
		timePhrase = fmt.Sprintf("departed %s ago", formatDuration(-diff))
	}

	return fmt.Sprintf("%s; %s; rated %.1f/5", matchPhrase, timePhrase, rating*5)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return "under a minute"
	}
	minutes := int(d / time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours := minutes / 60
	remaining := minutes % 60
	if remaining == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dmin", hours, remaining)
}

// rankAndSort scores every candidate against the set's price range and
// returns results ordered by final score descending, breaking ties by
// lower price, then earlier departure, then route id.
func rankAndSort(routes []domain.Route, desiredTime time.Time, cfg config.MatchmakingConfig) []domain.MatchResult {
	if len(routes) == 0 {
		return nil
	}

	minPrice, maxPrice := routes[0].BasePrice, routes[0].BasePrice
	for _, r := range routes[1:] {
		minPrice = math.Min(minPrice, r.BasePrice)
		maxPrice = math.Max(maxPrice, r.BasePrice)
	}

	results := make([]domain.MatchResult, 0, len(routes))
	for _, r := range routes {
		results = append(results, score(r, desiredTime, cfg, minPrice, maxPrice))
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Route.BasePrice != b.Route.BasePrice {
			return a.Route.BasePrice < b.Route.BasePrice
		}
		if !a.Route.DepartureTime.Equal(b.Route.DepartureTime) {
			return a.Route.DepartureTime.Before(b.Route.DepartureTime)
		}
		return a.Route.ID.String() < b.Route.ID.String()
	})

	return results
}
