package domain

import (
	"time"

	"github.com/google/uuid"
)

// RouteStatus tracks whether a route currently accepts bookings.
type RouteStatus string

const (
	RouteActive    RouteStatus = "ACTIVE"
	RouteSuspended RouteStatus = "SUSPENDED"
	RouteRetired   RouteStatus = "RETIRED"
)

// Point is a WGS84 (lon, lat) geographic point.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Hub is a named geographic location routes originate/terminate at.
type Hub struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Location Point     `json:"location" db:"location"`
}

// Stop is one ordered waypoint on a Route.
type Stop struct {
	ID       uuid.UUID `json:"id" db:"id"`
	RouteID  uuid.UUID `json:"route_id" db:"route_id"`
	HubID    uuid.UUID `json:"hub_id" db:"hub_id"`
	Sequence int       `json:"sequence" db:"sequence"`
	Location Point     `json:"location" db:"location"`
}

// Route is a scheduled service between an origin and destination hub via
// an ordered list of stops (used by matchmaking).
type Route struct {
	ID                   uuid.UUID   `json:"id" db:"id"`
	OriginHubID          uuid.UUID   `json:"origin_hub_id" db:"origin_hub_id"`
	DestinationHubID     uuid.UUID   `json:"destination_hub_id" db:"destination_hub_id"`
	Stops                []Stop      `json:"stops,omitempty" db:"-"`
	DepartureTime        time.Time   `json:"departure_time" db:"departure_time"`
	SeatsTotal           int         `json:"seats_total" db:"seats_total"`
	BasePrice            float64     `json:"base_price" db:"base_price"`
	Status               RouteStatus `json:"status" db:"status"`
	DriverID             uuid.UUID   `json:"driver_id" db:"driver_id"`
	DriverRating         float64     `json:"driver_rating" db:"driver_rating"`
	DriverRatingCount    int         `json:"driver_rating_count" db:"driver_rating_count"`
	DriverCancelRate     float64     `json:"driver_cancellation_rate" db:"driver_cancellation_rate"`
}

// MatchRequest is the input to matchmaking.Service.Search.
type MatchRequest struct {
	RiderID      uuid.UUID
	Origin       Point
	Destination  Point
	DesiredTime  time.Time
	MaxPrice     *float64
	MinSeats     int
	RadiusKM     float64
}

// MatchResult is one scored candidate in a matchmaking response.
type MatchResult struct {
	Route         Route   `json:"route"`
	RouteMatch    float64 `json:"route_match_score"`
	TimeMatch     float64 `json:"time_match_score"`
	Rating        float64 `json:"rating_score"`
	Price         float64 `json:"price_score"`
	FinalScore    float64 `json:"final_score"`
	Explanation   string  `json:"explanation"`
	Recommended   bool    `json:"recommended"`
}

// MatchResponse is the full result set for one matchmaking search.
type MatchResponse struct {
	Matches            []MatchResult `json:"matches"`
	TotalCandidates    int           `json:"total_candidates"`
	MatchedCandidates  int           `json:"matched_candidates"`
	ExecutionTimeMS    int64         `json:"execution_time_ms"`
}
