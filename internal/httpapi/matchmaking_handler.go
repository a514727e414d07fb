package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/routecore/platform/internal/apierr"
	"github.com/routecore/platform/internal/domain"
)

// MatchmakingService is the subset of matchmaking.Service the HTTP layer
// needs.
type MatchmakingService interface {
	Search(ctx context.Context, req domain.MatchRequest) (*domain.MatchResponse, error)
}

// MatchmakingHandler serves /v1/match.
type MatchmakingHandler struct {
	svc MatchmakingService
}

// NewMatchmakingHandler creates a MatchmakingHandler.
func NewMatchmakingHandler(svc MatchmakingService) *MatchmakingHandler {
	return &MatchmakingHandler{svc: svc}
}

type matchRequestPayload struct {
	Origin      domain.Point `json:"origin"`
	Destination domain.Point `json:"destination"`
	DesiredTime time.Time    `json:"desired_time"`
	MaxPrice    *float64     `json:"max_price,omitempty"`
	MinSeats    int          `json:"min_seats"`
	RadiusKM    float64      `json:"radius_km"`
}

// Search handles POST /v1/match.
func (h *MatchmakingHandler) Search(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var payload matchRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteHTTPError(w, apierr.Validation("INVALID_JSON", "request body is not valid JSON"))
		return
	}

	req := domain.MatchRequest{
		RiderID:     principal.UserID,
		Origin:      payload.Origin,
		Destination: payload.Destination,
		DesiredTime: payload.DesiredTime,
		MaxPrice:    payload.MaxPrice,
		MinSeats:    payload.MinSeats,
		RadiusKM:    payload.RadiusKM,
	}

	resp, err := h.svc.Search(r.Context(), req)
	if err != nil {
		apierr.WriteHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
