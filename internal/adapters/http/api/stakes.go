package api

import (
	"context"
	"net/http"

	"github.com/okian/tatami/internal/domain/rating"
	"github.com/okian/tatami/pkg/logger"
)

// StakesDependencies previews what a ranked match would do to both ratings.
type StakesDependencies interface {
	PreviewStakes(ctx context.Context, athleteA, athleteB string, weightA, weightB float64) (rating.StakesPreview, error)
}

// stakesRequest names both athletes. Weights are optional overrides of the
// recorded weights, typically the weigh-in on the day.
type stakesRequest struct {
	AthleteA string  `json:"athlete_a"`
	AthleteB string  `json:"athlete_b"`
	WeightA  float64 `json:"weight_a,omitempty"`
	WeightB  float64 `json:"weight_b,omitempty"`
}

// StakesHandler handles stakes previews.
type StakesHandler struct {
	deps   StakesDependencies
	logger logger.Logger
}

// NewStakesHandler creates a new stakes handler.
func NewStakesHandler(deps StakesDependencies, log logger.Logger) *StakesHandler {
	return &StakesHandler{deps: deps, logger: log}
}

// HandlePreview handles POST /stakes.
func (h *StakesHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	const op = "api.preview_stakes"
	var req stakesRequest
	if err := decode(r, &req); err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	p, err := h.deps.PreviewStakes(r.Context(), req.AthleteA, req.AthleteB, req.WeightA, req.WeightB)
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
