package api

import (
	"context"
	"net/http"

	service "github.com/okian/tatami/internal/app"
	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/pkg/logger"
)

// AthleteDependencies covers the athlete directory.
type AthleteDependencies interface {
	RegisterAthlete(ctx context.Context, in service.NewAthlete) (model.Athlete, error)
	Athlete(ctx context.Context, id string) (model.Athlete, error)
}

type registerAthleteRequest struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight,omitempty"`
}

// AthletesHandler handles athlete registration and lookup.
type AthletesHandler struct {
	deps   AthleteDependencies
	logger logger.Logger
}

// NewAthletesHandler creates a new athletes handler.
func NewAthletesHandler(deps AthleteDependencies, log logger.Logger) *AthletesHandler {
	return &AthletesHandler{deps: deps, logger: log}
}

// HandleRegister handles POST /athletes.
func (h *AthletesHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_athlete"
	var req registerAthleteRequest
	if err := decode(r, &req); err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	a, err := h.deps.RegisterAthlete(r.Context(), service.NewAthlete{ID: req.ID, Name: req.Name, Weight: req.Weight})
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAthleteResponse(a))
}

// HandleGet handles GET /athletes/{id}.
func (h *AthletesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.Athlete(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(r.Context(), h.logger, w, "api.get_athlete", err)
		return
	}
	writeJSON(w, http.StatusOK, toAthleteResponse(a))
}
