// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/tatami/internal/adapters/repository"
	service "github.com/okian/tatami/internal/app"
	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/rating"
	"github.com/okian/tatami/internal/domain/types"
	"github.com/okian/tatami/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	AthleteDependencies
	StakesDependencies
	MatchDependencies
	LeaderboardDependencies
	RankDependencies
	StatsProvider
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	athletesHandler    *AthletesHandler
	stakesHandler      *StakesHandler
	matchesHandler     *MatchesHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler

	maxLimit     int
	previewLimit *IPRateLimiter
	logger       logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		maxLimit:     defaultMaxLeaderboardLimit,
		previewLimit: NewIPRateLimiter(defaultPreviewRate, defaultPreviewBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.Named("http")

	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps)
	s.athletesHandler = NewAthletesHandler(deps, s.logger)
	s.stakesHandler = NewStakesHandler(deps, s.logger)
	s.matchesHandler = NewMatchesHandler(deps, s.logger)
	s.leaderboardHandler = NewLeaderboardHandler(deps, s.maxLimit, s.logger)
	s.rankHandler = NewRankHandler(deps, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, MetricsMiddleware(h, endpoint))
	}

	route("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	route("GET /stats", "stats", s.statsHandler.HandleStats)

	route("POST /athletes", "athletes", s.athletesHandler.HandleRegister)
	route("GET /athletes/{id}", "athlete", s.athletesHandler.HandleGet)

	route("POST /stakes", "stakes", RateLimitMiddleware(s.previewLimit, "stakes", s.stakesHandler.HandlePreview))

	route("POST /matches", "matches", s.matchesHandler.HandleCreate)
	route("GET /matches/{id}", "match", s.matchesHandler.HandleGet)
	route("POST /matches/{id}/start", "match_start", s.matchesHandler.HandleStart)
	route("POST /matches/{id}/cancel", "match_cancel", s.matchesHandler.HandleCancel)
	route("POST /matches/{id}/result", "match_result", s.matchesHandler.HandleResult)
	route("GET /matches/{id}/settlement", "match_settlement", s.matchesHandler.HandleSettlement)

	route("GET /leaderboard", "leaderboard", s.leaderboardHandler.HandleGetLeaderboard)
	route("GET /rank/{id}", "rank", s.rankHandler.HandleGetRank)

	s.logger.Debug(ctx, "routes registered")
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps domain errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, rating.ErrInvalidOutcome):
		return http.StatusUnprocessableEntity, "invalid_outcome"
	case errors.Is(err, rating.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, repository.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, repository.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// fail writes err with its mapped status. Server errors are logged.
func fail(ctx context.Context, log logger.Logger, w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed", logger.String("op", op), logger.Error(err))
	}
	writeError(w, status, code, err)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

// outcomeDTO is the wire form of rating.Outcome: {"kind":"win","winner":"b"}
// or {"kind":"draw"}.
type outcomeDTO struct {
	Kind   string `json:"kind"`
	Winner string `json:"winner,omitempty"`
}

func (o outcomeDTO) outcome() rating.Outcome {
	return rating.Outcome{Kind: rating.OutcomeKind(o.Kind), Winner: rating.Side(o.Winner)}
}

func toOutcomeDTO(o rating.Outcome) outcomeDTO {
	return outcomeDTO{Kind: string(o.Kind), Winner: string(o.Winner)}
}

type athleteResponse struct {
	ID     string  `json:"id"`
	Name   string  `json:"name,omitempty"`
	Rating int     `json:"rating"`
	Weight float64 `json:"weight,omitempty"`
}

func toAthleteResponse(a model.Athlete) athleteResponse {
	return athleteResponse{ID: a.ID, Name: a.Name, Rating: a.Rating, Weight: a.Weight}
}
