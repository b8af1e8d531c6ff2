package api

import (
	"context"
	"net/http"
	"time"

	service "github.com/okian/tatami/internal/app"
	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/rating"
	"github.com/okian/tatami/pkg/logger"
)

// MatchDependencies covers the match lifecycle and result submission.
type MatchDependencies interface {
	CreateMatch(ctx context.Context, in service.NewMatch) (model.Match, error)
	Match(ctx context.Context, id string) (model.Match, error)
	StartMatch(ctx context.Context, id string) (model.Match, error)
	CancelMatch(ctx context.Context, id string) (model.Match, error)
	SubmitResult(ctx context.Context, in service.ResultSubmission) (duplicate bool, err error)
	Settlement(ctx context.Context, matchID string) (model.SettlementRecord, error)
}

type createMatchRequest struct {
	ID       string `json:"id,omitempty"`
	AthleteA string `json:"athlete_a"`
	AthleteB string `json:"athlete_b"`
	Type     string `json:"type,omitempty"`
}

type matchResponse struct {
	ID        string      `json:"id"`
	AthleteA  string      `json:"athlete_a"`
	AthleteB  string      `json:"athlete_b"`
	Type      string      `json:"type"`
	Status    string      `json:"status"`
	Outcome   *outcomeDTO `json:"outcome,omitempty"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func toMatchResponse(m model.Match) matchResponse {
	resp := matchResponse{
		ID:        m.ID,
		AthleteA:  m.AthleteA,
		AthleteB:  m.AthleteB,
		Type:      string(m.Type),
		Status:    string(m.Status),
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Outcome != nil {
		o := toOutcomeDTO(*m.Outcome)
		resp.Outcome = &o
	}
	return resp
}

type submitResultRequest struct {
	SubmissionID string     `json:"submission_id"`
	Outcome      outcomeDTO `json:"outcome"`
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type settlementResponse struct {
	MatchID   string                  `json:"match_id"`
	AthleteA  string                  `json:"athlete_a"`
	AthleteB  string                  `json:"athlete_b"`
	Outcome   outcomeDTO              `json:"outcome"`
	KFactor   int                     `json:"k_factor"`
	Result    rating.SettlementResult `json:"result"`
	SettledAt time.Time               `json:"settled_at"`
}

// MatchesHandler handles the match endpoints.
type MatchesHandler struct {
	deps   MatchDependencies
	logger logger.Logger
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(deps MatchDependencies, log logger.Logger) *MatchesHandler {
	return &MatchesHandler{deps: deps, logger: log}
}

// HandleCreate handles POST /matches.
func (h *MatchesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_match"
	var req createMatchRequest
	if err := decode(r, &req); err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	m, err := h.deps.CreateMatch(r.Context(), service.NewMatch{
		ID:       req.ID,
		AthleteA: req.AthleteA,
		AthleteB: req.AthleteB,
		Type:     model.MatchType(req.Type),
	})
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMatchResponse(m))
}

// HandleGet handles GET /matches/{id}.
func (h *MatchesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.respondMatch(w, r, "api.get_match", h.deps.Match)
}

// HandleStart handles POST /matches/{id}/start.
func (h *MatchesHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.respondMatch(w, r, "api.start_match", h.deps.StartMatch)
}

// HandleCancel handles POST /matches/{id}/cancel.
func (h *MatchesHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.respondMatch(w, r, "api.cancel_match", h.deps.CancelMatch)
}

func (h *MatchesHandler) respondMatch(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (model.Match, error)) {
	m, err := fn(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(m))
}

// HandleResult handles POST /matches/{id}/result. The result is applied
// asynchronously; a repeated submission id is acknowledged as a duplicate.
func (h *MatchesHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_result"
	var req submitResultRequest
	if err := decode(r, &req); err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	dup, err := h.deps.SubmitResult(r.Context(), service.ResultSubmission{
		SubmissionID: req.SubmissionID,
		MatchID:      r.PathValue("id"),
		Outcome:      req.Outcome.outcome(),
	})
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandleSettlement handles GET /matches/{id}/settlement.
func (h *MatchesHandler) HandleSettlement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Settlement(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(r.Context(), h.logger, w, "api.get_settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, settlementResponse{
		MatchID:   rec.MatchID,
		AthleteA:  rec.AthleteA,
		AthleteB:  rec.AthleteB,
		Outcome:   toOutcomeDTO(rec.Outcome),
		KFactor:   rec.KFactor,
		Result:    rec.Result,
		SettledAt: rec.SettledAt,
	})
}
