package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/tatami/pkg/logger"
)

const defaultLeaderboardLimit = 10

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	TopN(ctx context.Context, n int) ([]Entry, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
	logger   logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int, log logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps, maxLimit: maxLimit, logger: log}
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N requests. A missing
// limit returns the top ten.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n := min(defaultLeaderboardLimit, h.maxLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: limit %q: %w", op, raw, ErrBadRequest))
			return
		}
		if v > h.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", fmt.Errorf("%s: limit above %d: %w", op, h.maxLimit, ErrBadRequest))
			return
		}
		n = v
	}
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		fail(r.Context(), h.logger, w, op, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
