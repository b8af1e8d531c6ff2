// Package service wires the rating engine, the stores and the result
// pipeline into the operations the HTTP API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	resultqueue "github.com/okian/tatami/internal/adapters/mq/queue"
	"github.com/okian/tatami/internal/adapters/mq/worker"
	"github.com/okian/tatami/internal/adapters/repository"
	"github.com/okian/tatami/internal/domain/dedupe"
	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/rating"
	"github.com/okian/tatami/internal/domain/types"
	"github.com/okian/tatami/pkg/logger"
	"github.com/okian/tatami/pkg/metrics"
)

// NewAthlete is the input to RegisterAthlete. An empty ID is generated.
type NewAthlete struct {
	ID     string
	Name   string
	Weight float64
}

// NewMatch is the input to CreateMatch. An empty ID is generated and an
// empty Type means ranked.
type NewMatch struct {
	ID       string
	AthleteA string
	AthleteB string
	Type     model.MatchType
}

// ResultSubmission is the input to SubmitResult.
type ResultSubmission struct {
	SubmissionID string
	MatchID      string
	Outcome      rating.Outcome
}

// Service implements the API dependencies for the rating system.
type Service struct {
	mu sync.RWMutex

	engine   *rating.Engine
	athletes repository.AthleteStore
	matches  repository.MatchStore
	ledger   repository.Ledger
	deduper  dedupe.Deduper
	results  *resultqueue.InMemoryQueue
	pool     *worker.Pool
	observer worker.ResultHook

	// settleMu serializes settlement so ratings read for one match cannot
	// be overwritten by another settling at the same time.
	settleMu sync.Mutex

	kFactor        int
	classWidth     float64
	startingRating int
	workerCount    int
	queueSize      int
	dedupeSize     int

	now   func() time.Time
	newID func() string

	started bool
	root    logger.Logger
	logger  logger.Logger
}

// New constructs a Service. Stores and the engine are usable immediately;
// Start is only needed for asynchronous result submission.
func New(opts ...Option) *Service {
	s := &Service{
		kFactor:        rating.DefaultKFactor,
		classWidth:     rating.DefaultWeightClassWidth,
		startingRating: rating.StartingRating,
		workerCount:    runtime.NumCPU(),
		queueSize:      10_000,
		dedupeSize:     50_000,
		now:            time.Now,
		newID:          uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.root = s.logger
	s.logger = s.root.Named("service")

	s.engine = rating.NewEngine(
		rating.WithKFactor(s.kFactor),
		rating.WithWeightClassWidth(s.classWidth),
	)
	s.athletes = repository.NewTreapStore()
	s.matches = repository.NewInMemoryMatchStore(repository.WithClock(s.now))
	s.ledger = repository.NewInMemoryLedger()
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	return s
}

// Start launches the result queue and worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.results = resultqueue.NewInMemoryQueue(
		resultqueue.WithCapacity(s.queueSize),
		resultqueue.WithClock(s.now),
	)
	s.pool = worker.NewPool(s.workerCount, s.results, s,
		worker.WithLogger(s.root.Named("worker")),
		worker.WithResultHook(s.onResult),
	)
	// Workers outlive the request that started them; Stop ends them.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Int("k_factor", s.kFactor),
	)

	return nil
}

// Stop stops accepting results and waits for queued ones to be applied
// until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	s.logger.Info(ctx, "stopping rating service...")
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "result workers did not drain", logger.Error(err))
		return err
	}
	s.logger.Info(ctx, "rating service stopped")
	return nil
}

// RegisterAthlete adds an athlete at the starting rating.
func (s *Service) RegisterAthlete(ctx context.Context, in NewAthlete) (model.Athlete, error) {
	if math.IsNaN(in.Weight) || math.IsInf(in.Weight, 0) || in.Weight < 0 {
		return model.Athlete{}, fmt.Errorf("%w: weight must be a non-negative number", ErrInvalidRequest)
	}

	a := model.Athlete{
		ID:     strings.TrimSpace(in.ID),
		Name:   strings.TrimSpace(in.Name),
		Rating: s.startingRating,
		Weight: in.Weight,
	}
	if a.ID == "" {
		a.ID = s.newID()
	}

	if err := s.athletes.Create(ctx, a); err != nil {
		return model.Athlete{}, err
	}

	s.logger.Info(ctx, "athlete registered", logger.String("athlete_id", a.ID), logger.Int("rating", a.Rating))
	return a, nil
}

// Athlete returns a registered athlete.
func (s *Service) Athlete(ctx context.Context, id string) (model.Athlete, error) {
	return s.athletes.Get(ctx, id)
}

// CreateMatch records a pending match between two registered athletes.
func (s *Service) CreateMatch(ctx context.Context, in NewMatch) (model.Match, error) {
	if in.Type == "" {
		in.Type = model.MatchRanked
	}
	switch {
	case !in.Type.Valid():
		return model.Match{}, fmt.Errorf("%w: unknown match type %q", ErrInvalidRequest, in.Type)
	case in.AthleteA == "" || in.AthleteB == "":
		return model.Match{}, fmt.Errorf("%w: both athletes are required", ErrInvalidRequest)
	case in.AthleteA == in.AthleteB:
		return model.Match{}, fmt.Errorf("%w: an athlete cannot face themselves", ErrInvalidRequest)
	}
	for _, id := range []string{in.AthleteA, in.AthleteB} {
		if _, err := s.athletes.Get(ctx, id); err != nil {
			return model.Match{}, err
		}
	}

	m := model.Match{
		ID:       strings.TrimSpace(in.ID),
		AthleteA: in.AthleteA,
		AthleteB: in.AthleteB,
		Type:     in.Type,
		Status:   model.StatusPending,
	}
	if m.ID == "" {
		m.ID = s.newID()
	}
	if err := s.matches.Create(ctx, m); err != nil {
		return model.Match{}, err
	}
	metrics.RecordMatchTransition(string(model.StatusPending))

	return s.matches.Get(ctx, m.ID)
}

// Match returns a match by id.
func (s *Service) Match(ctx context.Context, id string) (model.Match, error) {
	return s.matches.Get(ctx, id)
}

// StartMatch moves a pending match to in_progress.
func (s *Service) StartMatch(ctx context.Context, id string) (model.Match, error) {
	m, err := s.matches.Transition(ctx, repository.Transition{
		MatchID: id,
		From:    model.StatusPending,
		To:      model.StatusInProgress,
	})
	if err != nil {
		return model.Match{}, err
	}
	metrics.RecordMatchTransition(string(m.Status))
	return m, nil
}

// CancelMatch cancels a pending or in-progress match.
func (s *Service) CancelMatch(ctx context.Context, id string) (model.Match, error) {
	cur, err := s.matches.Get(ctx, id)
	if err != nil {
		return model.Match{}, err
	}
	if cur.Status.Terminal() {
		return model.Match{}, fmt.Errorf("match %s is %s: %w", id, cur.Status, repository.ErrIllegalTransition)
	}
	m, err := s.matches.Transition(ctx, repository.Transition{
		MatchID: id,
		From:    cur.Status,
		To:      model.StatusCancelled,
	})
	if err != nil {
		return model.Match{}, err
	}
	metrics.RecordMatchTransition(string(m.Status))
	s.logger.Info(ctx, "match cancelled", logger.String("match_id", id), logger.String("from", string(cur.Status)))
	return m, nil
}

// PreviewStakes reports what each athlete stands to win, draw or lose
// against the other. A positive weight overrides the athlete's recorded
// weight for this preview only.
func (s *Service) PreviewStakes(ctx context.Context, athleteA, athleteB string, weightA, weightB float64) (rating.StakesPreview, error) {
	if athleteA == athleteB {
		metrics.RecordPreviewError()
		return rating.StakesPreview{}, fmt.Errorf("%w: an athlete cannot face themselves", ErrInvalidRequest)
	}
	a, err := s.athletes.Get(ctx, athleteA)
	if err != nil {
		return rating.StakesPreview{}, err
	}
	b, err := s.athletes.Get(ctx, athleteB)
	if err != nil {
		return rating.StakesPreview{}, err
	}

	if weightA == 0 {
		weightA = a.Weight
	}
	if weightB == 0 {
		weightB = b.Weight
	}

	preview, err := s.engine.PreviewStakes(a.Rating, b.Rating, weightA, weightB)
	if err != nil {
		metrics.RecordPreviewError()
		return rating.StakesPreview{}, err
	}
	metrics.RecordStakesPreview()
	return preview, nil
}

// Complete records the outcome of an in-progress match. Casual matches are
// closed without touching ratings. Ranked matches are settled at most once:
// a second call fails with repository.ErrAlreadySettled.
func (s *Service) Complete(ctx context.Context, matchID string, outcome rating.Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}

	start := time.Now()
	s.settleMu.Lock()
	defer s.settleMu.Unlock()

	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return err
	}
	switch m.Status {
	case model.StatusInProgress:
	case model.StatusCompleted:
		metrics.RecordSettlementConflict()
		return fmt.Errorf("match %s: %w", matchID, repository.ErrAlreadySettled)
	default:
		return fmt.Errorf("match %s is %s: %w", matchID, m.Status, repository.ErrIllegalTransition)
	}

	if m.Type == model.MatchCasual {
		if _, err := s.transitionCompleted(ctx, m, outcome); err != nil {
			return err
		}
		metrics.RecordCasualCompletion()
		s.logger.Info(ctx, "casual match completed", logger.String("match_id", matchID), logger.String("outcome", outcome.String()))
		return nil
	}

	rec, err := s.settle(ctx, m, outcome)
	if err != nil {
		metrics.RecordErrorLatency("service", "settlement", float64(time.Since(start).Milliseconds()))
		return err
	}

	metrics.RecordSettlement(string(outcome.Kind))
	metrics.RecordRatingDelta(rec.Result.A.Delta)
	metrics.RecordRatingDelta(rec.Result.B.Delta)
	metrics.RecordSettlementLatency(float64(time.Since(start).Milliseconds()))
	fields := []logger.Field{
		logger.String("match_id", matchID),
		logger.String("outcome", outcome.String()),
		logger.String("athlete_a", m.AthleteA),
		logger.Int("delta_a", rec.Result.A.Delta),
		logger.String("athlete_b", m.AthleteB),
		logger.Int("delta_b", rec.Result.B.Delta),
	}
	if outcome.Kind == rating.KindWin {
		fields = append(fields, logger.String("winner", m.AthleteFor(outcome.Winner)))
	}
	s.logger.Info(ctx, "match settled", fields...)
	return nil
}

// settle must be called with settleMu held and m in progress.
func (s *Service) settle(ctx context.Context, m model.Match, outcome rating.Outcome) (model.SettlementRecord, error) {
	a, err := s.athletes.Get(ctx, m.AthleteA)
	if err != nil {
		return model.SettlementRecord{}, err
	}
	b, err := s.athletes.Get(ctx, m.AthleteB)
	if err != nil {
		return model.SettlementRecord{}, err
	}

	result, err := s.engine.Settle(a.Rating, b.Rating, outcome)
	if err != nil {
		return model.SettlementRecord{}, err
	}

	// The guarded transition is the commit point; nothing is written
	// before it succeeds.
	done, err := s.transitionCompleted(ctx, m, outcome)
	if err != nil {
		return model.SettlementRecord{}, err
	}

	rec := model.SettlementRecord{
		MatchID:   m.ID,
		AthleteA:  m.AthleteA,
		AthleteB:  m.AthleteB,
		Outcome:   outcome,
		KFactor:   s.engine.KFactor(),
		Result:    result,
		SettledAt: done.UpdatedAt,
	}
	if err := s.ledger.Record(ctx, rec); err != nil {
		metrics.RecordSettlementConflict()
		return model.SettlementRecord{}, err
	}

	err = s.athletes.SetRatings(ctx,
		repository.RatingUpdate{AthleteID: a.ID, Before: result.A.RatingBefore, After: result.A.RatingAfter},
		repository.RatingUpdate{AthleteID: b.ID, Before: result.B.RatingBefore, After: result.B.RatingAfter},
	)
	if err != nil {
		metrics.RecordErrorByComponent("service", "rating_write")
		s.logger.Error(ctx, "settlement recorded but ratings not applied",
			logger.String("match_id", m.ID), logger.Error(err))
		return model.SettlementRecord{}, err
	}
	return rec, nil
}

func (s *Service) transitionCompleted(ctx context.Context, m model.Match, outcome rating.Outcome) (model.Match, error) {
	done, err := s.matches.Transition(ctx, repository.Transition{
		MatchID: m.ID,
		From:    model.StatusInProgress,
		To:      model.StatusCompleted,
		Outcome: &outcome,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.RecordSettlementConflict()
		}
		return model.Match{}, err
	}
	metrics.RecordMatchTransition(string(done.Status))
	return done, nil
}

// SubmitResult queues a result for asynchronous completion. Submissions are
// idempotent by SubmissionID: a repeat returns duplicate=true and is not
// queued again. An empty SubmissionID is generated. Results for pending or
// cancelled matches are rejected with repository.ErrIllegalTransition.
func (s *Service) SubmitResult(ctx context.Context, in ResultSubmission) (duplicate bool, err error) {
	if err := in.Outcome.Validate(); err != nil {
		return false, err
	}
	m, err := s.matches.Get(ctx, in.MatchID)
	if err != nil {
		return false, err
	}
	// Completed matches pass through so a retried id still reads as a duplicate.
	if m.Status != model.StatusInProgress && m.Status != model.StatusCompleted {
		return false, fmt.Errorf("match %s is %s: %w", in.MatchID, m.Status, repository.ErrIllegalTransition)
	}

	s.mu.RLock()
	started, results := s.started, s.results
	s.mu.RUnlock()
	if !started {
		return false, ErrNotStarted
	}

	if in.SubmissionID == "" {
		in.SubmissionID = s.newID()
	}
	if s.deduper.SeenAndRecord(ctx, in.SubmissionID) {
		metrics.RecordResultDuplicate()
		s.logger.Debug(ctx, "duplicate result submission", logger.String("submission_id", in.SubmissionID))
		return true, nil
	}

	err = results.Enqueue(ctx, model.ResultEvent{
		SubmissionID: in.SubmissionID,
		MatchID:      in.MatchID,
		Outcome:      in.Outcome,
	})
	if err != nil {
		// Let the client retry the same submission id.
		s.deduper.Unrecord(ctx, in.SubmissionID)
		if errors.Is(err, resultqueue.ErrFull) {
			return false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		if errors.Is(err, resultqueue.ErrClosed) {
			return false, fmt.Errorf("%w: %w", ErrNotStarted, err)
		}
		return false, err
	}

	metrics.RecordResultSubmitted()
	return false, nil
}

// onResult runs after a worker applies a queued result. A submission that
// failed for any reason other than an earlier settlement is forgotten so the
// client can retry it under the same id.
func (s *Service) onResult(ctx context.Context, e model.ResultEvent, err error) {
	if err != nil && !errors.Is(err, repository.ErrAlreadySettled) {
		s.deduper.Unrecord(ctx, e.SubmissionID)
	}
	if s.observer != nil {
		s.observer(ctx, e, err)
	}
}

// Settlement returns the settlement record for a ranked match.
func (s *Service) Settlement(ctx context.Context, matchID string) (model.SettlementRecord, error) {
	return s.ledger.Get(ctx, matchID)
}

// TopN returns the top N leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	entries, err := s.athletes.TopN(ctx, n)
	if err != nil {
		return nil, err
	}

	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		out[i] = toEntry(e)
	}
	return out, nil
}

// Rank returns the leaderboard entry for an athlete.
func (s *Service) Rank(ctx context.Context, athleteID string) (types.Entry, error) {
	e, err := s.athletes.Rank(ctx, athleteID)
	if err != nil {
		return types.Entry{}, err
	}
	return toEntry(e), nil
}

func toEntry(e repository.Entry) types.Entry {
	return types.Entry{
		Rank:      e.Rank,
		AthleteID: e.AthleteID,
		Name:      e.Name,
		Rating:    e.Rating,
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	totalAthletes := s.athletes.Count(ctx)
	stats := map[string]any{
		"started":        s.started,
		"workerCount":    s.workerCount,
		"queueSize":      s.queueSize,
		"dedupeSize":     s.dedupeSize,
		"kFactor":        s.engine.KFactor(),
		"totalAthletes":  totalAthletes,
		"settledMatches": s.ledger.Count(ctx),
		"dedupeEntries":  s.deduper.Size(),
	}
	metrics.UpdateTotalAthletes(totalAthletes)

	if s.results != nil {
		queueLen := s.results.Len(ctx)
		stats["queueLength"] = queueLen
		metrics.UpdateQueueSize(queueLen)
	}
	if s.pool != nil {
		stats["processedResults"] = s.pool.Processed()
	}

	return stats
}
