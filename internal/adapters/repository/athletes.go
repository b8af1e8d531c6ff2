package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/pkg/metrics"
)

// Treap-backed athlete directory.
//
// Ordering: rating DESC, then athlete id ASC, so an in-order walk yields the
// leaderboard from best to worst. Ranks follow competition ranking: athletes
// with equal ratings share a rank and the next rank skips ahead (1, 1, 3).

type node struct {
	id     string
	rating int
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aRating, aID) ranks before (bRating, bID).
func less(aRating int, aID string, bRating int, bID string) bool {
	if aRating != bRating {
		return aRating > bRating
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, r int, prio uint64) *node {
	if n == nil {
		return &node{id: id, rating: r, prio: prio, size: 1}
	}
	if less(r, id, n.rating, n.id) {
		n.left = insert(n.left, id, r, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, r, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, id string, r int) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id && n.rating == r:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, id, r)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, id, r)
		}
	case less(r, id, n.rating, n.id):
		n.left = remove(n.left, id, r)
	default:
		n.right = remove(n.right, id, r)
	}
	fix(n)
	return n
}

// countAbove returns how many athletes have a rating strictly above r.
func countAbove(n *node, r int) int {
	count := 0
	for n != nil {
		if n.rating > r {
			count += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

func collectTopN(n *node, limit int, out *[]*node) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// TreapStore implements AthleteStore in memory.
type TreapStore struct {
	mu   sync.RWMutex
	root *node
	byID map[string]model.Athlete
	prio func() uint64
}

// NewTreapStore constructs an empty athlete directory.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		byID: make(map[string]model.Athlete),
		prio: rand.Uint64,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Create implements AthleteStore.
func (s *TreapStore) Create(ctx context.Context, a model.Athlete) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.Lock()
	if _, ok := s.byID[a.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("athlete %s: %w", a.ID, ErrExists)
	}
	s.byID[a.ID] = a
	s.root = insert(s.root, a.ID, a.Rating, s.prio())
	count := len(s.byID)
	s.mu.Unlock()

	metrics.UpdateTotalAthletes(count)
	return nil
}

// Get implements AthleteStore.
func (s *TreapStore) Get(ctx context.Context, id string) (model.Athlete, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return model.Athlete{}, fmt.Errorf("athlete %s: %w", id, ErrNotFound)
	}
	return a, nil
}

// SetRatings implements AthleteStore. Every update is checked before any is
// applied.
func (s *TreapStore) SetRatings(ctx context.Context, updates ...RatingUpdate) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		a, ok := s.byID[u.AthleteID]
		if !ok {
			return fmt.Errorf("athlete %s: %w", u.AthleteID, ErrNotFound)
		}
		if a.Rating != u.Before {
			metrics.RecordErrorByComponent("repository", "stale_rating")
			return fmt.Errorf("athlete %s rating is %d, expected %d: %w", u.AthleteID, a.Rating, u.Before, ErrConflict)
		}
	}

	for _, u := range updates {
		a := s.byID[u.AthleteID]
		if a.Rating == u.After {
			continue
		}
		s.root = remove(s.root, a.ID, a.Rating)
		a.Rating = u.After
		s.byID[a.ID] = a
		s.root = insert(s.root, a.ID, a.Rating, s.prio())
	}
	return nil
}

// Rank implements AthleteStore in O(log n) expected time.
func (s *TreapStore) Rank(ctx context.Context, id string) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return Entry{}, fmt.Errorf("athlete %s: %w", id, ErrNotFound)
	}
	return Entry{
		Rank:      countAbove(s.root, a.Rating) + 1,
		AthleteID: a.ID,
		Name:      a.Name,
		Rating:    a.Rating,
	}, nil
}

// TopN implements AthleteStore.
func (s *TreapStore) TopN(ctx context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*node, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, &nodes)

	out := make([]Entry, len(nodes))
	for i, nd := range nodes {
		rank := i + 1
		if i > 0 && nd.rating == nodes[i-1].rating {
			rank = out[i-1].Rank
		}
		out[i] = Entry{
			Rank:      rank,
			AthleteID: nd.id,
			Name:      s.byID[nd.id].Name,
			Rating:    nd.rating,
		}
	}
	return out, nil
}

// Count implements AthleteStore.
func (s *TreapStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
