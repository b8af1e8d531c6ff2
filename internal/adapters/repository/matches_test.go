package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repository "github.com/okian/tatami/internal/adapters/repository"
	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryMatchStore(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	Convey("Given a match store with a pending ranked match", t, func() {
		store := repository.NewInMemoryMatchStore(repository.WithClock(func() time.Time { return clock }))
		err := store.Create(ctx, model.Match{ID: "m1", AthleteA: "ana", AthleteB: "bruno", Type: model.MatchRanked, Status: model.StatusPending})
		So(err, ShouldBeNil)

		Convey("When reading it back", func() {
			m, err := store.Get(ctx, "m1")

			Convey("Then the store stamped version and times", func() {
				So(err, ShouldBeNil)
				So(m.Version, ShouldEqual, 1)
				So(m.CreatedAt.Equal(clock), ShouldBeTrue)
			})
		})

		Convey("When creating it twice", func() {
			err := store.Create(ctx, model.Match{ID: "m1"})
			So(errors.Is(err, repository.ErrExists), ShouldBeTrue)
		})

		Convey("When starting and completing it", func() {
			_, err := store.Transition(ctx, repository.Transition{MatchID: "m1", From: model.StatusPending, To: model.StatusInProgress})
			So(err, ShouldBeNil)

			outcome := rating.Win(rating.SideB)
			m, err := store.Transition(ctx, repository.Transition{MatchID: "m1", From: model.StatusInProgress, To: model.StatusCompleted, Outcome: &outcome})

			Convey("Then the outcome is recorded and the version bumped", func() {
				So(err, ShouldBeNil)
				So(m.Status, ShouldEqual, model.StatusCompleted)
				So(*m.Outcome, ShouldResemble, outcome)
				So(m.Version, ShouldEqual, 3)
			})

			Convey("And a second completion conflicts", func() {
				_, err := store.Transition(ctx, repository.Transition{MatchID: "m1", From: model.StatusInProgress, To: model.StatusCompleted, Outcome: &outcome})
				So(errors.Is(err, repository.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When skipping straight to completed", func() {
			_, err := store.Transition(ctx, repository.Transition{MatchID: "m1", From: model.StatusPending, To: model.StatusCompleted})
			So(errors.Is(err, repository.ErrIllegalTransition), ShouldBeTrue)
		})

		Convey("When the match does not exist", func() {
			_, err := store.Transition(ctx, repository.Transition{MatchID: "nope", From: model.StatusPending, To: model.StatusCancelled})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("When many goroutines race to start it", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins, conflicts := 0, 0
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Transition(ctx, repository.Transition{MatchID: "m1", From: model.StatusPending, To: model.StatusInProgress})
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
					} else if errors.Is(err, repository.ErrConflict) {
						conflicts++
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one transition wins", func() {
				So(wins, ShouldEqual, 1)
				So(conflicts, ShouldEqual, 19)
			})
		})
	})
}

func TestInMemoryLedger(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty ledger", t, func() {
		ledger := repository.NewInMemoryLedger()
		rec := model.SettlementRecord{MatchID: "m1", AthleteA: "ana", AthleteB: "bruno", Outcome: rating.Draw(), KFactor: 32}

		Convey("When recording a settlement", func() {
			So(ledger.Record(ctx, rec), ShouldBeNil)

			Convey("Then it can be read back", func() {
				got, err := ledger.Get(ctx, "m1")
				So(err, ShouldBeNil)
				So(got, ShouldResemble, rec)
				So(ledger.Count(ctx), ShouldEqual, 1)
			})

			Convey("And a second record for the same match is refused", func() {
				err := ledger.Record(ctx, rec)
				So(errors.Is(err, repository.ErrAlreadySettled), ShouldBeTrue)
				So(ledger.Count(ctx), ShouldEqual, 1)
			})
		})

		Convey("When reading an unknown match", func() {
			_, err := ledger.Get(ctx, "m404")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}
