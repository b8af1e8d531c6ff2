package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/tatami/internal/adapters/http/api"
	service "github.com/okian/tatami/internal/app"
	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/types"
	"github.com/okian/tatami/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// brokenLeaderboard fails every TopN call with an unmapped error.
type brokenLeaderboard struct {
	*service.Service
}

func (brokenLeaderboard) TopN(context.Context, int) ([]types.Entry, error) {
	return nil, errors.New("index corrupted")
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(w, &body)
	return body.Code
}

func newMux(deps api.Dependencies, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, opts...).Register(context.Background(), mux)
	return mux
}

func TestServer_Athletes(t *testing.T) {
	Convey("Given a server over a fresh rating service", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		mux := newMux(svc)

		Convey("Registering an athlete returns 201 at the starting rating", func() {
			w := do(mux, http.MethodPost, "/athletes", `{"id":"ana","name":"Ana","weight":62}`)
			So(w.Code, ShouldEqual, http.StatusCreated)

			var a struct {
				ID     string  `json:"id"`
				Name   string  `json:"name"`
				Rating int     `json:"rating"`
				Weight float64 `json:"weight"`
			}
			decodeBody(w, &a)
			So(a.ID, ShouldEqual, "ana")
			So(a.Rating, ShouldEqual, 1000)
			So(a.Weight, ShouldEqual, 62)

			Convey("and it can be fetched back", func() {
				w := do(mux, http.MethodGet, "/athletes/ana", "")
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("and registering the same id again conflicts", func() {
				w := do(mux, http.MethodPost, "/athletes", `{"id":"ana","name":"Other"}`)
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "already_exists")
			})
		})

		Convey("An omitted id is generated", func() {
			w := do(mux, http.MethodPost, "/athletes", `{"name":"Bea"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			var a struct {
				ID string `json:"id"`
			}
			decodeBody(w, &a)
			So(a.ID, ShouldNotBeEmpty)
		})

		Convey("Malformed bodies are rejected with 400", func() {
			So(do(mux, http.MethodPost, "/athletes", `{"name":`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/athletes", `{"name":"x","belt":"black"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/athletes", `{"name":"x","weight":-3}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An unknown athlete is 404", func() {
			w := do(mux, http.MethodGet, "/athletes/nobody", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})

		Convey("Unsupported methods are refused by the mux", func() {
			So(do(mux, http.MethodDelete, "/athletes/ana", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestServer_Stakes(t *testing.T) {
	Convey("Given two registered athletes", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		mux := newMux(svc)
		So(do(mux, http.MethodPost, "/athletes", `{"id":"ana","weight":62}`).Code, ShouldEqual, http.StatusCreated)
		So(do(mux, http.MethodPost, "/athletes", `{"id":"bea","weight":75}`).Code, ShouldEqual, http.StatusCreated)

		Convey("Previewing equal ratings stakes 16 either way", func() {
			w := do(mux, http.MethodPost, "/stakes", `{"athlete_a":"ana","athlete_b":"bea"}`)
			So(w.Code, ShouldEqual, http.StatusOK)

			var p struct {
				A struct {
					WinDelta      int     `json:"win_delta"`
					DrawDelta     int     `json:"draw_delta"`
					LossDelta     int     `json:"loss_delta"`
					ExpectedScore float64 `json:"expected_score"`
				} `json:"a"`
				WeightClassGap int `json:"weight_class_gap"`
			}
			decodeBody(w, &p)
			So(p.A.WinDelta, ShouldEqual, 16)
			So(p.A.DrawDelta, ShouldEqual, 0)
			So(p.A.LossDelta, ShouldEqual, -16)
			So(p.A.ExpectedScore, ShouldAlmostEqual, 0.5, 1e-9)
			So(p.WeightClassGap, ShouldEqual, 1)
		})

		Convey("A weigh-in override changes the class gap", func() {
			w := do(mux, http.MethodPost, "/stakes", `{"athlete_a":"ana","athlete_b":"bea","weight_a":59}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			var p struct {
				WeightClassGap int `json:"weight_class_gap"`
			}
			decodeBody(w, &p)
			So(p.WeightClassGap, ShouldEqual, 2)
		})

		Convey("Invalid weights are rejected as invalid input", func() {
			w := do(mux, http.MethodPost, "/stakes", `{"athlete_a":"ana","athlete_b":"bea","weight_b":-1}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "invalid_input")
		})

		Convey("Unknown athletes are 404 and self-matches are 400", func() {
			So(do(mux, http.MethodPost, "/stakes", `{"athlete_a":"ana","athlete_b":"zoe"}`).Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodPost, "/stakes", `{"athlete_a":"ana","athlete_b":"ana"}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Previews are rate limited per client", func() {
			limited := newMux(svc, api.WithPreviewRateLimit(0.001, 1))
			body := `{"athlete_a":"ana","athlete_b":"bea"}`

			So(do(limited, http.MethodPost, "/stakes", body).Code, ShouldEqual, http.StatusOK)
			w := do(limited, http.MethodPost, "/stakes", body)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(errorCode(w), ShouldEqual, "rate_limited")
			So(w.Header().Get("Retry-After"), ShouldEqual, "1")
		})
	})
}

func TestServer_MatchLifecycle(t *testing.T) {
	Convey("Given a started service with two athletes", t, func() {
		settled := make(chan model.ResultEvent, 4)
		svc := service.New(
			service.WithWorkerCount(1),
			service.WithResultObserver(func(_ context.Context, e model.ResultEvent, err error) {
				if err == nil {
					settled <- e
				}
			}),
		)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		mux := newMux(svc)
		So(do(mux, http.MethodPost, "/athletes", `{"id":"ana"}`).Code, ShouldEqual, http.StatusCreated)
		So(do(mux, http.MethodPost, "/athletes", `{"id":"bea"}`).Code, ShouldEqual, http.StatusCreated)

		w := do(mux, http.MethodPost, "/matches", `{"id":"m1","athlete_a":"ana","athlete_b":"bea"}`)
		So(w.Code, ShouldEqual, http.StatusCreated)
		var m struct {
			ID      string `json:"id"`
			Type    string `json:"type"`
			Status  string `json:"status"`
			Version int64  `json:"version"`
			Outcome *struct {
				Kind   string `json:"kind"`
				Winner string `json:"winner"`
			} `json:"outcome"`
		}
		decodeBody(w, &m)
		So(m.Type, ShouldEqual, "ranked")
		So(m.Status, ShouldEqual, "pending")

		Convey("Starting moves it to in_progress once", func() {
			w := do(mux, http.MethodPost, "/matches/m1/start", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			decodeBody(w, &m)
			So(m.Status, ShouldEqual, "in_progress")

			w = do(mux, http.MethodPost, "/matches/m1/start", "")
			So(w.Code, ShouldEqual, http.StatusConflict)

			Convey("and a submitted result settles it asynchronously", func() {
				body := `{"submission_id":"s1","outcome":{"kind":"win","winner":"a"}}`
				w := do(mux, http.MethodPost, "/matches/m1/result", body)
				So(w.Code, ShouldEqual, http.StatusAccepted)

				select {
				case e := <-settled:
					So(e.SubmissionID, ShouldEqual, "s1")
				case <-time.After(2 * time.Second):
					So("result applied", ShouldEqual, "timed out")
				}

				w = do(mux, http.MethodGet, "/matches/m1/settlement", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var rec struct {
					MatchID string `json:"match_id"`
					KFactor int    `json:"k_factor"`
					Outcome struct {
						Kind   string `json:"kind"`
						Winner string `json:"winner"`
					} `json:"outcome"`
					Result struct {
						A struct {
							RatingBefore int `json:"rating_before"`
							RatingAfter  int `json:"rating_after"`
							Delta        int `json:"delta"`
						} `json:"a"`
						B struct {
							RatingAfter int `json:"rating_after"`
							Delta       int `json:"delta"`
						} `json:"b"`
					} `json:"result"`
				}
				decodeBody(w, &rec)
				So(rec.MatchID, ShouldEqual, "m1")
				So(rec.KFactor, ShouldEqual, 32)
				So(rec.Outcome.Kind, ShouldEqual, "win")
				So(rec.Outcome.Winner, ShouldEqual, "a")
				So(rec.Result.A.RatingBefore, ShouldEqual, 1000)
				So(rec.Result.A.RatingAfter, ShouldEqual, 1016)
				So(rec.Result.A.Delta, ShouldEqual, 16)
				So(rec.Result.B.RatingAfter, ShouldEqual, 984)
				So(rec.Result.B.Delta, ShouldEqual, -16)

				w = do(mux, http.MethodGet, "/matches/m1", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				decodeBody(w, &m)
				So(m.Status, ShouldEqual, "completed")
				So(m.Outcome, ShouldNotBeNil)
				So(m.Outcome.Winner, ShouldEqual, "a")

				Convey("the same submission id is acknowledged as a duplicate", func() {
					w := do(mux, http.MethodPost, "/matches/m1/result", body)
					So(w.Code, ShouldEqual, http.StatusOK)
					var ack struct {
						Status    string `json:"status"`
						Duplicate bool   `json:"duplicate"`
					}
					decodeBody(w, &ack)
					So(ack.Duplicate, ShouldBeTrue)
					So(ack.Status, ShouldEqual, "duplicate")
				})

				Convey("the leaderboard and rank reflect the new ratings", func() {
					w := do(mux, http.MethodGet, "/leaderboard?limit=2", "")
					So(w.Code, ShouldEqual, http.StatusOK)
					var entries []types.Entry
					decodeBody(w, &entries)
					So(entries, ShouldHaveLength, 2)
					So(entries[0].AthleteID, ShouldEqual, "ana")
					So(entries[0].Rating, ShouldEqual, 1016)
					So(entries[1].Rank, ShouldEqual, 2)

					w = do(mux, http.MethodGet, "/rank/bea", "")
					So(w.Code, ShouldEqual, http.StatusOK)
					var e types.Entry
					decodeBody(w, &e)
					So(e.Rank, ShouldEqual, 2)
					So(e.Rating, ShouldEqual, 984)
				})

				Convey("cancelling a completed match is refused", func() {
					So(do(mux, http.MethodPost, "/matches/m1/cancel", "").Code, ShouldEqual, http.StatusConflict)
				})
			})

			Convey("and an outcome naming an unknown side is 422", func() {
				w := do(mux, http.MethodPost, "/matches/m1/result", `{"outcome":{"kind":"win","winner":"c"}}`)
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(errorCode(w), ShouldEqual, "invalid_outcome")
			})

			Convey("and a draw naming a winner is 422", func() {
				w := do(mux, http.MethodPost, "/matches/m1/result", `{"outcome":{"kind":"draw","winner":"a"}}`)
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			})
		})

		Convey("Results for a match that has not started are 409", func() {
			w := do(mux, http.MethodPost, "/matches/m1/result", `{"submission_id":"early","outcome":{"kind":"draw"}}`)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(errorCode(w), ShouldEqual, "illegal_transition")
		})

		Convey("Cancelling a pending match succeeds", func() {
			w := do(mux, http.MethodPost, "/matches/m1/cancel", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			decodeBody(w, &m)
			So(m.Status, ShouldEqual, "cancelled")
		})

		Convey("An unsettled match has no settlement", func() {
			So(do(mux, http.MethodGet, "/matches/m1/settlement", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Results for unknown matches are 404", func() {
			w := do(mux, http.MethodPost, "/matches/nope/result", `{"outcome":{"kind":"draw"}}`)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Matches need two distinct known athletes and a known type", func() {
			So(do(mux, http.MethodPost, "/matches", `{"athlete_a":"ana","athlete_b":"ana"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/matches", `{"athlete_a":"ana","athlete_b":"zoe"}`).Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodPost, "/matches", `{"athlete_a":"ana","athlete_b":"bea","type":"friendly"}`).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestServer_ResultsBeforeStart(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		mux := newMux(svc)
		ctx := context.Background()
		_, err := svc.RegisterAthlete(ctx, service.NewAthlete{ID: "ana"})
		So(err, ShouldBeNil)
		_, err = svc.RegisterAthlete(ctx, service.NewAthlete{ID: "bea"})
		So(err, ShouldBeNil)
		_, err = svc.CreateMatch(ctx, service.NewMatch{ID: "m1", AthleteA: "ana", AthleteB: "bea"})
		So(err, ShouldBeNil)
		_, err = svc.StartMatch(ctx, "m1")
		So(err, ShouldBeNil)

		Convey("Submitting a result is 503", func() {
			w := do(mux, http.MethodPost, "/matches/m1/result", `{"outcome":{"kind":"draw"}}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(errorCode(w), ShouldEqual, "unavailable")
		})
	})
}

func TestServer_Leaderboard(t *testing.T) {
	Convey("Given a server with a leaderboard cap of 5", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		mux := newMux(svc, api.WithMaxLeaderboardLimit(5))

		Convey("An empty leaderboard is an empty array", func() {
			w := do(mux, http.MethodGet, "/leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
		})

		Convey("Bad limits are rejected", func() {
			So(do(mux, http.MethodGet, "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/leaderboard?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)

			w := do(mux, http.MethodGet, "/leaderboard?limit=6", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "limit_exceeded")
		})

		Convey("Unknown athletes have no rank", func() {
			So(do(mux, http.MethodGet, "/rank/nobody", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Unexpected store failures are 500", func() {
			broken := newMux(brokenLeaderboard{svc})
			w := do(broken, http.MethodGet, "/leaderboard?limit=3", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(errorCode(w), ShouldEqual, "internal_error")
		})
	})
}

func TestServer_HealthAndStats(t *testing.T) {
	Convey("Given a server", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithKFactor(24))
		mux := newMux(svc)

		Convey("healthz serves the metrics exposition", func() {
			do(mux, http.MethodGet, "/stats", "")
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "tatami_")
		})

		Convey("stats reports the service configuration", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")

			var stats map[string]any
			decodeBody(w, &stats)
			So(stats["kFactor"], ShouldEqual, float64(24))
			So(stats["workerCount"], ShouldEqual, float64(2))
			So(stats["started"], ShouldEqual, false)
		})
	})
}

func TestIPRateLimiter(t *testing.T) {
	Convey("Given a limiter with a burst of 2", t, func() {
		l := api.NewIPRateLimiter(0.001, 2)

		Convey("Each IP gets its own bucket", func() {
			a := l.GetLimiter("10.0.0.1")
			So(a.Allow(), ShouldBeTrue)
			So(a.Allow(), ShouldBeTrue)
			So(a.Allow(), ShouldBeFalse)

			So(l.GetLimiter("10.0.0.2").Allow(), ShouldBeTrue)
			So(l.GetLimiter("10.0.0.1"), ShouldPointTo, a)
			So(l.Len(), ShouldEqual, 2)
		})
	})
}

func TestRecoverMiddleware(t *testing.T) {
	Convey("Given a handler that panics", t, func() {
		h := api.RecoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}), logger.Discard())

		Convey("The panic becomes a 500 error body", func() {
			w := do(h, http.MethodGet, "/anything", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(errorCode(w), ShouldEqual, "internal_error")
		})
	})
}
