// README: Smoke cases for the trip API plus DB/Redis reachability and load checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	dbErr error
	redis *redis.Client

	// tripID is the trip created by the lifecycle cases.
	tripID string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	r.openDB(ctx)
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) openDB(ctx context.Context) {
	if r.cfg.DSN == "" {
		return
	}
	db, err := pgxpool.New(ctx, r.cfg.DSN)
	if err != nil {
		r.dbErr = err
		return
	}
	r.db = db
}

// requireDB reports the result for a Postgres case that cannot run.
func (r *Runner) requireDB() (Result, bool) {
	if r.dbErr != nil {
		return Result{Status: StatusFail, Note: "open pool: " + r.dbErr.Error()}, false
	}
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "dsn not configured"}, false
	}
	return Result{}, true
}

func (r *Runner) rideBody() map[string]any {
	return map[string]any{
		"pickup":      map[string]any{"address": r.cfg.PickupAddress},
		"destination": r.cfg.DestinationAddr,
	}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := r.requireDB(); !ok {
					return res
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Env: trip tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if res, ok := r.requireDB(); !ok {
					return res
				}
				for _, t := range []string{"trips", "trip_state_events"} {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
			},
		},
		{
			Name: "API: unauthenticated request -> 401",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodPost, "/api/trips", "", r.rideBody(), http.StatusUnauthorized)
			},
		},
		{
			Name: "Trip: empty destination -> 400",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodPost, "/api/trips", r.cfg.PassengerToken, map[string]any{
					"pickup": map[string]any{"address": r.cfg.PickupAddress},
				}, http.StatusBadRequest)
			},
		},
		{
			Name: "Trip: estimate",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodPost, "/api/trips/estimate", r.cfg.PassengerToken, r.rideBody(), http.StatusOK)
			},
		},
		{
			Name: "Trip: passenger request",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.PassengerToken == "" {
					return Result{Status: StatusSkip, Note: "passenger token not set"}
				}
				start := time.Now()
				status, body, err := r.do(ctx, http.MethodPost, "/api/trips", r.cfg.PassengerToken, r.rideBody())
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if status != http.StatusCreated {
					return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d body=%s", status, body)}
				}
				var created struct {
					TripID string `json:"tripId"`
					Fare   struct {
						Amount int64 `json:"amount"`
					} `json:"fare"`
				}
				if err := json.Unmarshal(body, &created); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				r.tripID = created.TripID
				return Result{Status: StatusPass, Latency: time.Since(start), Note: fmt.Sprintf("trip=%s fare=%d", created.TripID, created.Fare.Amount)}
			},
		},
		r.tripCase("Trip: start before accept -> 409", "start", http.StatusConflict),
		{
			Name: "Concurrency: simultaneous accepts, one winner",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentAccept(ctx, r)
			},
		},
		r.tripCase("Trip: driver start", "start", http.StatusOK),
		r.tripCase("Trip: driver complete", "complete", http.StatusOK),
		r.tripCase("Trip: completed is final -> 409", "cancel", http.StatusConflict),
		{
			Name: "Perf: estimate throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.PassengerToken == "" {
					return Result{Status: StatusSkip, Note: "passenger token not set"}
				}
				return perfLoad(ctx, r, "/api/trips/estimate", r.rideBody())
			},
		},
	}
}

// tripCase posts a transition for the trip created earlier in the run.
func (r *Runner) tripCase(name, action string, want int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			if r.tripID == "" || r.cfg.DriverToken == "" {
				return Result{Status: StatusSkip, Note: "needs a created trip and a driver token"}
			}
			var body any
			if action == "complete" {
				body = map[string]any{"duration": 600}
			}
			token := r.cfg.DriverToken
			if action == "cancel" {
				token = r.cfg.PassengerToken
			}
			return r.expect(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/"+action, token, body, want)
		},
	}
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	if path != "/health" && want != http.StatusUnauthorized && token == "" {
		return Result{Status: StatusSkip, Note: "token not set"}
	}
	start := time.Now()
	status, _, err := r.do(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	latency := time.Since(start)
	if status != want {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

// concurrentAccept fires the driver's accept many times at once; exactly one
// must succeed and the rest must see 409.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.tripID == "" || r.cfg.DriverToken == "" {
		return Result{Status: StatusSkip, Note: "needs a created trip and a driver token"}
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		succ     int
		conflict int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, err := r.do(ctx, http.MethodPost, "/api/trips/"+r.tripID+"/accept", r.cfg.DriverToken, nil)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case http.StatusOK:
				succ++
			case http.StatusConflict:
				conflict++
			}
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", succ, conflict)
	if succ == 1 && conflict == r.cfg.Concurrency-1 {
		return Result{Status: StatusPass, Note: note}
	}
	return Result{Status: StatusFail, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu       sync.Mutex
		count    int64
		errCount int64
		wg       sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, err := r.do(ctx, http.MethodPost, path, r.cfg.PassengerToken, payload)
				mu.Lock()
				if err != nil || status >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}
