// Package health provides HTTP liveness and readiness handlers.
//
//   - /healthz: liveness; always 200.
//   - /readyz: readiness; 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map with the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// DefaultProbeTTL is how long a provider probe result is reused.
const DefaultProbeTTL = 30 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler]. Checkers run concurrently on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every checker passes. Each checker gets a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// ─── Checkers ────────────────────────────────────────────────────────────────

// ConfigLoaded fails while loaded reports false.
func ConfigLoaded(loaded func() bool) Checker {
	return Checker{Name: "config", Check: func(context.Context) error {
		if !loaded() {
			return errors.New("no configuration loaded")
		}
		return nil
	}}
}

// LLM probes the completion backend. ping is typically a one-token
// completion, so its result is cached for ttl.
func LLM(ping func(context.Context) error, ttl time.Duration) Checker {
	return Checker{Name: "llm", Check: Cached(ping, ttl)}
}

// TTS lists voices on the synthesis backend.
func TTS[T any](list func(context.Context) ([]T, error), ttl time.Duration) Checker {
	return Checker{Name: "tts", Check: Cached(func(ctx context.Context) error {
		_, err := list(ctx)
		return err
	}, ttl)}
}

// Cached wraps check so its result is reused for ttl. Concurrent callers
// during a refresh share one probe. A ttl <= 0 uses [DefaultProbeTTL].
func Cached(check func(context.Context) error, ttl time.Duration) func(context.Context) error {
	if ttl <= 0 {
		ttl = DefaultProbeTTL
	}
	c := &cache{check: check, ttl: ttl, now: time.Now}
	return c.get
}

type cache struct {
	check func(context.Context) error
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	checked time.Time
	err     error
}

func (c *cache) get(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.checked.IsZero() && c.now().Sub(c.checked) < c.ttl {
		return c.err
	}
	err := c.check(ctx)
	if ctx.Err() != nil {
		// The caller gave up; do not remember a result caused by that.
		return err
	}
	c.checked, c.err = c.now(), err
	return err
}
