package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusDown     = "down"
)

// A Check probes one dependency of the serving process. A failing
// critical check takes the whole service down; a failing non-critical
// one only degrades it.
type Check struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Probe    func(context.Context) error
}

// Checker runs the registered checks and aggregates their results.
type Checker struct {
	mu     sync.Mutex
	checks []Check
	start  time.Time
}

// NewChecker creates a checker with no checks registered.
func NewChecker() *Checker {
	return &Checker{start: time.Now()}
}

// Register adds a check. A zero timeout defaults to 5 seconds.
func (c *Checker) Register(check Check) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	c.mu.Lock()
	c.checks = append(c.checks, check)
	c.mu.Unlock()
}

// CheckResult is one probe's outcome.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Health is the aggregate report served at /health.
type Health struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime"`
	Checks map[string]CheckResult `json:"checks"`
}

// Run executes every registered check and aggregates the result. With
// no checks registered the service reports ok.
func (c *Checker) Run(ctx context.Context) Health {
	c.mu.Lock()
	checks := append([]Check(nil), c.checks...)
	c.mu.Unlock()

	health := Health{
		Status: statusOK,
		Uptime: time.Since(c.start).Round(time.Second).String(),
		Checks: make(map[string]CheckResult, len(checks)),
	}

	for _, check := range checks {
		result := runCheck(ctx, check)
		health.Checks[check.Name] = result
		if result.Status == statusOK {
			continue
		}
		if check.Critical {
			health.Status = statusDown
		} else if health.Status == statusOK {
			health.Status = statusDegraded
		}
	}
	return health
}

// runCheck runs one probe under its timeout. A probe that hangs still
// resolves when the timeout fires.
func runCheck(ctx context.Context, check Check) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- check.Probe(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	result := CheckResult{
		Status:   statusOK,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		result.Error = err.Error()
		if check.Critical {
			result.Status = statusDown
		} else {
			result.Status = statusDegraded
		}
	}
	return result
}

// Handler serves the full health report. Down responds 503 so load
// balancers stop routing; degraded stays 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := c.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if health.Status == statusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler reports readiness. Anything short of fully healthy is
// not ready.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := c.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if health.Status != statusOK {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// LiveHandler reports process liveness.
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// StorageCheck probes the session storage backend. Without storage the
// service cannot answer, so the check is critical.
func StorageCheck(probe func(context.Context) error) Check {
	return Check{Name: "storage", Critical: true, Timeout: 5 * time.Second, Probe: probe}
}

// LLMCheck probes the answer provider. The session store keeps working
// without it, so a failure only degrades.
func LLMCheck(probe func(context.Context) error) Check {
	return Check{Name: "llm", Critical: false, Timeout: 10 * time.Second, Probe: probe}
}
