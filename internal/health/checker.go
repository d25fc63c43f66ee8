// Package health aggregates component checks into liveness and readiness status.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// HealthState is the status of one component or of the whole service
type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateUnhealthy HealthState = "unhealthy"
	HealthStateWarning   HealthState = "warning"
	HealthStateUnknown   HealthState = "unknown"
)

// Config tunes the checker
type Config struct {
	CheckInterval time.Duration
	Timeout       time.Duration
	Version       string
}

// HealthStatus is the aggregated result of one round of checks
type HealthStatus struct {
	Overall     HealthState                `json:"status"`
	Version     string                     `json:"version"`
	Uptime      string                     `json:"uptime"`
	Components  map[string]ComponentHealth `json:"components"`
	LastChecked time.Time                  `json:"last_checked"`
	CheckCount  int64                      `json:"check_count"`
}

// ComponentHealth is the result of a single check
type ComponentHealth struct {
	Name     string                 `json:"name"`
	Status   HealthState            `json:"status"`
	Message  string                 `json:"message"`
	Duration time.Duration          `json:"duration"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Check is one component probe
type Check interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
}

// Checker runs registered checks and caches the latest status
type Checker struct {
	config    Config
	logger    *logrus.Logger
	checks    map[string]Check
	status    *HealthStatus
	startedAt time.Time
	mutex     sync.RWMutex
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewChecker creates a checker with a runtime check registered
func NewChecker(config Config, logger *logrus.Logger) *Checker {
	if logger == nil {
		logger = logrus.New()
	}
	if config.CheckInterval == 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	hc := &Checker{
		config:    config,
		logger:    logger,
		checks:    make(map[string]Check),
		startedAt: time.Now(),
		status: &HealthStatus{
			Overall:    HealthStateUnknown,
			Version:    config.Version,
			Components: make(map[string]ComponentHealth),
		},
		stopChan: make(chan struct{}),
	}
	hc.Register(RuntimeCheck{})
	return hc
}

// Register adds or replaces a check by name
func (h *Checker) Register(check Check) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checks[check.Name()] = check
}

// Start runs checks immediately and then every CheckInterval until Stop
func (h *Checker) Start() {
	h.RunChecks(context.Background())
	ticker := time.NewTicker(h.config.CheckInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.RunChecks(context.Background())
			case <-h.stopChan:
				return
			}
		}
	}()

	h.logger.Info("Health checker started")
}

// Stop ends the background loop
func (h *Checker) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		h.logger.Info("Health checker stopped")
	})
}

// RunChecks runs all checks in parallel and stores the aggregated status
func (h *Checker) RunChecks(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	h.mutex.RLock()
	checks := make([]Check, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	h.mutex.RUnlock()

	results := make([]ComponentHealth, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			start := time.Now()
			result := c.Check(ctx)
			result.Name = c.Name()
			result.Duration = time.Since(start)
			results[i] = result
		}(i, c)
	}
	wg.Wait()

	components := make(map[string]ComponentHealth, len(results))
	overall := HealthStateHealthy
	var degraded []string
	for _, r := range results {
		components[r.Name] = r
		switch r.Status {
		case HealthStateUnhealthy:
			overall = HealthStateUnhealthy
			degraded = append(degraded, r.Name)
		case HealthStateWarning:
			if overall == HealthStateHealthy {
				overall = HealthStateWarning
			}
			degraded = append(degraded, r.Name)
		}
	}
	sort.Strings(degraded)

	h.mutex.Lock()
	h.status = &HealthStatus{
		Overall:     overall,
		Version:     h.config.Version,
		Uptime:      time.Since(h.startedAt).Round(time.Second).String(),
		Components:  components,
		LastChecked: time.Now().UTC(),
		CheckCount:  h.status.CheckCount + 1,
	}
	status := h.copyStatus()
	h.mutex.Unlock()

	if overall != HealthStateHealthy {
		h.logger.WithFields(logrus.Fields{
			"overall_status":      overall,
			"degraded_components": degraded,
		}).Warn("Health check completed with issues")
	} else {
		h.logger.Debug("Health check completed successfully")
	}

	return status
}

// GetStatus returns a copy of the latest status
func (h *Checker) GetStatus() *HealthStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.copyStatus()
}

func (h *Checker) copyStatus() *HealthStatus {
	status := *h.status
	status.Components = make(map[string]ComponentHealth, len(h.status.Components))
	for k, v := range h.status.Components {
		status.Components[k] = v
	}
	return &status
}

// LivenessHandler always answers 200 while the process serves requests
func (h *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  HealthStateHealthy,
			"version": h.config.Version,
		})
	}
}

// ReadinessHandler runs the checks and answers 503 when any is unhealthy
func (h *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.RunChecks(r.Context())
		code := http.StatusOK
		if status.Overall == HealthStateUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// PingCheck reports unhealthy when ping fails. It wraps the database pool,
// the feedback store and the shared cache.
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck creates a check named name around ping
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (p *PingCheck) Name() string { return p.name }

func (p *PingCheck) Check(ctx context.Context) ComponentHealth {
	if err := p.ping(ctx); err != nil {
		return ComponentHealth{
			Status:  HealthStateUnhealthy,
			Message: p.name + " unreachable",
			Error:   err.Error(),
		}
	}
	return ComponentHealth{Status: HealthStateHealthy, Message: p.name + " reachable"}
}

// BreakerReporter exposes a circuit breaker's state
type BreakerReporter interface {
	BreakerState() gobreaker.State
	BreakerCounts() gobreaker.Counts
}

// BreakerCheck reports the explanation provider's breaker. An open breaker is a
// warning, never unhealthy: analyses still complete with fallback text.
type BreakerCheck struct {
	name     string
	reporter BreakerReporter
}

// NewBreakerCheck creates a breaker check
func NewBreakerCheck(name string, reporter BreakerReporter) *BreakerCheck {
	return &BreakerCheck{name: name, reporter: reporter}
}

func (b *BreakerCheck) Name() string { return b.name }

func (b *BreakerCheck) Check(ctx context.Context) ComponentHealth {
	state := b.reporter.BreakerState()
	counts := b.reporter.BreakerCounts()
	metadata := map[string]interface{}{
		"state":                state.String(),
		"requests":             counts.Requests,
		"consecutive_failures": counts.ConsecutiveFailures,
	}

	if state == gobreaker.StateClosed {
		return ComponentHealth{Status: HealthStateHealthy, Message: "circuit closed", Metadata: metadata}
	}
	return ComponentHealth{
		Status:   HealthStateWarning,
		Message:  "circuit " + state.String() + ", serving fallback explanations",
		Metadata: metadata,
	}
}

// RuntimeCheck reports goroutine and heap figures
type RuntimeCheck struct{}

func (RuntimeCheck) Name() string { return "runtime" }

func (RuntimeCheck) Check(ctx context.Context) ComponentHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return ComponentHealth{
		Status:  HealthStateHealthy,
		Message: "runtime healthy",
		Metadata: map[string]interface{}{
			"goroutines":       runtime.NumGoroutine(),
			"heap_alloc_bytes": mem.HeapAlloc,
			"num_gc":           mem.NumGC,
		},
	}
}
