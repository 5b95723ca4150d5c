package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker runs named checks on demand and, optionally, in the
// background so /ready can answer from the last result.
type HealthChecker struct {
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	checks []HealthCheck
	last   map[string]error
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (s HealthStatus) Healthy() bool {
	return s.Status == StatusHealthy
}

func NewHealthChecker(logger *zap.SugaredLogger) *HealthChecker {
	return &HealthChecker{
		logger: logger,
		last:   make(map[string]error),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

// CheckAll runs every check now.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}
	for _, check := range checks {
		err := h.run(ctx, check)
		if err != nil {
			status.Status = StatusUnhealthy
			status.Checks[check.Name] = err.Error()
		} else {
			status.Checks[check.Name] = StatusHealthy
		}
	}
	return status
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) error {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}
	err := check.Check(ctx)

	h.mu.Lock()
	prev, seen := h.last[check.Name]
	h.last[check.Name] = err
	h.mu.Unlock()

	if err != nil && (!seen || prev == nil) {
		h.logger.Warnw("health check failing", "check", check.Name, "error", err)
	} else if err == nil && seen && prev != nil {
		h.logger.Infow("health check recovered", "check", check.Name)
	}
	return err
}

// LastStatus reports the most recent result of every check without running
// anything. Checks that never ran count as healthy.
func (h *HealthChecker) LastStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.checks)),
	}
	for _, check := range h.checks {
		if err := h.last[check.Name]; err != nil {
			status.Status = StatusUnhealthy
			status.Checks[check.Name] = err.Error()
			continue
		}
		status.Checks[check.Name] = StatusHealthy
	}
	return status
}

// Run executes every check on its interval until ctx is done.
func (h *HealthChecker) Run(ctx context.Context) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, check := range checks {
		if check.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()
			h.runPeriodically(ctx, check)
		}(check)
	}
	wg.Wait()
}

func (h *HealthChecker) runPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = h.run(ctx, check)
		}
	}
}
