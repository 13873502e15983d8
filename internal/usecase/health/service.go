// Package health reports whether the components a query depends on are reachable.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is one backing component: index, registry, cache store or embedding provider.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the overall verdict.
type Status string

// Overall statuses.
const (
	Healthy   Status = "ok"
	Degraded  Status = "degraded"
	Unhealthy Status = "error"
)

// CheckResult is one component's verdict.
type CheckResult string

// Component results.
const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// DefaultTimeout bounds a whole Check.
const DefaultTimeout = 3 * time.Second

// Report is the outcome of one Check.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service pings a fixed set of named components.
type Service struct {
	components map[string]Pinger
	timeout    time.Duration
}

// New creates a Service. A nil component always reports an error,
// which is how a backend that failed to initialize shows up.
func New(components map[string]Pinger) *Service {
	return &Service{components: components, timeout: DefaultTimeout}
}

// WithTimeout overrides DefaultTimeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check pings every component concurrently.
func (s *Service) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(s.components))
		g      errgroup.Group
	)
	for name, p := range s.components {
		g.Go(func() error {
			res := CheckOK
			if p == nil || p.Ping(ctx) != nil {
				res = CheckError
			}
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range checks {
		if r == CheckError {
			failed++
		}
	}
	status := Healthy
	switch {
	case failed > 0 && failed == len(checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}
