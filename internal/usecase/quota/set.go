package quota

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Set holds one lazily created tracker per subject, all sharing the same limits.
type Set struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	scope    string
	limits   Limits
	exceeded error
	store    Store
	logger   *zap.Logger
}

// NewSet creates a per-subject tracker set. store may be nil.
func NewSet(scope string, limits Limits, exceeded error, store Store, logger *zap.Logger) *Set {
	return &Set{
		trackers: make(map[string]*Tracker),
		scope:    scope,
		limits:   limits,
		exceeded: exceeded,
		store:    store,
		logger:   logger,
	}
}

// For returns the tracker for subject, loading its counters from the store on first use.
// Subjects are case-insensitive.
func (s *Set) For(ctx context.Context, subject string) *Tracker {
	subject = strings.ToLower(subject)

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.trackers[subject]; ok {
		return t
	}
	t := NewTracker(s.scope+":"+subject, s.limits, s.exceeded, s.logger)
	if s.store != nil {
		t.WithStore(ctx, s.store)
	}
	s.trackers[subject] = t
	return t
}
