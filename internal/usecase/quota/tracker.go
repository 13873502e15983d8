// Package quota tracks daily and monthly usage counters for embedding tokens and paid queries.
package quota

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action defines behavior when a limit is exceeded.
type Action string

const (
	// ActionWarn logs a warning but allows the request.
	ActionWarn Action = "warn"
	// ActionReject blocks the request.
	ActionReject Action = "reject"
)

// Store persists usage per scope for the day and month containing a point in time.
type Store interface {
	Add(ctx context.Context, scope string, at time.Time, n int64) error
	Usage(ctx context.Context, scope string, at time.Time) (daily, monthly int64, err error)
}

// Limits are the caps for one tracker. Zero means unlimited.
type Limits struct {
	Daily   int64
	Monthly int64
	Action  Action
}

// Tracker is an in-memory usage tracker with optional persistence.
// Check is in-memory only. Record updates memory first, then writes behind to the store.
type Tracker struct {
	mu             sync.Mutex
	dailyUsed      int64
	monthlyUsed    int64
	limits         Limits
	scope          string
	exceeded       error
	lastDayReset   time.Time
	lastMonthReset time.Time
	store          Store
	logger         *zap.Logger
}

// NewTracker creates a tracker for scope. Check returns exceeded when a limit is hit and the action is reject.
func NewTracker(scope string, limits Limits, exceeded error, logger *zap.Logger) *Tracker {
	now := time.Now().UTC()
	return &Tracker{
		limits:         limits,
		scope:          scope,
		exceeded:       exceeded,
		lastDayReset:   truncateToDay(now),
		lastMonthReset: truncateToMonth(now),
		logger:         logger,
	}
}

// WithStore attaches a persistence store and loads current counters.
func (t *Tracker) WithStore(ctx context.Context, store Store) *Tracker {
	t.store = store
	t.loadFromStore(ctx)
	return t
}

func (t *Tracker) loadFromStore(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	daily, monthly, err := t.store.Usage(ctx, t.scope, time.Now().UTC())
	if err != nil {
		t.logger.Warn("Failed to load usage from store", zap.String("scope", t.scope), zap.Error(err))
		return
	}
	t.dailyUsed = daily
	t.monthlyUsed = monthly

	t.logger.Debug("Usage loaded from store",
		zap.String("scope", t.scope),
		zap.Int64("daily_used", t.dailyUsed),
		zap.Int64("monthly_used", t.monthlyUsed),
	)
}

// Scope returns the tracker scope, e.g. "embedding:openai" or "query:0xabc".
func (t *Tracker) Scope() string { return t.scope }

// Check verifies the limits allow a new request.
func (t *Tracker) Check(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()

	dailyExceeded := t.limits.Daily > 0 && t.dailyUsed >= t.limits.Daily
	monthlyExceeded := t.limits.Monthly > 0 && t.monthlyUsed >= t.limits.Monthly

	if !dailyExceeded && !monthlyExceeded {
		return nil
	}

	if t.limits.Action == ActionReject {
		return t.exceeded
	}

	t.logger.Warn("Quota exceeded",
		zap.String("scope", t.scope),
		zap.Int64("daily_used", t.dailyUsed),
		zap.Int64("daily_limit", t.limits.Daily),
		zap.Int64("monthly_used", t.monthlyUsed),
		zap.Int64("monthly_limit", t.limits.Monthly),
	)
	return nil
}

// Record registers consumed units.
func (t *Tracker) Record(n int64) {
	t.mu.Lock()
	t.resetIfNeeded()
	t.dailyUsed += n
	t.monthlyUsed += n
	store := t.store
	now := time.Now().UTC()
	t.mu.Unlock()

	if store == nil {
		return
	}

	// Write-behind on its own timeout, independent of the caller.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := store.Add(ctx, t.scope, now, n); err != nil {
		t.logger.Warn("Failed to persist usage", zap.String("scope", t.scope), zap.Error(err))
	}
}

// RemainingDaily returns units left today (-1 if unlimited).
func (t *Tracker) RemainingDaily() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	return remaining(t.limits.Daily, t.dailyUsed)
}

// RemainingMonthly returns units left this month (-1 if unlimited).
func (t *Tracker) RemainingMonthly() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	return remaining(t.limits.Monthly, t.monthlyUsed)
}

// DailyUsed returns units consumed today.
func (t *Tracker) DailyUsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNeeded()
	return t.dailyUsed
}

// MonthlyUsed returns units consumed this month.
func (t *Tracker) MonthlyUsed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNeeded()
	return t.monthlyUsed
}

func remaining(limit, used int64) int64 {
	if limit == 0 {
		return -1
	}
	return max(0, limit-used)
}

// resetIfNeeded zeroes counters when the day or month rolls over.
func (t *Tracker) resetIfNeeded() {
	now := time.Now().UTC()
	today := truncateToDay(now)
	thisMonth := truncateToMonth(now)

	if today.After(t.lastDayReset) {
		t.dailyUsed = 0
		t.lastDayReset = today
	}
	if thisMonth.After(t.lastMonthReset) {
		t.monthlyUsed = 0
		t.lastMonthReset = thisMonth
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
