// Package quota persists usage counters in Redis, one key per scope and calendar window.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/querynode/internal/db"
	"github.com/kailas-cloud/querynode/internal/domain"
)

// store is the consumer interface for counter operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Period is a usage window.
type Period string

// Usage windows. Both are UTC calendar periods.
const (
	Day   Period = "daily"
	Month Period = "monthly"
)

func (p Period) stamp(at time.Time) string {
	if p == Day {
		return at.Format("2006-01-02")
	}
	return at.Format("2006-01")
}

// Key returns the counter for scope in the window containing at.
// Layout: querynode:quota:{scope}:daily:YYYY-MM-DD and querynode:quota:{scope}:monthly:YYYY-MM.
func Key(scope string, p Period, at time.Time) string {
	return fmt.Sprintf("%squota:%s:%s:%s", domain.KeyPrefix, scope, p, p.stamp(at.UTC()))
}

// Store keeps per-scope usage counters. A counter gets its TTL on first write only.
type Store struct {
	store store
	ttl   map[Period]time.Duration
}

// New creates a counter store. Each TTL should outlive its window so a late read still sees the count.
func New(s store, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{
		store: s,
		ttl:   map[Period]time.Duration{Day: dailyTTL, Month: monthTTL},
	}
}

// Add counts n units for scope in the day and the month containing at.
// Both windows are attempted; failures are joined.
func (s *Store) Add(ctx context.Context, scope string, at time.Time, n int64) error {
	return errors.Join(
		s.incr(ctx, Key(scope, Day, at), n, s.ttl[Day]),
		s.incr(ctx, Key(scope, Month, at), n, s.ttl[Month]),
	)
}

// Usage returns the day and month counts for scope at the given time. Missing counters read as zero.
func (s *Store) Usage(ctx context.Context, scope string, at time.Time) (daily, monthly int64, err error) {
	if daily, err = s.read(ctx, Key(scope, Day, at)); err != nil {
		return 0, 0, err
	}
	if monthly, err = s.read(ctx, Key(scope, Month, at)); err != nil {
		return 0, 0, err
	}
	return daily, monthly, nil
}

func (s *Store) incr(ctx context.Context, key string, n int64, ttl time.Duration) error {
	if err := s.store.IncrBy(ctx, key, n); err != nil {
		return fmt.Errorf("count %s: %w", key, err)
	}
	if err := s.store.Expire(ctx, key, ttl, true); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) (int64, error) {
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return val, nil
}
