// Package nonce records settlement nonces so each can be spent once.
package nonce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/querynode/internal/domain"
)

// store is the consumer interface for nonce claims (ISP).
type store interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Store claims nonces with SET NX EX.
type Store struct {
	store store
	ttl   time.Duration
}

// New creates a nonce store. A claimed nonce stays spent for ttl.
func New(s store, ttl time.Duration) *Store {
	return &Store{store: s, ttl: ttl}
}

// Claim marks nonce as spent for user and reports whether it was fresh.
func (s *Store) Claim(ctx context.Context, user, nonce string) (bool, error) {
	key := nonceKey(user, nonce)
	ok, err := s.store.SetNX(ctx, key, []byte("1"), s.ttl)
	if err != nil {
		return false, fmt.Errorf("nonce SETNX %s: %w", key, err)
	}
	return ok, nil
}

// Redis key: querynode:nonce:{user}:{nonce}
func nonceKey(user, nonce string) string {
	return fmt.Sprintf("%snonce:%s:%s", domain.KeyPrefix, strings.ToLower(user), nonce)
}
