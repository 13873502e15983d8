package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/querynode/internal/db"
)

func (s *Store) hset(key string, fields map[string]string) rueidis.Completed {
	cmd := s.client.B().Hset().Key(key).FieldValue()
	for k, v := range fields {
		cmd = cmd.FieldValue(k, v)
	}
	return cmd.Build()
}

// HSet writes fields into the hash at key.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	return s.exec(ctx, "HSET", s.hset(key, fields))
}

// HSetMulti writes all hashes in one pipelined round trip.
func (s *Store) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if len(items) == 0 {
		return nil
	}
	cmds := make([]rueidis.Completed, 0, len(items))
	for _, it := range items {
		cmds = append(cmds, s.hset(it.Key, it.Fields))
	}
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: "HSET", Err: fmt.Errorf("%s: %w", items[i].Key, err)}
		}
	}
	return nil
}

// HGetAll reads a hash. A missing key yields an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.Do(ctx, s.client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, &db.Error{Op: "HGETALL", Err: err}
	}
	return m, nil
}

// Del removes key.
func (s *Store) Del(ctx context.Context, key string) error {
	return s.exec(ctx, "DEL", s.client.B().Del().Key(key).Build())
}

// Get returns db.ErrKeyNotFound for a missing key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	switch {
	case rueidis.IsRedisNil(err):
		return nil, db.ErrKeyNotFound
	case err != nil:
		return nil, &db.Error{Op: "GET", Err: err}
	}
	return b, nil
}

// SetWithTTL stores value under key until ttl passes.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := s.client.B().Set().Key(key).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	return s.exec(ctx, "SET", cmd)
}

// SetNX stores value only if key is absent and reports whether it did.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cmd := s.client.B().Set().Key(key).Value(rueidis.BinaryString(value)).Nx().ExSeconds(int64(ttl.Seconds())).Build()
	err := s.client.Do(ctx, cmd).Error()
	switch {
	case rueidis.IsRedisNil(err):
		return false, nil
	case err != nil:
		return false, &db.Error{Op: "SET", Err: err}
	}
	return true, nil
}

// IncrBy adds val to the counter at key.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	return s.exec(ctx, "INCRBY", s.client.B().Incrby().Key(key).Increment(val).Build())
}

// Expire sets a TTL on key. With onlyIfUnset an existing TTL is left alone (EXPIRE NX).
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration, onlyIfUnset bool) error {
	cmd := s.client.B().Expire().Key(key).Seconds(int64(ttl.Seconds()))
	if onlyIfUnset {
		return s.exec(ctx, "EXPIRE", cmd.Nx().Build())
	}
	return s.exec(ctx, "EXPIRE", cmd.Build())
}
