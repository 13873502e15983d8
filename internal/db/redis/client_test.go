package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/querynode/internal/db"
)

func newMockStore(t *testing.T) (*Store, *mock.Client) {
	t.Helper()
	c := mock.NewClient(gomock.NewController(t))
	return New(c), c
}

// command matches a command by name and, optionally, its leading arguments.
func command(name string, args ...string) gomock.Matcher {
	return mock.MatchFn(func(cmd []string) bool {
		if len(cmd) < 1+len(args) || cmd[0] != name {
			return false
		}
		for i, a := range args {
			if cmd[1+i] != a {
				return false
			}
		}
		return true
	}, name)
}

func wantOp(t *testing.T, err error, op string) {
	t.Helper()
	var dbErr *db.Error
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected *db.Error, got %v", err)
	}
	if dbErr.Op != op {
		t.Errorf("op = %q, want %q", dbErr.Op, op)
	}
}

func TestNewStore_NeedsAddress(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error without addresses")
	}
}

func TestPing(t *testing.T) {
	s, c := newMockStore(t)
	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(context.DeadlineExceeded)),
	)

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.Ping(context.Background())
	wantOp(t, err, "PING")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cause lost: %v", err)
	}
}

func TestWaitForReady_RetriesUntilUp(t *testing.T) {
	s, c := newMockStore(t)
	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(errors.New("connection refused"))).Times(2),
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
	)

	if err := s.WaitForReady(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForReady_GivesUp(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(errors.New("connection refused"))).
		MinTimes(1)

	err := s.WaitForReady(context.Background(), 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
}

func TestServerSays(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisError("ERR Unknown Index Name")))

	err := s.client.Do(context.Background(), s.client.B().Ping().Build()).Error()
	if !serverSays(err, "no such index", "unknown index name") {
		t.Errorf("expected case-insensitive match for %v", err)
	}
	if serverSays(context.Canceled, "canceled") {
		t.Error("client-side errors are not server replies")
	}
	if _, ok := rueidis.IsRedisErr(err); !ok {
		t.Error("mock reply should be a redis error")
	}
}
