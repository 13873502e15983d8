package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]Pinger
		status     Status
		failing    []string
	}{
		{
			name:       "all up",
			components: map[string]Pinger{"index": up, "registry": up, "cache": up, "embedding": up},
			status:     Healthy,
		},
		{
			name:       "registry down",
			components: map[string]Pinger{"index": up, "registry": down, "cache": up},
			status:     Degraded,
			failing:    []string{"registry"},
		},
		{
			name:       "index never initialized",
			components: map[string]Pinger{"index": nil, "registry": up},
			status:     Degraded,
			failing:    []string{"index"},
		},
		{
			name:       "everything down",
			components: map[string]Pinger{"index": down, "embedding": down},
			status:     Unhealthy,
			failing:    []string{"index", "embedding"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.components).Check(context.Background())

			if r.Status != tt.status {
				t.Errorf("status = %q, want %q", r.Status, tt.status)
			}
			if len(r.Checks) != len(tt.components) {
				t.Errorf("expected %d checks, got %v", len(tt.components), r.Checks)
			}
			failing := map[string]bool{}
			for _, name := range tt.failing {
				failing[name] = true
			}
			for name, res := range r.Checks {
				want := CheckOK
				if failing[name] {
					want = CheckError
				}
				if res != want {
					t.Errorf("%s = %q, want %q", name, res, want)
				}
			}
		})
	}
}

func TestCheck_SlowComponentTimesOut(t *testing.T) {
	slow := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	svc := New(map[string]Pinger{"embedding": slow, "cache": up}).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	r := svc.Check(context.Background())

	if time.Since(start) > time.Second {
		t.Error("check did not respect its timeout")
	}
	if r.Status != Degraded || r.Checks["embedding"] != CheckError {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestCheck_NoComponents(t *testing.T) {
	r := New(nil).Check(context.Background())
	if r.Status != Healthy || len(r.Checks) != 0 {
		t.Errorf("unexpected report %+v", r)
	}
}
