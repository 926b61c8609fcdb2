package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var fast = Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Timeout: time.Second}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	err := Do(context.Background(), fast, "list", nil, func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDo_Exhausted(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	boom := errors.New("boom")
	err := Do(context.Background(), fast, "query", nil, func(ctx context.Context) error {
		calls.Add(1)
		return boom
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrExhausted wrapping boom", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	bad := errors.New("syntax error")
	err := Do(context.Background(), fast, "create", nil, func(ctx context.Context) error {
		calls.Add(1)
		return Permanent(bad)
	})
	if !errors.Is(err, bad) || errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	t.Parallel()
	p := fast
	p.Timeout = 5 * time.Millisecond
	p.Attempts = 2
	err := Do(context.Background(), p, "read", nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestDo_ParentCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fast, "load", nil, func(ctx context.Context) error {
		return errors.New("unreachable backend")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPolicyDefaults(t *testing.T) {
	t.Parallel()
	p := Policy{InitialBackoff: time.Minute}.withDefaults()
	if p.Attempts != DefaultPolicy.Attempts || p.MaxBackoff != time.Minute || p.Timeout != DefaultPolicy.Timeout {
		t.Fatalf("withDefaults = %+v", p)
	}
}
