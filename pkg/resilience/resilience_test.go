package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreakerTripsAndRecovers(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Minute, HalfOpenMax: 1})
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }
	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	if b.State() != StateClosed {
		t.Fatal("one failure should not trip")
	}
	_ = b.Call(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if err := b.Call(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker should reject, got %v", err)
	}

	now = now.Add(time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if err := b.Call(ctx, ok); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Fatal("successful trial call should close")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second})
	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }
	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	now = now.Add(time.Second)
	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("state = %s", b.State())
	}
}

func TestBreakerIgnoresCancellationAndUncounted(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Counts: func(err error) bool { return !errors.Is(err, errBoom) }})
	_ = b.Call(context.Background(), func(context.Context) error { return context.Canceled })
	_ = b.Call(context.Background(), func(context.Context) error { return errBoom })
	if b.State() != StateClosed {
		t.Fatal("uncounted errors should not trip")
	}
}

func TestDo(t *testing.T) {
	b := NewBreaker(DefaultBreakerOpts)
	v, err := Do(context.Background(), b, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("v=%d err=%v", v, err)
	}
	if StateHalfOpen.String() != "half-open" || State(9).String() != "unknown" {
		t.Fatal("state strings")
	}
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("Wait should fail before the next token")
	}
}

func TestLimiterUnlimitedAndNil(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("zero rate means unlimited: %v", err)
		}
	}
	var none *Limiter
	if none.Wait(context.Background()) != nil {
		t.Fatal("nil limiter should not limit")
	}
}
