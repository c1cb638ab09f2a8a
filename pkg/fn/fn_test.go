package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}
	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestFromPair(t *testing.T) {
	if v, _ := FromPair(strconv.Atoi("42")).Unwrap(); v != 42 {
		t.Fatal("FromPair failed")
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("FromPair should fail")
	}
}

// --- Slice ---

func TestMapReduce(t *testing.T) {
	out := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })
	if len(out) != 3 || out[2] != 6 {
		t.Fatal("Map failed")
	}
	if Reduce([]int{1, 2, 3}, 10, func(acc, v int) int { return acc + v }) != 16 {
		t.Fatal("Reduce failed")
	}
}

func TestBatches(t *testing.T) {
	b := Batches([]int{1, 2, 3, 4, 5}, 2)
	if len(b) != 3 || len(b[2]) != 1 || b[2][0] != 5 {
		t.Fatalf("Batches = %v", b)
	}
	if Batches([]int{1}, 0) != nil {
		t.Fatal("Batches n<=0 should return nil")
	}
	if len(Batches([]int{}, 3)) != 0 {
		t.Fatal("Batches of empty should be empty")
	}
}

// --- Parallel ---

func TestParTryPreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}
	out, err := ParTry(context.Background(), items, 3, func(_ context.Context, v int) (string, error) {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return strconv.Itoa(v), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range items {
		if out[i] != strconv.Itoa(v) {
			t.Fatalf("position %d = %s", i, out[i])
		}
	}
}

func TestParTryBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	_, err := ParTry(context.Background(), make([]int, 20), 3, func(_ context.Context, _ int) (int, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return 0, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d > 3", peak.Load())
	}
}

func TestParTryFailFast(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	_, err := ParTry(context.Background(), []int{0, 1, 2, 3, 4, 5, 6, 7}, 1, func(ctx context.Context, v int) (int, error) {
		calls.Add(1)
		if v == 2 {
			return 0, boom
		}
		return v, ctx.Err()
	})
	var ie *IndexedError
	if !errors.As(err, &ie) || ie.Index != 2 || !errors.Is(err, boom) {
		t.Fatalf("expected IndexedError at 2, got %v", err)
	}
	if calls.Load() > 4 {
		t.Fatalf("expected remaining calls to be skipped, got %d calls", calls.Load())
	}
}

func TestParTryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ParTry(ctx, []int{1, 2, 3}, 1, func(ctx context.Context, v int) (int, error) {
		return v, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// --- Retry ---

func TestRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3}, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("transient"))
		}
		return Ok(7)
	})
	if v, err := r.Unwrap(); err != nil || v != 7 || attempts != 3 {
		t.Fatalf("v=%d err=%v attempts=%d", v, err, attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	attempts := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](permanent)
	})
	if r.IsOk() || attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Second}, func(_ context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// --- Span ---

func TestSpan(t *testing.T) {
	boom := errors.New("boom")
	if err := Span(context.Background(), "ok", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := Span(context.Background(), "fail", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
