package fn

import (
	"context"
	"sync"
)

// IndexedError reports which input position failed in ParTry.
type IndexedError struct {
	Index int
	Err   error
}

func (e *IndexedError) Error() string { return e.Err.Error() }

func (e *IndexedError) Unwrap() error { return e.Err }

// ParTry applies f with bounded concurrency and fails fast: the first error
// cancels the context handed to the remaining calls, no new calls start, and
// that first error is returned as an *IndexedError. On success the values
// keep input order.
func ParTry[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) (U, error)) ([]U, error) {
	out := make([]U, len(items))
	if len(items) == 0 {
		return out, nil
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(i int, err error) {
		once.Do(func() {
			firstErr = &IndexedError{Index: i, Err: err}
			cancel()
		})
	}

	started := 0
	sem := make(chan struct{}, workers)
	for i, v := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		started++
		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			u, err := f(ctx, v)
			if err != nil {
				fail(i, err)
				return
			}
			out[i] = u
		}(i, v)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if started < len(items) {
		return nil, ctx.Err()
	}
	return out, nil
}
