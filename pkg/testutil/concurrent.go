// Package testutil holds helpers shared by the store and limiter tests.
package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"klarogeo/internal/sentinel"
)

// ConcurrentResult tallies the outcomes of RunConcurrent by sentinel.
type ConcurrentResult struct {
	Successes int32
	Conflicts int32
	NotFounds int32
	Errors    int32
	// FirstError is the first outcome that matched no sentinel.
	FirstError error
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Conflicts + r.NotFounds + r.Errors
}

// RunConcurrent runs fn in n goroutines released together, so every call
// races for the same rows or keys.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, conflicts, notFounds, bad atomic.Int32
	var firstMu sync.Mutex
	var first error
	gate := make(chan struct{})

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			err := fn(i)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			case errors.Is(err, sentinel.ErrNotFound):
				notFounds.Add(1)
			default:
				bad.Add(1)
				firstMu.Lock()
				if first == nil {
					first = err
				}
				firstMu.Unlock()
			}
		}()
	}
	close(gate)
	wg.Wait()

	return &ConcurrentResult{
		Successes:  successes.Load(),
		Conflicts:  conflicts.Load(),
		NotFounds:  notFounds.Load(),
		Errors:     bad.Load(),
		FirstError: first,
	}
}
