package ingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConcurrency is the number of units written in parallel.
	DefaultConcurrency = 32

	// DefaultTimeout bounds the completion of all units of one run.
	DefaultTimeout = 15 * time.Minute
)

type executeFunc func(ctx context.Context, u *Unit) Outcome

// runUnits executes units with at most limit in flight and returns exactly
// one outcome per unit, in dispatch order. A single timer bounds the whole
// run: when it fires, or ctx is done, runUnits returns immediately and every
// unit without an outcome gets a timeout outcome. Units still queued at that
// point never start. Writes already in flight are left to finish and their
// outcomes are dropped.
func runUnits(
	ctx context.Context,
	units []*Unit,
	exec executeFunc,
	limit int,
	timeout time.Duration,
) []Outcome {
	if len(units) == 0 {
		return []Outcome{}
	}

	if limit <= 0 {
		limit = DefaultConcurrency
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var (
		mu        sync.Mutex
		outcomes  = make([]Outcome, len(units))
		recorded  = make([]bool, len(units))
		abandoned = make(chan struct{})
		finished  = make(chan struct{})
	)

	go func() {
		defer close(finished)

		var g errgroup.Group
		g.SetLimit(limit)

	submit:
		for i, u := range units {
			select {
			case <-abandoned:
				break submit
			default:
			}

			g.Go(func() error {
				select {
				case <-abandoned:
					return nil
				default:
				}

				o := exec(ctx, u)

				mu.Lock()
				defer mu.Unlock()

				select {
				case <-abandoned:
				default:
					outcomes[i] = o
					recorded[i] = true
				}

				return nil
			})
		}

		_ = g.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var pendingErr error

	select {
	case <-finished:
	case <-timer.C:
		pendingErr = &TimeoutError{After: timeout}
	case <-ctx.Done():
		pendingErr = ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()

	close(abandoned)

	result := make([]Outcome, len(units))

	for i, u := range units {
		if recorded[i] {
			result[i] = outcomes[i]

			continue
		}

		err := pendingErr
		if err == nil {
			err = &TimeoutError{After: timeout}
		}

		result[i] = Outcome{UnitID: u.ID, Table: u.Table, Err: err}
	}

	return result
}
