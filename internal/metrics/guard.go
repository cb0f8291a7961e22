package metrics

import (
	"context"
	"fmt"
	"time"
)

// #region guard
// Guard bounds a Source with a timeout and degrades to the last valid snapshot
// when the source errors, times out, or returns invalid data. Not safe for
// concurrent use; the decision loop is its only caller.
type Guard struct {
	src     Source
	timeout time.Duration

	last    NetworkMetrics
	hasLast bool
	stale   int
}

// NewGuard wraps src. A non-positive timeout disables the bound.
func NewGuard(src Source, timeout time.Duration) *Guard {
	return &Guard{src: src, timeout: timeout}
}

type fetchResult struct {
	m   NetworkMetrics
	err error
}

// Next returns the sample for this epoch. The sample is always usable; a
// non-nil error explains why it is stale.
func (g *Guard) Next(ctx context.Context) (Sample, error) {
	fctx := ctx
	cancel := func() {}
	if g.timeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		m, err := g.src.Fetch(fctx)
		ch <- fetchResult{m: m, err: err}
	}()

	var err error
	select {
	case r := <-ch:
		switch {
		case r.err != nil:
			err = fmt.Errorf("fetch metrics: %w", r.err)
		default:
			if verr := r.m.Validate(); verr != nil {
				err = fmt.Errorf("reject metrics: %w", verr)
			} else {
				g.last, g.hasLast, g.stale = r.m, true, 0
				return Sample{Metrics: r.m}, nil
			}
		}
	case <-fctx.Done():
		err = fmt.Errorf("fetch metrics: %w", fctx.Err())
	}

	g.stale++
	var m NetworkMetrics
	if g.hasLast {
		m = g.last
	}
	return Sample{Metrics: m, StaleEpochs: g.stale}, err
}

// StaleEpochs returns the current count of consecutive degraded epochs.
func (g *Guard) StaleEpochs() int {
	return g.stale
}

// #endregion guard
