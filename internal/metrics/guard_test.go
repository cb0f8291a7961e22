package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region scripted-source
type step struct {
	m     NetworkMetrics
	err   error
	block bool
}

// scriptedSource replays a fixed sequence of fetch results.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	i     int
}

func (s *scriptedSource) Fetch(ctx context.Context) (NetworkMetrics, error) {
	s.mu.Lock()
	st := s.steps[s.i]
	s.i++
	s.mu.Unlock()
	if st.block {
		<-ctx.Done()
		return NetworkMetrics{}, ctx.Err()
	}
	return st.m, st.err
}

// #endregion scripted-source

// #region guard-tests
func TestGuard_DegradesToLastValid(t *testing.T) {
	good := NetworkMetrics{TPS: 1200, Validators: 10, AnomalyScore: 0.1}
	src := &scriptedSource{steps: []step{
		{m: good},
		{err: errors.New("collector down")},
		{m: NetworkMetrics{AnomalyScore: 2}},
		{block: true},
		{m: NetworkMetrics{TPS: 900, Validators: 10}},
	}}
	g := NewGuard(src, 20*time.Millisecond)
	ctx := context.Background()

	s, err := g.Next(ctx)
	require.NoError(t, err)
	assert.True(t, s.Fresh())
	assert.Equal(t, good, s.Metrics)

	s, err = g.Next(ctx)
	assert.Error(t, err)
	assert.Equal(t, good, s.Metrics)
	assert.Equal(t, 1, s.StaleEpochs)

	s, err = g.Next(ctx)
	assert.ErrorIs(t, err, ErrInvalidMetrics)
	assert.Equal(t, good, s.Metrics)
	assert.Equal(t, 2, s.StaleEpochs)

	s, err = g.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, s.StaleEpochs)
	assert.Equal(t, 3, g.StaleEpochs())

	s, err = g.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.StaleEpochs)
	assert.Equal(t, uint64(900), s.Metrics.TPS)
}

func TestGuard_NoHistoryYieldsZeroSnapshot(t *testing.T) {
	src := SourceFunc(func(ctx context.Context) (NetworkMetrics, error) {
		return NetworkMetrics{}, errors.New("not ready")
	})
	s, err := NewGuard(src, time.Second).Next(context.Background())
	assert.Error(t, err)
	assert.Equal(t, NetworkMetrics{}, s.Metrics)
	assert.Equal(t, 1, s.StaleEpochs)
}

// #endregion guard-tests
