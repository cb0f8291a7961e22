package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/laudzakusuma/TriUnity/internal/confidence"
	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
	"github.com/laudzakusuma/TriUnity/internal/router"
	"github.com/laudzakusuma/TriUnity/internal/telemetry"
)

// #region fakes
type checkpoint struct {
	prev consensus.Path
	rec  ledger.DecisionRecord
	st   router.State
}

type memCheckpointer struct {
	saved    []checkpoint
	outcomes map[uint64]ledger.Outcome
}

func (c *memCheckpointer) Checkpoint(prev consensus.Path, rec ledger.DecisionRecord, st router.State) error {
	c.saved = append(c.saved, checkpoint{prev: prev, rec: rec, st: st})
	return nil
}

func (c *memCheckpointer) UpdateOutcome(epoch uint64, out ledger.Outcome) error {
	if c.outcomes == nil {
		c.outcomes = make(map[uint64]ledger.Outcome)
	}
	c.outcomes[epoch] = out
	return nil
}

// script returns each metrics value once, then repeats the last.
func script(ms ...metrics.NetworkMetrics) metrics.Source {
	i := 0
	return metrics.SourceFunc(func(ctx context.Context) (metrics.NetworkMetrics, error) {
		m := ms[min(i, len(ms)-1)]
		i++
		return m, nil
	})
}

func healthy(tps uint64, anomaly float64) metrics.NetworkMetrics {
	return metrics.NetworkMetrics{TPS: tps, Validators: 50, Latency: 100 * time.Millisecond, AnomalyScore: anomaly}
}

func newRouter(t *testing.T) *router.Router {
	t.Helper()
	r, err := router.New(router.DefaultConfig(), consensus.NewCatalog(consensus.DefaultCatalogConfig()),
		confidence.New(confidence.DefaultConfig()), zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func fastConfig() Config {
	return Config{EpochInterval: 60 * time.Millisecond, SampleTimeout: 50 * time.Millisecond, PublishTimeout: 5 * time.Millisecond}
}

// #endregion fakes

// #region config-tests
func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	err := Config{EpochInterval: time.Second, SampleTimeout: 2 * time.Second}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_timeout")
	assert.Contains(t, err.Error(), "publish_timeout")

	_, err = New(Config{}, script(healthy(1, 0)), newRouter(t), Deps{})
	assert.Error(t, err)
}

// #endregion config-tests

// #region epoch-tests
func TestRunEpoch_PublishesCheckpointsAndBackfills(t *testing.T) {
	r := newRouter(t)
	cp := &memCheckpointer{}
	var published []consensus.Path
	pub := PublisherFunc(func(ctx context.Context, p consensus.Path) error {
		published = append(published, p)
		return nil
	})

	e, err := New(fastConfig(), script(healthy(1_000, 0.05), healthy(1_200, 0.05)), r,
		Deps{Publisher: pub, Checkpointer: cp, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	rec0, err := e.RunEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec0.Epoch)

	_, err = e.RunEpoch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(2), e.Epochs())
	require.Len(t, published, 2)
	require.Len(t, cp.saved, 2)
	assert.Equal(t, uint64(2), cp.saved[1].st.Epoch)

	first := r.Window(2)[0]
	assert.True(t, first.Resolved)
	assert.Equal(t, uint64(1_200), first.Outcome.TPS)
	assert.Equal(t, ledger.Outcome{TPS: 1_200, Latency: 100 * time.Millisecond}, cp.outcomes[0])
}

func TestRunEpoch_StaleSampleSkipsBackfill(t *testing.T) {
	r := newRouter(t)
	reg := prometheus.NewRegistry()
	tm, err := telemetry.New(reg)
	require.NoError(t, err)

	calls := 0
	src := metrics.SourceFunc(func(ctx context.Context) (metrics.NetworkMetrics, error) {
		calls++
		if calls == 1 {
			return healthy(5_000, 0.05), nil
		}
		return metrics.NetworkMetrics{}, errors.New("collector down")
	})
	e, err := New(fastConfig(), src, r, Deps{Metrics: tm, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	_, err = e.RunEpoch(context.Background())
	require.NoError(t, err)
	rec, err := e.RunEpoch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(5_000), rec.Metrics.TPS, "stale epoch reuses last valid snapshot")
	assert.False(t, r.Window(2)[0].Resolved)
}

func TestRunEpoch_AnomalyEntersEmergency(t *testing.T) {
	r := newRouter(t)
	cp := &memCheckpointer{}
	e, err := New(fastConfig(), script(healthy(2_000, 0.1), healthy(2_000, 0.9)), r, Deps{Checkpointer: cp})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := e.RunEpoch(context.Background())
		require.NoError(t, err)
	}

	last := cp.saved[1]
	assert.True(t, last.rec.Switched)
	assert.Equal(t, consensus.Emergency(consensus.ReasonAnomalyScore), last.rec.Path)
	assert.Equal(t, consensus.Neutral(), last.prev)
	assert.True(t, last.st.Latched)
}

func TestRunEpoch_PublishTimeoutDoesNotStall(t *testing.T) {
	r := newRouter(t)
	pub := PublisherFunc(func(ctx context.Context, p consensus.Path) error {
		<-ctx.Done()
		return ctx.Err()
	})
	e, err := New(fastConfig(), script(healthy(1_000, 0)), r, Deps{Publisher: pub})
	require.NoError(t, err)

	start := time.Now()
	_, err = e.RunEpoch(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

// #endregion epoch-tests

// #region run-tests
func TestRun_StopsAtMaxEpochs(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxEpochs = 4
	e, err := New(cfg, script(healthy(1_000, 0)), newRouter(t), Deps{})
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(4), e.Epochs())
}

func TestRun_StopsOnCancel(t *testing.T) {
	e, err := New(fastConfig(), script(healthy(1_000, 0)), newRouter(t), Deps{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Positive(t, e.Epochs())
}

// #endregion run-tests
