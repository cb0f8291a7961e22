package router

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laudzakusuma/TriUnity/internal/confidence"
	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

// #region helpers
func newRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	r, err := New(cfg, consensus.NewCatalog(consensus.DefaultCatalogConfig()), confidence.New(confidence.DefaultConfig()), nil)
	require.NoError(t, err)
	return r
}

func healthy(tps uint64, anomaly float64) metrics.Sample {
	return metrics.Sample{Metrics: metrics.NetworkMetrics{
		TPS:          tps,
		Validators:   50,
		Latency:      100 * time.Millisecond,
		AnomalyScore: anomaly,
	}}
}

func run(t *testing.T, r *Router, samples []metrics.Sample) []ledger.DecisionRecord {
	t.Helper()
	out := make([]ledger.DecisionRecord, 0, len(samples))
	for _, s := range samples {
		rec, err := r.Step(s)
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func randomSamples(rng *rand.Rand, n int, maxAnomaly float64) []metrics.Sample {
	out := make([]metrics.Sample, n)
	for i := range out {
		out[i] = healthy(uint64(rng.Intn(120_000)), rng.Float64()*maxAnomaly)
	}
	return out
}

// #endregion helpers

// #region initial-tests
func TestNew_InitialState(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	assert.Equal(t, consensus.Neutral(), r.ActivePath())
	rep := r.Report()
	assert.Equal(t, uint64(0), rep.Epochs)
	assert.Equal(t, 0.5, rep.Confidence)
	assert.False(t, rep.Latched)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReleaseThreshold = 0.9
	cfg.ReleaseDwell = 0
	_, err := New(cfg, consensus.NewCatalog(consensus.DefaultCatalogConfig()), confidence.New(confidence.DefaultConfig()), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release threshold")
	assert.Contains(t, err.Error(), "release dwell")
}

// #endregion initial-tests

// #region emergency-tests
func TestStep_AnomalyForcesEmergencyFromAnyState(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		r := newRouter(t, DefaultConfig())
		run(t, r, randomSamples(rng, rng.Intn(30), 0.74))

		rec, err := r.Step(healthy(uint64(rng.Intn(120_000)), 0.75+rng.Float64()*0.25))
		require.NoError(t, err)
		assert.Equal(t, consensus.Emergency(consensus.ReasonAnomalyScore), rec.Path, "seed %d", seed)
		assert.Equal(t, rec.Path, r.ActivePath())
		assert.True(t, r.Report().Latched)
	}
}

func TestStep_EmergencyIgnoresHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSwitchGap = 1000
	cfg.SwitchMargin = 10
	r := newRouter(t, cfg)
	rec, err := r.Step(healthy(10_000, 0.95))
	require.NoError(t, err)
	assert.True(t, rec.Path.IsEmergency())
	assert.True(t, rec.Switched)
}

func TestStep_LatchHoldsForDwell(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	samples := []metrics.Sample{
		healthy(20_000, 0.05), healthy(20_000, 0.05), healthy(20_000, 0.05),
		healthy(20_000, 0.05), healthy(20_000, 0.05),
		healthy(20_000, 0.8), // 5: enter
		healthy(20_000, 0.1), // 6: clean 1
		healthy(20_000, 0.1), // 7: clean 2
		healthy(20_000, 0.1), // 8: clean 3 -> release
		healthy(20_000, 0.1),
	}
	recs := run(t, r, samples)

	for e := 0; e < 5; e++ {
		assert.False(t, recs[e].Path.IsEmergency(), "epoch %d", e)
	}
	for e := 5; e <= 7; e++ {
		assert.True(t, recs[e].Path.IsEmergency(), "epoch %d", e)
	}
	assert.False(t, recs[8].Path.IsEmergency())
	assert.True(t, recs[8].Switched)
	assert.Contains(t, recs[8].Reason, "release")
	assert.False(t, recs[9].Switched)
}

func TestStep_DirtyEpochResetsReleaseStreak(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	samples := []metrics.Sample{
		healthy(20_000, 0.9), // 0: enter
		healthy(20_000, 0.1), // 1: clean 1
		healthy(20_000, 0.1), // 2: clean 2
		healthy(20_000, 0.4), // 3: below trigger but not clean
		healthy(20_000, 0.1), // 4: clean 1
		healthy(20_000, 0.1), // 5: clean 2
		healthy(20_000, 0.1), // 6: release
	}
	recs := run(t, r, samples)
	for e := 0; e <= 5; e++ {
		assert.True(t, recs[e].Path.IsEmergency(), "epoch %d", e)
	}
	assert.False(t, recs[6].Path.IsEmergency())
	assert.Equal(t, uint64(1), r.Report().EmergencyEntries)
}

func TestStep_AnomalyJumpAtEpochFive(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	var samples []metrics.Sample
	for e := 0; e < 5; e++ {
		samples = append(samples, healthy(15_000, 0.1))
	}
	samples = append(samples, healthy(15_000, 0.9))
	recs := run(t, r, samples)

	for e := 0; e < 5; e++ {
		assert.False(t, recs[e].Path.IsEmergency(), "epoch %d", e)
	}
	assert.Equal(t, uint64(5), recs[5].Epoch)
	assert.Equal(t, consensus.Emergency(consensus.ReasonAnomalyScore), recs[5].Path)
	assert.True(t, recs[5].Switched)
	assert.Contains(t, recs[5].Reason, "anomaly score 0.90")
}

func TestStep_QuorumLossAndRecovery(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	var samples []metrics.Sample
	for e := 0; e < 12; e++ {
		s := healthy(8_000, 0.05)
		if e >= 3 && e <= 5 {
			s.Metrics.Validators = 3
		}
		samples = append(samples, s)
	}
	recs := run(t, r, samples)

	for e := 0; e < 3; e++ {
		assert.False(t, recs[e].Path.IsEmergency(), "epoch %d", e)
	}
	assert.Equal(t, consensus.Emergency(consensus.ReasonQuorumLoss), recs[3].Path)
	for e := 3; e <= 7; e++ {
		assert.True(t, recs[e].Path.IsEmergency(), "epoch %d", e)
	}
	assert.False(t, recs[8].Path.IsEmergency(), "released after 3 epochs with quorum")
	assert.Equal(t, uint64(1), r.Report().EmergencyEntries)
}

func TestStep_MetricsStarvation(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	for stale := 1; stale <= 3; stale++ {
		s := healthy(10_000, 0.05)
		s.StaleEpochs = stale
		rec, err := r.Step(s)
		require.NoError(t, err)
		assert.False(t, rec.Path.IsEmergency(), "stale %d", stale)
	}
	s := healthy(10_000, 0.05)
	s.StaleEpochs = 4
	rec, err := r.Step(s)
	require.NoError(t, err)
	assert.Equal(t, consensus.Emergency(consensus.ReasonMetricsStarvation), rec.Path)
}

// #endregion emergency-tests

// #region selection-tests
func TestStep_ConfidenceBoundedAndColdStart(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := newRouter(t, DefaultConfig())
	recs := run(t, r, randomSamples(rng, 200, 1))
	assert.Equal(t, 0.5, recs[0].Confidence)
	for _, rec := range recs {
		assert.GreaterOrEqual(t, rec.Confidence, 0.0)
		assert.LessOrEqual(t, rec.Confidence, 1.0)
	}
}

func TestStep_MinSwitchGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SwitchMargin = 0.001
	for seed := int64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		r := newRouter(t, cfg)
		recs := run(t, r, randomSamples(rng, 150, 0.74))

		var last uint64
		seen := false
		for _, rec := range recs {
			require.False(t, rec.Path.IsEmergency())
			if !rec.Switched {
				continue
			}
			if seen {
				assert.GreaterOrEqual(t, rec.Epoch-last, cfg.MinSwitchGap, "seed %d epoch %d", seed, rec.Epoch)
			}
			last, seen = rec.Epoch, true
		}
	}
}

func TestStep_Deterministic(t *testing.T) {
	samples := randomSamples(rand.New(rand.NewSource(99)), 120, 1)
	for i := range samples {
		if i%17 == 0 {
			samples[i].Metrics.Validators = 2
		}
	}
	a := newRouter(t, DefaultConfig())
	b := newRouter(t, DefaultConfig())
	ra := run(t, a, samples)
	rb := run(t, b, samples)
	assert.Equal(t, ra, rb)
}

func TestStep_RampConvergesOnFastLane(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	var samples []metrics.Sample
	for k := 0; k < 20; k++ {
		samples = append(samples, healthy(uint64(1_000+k*49_000/19), 0))
	}
	for k := 0; k < 10; k++ {
		samples = append(samples, healthy(50_000, 0))
	}
	recs := run(t, r, samples)

	assert.Equal(t, consensus.Neutral(), recs[0].Path)
	firstFast := -1
	for i, rec := range recs {
		assert.Contains(t, []consensus.Kind{consensus.KindHybrid, consensus.KindFastLane}, rec.Path.Kind)
		if firstFast < 0 && rec.Path.Kind == consensus.KindFastLane {
			firstFast = i
		}
	}
	require.GreaterOrEqual(t, firstFast, 0, "never reached fast lane")
	for _, rec := range recs[firstFast:] {
		assert.Equal(t, consensus.KindFastLane, rec.Path.Kind, "epoch %d", rec.Epoch)
	}
	assert.Equal(t, uint64(1), r.Report().SwitchCount)
}

func TestStep_HighRiskNeverPicksFastLane(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	for e := 0; e < 20; e++ {
		rec, err := r.Step(healthy(90_000, 0.5+float64(e%5)*0.05))
		require.NoError(t, err)
		assert.NotEqual(t, consensus.KindFastLane, rec.Path.Kind)
	}
}

func TestStep_ExpectedTPSCappedByDemand(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	rec, err := r.Step(healthy(3_000, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000), rec.ExpectedTPS)

	rec, err = r.Step(healthy(500_000, 0))
	require.NoError(t, err)
	assert.Equal(t, rec.Path.Profile().ExpectedTPS, rec.ExpectedTPS)
}

// #endregion selection-tests

// #region gate-tests
func TestEvaluateGate(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	active := consensus.Neutral()
	fast := consensus.FastLane(consensus.NominalFastTPS)
	st := State{Active: active, HasSwitched: true, LastSwitch: 10}

	cur := Utility{Path: active, Total: 0.6}
	cases := []struct {
		name       string
		epoch      uint64
		best       Utility
		wantSwitch bool
		reason     string
	}{
		{"same path", 20, Utility{Path: active, Total: 0.6}, false, "hold"},
		{"tie keeps active", 20, Utility{Path: fast, Total: 0.6}, false, "ties"},
		{"gap not met", 12, Utility{Path: fast, Total: 0.9}, false, "epochs since last switch"},
		{"margin not met", 20, Utility{Path: fast, Total: 0.64}, false, "margin"},
		{"switch", 13, Utility{Path: fast, Total: 0.66}, true, "switch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := r.evaluateGate(tc.epoch, st, tc.best, cur)
			assert.Equal(t, tc.wantSwitch, g.Switch)
			assert.True(t, strings.Contains(g.Reason, tc.reason), g.Reason)
		})
	}
}

// #endregion gate-tests

// #region restore-tests
func TestRestore_ContinuesIdentically(t *testing.T) {
	samples := randomSamples(rand.New(rand.NewSource(5)), 40, 0.9)
	a := newRouter(t, DefaultConfig())
	run(t, a, samples[:30])
	for _, rec := range a.Window(30) {
		if rec.Epoch%2 == 0 {
			require.NoError(t, a.RecordOutcome(rec.Epoch, rec.Metrics.TPS, rec.Metrics.Latency))
		}
	}

	b := newRouter(t, DefaultConfig())
	require.NoError(t, b.Restore(a.State(), a.Window(DefaultConfig().LedgerCapacity)))
	assert.Equal(t, a.ActivePath(), b.ActivePath())

	assert.Equal(t, run(t, a, samples[30:]), run(t, b, samples[30:]))
}

func TestRestore_RejectsInconsistentState(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	st := InitialState()
	st.Latched = true
	assert.Error(t, r.Restore(st, nil))

	st = InitialState()
	st.Epoch = 1
	assert.Error(t, r.Restore(st, []ledger.DecisionRecord{{Epoch: 4, Path: consensus.Neutral()}}))
}

func TestRecordOutcome_UnknownEpoch(t *testing.T) {
	r := newRouter(t, DefaultConfig())
	assert.ErrorIs(t, r.RecordOutcome(3, 10, 0), ledger.ErrNotFound)
}

func TestInvariantError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&InvariantError{Epoch: 7, Detail: "ledger append", Err: cause})
	assert.ErrorIs(t, err, ErrInvariant)
	assert.ErrorIs(t, err, cause)
	var ie *InvariantError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, uint64(7), ie.Epoch)
}

// #endregion restore-tests
