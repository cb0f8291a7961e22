package simulate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

type recorder struct {
	mu         sync.Mutex
	txs        uint64
	latencies  int
	events     []metrics.Severity
	validators uint32
	anomaly    float64
}

func (r *recorder) RecordTransactions(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs += n
}

func (r *recorder) ObserveLatency(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies++
}

func (r *recorder) RecordSecurityEvent(s metrics.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) SetValidatorCount(n uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = n
}

func (r *recorder) SetAnomalyScore(a float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomaly = a
}

func profileConfig(p Profile) Config {
	cfg := DefaultConfig()
	cfg.Profile = p
	cfg.Period = 40
	cfg.Jitter = 0
	return cfg
}

func TestParseProfile(t *testing.T) {
	for _, p := range Profiles {
		got, err := ParseProfile(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseProfile("flood")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	bad := Config{Profile: "x", Period: 2, BaseTPS: 10, PeakTPS: 1, Jitter: 1}
	err := bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"profile", "tick", "period", "peak", "jitter"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestPlan_Shapes(t *testing.T) {
	steady := profileConfig(ProfileSteady)
	for tick := 0; tick < 80; tick++ {
		l := Plan(steady, tick)
		assert.Equal(t, steady.BaseTPS, l.TPS)
		assert.Equal(t, steady.Validators, l.Validators)
	}

	ramp := profileConfig(ProfileRamp)
	assert.Equal(t, ramp.BaseTPS, Plan(ramp, 0).TPS)
	assert.Equal(t, ramp.PeakTPS, Plan(ramp, 20).TPS)
	assert.Equal(t, ramp.PeakTPS, Plan(ramp, 39).TPS)
	assert.Less(t, Plan(ramp, 5).TPS, Plan(ramp, 10).TPS)
	assert.Equal(t, ramp.BaseTPS, Plan(ramp, 40).TPS, "ramp restarts each period")

	attack := profileConfig(ProfileAttack)
	assert.Equal(t, 0.05, Plan(attack, 19).Anomaly)
	assert.Equal(t, 0.9, Plan(attack, 20).Anomaly)
	assert.Equal(t, 0.9, Plan(attack, 29).Anomaly)
	assert.Equal(t, 0.05, Plan(attack, 30).Anomaly)

	ql := profileConfig(ProfileQuorumLoss)
	assert.Equal(t, uint32(2), Plan(ql, 20).Validators)
	assert.Equal(t, uint32(2), Plan(ql, 24).Validators)
	assert.Equal(t, ql.Validators, Plan(ql, 25).Validators)
}

func TestStep_WritesRecorder(t *testing.T) {
	rec := &recorder{}
	s, err := New(profileConfig(ProfileAttack), rec, zaptest.NewLogger(t))
	require.NoError(t, err)

	for i := 0; i < 21; i++ {
		s.Step()
	}
	assert.Equal(t, 21, rec.latencies)
	assert.Equal(t, uint64(21*200), rec.txs, "2k TPS over 100ms ticks")
	assert.Equal(t, 0.9, rec.anomaly)
	assert.Equal(t, []metrics.Severity{metrics.SeverityHigh}, rec.events)
}

func TestStep_DrivesSampler(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	sampler := metrics.NewSamplerWithClock(metrics.DefaultSamplerConfig(), func() time.Time { return now })
	cfg := profileConfig(ProfileSteady)
	s, err := New(cfg, sampler, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s.Step()
		now = now.Add(cfg.Tick)
	}
	now = now.Add(-time.Nanosecond)
	m := sampler.Sample()
	assert.Equal(t, uint64(2_000), m.TPS)
	assert.Equal(t, uint32(21), m.Validators)
	assert.Equal(t, cfg.Latency, m.Latency)
}

func TestStep_JitterDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a, _ := New(cfg, &recorder{}, nil)
	b, _ := New(cfg, &recorder{}, nil)
	for i := 0; i < 50; i++ {
		la, lb := a.Step(), b.Step()
		require.Equal(t, la, lb)
		assert.InDelta(t, float64(cfg.BaseTPS), float64(la.TPS), float64(cfg.BaseTPS)*cfg.Jitter+1)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := profileConfig(ProfileSteady)
	cfg.Tick = time.Millisecond
	rec := &recorder{}
	s, err := New(cfg, rec, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Positive(t, rec.latencies)
}
