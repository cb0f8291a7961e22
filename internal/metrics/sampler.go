package metrics

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
)

// #region sampler-config
// SamplerConfig controls the lookback window and history bound.
type SamplerConfig struct {
	Window      time.Duration // lookback for rates and averages
	Buckets     int           // ring slots across Window
	HistorySize int           // sampled snapshots kept for Stats/Trend
}

// DefaultSamplerConfig returns a 1s window in 100ms buckets and 1000 snapshots of history.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Window:      time.Second,
		Buckets:     10,
		HistorySize: 1000,
	}
}

// #endregion sampler-config

// #region sampler
type bucket struct {
	slot        int64
	txs         uint64
	latencySum  time.Duration
	latencyN    int
	severitySum float64
	severityN   int
}

// Sampler aggregates counters written by the networking layer into per-epoch
// snapshots. Writers and Sample never wait on I/O.
type Sampler struct {
	cfg   SamplerConfig
	width time.Duration
	now   func() time.Time

	validators atomic.Uint32
	anomaly    atomic.Uint64 // math.Float64bits
	totalTxs   atomic.Uint64

	mu      sync.Mutex
	buckets []bucket
	history []NetworkMetrics
}

// NewSampler creates a Sampler reading wall-clock time.
func NewSampler(cfg SamplerConfig) *Sampler {
	return NewSamplerWithClock(cfg, time.Now)
}

// NewSamplerWithClock creates a Sampler with an injected clock (for tests and simulation).
func NewSamplerWithClock(cfg SamplerConfig, now func() time.Time) *Sampler {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}
	width := cfg.Window / time.Duration(cfg.Buckets)
	if width <= 0 {
		width = 1
	}
	s := &Sampler{
		cfg:     cfg,
		width:   width,
		now:     now,
		buckets: make([]bucket, cfg.Buckets),
	}
	for i := range s.buckets {
		s.buckets[i].slot = math.MinInt64
	}
	return s
}

// #endregion sampler

// #region writers

// RecordTransactions counts n confirmed transactions at the current instant.
func (s *Sampler) RecordTransactions(n uint64) {
	s.totalTxs.Add(n)
	s.mu.Lock()
	s.current().txs += n
	s.mu.Unlock()
}

// ObserveLatency records one confirmation latency.
func (s *Sampler) ObserveLatency(d time.Duration) {
	if d < 0 {
		return
	}
	s.mu.Lock()
	b := s.current()
	b.latencySum += d
	b.latencyN++
	s.mu.Unlock()
}

// RecordSecurityEvent feeds an event into the windowed anomaly estimate.
func (s *Sampler) RecordSecurityEvent(sev Severity) {
	s.mu.Lock()
	b := s.current()
	b.severitySum += sev.Score()
	b.severityN++
	s.mu.Unlock()
}

// SetValidatorCount publishes the number of reachable validators.
func (s *Sampler) SetValidatorCount(n uint32) {
	s.validators.Store(n)
}

// SetAnomalyScore publishes an externally computed anomaly score, clamped to [0,1].
func (s *Sampler) SetAnomalyScore(a float64) {
	if math.IsNaN(a) || a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	s.anomaly.Store(math.Float64bits(a))
}

// current returns the bucket for now, recycling it if it belongs to an old slot.
// Caller holds s.mu.
func (s *Sampler) current() *bucket {
	slot := s.now().UnixNano() / int64(s.width)
	b := &s.buckets[int(mod(slot, int64(len(s.buckets))))]
	if b.slot != slot {
		*b = bucket{slot: slot}
	}
	return b
}

// #endregion writers

// #region sample

// Sample aggregates the lookback window into a snapshot. With no recorded data
// it returns the zero snapshot.
func (s *Sampler) Sample() NetworkMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowSlot := s.now().UnixNano() / int64(s.width)
	oldest := nowSlot - int64(len(s.buckets)) + 1

	var txs uint64
	var latSum time.Duration
	var latN, sevN int
	var sevSum float64
	for _, b := range s.buckets {
		if b.slot < oldest || b.slot > nowSlot {
			continue
		}
		txs += b.txs
		latSum += b.latencySum
		latN += b.latencyN
		sevSum += b.severitySum
		sevN += b.severityN
	}

	m := NetworkMetrics{
		Validators:   s.validators.Load(),
		AnomalyScore: math.Float64frombits(s.anomaly.Load()),
	}
	if txs > 0 {
		m.TPS = uint64(float64(txs)/s.cfg.Window.Seconds() + 0.5)
	}
	if latN > 0 {
		m.Latency = latSum / time.Duration(latN)
	}
	if sevN > 0 {
		if events := sevSum / float64(sevN); events > m.AnomalyScore {
			m.AnomalyScore = math.Min(events, 1)
		}
	}

	s.history = append(s.history, m)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	return m
}

// Fetch implements Source.
func (s *Sampler) Fetch(ctx context.Context) (NetworkMetrics, error) {
	if err := ctx.Err(); err != nil {
		return NetworkMetrics{}, err
	}
	return s.Sample(), nil
}

// #endregion sample

// #region stats

// Stats summarizes the sampled history.
func (s *Sampler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Samples: len(s.history), TotalTransactions: s.totalTxs.Load()}
	if len(s.history) == 0 {
		return st
	}
	tps := make([]float64, len(s.history))
	lat := make([]float64, len(s.history))
	st.MinLatency = s.history[0].Latency
	for i, m := range s.history {
		tps[i] = float64(m.TPS)
		lat[i] = float64(m.Latency)
		if m.TPS > st.PeakTPS {
			st.PeakTPS = m.TPS
		}
		if m.Latency < st.MinLatency {
			st.MinLatency = m.Latency
		}
		if m.Latency > st.MaxLatency {
			st.MaxLatency = m.Latency
		}
	}
	st.AvgTPS = stat.Mean(tps, nil)
	st.AvgLatency = time.Duration(stat.Mean(lat, nil))
	return st
}

// Trend returns the fractional TPS change across the most recent quarter of
// the history (0.1 means +10%). ok is false with fewer than 4 samples or a
// zero starting point.
func (s *Sampler) Trend() (change float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) < 4 {
		return 0, false
	}
	recent := s.history[len(s.history)-len(s.history)/4:]
	if len(recent) < 2 {
		recent = s.history[len(s.history)-2:]
	}
	first := float64(recent[0].TPS)
	last := float64(recent[len(recent)-1].TPS)
	if first == 0 {
		return 0, false
	}
	return (last - first) / first, true
}

// #endregion stats

// #region helpers
func mod(a, n int64) int64 {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}

// #endregion helpers
