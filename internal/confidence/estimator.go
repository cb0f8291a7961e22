package confidence

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/laudzakusuma/TriUnity/internal/ledger"
)

// #region config
// Config weights the two confidence components and shapes cold-start behavior.
type Config struct {
	Floor           float64 // returned for empty history; prior for sparse history
	HitWeight       float64
	StabilityWeight float64
	Tolerance       float64 // relative band around expected TPS counted as a hit
	Decay           float64 // per-epoch recency decay for hit weighting, (0,1]
	PriorSamples    float64 // pseudo-samples pulling sparse history toward Floor
}

// DefaultConfig returns the stock estimator weights.
func DefaultConfig() Config {
	return Config{
		Floor:           0.5,
		HitWeight:       0.6,
		StabilityWeight: 0.4,
		Tolerance:       0.2,
		Decay:           0.85,
		PriorSamples:    3,
	}
}

// #endregion config

// #region estimator
// Breakdown exposes the components behind a confidence value.
type Breakdown struct {
	Samples    int
	Resolved   int
	HitRate    float64
	Stability  float64
	Raw        float64
	Confidence float64
}

// Estimator scores how much recent routing decisions can be trusted. It is
// pure: the same history always yields the same value.
type Estimator struct {
	cfg Config
}

// New creates an Estimator.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Confidence returns a value in [0,1] for history ordered oldest first.
func (e *Estimator) Confidence(history []ledger.DecisionRecord) float64 {
	return e.Breakdown(history).Confidence
}

// Breakdown computes confidence and its components.
func (e *Estimator) Breakdown(history []ledger.DecisionRecord) Breakdown {
	n := len(history)
	b := Breakdown{Samples: n}
	if n == 0 {
		b.HitRate, b.Stability = e.cfg.Floor, 1
		b.Raw, b.Confidence = e.cfg.Floor, clamp(e.cfg.Floor)
		return b
	}

	b.HitRate, b.Resolved = e.hitRate(history)
	b.Stability = stability(history)

	total := e.cfg.HitWeight + e.cfg.StabilityWeight
	if total <= 0 {
		b.Raw = e.cfg.Floor
	} else {
		b.Raw = (e.cfg.HitWeight*b.HitRate + e.cfg.StabilityWeight*b.Stability) / total
	}

	k := math.Max(e.cfg.PriorSamples, 0)
	b.Confidence = clamp((float64(n)*b.Raw + k*e.cfg.Floor) / (float64(n) + k))
	return b
}

// hitRate is the recency-weighted share of resolved records whose realized TPS
// landed within Tolerance of the expected TPS. Falls back to Floor when no
// outcome has been observed yet.
func (e *Estimator) hitRate(history []ledger.DecisionRecord) (float64, int) {
	var hits, weights []float64
	w := 1.0
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		if rec.Resolved {
			hits = append(hits, hitValue(rec, e.cfg.Tolerance))
			weights = append(weights, w)
		}
		w *= e.cfg.Decay
	}
	if len(hits) == 0 {
		return e.cfg.Floor, 0
	}
	var sum float64
	for _, x := range weights {
		sum += x
	}
	if sum == 0 {
		return e.cfg.Floor, len(hits)
	}
	return stat.Mean(hits, weights), len(hits)
}

func hitValue(rec ledger.DecisionRecord, tol float64) float64 {
	expected := math.Max(float64(rec.ExpectedTPS), 1)
	if math.Abs(float64(rec.Outcome.TPS)-float64(rec.ExpectedTPS)) <= tol*expected {
		return 1
	}
	return 0
}

// stability is one minus the switch frequency across consecutive records.
func stability(history []ledger.DecisionRecord) float64 {
	if len(history) < 2 {
		return 1
	}
	switches := 0
	for i := 1; i < len(history); i++ {
		if history[i].Path != history[i-1].Path {
			switches++
		}
	}
	return 1 - float64(switches)/float64(len(history)-1)
}

// #endregion estimator

// #region helpers
func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
