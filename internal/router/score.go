package router

import (
	"math"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

// #region utility
// Utility is a scored path with its components, kept for reasons and logs.
type Utility struct {
	Path       consensus.Path
	Throughput float64
	Security   float64
	Confidence float64
	Total      float64
}

// score computes the weighted utility of p under m at confidence conf.
func (r *Router) score(p consensus.Path, prof consensus.Profile, m metrics.NetworkMetrics, conf float64) Utility {
	u := Utility{
		Path:       p,
		Throughput: throughputFit(prof, m, r.cfg.Headroom, r.cfg.OvershootPenalty),
		Security:   securityFit(prof, m, r.cfg.FastLanePenalty),
		Confidence: conf*prof.Aggressiveness + (1-conf)*(1-prof.Aggressiveness),
	}
	u.Total = r.cfg.ThroughputWeight*u.Throughput +
		r.cfg.SecurityWeight*u.Security +
		r.cfg.ConfidenceWeight*u.Confidence
	return u
}

// throughputFit rewards covering demand plus headroom and charges for idle
// capacity. Undershoot is linear; overshoot is scaled by OvershootPenalty.
func throughputFit(prof consensus.Profile, m metrics.NetworkMetrics, headroom, penalty float64) float64 {
	target := math.Max(float64(m.TPS)*headroom, 1)
	capacity := float64(prof.ExpectedTPS)
	if capacity <= 0 {
		return 0
	}
	cover := math.Min(1, capacity/target)
	waste := math.Max(0, 1-target/capacity)
	return clamp(cover - penalty*waste)
}

// securityFit is 1 at zero anomaly and falls with the path's security gap;
// fast-leaning paths take an extra penalty while any anomaly is present.
func securityFit(prof consensus.Profile, m metrics.NetworkMetrics, fastPenalty float64) float64 {
	a := m.AnomalyScore
	return clamp(1 - a*(1-prof.Security) - a*prof.Aggressiveness*fastPenalty)
}

// #endregion utility

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
