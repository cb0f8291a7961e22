package consensus

import "github.com/laudzakusuma/TriUnity/internal/metrics"

// #region catalog-config
// CatalogConfig holds the bucket boundaries of the policy table.
type CatalogConfig struct {
	NominalRisk  float64 // anomaly below this is nominal
	ElevatedRisk float64 // anomaly below this (and not nominal) is elevated
	LowDemand    uint64  // TPS below this is low demand
	PeakDemand   uint64  // TPS at or above this is peak demand
	MinQuorum    uint32  // validator sets under ThinFactor*MinQuorum are thin
	ThinFactor   uint32
}

// DefaultCatalogConfig returns the stock bucket boundaries.
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		NominalRisk:  0.15,
		ElevatedRisk: 0.45,
		LowDemand:    10_000,
		PeakDemand:   40_000,
		MinQuorum:    4,
		ThinFactor:   2,
	}
}

// #endregion catalog-config

// #region buckets
// RiskBucket is the coarse anomaly classification.
type RiskBucket string

// DemandBucket is the coarse throughput classification.
type DemandBucket string

const (
	RiskNominal  RiskBucket = "nominal"
	RiskElevated RiskBucket = "elevated"
	RiskHigh     RiskBucket = "high"

	DemandLow      DemandBucket = "low"
	DemandModerate DemandBucket = "moderate"
	DemandPeak     DemandBucket = "peak"
)

// Buckets classifies m.
func (c *Catalog) Buckets(m metrics.NetworkMetrics) (RiskBucket, DemandBucket) {
	risk := RiskHigh
	switch {
	case m.AnomalyScore < c.cfg.NominalRisk:
		risk = RiskNominal
	case m.AnomalyScore < c.cfg.ElevatedRisk:
		risk = RiskElevated
	}
	demand := DemandModerate
	switch {
	case m.TPS < c.cfg.LowDemand:
		demand = DemandLow
	case m.TPS >= c.cfg.PeakDemand:
		demand = DemandPeak
	}
	return risk, demand
}

// #endregion buckets

// #region catalog
// Candidate is a catalog entry with its predicted profile.
type Candidate struct {
	Path    Path
	Profile Profile
}

// Catalog is the static policy table from metric buckets to candidate paths.
// EmergencyMode is never a candidate.
type Catalog struct {
	cfg CatalogConfig
}

// NewCatalog creates a catalog with the given bucket boundaries.
func NewCatalog(cfg CatalogConfig) *Catalog {
	return &Catalog{cfg: cfg}
}

// Candidates returns the ordered, deduplicated candidate set for m. The result
// depends only on m and the config.
func (c *Catalog) Candidates(m metrics.NetworkMetrics) []Candidate {
	risk, demand := c.Buckets(m)

	var paths []Path
	switch risk {
	case RiskNominal:
		paths = []Path{Hybrid(0.5), FastLane(NominalFastTPS)}
	case RiskElevated:
		paths = []Path{Hybrid(0.5), Hybrid(0.25)}
		if demand == DemandPeak {
			paths = append(paths, FastLane(NominalFastTPS))
		} else {
			paths = append(paths, SecureLane(0.9))
		}
	case RiskHigh:
		paths = []Path{SecureLane(NominalSecureSecurity), Hybrid(0.25)}
	}
	if m.Validators < c.cfg.MinQuorum*c.cfg.ThinFactor {
		paths = append(paths, SecureLane(0.9))
	}

	out := make([]Candidate, 0, len(paths))
	seen := make(map[Path]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, Candidate{Path: p, Profile: p.Profile()})
	}
	return out
}

// #endregion catalog
