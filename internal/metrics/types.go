package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// #region network-metrics
// NetworkMetrics is one immutable per-epoch snapshot of network conditions.
type NetworkMetrics struct {
	TPS          uint64        `json:"tps"`
	Validators   uint32        `json:"validators"`
	Latency      time.Duration `json:"latency"`
	AnomalyScore float64       `json:"anomaly_score"` // [0,1]
}

// ErrInvalidMetrics is wrapped by Validate with the offending field.
var ErrInvalidMetrics = errors.New("invalid network metrics")

// Validate rejects snapshots that must not reach the router.
func (m NetworkMetrics) Validate() error {
	if math.IsNaN(m.AnomalyScore) || math.IsInf(m.AnomalyScore, 0) {
		return fmt.Errorf("%w: anomaly score is not finite", ErrInvalidMetrics)
	}
	if m.AnomalyScore < 0 || m.AnomalyScore > 1 {
		return fmt.Errorf("%w: anomaly score %v outside [0,1]", ErrInvalidMetrics, m.AnomalyScore)
	}
	if m.Latency < 0 {
		return fmt.Errorf("%w: negative latency %s", ErrInvalidMetrics, m.Latency)
	}
	return nil
}

// #endregion network-metrics

// #region sample
// Sample is what the decision loop hands the router each epoch: the snapshot
// plus how many consecutive epochs it has been reused after source failures.
type Sample struct {
	Metrics     NetworkMetrics `json:"metrics"`
	StaleEpochs int            `json:"stale_epochs,omitempty"`
}

// Fresh reports whether the snapshot was fetched this epoch.
func (s Sample) Fresh() bool {
	return s.StaleEpochs == 0
}

// #endregion sample

// #region source
// Source supplies network metrics. Implementations should honor ctx.
type Source interface {
	Fetch(ctx context.Context) (NetworkMetrics, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (NetworkMetrics, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) (NetworkMetrics, error) {
	return f(ctx)
}

// #endregion source

// #region severity
// Severity grades a security event reported by the networking layer.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Score maps a severity onto the anomaly scale.
func (s Severity) Score() float64 {
	switch s {
	case SeverityLow:
		return 0.1
	case SeverityMedium:
		return 0.3
	case SeverityHigh:
		return 0.6
	case SeverityCritical:
		return 1.0
	}
	return 0
}

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// #endregion severity

// #region stats
// Stats summarizes the bounded history of sampled snapshots.
type Stats struct {
	Samples           int
	AvgTPS            float64
	PeakTPS           uint64
	AvgLatency        time.Duration
	MinLatency        time.Duration
	MaxLatency        time.Duration
	TotalTransactions uint64
}

// #endregion stats
