package consensus

import (
	"errors"
	"fmt"
	"math"
)

// #region kind
// Kind tags which consensus strategy a Path selects.
type Kind string

const (
	KindFastLane   Kind = "fast_lane"
	KindSecureLane Kind = "secure_lane"
	KindHybrid     Kind = "hybrid"
	KindEmergency  Kind = "emergency"
)

// ParseKind maps a wire name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFastLane, KindSecureLane, KindHybrid, KindEmergency:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown path kind %q", s)
}

// #endregion kind

// #region anomaly-reason
// AnomalyReason records what forced the router into EmergencyMode.
type AnomalyReason string

const (
	ReasonNone              AnomalyReason = ""
	ReasonAnomalyScore      AnomalyReason = "anomaly_score"
	ReasonQuorumLoss        AnomalyReason = "quorum_loss"
	ReasonMetricsStarvation AnomalyReason = "metrics_starvation"
)

// #endregion anomaly-reason

// #region path
// Path is one consensus strategy plus the payload of its variant.
// Only the payload field matching Kind is meaningful; the rest stay zero.
type Path struct {
	Kind           Kind          `json:"kind"`
	ExpectedTPS    uint64        `json:"expected_tps,omitempty"`
	SecurityLevel  float64       `json:"security_level,omitempty"`
	FastPercentage float64       `json:"fast_percentage,omitempty"`
	TriggeredBy    AnomalyReason `json:"triggered_by,omitempty"`
}

// ErrInvalidPath is returned by Validate for malformed paths.
var ErrInvalidPath = errors.New("invalid consensus path")

// FastLane returns a throughput-optimized path.
func FastLane(expectedTPS uint64) Path {
	return Path{Kind: KindFastLane, ExpectedTPS: expectedTPS}
}

// SecureLane returns a security-maximizing path. level is clamped to [0,1].
func SecureLane(level float64) Path {
	return Path{Kind: KindSecureLane, SecurityLevel: clamp01(level)}
}

// Hybrid returns a blended path. fast is clamped to [0,1].
func Hybrid(fast float64) Path {
	return Path{Kind: KindHybrid, FastPercentage: clamp01(fast)}
}

// Emergency returns the safe fallback path tagged with its trigger.
func Emergency(reason AnomalyReason) Path {
	return Path{Kind: KindEmergency, TriggeredBy: reason}
}

// Neutral is the startup path: an even Hybrid blend.
func Neutral() Path {
	return Hybrid(0.5)
}

// IsEmergency reports whether p is EmergencyMode.
func (p Path) IsEmergency() bool {
	return p.Kind == KindEmergency
}

// Validate checks the tag and that only the matching payload is set and in range.
func (p Path) Validate() error {
	switch p.Kind {
	case KindFastLane:
		if p.SecurityLevel != 0 || p.FastPercentage != 0 || p.TriggeredBy != ReasonNone {
			return fmt.Errorf("%w: fast lane carries foreign payload", ErrInvalidPath)
		}
	case KindSecureLane:
		if !inUnit(p.SecurityLevel) {
			return fmt.Errorf("%w: security level %v outside [0,1]", ErrInvalidPath, p.SecurityLevel)
		}
		if p.ExpectedTPS != 0 || p.FastPercentage != 0 || p.TriggeredBy != ReasonNone {
			return fmt.Errorf("%w: secure lane carries foreign payload", ErrInvalidPath)
		}
	case KindHybrid:
		if !inUnit(p.FastPercentage) {
			return fmt.Errorf("%w: fast percentage %v outside [0,1]", ErrInvalidPath, p.FastPercentage)
		}
		if p.ExpectedTPS != 0 || p.SecurityLevel != 0 || p.TriggeredBy != ReasonNone {
			return fmt.Errorf("%w: hybrid carries foreign payload", ErrInvalidPath)
		}
	case KindEmergency:
		switch p.TriggeredBy {
		case ReasonAnomalyScore, ReasonQuorumLoss, ReasonMetricsStarvation:
		default:
			return fmt.Errorf("%w: unknown emergency trigger %q", ErrInvalidPath, p.TriggeredBy)
		}
		if p.ExpectedTPS != 0 || p.SecurityLevel != 0 || p.FastPercentage != 0 {
			return fmt.Errorf("%w: emergency carries foreign payload", ErrInvalidPath)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPath, p.Kind)
	}
	return nil
}

// String renders the path for logs, e.g. "hybrid(fast=0.50)".
func (p Path) String() string {
	switch p.Kind {
	case KindFastLane:
		return fmt.Sprintf("fast_lane(tps=%d)", p.ExpectedTPS)
	case KindSecureLane:
		return fmt.Sprintf("secure_lane(level=%.2f)", p.SecurityLevel)
	case KindHybrid:
		return fmt.Sprintf("hybrid(fast=%.2f)", p.FastPercentage)
	case KindEmergency:
		return fmt.Sprintf("emergency(%s)", p.TriggeredBy)
	}
	return "unknown"
}

// #endregion path

// #region helpers
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// #endregion helpers
