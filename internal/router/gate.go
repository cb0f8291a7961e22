package router

import (
	"fmt"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

// #region trigger
// trigger checks the emergency conditions in priority order. It returns
// ReasonNone when the epoch is not an emergency.
func (r *Router) trigger(s metrics.Sample) (consensus.AnomalyReason, string) {
	m := s.Metrics
	switch {
	case m.AnomalyScore >= r.cfg.EmergencyThreshold:
		return consensus.ReasonAnomalyScore,
			fmt.Sprintf("anomaly score %.2f >= %.2f", m.AnomalyScore, r.cfg.EmergencyThreshold)
	case m.Validators < r.cfg.MinQuorum:
		return consensus.ReasonQuorumLoss,
			fmt.Sprintf("validators %d below quorum %d", m.Validators, r.cfg.MinQuorum)
	case s.StaleEpochs > r.cfg.MaxStaleEpochs:
		return consensus.ReasonMetricsStarvation,
			fmt.Sprintf("metrics stale for %d epochs (max %d)", s.StaleEpochs, r.cfg.MaxStaleEpochs)
	}
	return consensus.ReasonNone, ""
}

// clean reports whether an epoch counts toward releasing the emergency latch.
func (r *Router) clean(s metrics.Sample) bool {
	return s.Fresh() &&
		s.Metrics.AnomalyScore < r.cfg.ReleaseThreshold &&
		s.Metrics.Validators >= r.cfg.MinQuorum
}

// #endregion trigger

// #region hysteresis
// gateDecision is the outcome of the hysteresis gate.
type gateDecision struct {
	Switch bool
	Reason string
}

// evaluateGate decides whether best may replace the active path. Ties and
// regressions keep the active path; otherwise both the margin and the
// minimum gap since the last switch must be satisfied.
func (r *Router) evaluateGate(epoch uint64, st State, best, cur Utility) gateDecision {
	if best.Path == st.Active {
		return gateDecision{Reason: fmt.Sprintf("hold: %s scores best (%.4f)", cur.Path, cur.Total)}
	}
	gain := best.Total - cur.Total
	if gain <= 0 {
		return gateDecision{Reason: fmt.Sprintf("hold: %s ties or beats %s", cur.Path, best.Path)}
	}
	if st.HasSwitched && epoch-st.LastSwitch < r.cfg.MinSwitchGap {
		return gateDecision{Reason: fmt.Sprintf("hysteresis: %d epochs since last switch < %d",
			epoch-st.LastSwitch, r.cfg.MinSwitchGap)}
	}
	if gain < r.cfg.SwitchMargin {
		return gateDecision{Reason: fmt.Sprintf("hysteresis: %s gain %.4f < margin %.4f",
			best.Path, gain, r.cfg.SwitchMargin)}
	}
	return gateDecision{
		Switch: true,
		Reason: fmt.Sprintf("switch: %s -> %s gain %.4f", cur.Path, best.Path, gain),
	}
}

// #endregion hysteresis
