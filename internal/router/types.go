package router

import (
	"errors"
	"fmt"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
)

// #region config
// Config holds the emergency, hysteresis and scoring parameters.
type Config struct {
	// Emergency latch
	EmergencyThreshold float64 // anomaly at or above this forces EmergencyMode
	ReleaseThreshold   float64 // anomaly below this counts toward release
	ReleaseDwell       int     // consecutive clean epochs required to release
	MinQuorum          uint32  // validators below this force EmergencyMode
	MaxStaleEpochs     int     // stale samples tolerated before starvation

	// Hysteresis gate
	SwitchMargin float64 // utility improvement required to switch
	MinSwitchGap uint64  // epochs required between switches

	// Utility
	ThroughputWeight float64
	SecurityWeight   float64
	ConfidenceWeight float64
	Headroom         float64 // capacity target as a multiple of observed demand
	OvershootPenalty float64 // cost of unused capacity
	FastLanePenalty  float64 // extra security penalty per unit anomaly for fast-leaning paths

	HistoryWindow  int // ledger records fed to the confidence estimator
	LedgerCapacity int
}

// DefaultConfig returns the stock router parameters.
func DefaultConfig() Config {
	return Config{
		EmergencyThreshold: 0.75,
		ReleaseThreshold:   0.25,
		ReleaseDwell:       3,
		MinQuorum:          4,
		MaxStaleEpochs:     3,

		SwitchMargin: 0.05,
		MinSwitchGap: 3,

		ThroughputWeight: 0.5,
		SecurityWeight:   0.3,
		ConfidenceWeight: 0.2,
		Headroom:         1.25,
		OvershootPenalty: 0.2,
		FastLanePenalty:  0.5,

		HistoryWindow:  16,
		LedgerCapacity: 256,
	}
}

// Validate reports every inconsistent parameter.
func (c Config) Validate() error {
	var errs []error
	if c.EmergencyThreshold <= 0 || c.EmergencyThreshold > 1 {
		errs = append(errs, fmt.Errorf("emergency threshold %v outside (0,1]", c.EmergencyThreshold))
	}
	if c.ReleaseThreshold < 0 || c.ReleaseThreshold >= c.EmergencyThreshold {
		errs = append(errs, fmt.Errorf("release threshold %v must be in [0, emergency threshold)", c.ReleaseThreshold))
	}
	if c.ReleaseDwell < 1 {
		errs = append(errs, fmt.Errorf("release dwell %d must be at least 1", c.ReleaseDwell))
	}
	if c.MaxStaleEpochs < 0 {
		errs = append(errs, fmt.Errorf("max stale epochs %d is negative", c.MaxStaleEpochs))
	}
	if c.SwitchMargin < 0 {
		errs = append(errs, fmt.Errorf("switch margin %v is negative", c.SwitchMargin))
	}
	if c.ThroughputWeight < 0 || c.SecurityWeight < 0 || c.ConfidenceWeight < 0 {
		errs = append(errs, errors.New("utility weights must be non-negative"))
	}
	if c.ThroughputWeight+c.SecurityWeight+c.ConfidenceWeight <= 0 {
		errs = append(errs, errors.New("utility weights must not all be zero"))
	}
	if c.Headroom < 1 {
		errs = append(errs, fmt.Errorf("headroom %v must be at least 1", c.Headroom))
	}
	if c.HistoryWindow < 1 {
		errs = append(errs, fmt.Errorf("history window %d must be at least 1", c.HistoryWindow))
	}
	if c.LedgerCapacity < c.HistoryWindow {
		errs = append(errs, fmt.Errorf("ledger capacity %d smaller than history window %d", c.LedgerCapacity, c.HistoryWindow))
	}
	return errors.Join(errs...)
}

// #endregion config

// #region state
// State is the router's mutable decision state, exported for checkpoints.
type State struct {
	Active           consensus.Path `json:"active"`
	Epoch            uint64         `json:"epoch"` // next epoch to decide
	LastSwitch       uint64         `json:"last_switch"`
	HasSwitched      bool           `json:"has_switched"`
	Latched          bool           `json:"latched"`
	ReleaseStreak    int            `json:"release_streak"`
	SwitchCount      uint64         `json:"switch_count"`
	EmergencyEntries uint64         `json:"emergency_entries"`
}

// InitialState is the startup state: neutral Hybrid, nothing latched.
func InitialState() State {
	return State{Active: consensus.Neutral()}
}

// #endregion state

// #region report
// Report is the read-only status snapshot published after every epoch.
type Report struct {
	Epochs           uint64         `json:"epochs"` // epochs decided so far
	Path             consensus.Path `json:"path"`
	Confidence       float64        `json:"confidence"`
	RecentTPS        uint64         `json:"recent_tps"`
	SwitchCount      uint64         `json:"switch_count"`
	EmergencyEntries uint64         `json:"emergency_entries"`
	Latched          bool           `json:"latched"`
}

// #endregion report

// #region errors
// ErrInvariant is wrapped by every InvariantError.
var ErrInvariant = errors.New("router invariant violated")

// InvariantError reports a broken router invariant. The decision loop treats
// it as fatal.
type InvariantError struct {
	Epoch  uint64
	Detail string
	Err    error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("epoch %d: %s: %s: %v", e.Epoch, ErrInvariant, e.Detail, e.Err)
	}
	return fmt.Sprintf("epoch %d: %s: %s", e.Epoch, ErrInvariant, e.Detail)
}

// Unwrap exposes both ErrInvariant and the underlying cause to errors.Is.
func (e *InvariantError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvariant, e.Err}
	}
	return []error{ErrInvariant}
}

// #endregion errors
