package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string            `json:"description"`
	Config      FixtureConfig     `json:"config"`
	Samples     []FixtureSample   `json:"samples"`
	Outcomes    []FixtureOutcome  `json:"outcomes,omitempty"`
	Expected    []FixtureExpected `json:"expected,omitempty"`
}

// FixtureConfig overrides router parameters; zero fields keep the defaults.
type FixtureConfig struct {
	EmergencyThreshold float64 `json:"emergency_threshold,omitempty"`
	ReleaseThreshold   float64 `json:"release_threshold,omitempty"`
	ReleaseDwell       int     `json:"release_dwell,omitempty"`
	MinQuorum          uint32  `json:"min_quorum,omitempty"`
	MaxStaleEpochs     int     `json:"max_stale_epochs,omitempty"`
	SwitchMargin       float64 `json:"switch_margin,omitempty"`
	MinSwitchGap       uint64  `json:"min_switch_gap,omitempty"`
}

// FixtureSample mirrors metrics.Sample with millisecond latency.
type FixtureSample struct {
	TPS         uint64  `json:"tps"`
	Validators  uint32  `json:"validators"`
	LatencyMS   int64   `json:"latency_ms"`
	Anomaly     float64 `json:"anomaly"`
	StaleEpochs int     `json:"stale_epochs,omitempty"`
}

// FixtureOutcome is the realized performance of one decision epoch.
type FixtureOutcome struct {
	Epoch     uint64 `json:"epoch"`
	TPS       uint64 `json:"tps"`
	LatencyMS int64  `json:"latency_ms"`
}

// FixtureExpected captures the expected path kind per epoch.
type FixtureExpected struct {
	Epoch   uint64 `json:"epoch"`
	Kind    string `json:"kind"`
	Trigger string `json:"trigger,omitempty"`
}

// #endregion fixture-types

// #region fixture-io

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	for _, e := range f.Expected {
		if _, err := consensus.ParseKind(e.Kind); err != nil {
			return nil, fmt.Errorf("fixture %s epoch %d: %w", path, e.Epoch, err)
		}
	}
	return &f, nil
}

// SaveFixture writes f as indented JSON.
func SaveFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// FromRecords builds a fixture that replays recorded decisions. Each record's
// path becomes the expectation for its epoch; epochs are renumbered from zero.
func FromRecords(description string, records []ledger.DecisionRecord) *Fixture {
	f := &Fixture{Description: description}
	if len(records) == 0 {
		return f
	}
	base := records[0].Epoch
	for _, rec := range records {
		epoch := rec.Epoch - base
		f.Samples = append(f.Samples, FixtureSample{
			TPS:        rec.Metrics.TPS,
			Validators: rec.Metrics.Validators,
			LatencyMS:  rec.Metrics.Latency.Milliseconds(),
			Anomaly:    rec.Metrics.AnomalyScore,
		})
		if rec.Resolved {
			f.Outcomes = append(f.Outcomes, FixtureOutcome{
				Epoch:     epoch,
				TPS:       rec.Outcome.TPS,
				LatencyMS: rec.Outcome.Latency.Milliseconds(),
			})
		}
		f.Expected = append(f.Expected, FixtureExpected{
			Epoch:   epoch,
			Kind:    string(rec.Path.Kind),
			Trigger: string(rec.Path.TriggeredBy),
		})
	}
	return f
}

// #endregion fixture-io

// #region conversions

// ToSamples converts the fixture samples to domain samples.
func (f *Fixture) ToSamples() []metrics.Sample {
	out := make([]metrics.Sample, len(f.Samples))
	for i, s := range f.Samples {
		out[i] = metrics.Sample{
			Metrics: metrics.NetworkMetrics{
				TPS:          s.TPS,
				Validators:   s.Validators,
				Latency:      time.Duration(s.LatencyMS) * time.Millisecond,
				AnomalyScore: s.Anomaly,
			},
			StaleEpochs: s.StaleEpochs,
		}
	}
	return out
}

// ToOutcomes converts the fixture outcomes, or returns nil when the fixture
// carries none so that Replay backfills from the samples.
func (f *Fixture) ToOutcomes() map[uint64]ledger.Outcome {
	if len(f.Outcomes) == 0 {
		return nil
	}
	out := make(map[uint64]ledger.Outcome, len(f.Outcomes))
	for _, o := range f.Outcomes {
		out[o.Epoch] = ledger.Outcome{TPS: o.TPS, Latency: time.Duration(o.LatencyMS) * time.Millisecond}
	}
	return out
}

// ToReplayConfig applies the overrides to the default configuration.
func (fc *FixtureConfig) ToReplayConfig() Config {
	cfg := DefaultConfig()
	r := &cfg.Router
	if fc.EmergencyThreshold > 0 {
		r.EmergencyThreshold = fc.EmergencyThreshold
	}
	if fc.ReleaseThreshold > 0 {
		r.ReleaseThreshold = fc.ReleaseThreshold
	}
	if fc.ReleaseDwell > 0 {
		r.ReleaseDwell = fc.ReleaseDwell
	}
	if fc.MinQuorum > 0 {
		r.MinQuorum = fc.MinQuorum
		cfg.Catalog.MinQuorum = fc.MinQuorum
	}
	if fc.MaxStaleEpochs > 0 {
		r.MaxStaleEpochs = fc.MaxStaleEpochs
	}
	if fc.SwitchMargin > 0 {
		r.SwitchMargin = fc.SwitchMargin
	}
	if fc.MinSwitchGap > 0 {
		r.MinSwitchGap = fc.MinSwitchGap
	}
	return cfg
}

// Check compares replayed records against the expectations and returns one
// line per mismatch.
func (f *Fixture) Check(records []ledger.DecisionRecord) []string {
	byEpoch := make(map[uint64]ledger.DecisionRecord, len(records))
	for _, rec := range records {
		byEpoch[rec.Epoch] = rec
	}
	var diffs []string
	for _, e := range f.Expected {
		rec, ok := byEpoch[e.Epoch]
		switch {
		case !ok:
			diffs = append(diffs, fmt.Sprintf("epoch %d: no decision", e.Epoch))
		case string(rec.Path.Kind) != e.Kind:
			diffs = append(diffs, fmt.Sprintf("epoch %d: got %s, want %s", e.Epoch, rec.Path.Kind, e.Kind))
		case e.Trigger != "" && string(rec.Path.TriggeredBy) != e.Trigger:
			diffs = append(diffs, fmt.Sprintf("epoch %d: trigger %q, want %q", e.Epoch, rec.Path.TriggeredBy, e.Trigger))
		}
	}
	return diffs
}

// #endregion conversions
