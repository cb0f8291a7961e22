package replay

import (
	"fmt"

	"github.com/laudzakusuma/TriUnity/internal/confidence"
	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
	"github.com/laudzakusuma/TriUnity/internal/router"
)

// #region types
// Config bundles router, catalog and estimator configs for a replay run.
type Config struct {
	Router     router.Config
	Catalog    consensus.CatalogConfig
	Confidence confidence.Config
}

// DefaultConfig returns the stock configuration of all three components.
func DefaultConfig() Config {
	return Config{
		Router:     router.DefaultConfig(),
		Catalog:    consensus.DefaultCatalogConfig(),
		Confidence: confidence.DefaultConfig(),
	}
}

// Result is the full output of a replay run.
type Result struct {
	Records []ledger.DecisionRecord
	Report  router.Report
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Epochs           int                             `json:"epochs"`
	Switches         int                             `json:"switches"`
	EmergencyEntries int                             `json:"emergency_entries"`
	ByKind           map[consensus.Kind]int          `json:"by_kind"`
	ByTrigger        map[consensus.AnomalyReason]int `json:"by_trigger,omitempty"`
	MeanConfidence   float64                         `json:"mean_confidence"`
	FinalPath        consensus.Path                  `json:"final_path"`
}

// #endregion types

// #region replay
// Replay runs samples through a fresh router in memory. outcomes maps a
// decision epoch to its realized performance; when outcomes is nil each fresh
// sample backfills the previous decision, as the live loop does.
func Replay(cfg Config, samples []metrics.Sample, outcomes map[uint64]ledger.Outcome) (Result, error) {
	r, err := router.New(cfg.Router, consensus.NewCatalog(cfg.Catalog), confidence.New(cfg.Confidence), nil)
	if err != nil {
		return Result{}, err
	}

	records := make([]ledger.DecisionRecord, 0, len(samples))
	for i, s := range samples {
		if outcomes == nil && i > 0 && s.Fresh() {
			prev := records[i-1].Epoch
			if err := r.RecordOutcome(prev, s.Metrics.TPS, s.Metrics.Latency); err != nil {
				return Result{}, fmt.Errorf("backfill epoch %d: %w", prev, err)
			}
		}

		rec, err := r.Step(s)
		if err != nil {
			return Result{}, fmt.Errorf("replay epoch %d: %w", i, err)
		}

		if out, ok := outcomes[rec.Epoch]; ok {
			if err := r.RecordOutcome(rec.Epoch, out.TPS, out.Latency); err != nil {
				return Result{}, fmt.Errorf("backfill epoch %d: %w", rec.Epoch, err)
			}
		}
		records = append(records, rec)
	}

	// re-read so the returned records carry their backfilled outcomes
	if n := len(records); n > 0 && n <= cfg.Router.LedgerCapacity {
		records = r.Window(n)
	}
	return Result{Records: records, Report: r.Report()}, nil
}

// Summarize computes aggregate stats from replayed decisions.
func Summarize(records []ledger.DecisionRecord) Summary {
	s := Summary{
		Epochs:    len(records),
		ByKind:    make(map[consensus.Kind]int),
		ByTrigger: make(map[consensus.AnomalyReason]int),
	}
	var confSum float64
	for _, rec := range records {
		s.ByKind[rec.Path.Kind]++
		confSum += rec.Confidence
		if !rec.Switched {
			continue
		}
		s.Switches++
		if rec.Path.IsEmergency() {
			s.EmergencyEntries++
			s.ByTrigger[rec.Path.TriggeredBy]++
		}
	}
	if len(records) > 0 {
		s.MeanConfidence = confSum / float64(len(records))
		s.FinalPath = records[len(records)-1].Path
	}
	return s
}

// #endregion replay
