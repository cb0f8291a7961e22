package router

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/laudzakusuma/TriUnity/internal/confidence"
	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

// #region router
// Router selects the consensus path for each epoch. Step, RecordOutcome,
// State and Restore belong to the decision loop goroutine; ActivePath,
// Report and Window are safe from any goroutine.
type Router struct {
	cfg       Config
	catalog   *consensus.Catalog
	estimator *confidence.Estimator
	ledger    *ledger.Ledger
	logger    *zap.Logger

	state  State
	report atomic.Pointer[Report]
}

// New creates a Router in its initial state. logger may be nil.
func New(cfg Config, catalog *consensus.Catalog, estimator *confidence.Estimator, logger *zap.Logger) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("router config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		cfg:       cfg,
		catalog:   catalog,
		estimator: estimator,
		ledger:    ledger.New(cfg.LedgerCapacity),
		logger:    logger,
		state:     InitialState(),
	}
	r.publish(0, estimator.Confidence(nil))
	return r, nil
}

// #endregion router

// #region step
type decision struct {
	path     consensus.Path
	utility  Utility
	switched bool
	reason   string
}

// Step decides the path for the next epoch from one metrics sample and
// appends the decision to the ledger.
func (r *Router) Step(s metrics.Sample) (ledger.DecisionRecord, error) {
	epoch := r.state.Epoch
	m := s.Metrics

	conf := r.estimator.Confidence(r.ledger.Window(r.cfg.HistoryWindow))
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return ledger.DecisionRecord{}, &InvariantError{Epoch: epoch, Detail: fmt.Sprintf("confidence %v outside [0,1]", conf)}
	}

	next := r.state
	d := r.decide(epoch, &next, s, conf)
	if err := d.path.Validate(); err != nil {
		return ledger.DecisionRecord{}, &InvariantError{Epoch: epoch, Detail: "selected path", Err: err}
	}
	if next.Latched != d.path.IsEmergency() {
		return ledger.DecisionRecord{}, &InvariantError{Epoch: epoch, Detail: fmt.Sprintf("latch=%v with path %s", next.Latched, d.path)}
	}

	rec := ledger.DecisionRecord{
		Epoch:       epoch,
		Path:        d.path,
		Metrics:     m,
		Confidence:  conf,
		Utility:     d.utility.Total,
		ExpectedTPS: min(d.path.Profile().ExpectedTPS, m.TPS),
		Switched:    d.switched,
		Reason:      d.reason,
	}
	if err := r.ledger.Append(rec); err != nil {
		return ledger.DecisionRecord{}, &InvariantError{Epoch: epoch, Detail: "ledger append", Err: err}
	}

	if d.switched {
		next.LastSwitch = epoch
		next.HasSwitched = true
		next.SwitchCount++
	}
	next.Active = d.path
	next.Epoch = epoch + 1
	r.state = next
	r.publish(m.TPS, conf)
	return rec, nil
}

// decide runs the emergency check, the latch release and normal scoring in
// that order, mutating next.
func (r *Router) decide(epoch uint64, next *State, s metrics.Sample, conf float64) decision {
	m := s.Metrics

	if reason, detail := r.trigger(s); reason != consensus.ReasonNone {
		next.ReleaseStreak = 0
		if next.Latched {
			return decision{
				path:    next.Active,
				utility: r.scorePath(next.Active, m, conf),
				reason:  "emergency hold: " + detail,
			}
		}
		next.Latched = true
		next.EmergencyEntries++
		p := consensus.Emergency(reason)
		return decision{
			path:     p,
			utility:  r.scorePath(p, m, conf),
			switched: true,
			reason:   "emergency: " + detail,
		}
	}

	if next.Latched {
		if r.clean(s) {
			next.ReleaseStreak++
		} else {
			next.ReleaseStreak = 0
		}
		if next.ReleaseStreak < r.cfg.ReleaseDwell {
			return decision{
				path:    next.Active,
				utility: r.scorePath(next.Active, m, conf),
				reason:  fmt.Sprintf("emergency dwell: %d/%d clean epochs", next.ReleaseStreak, r.cfg.ReleaseDwell),
			}
		}
		next.Latched = false
		next.ReleaseStreak = 0
		best := r.best(m, conf, next.Active)
		return decision{
			path:     best.Path,
			utility:  best,
			switched: true,
			reason:   fmt.Sprintf("release after %d clean epochs: %s (%.4f)", r.cfg.ReleaseDwell, best.Path, best.Total),
		}
	}

	best := r.best(m, conf, next.Active)
	cur := r.scorePath(next.Active, m, conf)
	g := r.evaluateGate(epoch, *next, best, cur)
	if !g.Switch {
		return decision{path: next.Active, utility: cur, reason: g.Reason}
	}
	return decision{path: best.Path, utility: best, switched: true, reason: g.Reason}
}

// best scores the catalog candidates and returns the argmax. Ties go to
// active, then to catalog order. An empty catalog falls back to Neutral.
func (r *Router) best(m metrics.NetworkMetrics, conf float64, active consensus.Path) Utility {
	cands := r.catalog.Candidates(m)
	if len(cands) == 0 {
		r.logger.Warn("empty candidate set, using neutral path",
			zap.Uint64("tps", m.TPS),
			zap.Float64("anomaly", m.AnomalyScore))
		return r.scorePath(consensus.Neutral(), m, conf)
	}

	var best Utility
	for i, c := range cands {
		u := r.score(c.Path, c.Profile, m, conf)
		if i == 0 || u.Total > best.Total || (u.Total == best.Total && c.Path == active) {
			best = u
		}
	}
	return best
}

func (r *Router) scorePath(p consensus.Path, m metrics.NetworkMetrics, conf float64) Utility {
	return r.score(p, p.Profile(), m, conf)
}

// #endregion step

// #region outbound
// ActivePath returns the path currently in force.
func (r *Router) ActivePath() consensus.Path {
	return r.report.Load().Path
}

// Report returns the latest status snapshot.
func (r *Router) Report() Report {
	return *r.report.Load()
}

// Window returns up to n recent decision records, oldest first.
func (r *Router) Window(n int) []ledger.DecisionRecord {
	return r.ledger.Window(n)
}

// RecordOutcome backfills the realized performance of epoch's decision.
func (r *Router) RecordOutcome(epoch uint64, tps uint64, latency time.Duration) error {
	return r.ledger.UpdateRealized(epoch, ledger.Outcome{TPS: tps, Latency: latency})
}

// State returns a copy of the decision state for checkpointing.
func (r *Router) State() State {
	return r.state
}

// Restore replaces the decision state and ledger contents from a checkpoint.
// history must be ordered by epoch and precede st.Epoch. Call it before any
// concurrent reader starts.
func (r *Router) Restore(st State, history []ledger.DecisionRecord) error {
	if err := st.Active.Validate(); err != nil {
		return fmt.Errorf("restore active path: %w", err)
	}
	if st.Latched != st.Active.IsEmergency() {
		return fmt.Errorf("restore: latch=%v inconsistent with %s", st.Latched, st.Active)
	}
	l := ledger.New(r.cfg.LedgerCapacity)
	for _, rec := range history {
		if rec.Epoch >= st.Epoch {
			return fmt.Errorf("restore: record epoch %d not before state epoch %d", rec.Epoch, st.Epoch)
		}
		if err := l.Append(rec); err != nil {
			return fmt.Errorf("restore ledger: %w", err)
		}
	}
	r.ledger = l
	r.state = st

	var tps uint64
	if last, ok := l.Latest(); ok {
		tps = last.Metrics.TPS
	}
	r.publish(tps, r.estimator.Confidence(l.Window(r.cfg.HistoryWindow)))
	return nil
}

func (r *Router) publish(tps uint64, conf float64) {
	r.report.Store(&Report{
		Epochs:           r.state.Epoch,
		Path:             r.state.Active,
		Confidence:       conf,
		RecentTPS:        tps,
		SwitchCount:      r.state.SwitchCount,
		EmergencyEntries: r.state.EmergencyEntries,
		Latched:          r.state.Latched,
	})
}

// #endregion outbound
