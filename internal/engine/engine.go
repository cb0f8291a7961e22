package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
	"github.com/laudzakusuma/TriUnity/internal/router"
	"github.com/laudzakusuma/TriUnity/internal/telemetry"
)

// #region config
// Config bounds the decision loop.
type Config struct {
	EpochInterval  time.Duration `json:"epoch_interval"`
	SampleTimeout  time.Duration `json:"sample_timeout"`
	PublishTimeout time.Duration `json:"publish_timeout"`
	MaxEpochs      uint64        `json:"max_epochs"` // 0 = unbounded
}

// DefaultConfig returns the loop timing used by the router binary.
func DefaultConfig() Config {
	return Config{
		EpochInterval:  500 * time.Millisecond,
		SampleTimeout:  200 * time.Millisecond,
		PublishTimeout: 100 * time.Millisecond,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.EpochInterval <= 0 {
		errs = append(errs, fmt.Errorf("epoch_interval must be positive, got %s", c.EpochInterval))
	}
	if c.SampleTimeout <= 0 || c.SampleTimeout >= c.EpochInterval {
		errs = append(errs, fmt.Errorf("sample_timeout must be in (0, epoch_interval), got %s", c.SampleTimeout))
	}
	if c.PublishTimeout <= 0 {
		errs = append(errs, fmt.Errorf("publish_timeout must be positive, got %s", c.PublishTimeout))
	}
	return errors.Join(errs...)
}

// #endregion config

// #region collaborators
// Publisher receives the active path after every decision.
type Publisher interface {
	Publish(ctx context.Context, p consensus.Path) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, p consensus.Path) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, p consensus.Path) error {
	return f(ctx, p)
}

// Checkpointer persists decisions and their backfilled outcomes.
type Checkpointer interface {
	Checkpoint(prev consensus.Path, rec ledger.DecisionRecord, st router.State) error
	UpdateOutcome(epoch uint64, out ledger.Outcome) error
}

// Deps are the optional collaborators of an Engine. Nil fields are skipped.
type Deps struct {
	Publisher    Publisher
	Checkpointer Checkpointer
	Metrics      *telemetry.Metrics
	Logger       *zap.Logger
}

// #endregion collaborators

// #region engine
// Engine drives a Router from a metrics Source, one epoch at a time.
type Engine struct {
	cfg    Config
	guard  *metrics.Guard
	router *router.Router
	deps   Deps
	logger *zap.Logger

	epochs  uint64
	pending uint64
	hasPend bool
}

// New wires an Engine. The Source is wrapped in a Guard bounded by
// cfg.SampleTimeout.
func New(cfg Config, src metrics.Source, r *router.Router, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		guard:  metrics.NewGuard(src, cfg.SampleTimeout),
		router: r,
		deps:   deps,
		logger: logger,
	}, nil
}

// Epochs returns how many epochs this Engine has run.
func (e *Engine) Epochs() uint64 {
	return e.epochs
}

// Run decides one epoch per EpochInterval until ctx is cancelled, MaxEpochs
// is reached, or an invariant is violated. Cancellation returns nil after the
// in-flight epoch completes.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.EpochInterval)
	defer ticker.Stop()

	for {
		if _, err := e.RunEpoch(ctx); err != nil {
			return err
		}
		if e.cfg.MaxEpochs > 0 && e.epochs >= e.cfg.MaxEpochs {
			e.logger.Info("epoch limit reached", zap.Uint64("epochs", e.epochs))
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// #endregion engine

// #region epoch
// RunEpoch samples, backfills the previous decision, decides, publishes and
// checkpoints. Only invariant violations are returned; everything else is
// logged and counted.
func (e *Engine) RunEpoch(ctx context.Context) (ledger.DecisionRecord, error) {
	start := time.Now()

	s, err := e.guard.Next(ctx)
	if err != nil {
		e.deps.Metrics.ObserveFailure("sample")
		e.logger.Warn("metrics degraded",
			zap.Error(err),
			zap.Int("stale_epochs", s.StaleEpochs))
	}

	if s.Fresh() && e.hasPend {
		e.backfill(e.pending, s.Metrics)
	}

	prev := e.router.ActivePath()
	rec, err := e.router.Step(s)
	if err != nil {
		e.logger.Error("decision invariant violated", zap.Error(err))
		return ledger.DecisionRecord{}, err
	}
	e.epochs++
	e.pending, e.hasPend = rec.Epoch, true

	if e.deps.Publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
		if err := e.deps.Publisher.Publish(pctx, rec.Path); err != nil {
			e.deps.Metrics.ObserveFailure("publish")
			e.logger.Warn("publish path", zap.Error(err), zap.Stringer("path", rec.Path))
		}
		cancel()
	}

	if e.deps.Checkpointer != nil {
		if err := e.deps.Checkpointer.Checkpoint(prev, rec, e.router.State()); err != nil {
			e.deps.Metrics.ObserveFailure("checkpoint")
			e.logger.Warn("checkpoint decision", zap.Error(err), zap.Uint64("epoch", rec.Epoch))
		}
	}

	e.deps.Metrics.ObserveDecision(prev, rec, s.StaleEpochs, time.Since(start))
	e.logDecision(prev, rec, s.StaleEpochs)
	return rec, nil
}

func (e *Engine) backfill(epoch uint64, m metrics.NetworkMetrics) {
	if err := e.router.RecordOutcome(epoch, m.TPS, m.Latency); err != nil {
		e.deps.Metrics.ObserveFailure("backfill")
		e.logger.Debug("backfill outcome", zap.Error(err), zap.Uint64("epoch", epoch))
		return
	}
	if e.deps.Checkpointer != nil {
		out := ledger.Outcome{TPS: m.TPS, Latency: m.Latency}
		if err := e.deps.Checkpointer.UpdateOutcome(epoch, out); err != nil {
			e.deps.Metrics.ObserveFailure("checkpoint")
			e.logger.Warn("store outcome", zap.Error(err), zap.Uint64("epoch", epoch))
		}
	}
}

func (e *Engine) logDecision(prev consensus.Path, rec ledger.DecisionRecord, stale int) {
	fields := []zap.Field{
		zap.Uint64("epoch", rec.Epoch),
		zap.Stringer("path", rec.Path),
		zap.Float64("confidence", rec.Confidence),
		zap.Float64("utility", rec.Utility),
		zap.Uint64("tps", rec.Metrics.TPS),
		zap.Float64("anomaly", rec.Metrics.AnomalyScore),
		zap.Int("stale_epochs", stale),
		zap.String("reason", rec.Reason),
	}
	if rec.Switched {
		e.logger.Info("path switched", append(fields, zap.Stringer("from", prev))...)
		return
	}
	e.logger.Debug("path held", fields...)
}

// #endregion epoch
