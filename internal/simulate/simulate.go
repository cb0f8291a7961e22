package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

// #region profiles
// Profile names a synthetic load shape.
type Profile string

const (
	ProfileSteady     Profile = "steady"
	ProfileRamp       Profile = "ramp"
	ProfileAttack     Profile = "attack"
	ProfileQuorumLoss Profile = "quorum-loss"
)

// Profiles lists every supported profile.
var Profiles = []Profile{ProfileSteady, ProfileRamp, ProfileAttack, ProfileQuorumLoss}

// ParseProfile validates a profile name.
func ParseProfile(s string) (Profile, error) {
	for _, p := range Profiles {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown load profile %q", s)
}

// #endregion profiles

// #region config
// Config shapes the generated load. Period is measured in ticks.
type Config struct {
	Profile    Profile
	Tick       time.Duration
	Period     int
	BaseTPS    uint64
	PeakTPS    uint64
	Validators uint32
	Latency    time.Duration
	Jitter     float64 // relative TPS noise, [0,1)
	Seed       int64
}

// DefaultConfig returns a steady 2k TPS network of 21 validators ticking every 100ms.
func DefaultConfig() Config {
	return Config{
		Profile:    ProfileSteady,
		Tick:       100 * time.Millisecond,
		Period:     200,
		BaseTPS:    2_000,
		PeakTPS:    60_000,
		Validators: 21,
		Latency:    150 * time.Millisecond,
		Jitter:     0.05,
		Seed:       1,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseProfile(string(c.Profile)); err != nil {
		errs = append(errs, err)
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", c.Tick))
	}
	if c.Period < 8 {
		errs = append(errs, fmt.Errorf("period %d must be at least 8 ticks", c.Period))
	}
	if c.PeakTPS < c.BaseTPS {
		errs = append(errs, fmt.Errorf("peak tps %d below base tps %d", c.PeakTPS, c.BaseTPS))
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("jitter %v outside [0,1)", c.Jitter))
	}
	return errors.Join(errs...)
}

// #endregion config

// #region load
// Load is the network condition generated for one tick.
type Load struct {
	TPS        uint64
	Validators uint32
	Latency    time.Duration
	Anomaly    float64
}

// Plan returns the noise-free load of profile at tick.
func Plan(cfg Config, tick int) Load {
	l := Load{
		TPS:        cfg.BaseTPS,
		Validators: cfg.Validators,
		Latency:    cfg.Latency,
		Anomaly:    0.05,
	}
	phase := tick % cfg.Period

	switch cfg.Profile {
	case ProfileRamp:
		half := cfg.Period / 2
		frac := float64(phase) / float64(half)
		if phase >= half {
			frac = 1
		}
		l.TPS = cfg.BaseTPS + uint64(frac*float64(cfg.PeakTPS-cfg.BaseTPS))
		l.Latency = cfg.Latency + time.Duration(frac*float64(cfg.Latency))
	case ProfileAttack:
		start, end := cfg.Period/2, cfg.Period/2+cfg.Period/4
		if phase >= start && phase < end {
			l.Anomaly = 0.9
			l.Latency = 3 * cfg.Latency
		}
	case ProfileQuorumLoss:
		start, end := cfg.Period/2, cfg.Period/2+cfg.Period/8
		if phase >= start && phase < end {
			l.Validators = 2
			l.Anomaly = 0.2
		}
	}
	return l
}

// #endregion load

// #region simulator
// Recorder is the write side of a metrics.Sampler.
type Recorder interface {
	RecordTransactions(n uint64)
	ObserveLatency(d time.Duration)
	RecordSecurityEvent(sev metrics.Severity)
	SetValidatorCount(n uint32)
	SetAnomalyScore(a float64)
}

// Simulator feeds Plan's load into a Recorder once per tick.
type Simulator struct {
	cfg    Config
	rec    Recorder
	rng    *rand.Rand
	logger *zap.Logger
	tick   int
}

// New creates a Simulator writing into rec. logger may be nil.
func New(cfg Config, rec Recorder, logger *zap.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("simulate config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		cfg:    cfg,
		rec:    rec,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger,
	}, nil
}

// Step writes one tick of load and returns it.
func (s *Simulator) Step() Load {
	l := Plan(s.cfg, s.tick)
	if s.cfg.Jitter > 0 {
		noise := 1 + s.cfg.Jitter*(2*s.rng.Float64()-1)
		l.TPS = uint64(float64(l.TPS) * noise)
	}
	s.tick++

	s.rec.SetValidatorCount(l.Validators)
	s.rec.SetAnomalyScore(l.Anomaly)
	s.rec.RecordTransactions(uint64(float64(l.TPS) * s.cfg.Tick.Seconds()))
	s.rec.ObserveLatency(l.Latency)
	if l.Anomaly >= 0.5 {
		s.rec.RecordSecurityEvent(metrics.SeverityHigh)
	}
	return l
}

// Run steps once per Tick until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.logger.Info("load simulator started",
		zap.String("profile", string(s.cfg.Profile)),
		zap.Uint64("base_tps", s.cfg.BaseTPS))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}

// #endregion simulator
