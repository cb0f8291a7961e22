package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"go.uber.org/zap/zapcore"

	"github.com/laudzakusuma/TriUnity/internal/confidence"
	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/engine"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
	"github.com/laudzakusuma/TriUnity/internal/replay"
	"github.com/laudzakusuma/TriUnity/internal/router"
	"github.com/laudzakusuma/TriUnity/internal/simulate"
)

// #region types
// Config is the router process configuration. Durations are integer
// milliseconds.
type Config struct {
	LogLevel    string `toml:"log_level" json:"log_level"`
	LogJSON     bool   `toml:"log_json" json:"log_json"`
	DBPath      string `toml:"db_path" json:"db_path"`
	RPCAddr     string `toml:"rpc_addr" json:"rpc_addr"`
	MetricsAddr string `toml:"metrics_addr" json:"metrics_addr"`

	Engine     EngineConfig     `toml:"engine" json:"engine"`
	Sampler    SamplerConfig    `toml:"sampler" json:"sampler"`
	Router     RouterConfig     `toml:"router" json:"router"`
	Catalog    CatalogConfig    `toml:"catalog" json:"catalog"`
	Confidence ConfidenceConfig `toml:"confidence" json:"confidence"`
	Simulate   SimulateConfig   `toml:"simulate" json:"simulate"`
}

// EngineConfig is the [engine] table.
type EngineConfig struct {
	EpochIntervalMS  int64  `toml:"epoch_interval_ms" json:"epoch_interval_ms"`
	SampleTimeoutMS  int64  `toml:"sample_timeout_ms" json:"sample_timeout_ms"`
	PublishTimeoutMS int64  `toml:"publish_timeout_ms" json:"publish_timeout_ms"`
	MaxEpochs        uint64 `toml:"max_epochs" json:"max_epochs"`
}

// SamplerConfig is the [sampler] table.
type SamplerConfig struct {
	WindowMS    int64 `toml:"window_ms" json:"window_ms"`
	Buckets     int   `toml:"buckets" json:"buckets"`
	HistorySize int   `toml:"history_size" json:"history_size"`
}

// RouterConfig is the [router] table.
type RouterConfig struct {
	EmergencyThreshold float64 `toml:"emergency_threshold" json:"emergency_threshold"`
	ReleaseThreshold   float64 `toml:"release_threshold" json:"release_threshold"`
	ReleaseDwell       int     `toml:"release_dwell" json:"release_dwell"`
	MinQuorum          uint32  `toml:"min_quorum" json:"min_quorum"`
	MaxStaleEpochs     int     `toml:"max_stale_epochs" json:"max_stale_epochs"`
	SwitchMargin       float64 `toml:"switch_margin" json:"switch_margin"`
	MinSwitchGap       uint64  `toml:"min_switch_gap" json:"min_switch_gap"`
	ThroughputWeight   float64 `toml:"throughput_weight" json:"throughput_weight"`
	SecurityWeight     float64 `toml:"security_weight" json:"security_weight"`
	ConfidenceWeight   float64 `toml:"confidence_weight" json:"confidence_weight"`
	Headroom           float64 `toml:"headroom" json:"headroom"`
	OvershootPenalty   float64 `toml:"overshoot_penalty" json:"overshoot_penalty"`
	FastLanePenalty    float64 `toml:"fast_lane_penalty" json:"fast_lane_penalty"`
	HistoryWindow      int     `toml:"history_window" json:"history_window"`
	LedgerCapacity     int     `toml:"ledger_capacity" json:"ledger_capacity"`
}

// CatalogConfig is the [catalog] table. Its quorum follows [router].
type CatalogConfig struct {
	NominalRisk  float64 `toml:"nominal_risk" json:"nominal_risk"`
	ElevatedRisk float64 `toml:"elevated_risk" json:"elevated_risk"`
	LowDemand    uint64  `toml:"low_demand" json:"low_demand"`
	PeakDemand   uint64  `toml:"peak_demand" json:"peak_demand"`
	ThinFactor   uint32  `toml:"thin_factor" json:"thin_factor"`
}

// ConfidenceConfig is the [confidence] table.
type ConfidenceConfig struct {
	Floor           float64 `toml:"floor" json:"floor"`
	HitWeight       float64 `toml:"hit_weight" json:"hit_weight"`
	StabilityWeight float64 `toml:"stability_weight" json:"stability_weight"`
	Tolerance       float64 `toml:"tolerance" json:"tolerance"`
	Decay           float64 `toml:"decay" json:"decay"`
	PriorSamples    float64 `toml:"prior_samples" json:"prior_samples"`
}

// SimulateConfig is the [simulate] table driving the demo load generator.
type SimulateConfig struct {
	Enabled    bool    `toml:"enabled" json:"enabled"`
	Profile    string  `toml:"profile" json:"profile"`
	TickMS     int64   `toml:"tick_ms" json:"tick_ms"`
	Period     int     `toml:"period" json:"period"`
	BaseTPS    uint64  `toml:"base_tps" json:"base_tps"`
	PeakTPS    uint64  `toml:"peak_tps" json:"peak_tps"`
	Validators uint32  `toml:"validators" json:"validators"`
	LatencyMS  int64   `toml:"latency_ms" json:"latency_ms"`
	Jitter     float64 `toml:"jitter" json:"jitter"`
	Seed       int64   `toml:"seed" json:"seed"`
}

// #endregion types

// #region defaults
// Default returns the stock configuration of every component.
func Default() Config {
	e := engine.DefaultConfig()
	s := metrics.DefaultSamplerConfig()
	r := router.DefaultConfig()
	c := consensus.DefaultCatalogConfig()
	k := confidence.DefaultConfig()
	sim := simulate.DefaultConfig()

	return Config{
		LogLevel:    "info",
		DBPath:      "triunity.db",
		RPCAddr:     "localhost:50061",
		MetricsAddr: "localhost:9464",
		Engine: EngineConfig{
			EpochIntervalMS:  e.EpochInterval.Milliseconds(),
			SampleTimeoutMS:  e.SampleTimeout.Milliseconds(),
			PublishTimeoutMS: e.PublishTimeout.Milliseconds(),
			MaxEpochs:        e.MaxEpochs,
		},
		Sampler: SamplerConfig{
			WindowMS:    s.Window.Milliseconds(),
			Buckets:     s.Buckets,
			HistorySize: s.HistorySize,
		},
		Router: RouterConfig{
			EmergencyThreshold: r.EmergencyThreshold,
			ReleaseThreshold:   r.ReleaseThreshold,
			ReleaseDwell:       r.ReleaseDwell,
			MinQuorum:          r.MinQuorum,
			MaxStaleEpochs:     r.MaxStaleEpochs,
			SwitchMargin:       r.SwitchMargin,
			MinSwitchGap:       r.MinSwitchGap,
			ThroughputWeight:   r.ThroughputWeight,
			SecurityWeight:     r.SecurityWeight,
			ConfidenceWeight:   r.ConfidenceWeight,
			Headroom:           r.Headroom,
			OvershootPenalty:   r.OvershootPenalty,
			FastLanePenalty:    r.FastLanePenalty,
			HistoryWindow:      r.HistoryWindow,
			LedgerCapacity:     r.LedgerCapacity,
		},
		Catalog: CatalogConfig{
			NominalRisk:  c.NominalRisk,
			ElevatedRisk: c.ElevatedRisk,
			LowDemand:    c.LowDemand,
			PeakDemand:   c.PeakDemand,
			ThinFactor:   c.ThinFactor,
		},
		Confidence: ConfidenceConfig{
			Floor:           k.Floor,
			HitWeight:       k.HitWeight,
			StabilityWeight: k.StabilityWeight,
			Tolerance:       k.Tolerance,
			Decay:           k.Decay,
			PriorSamples:    k.PriorSamples,
		},
		Simulate: SimulateConfig{
			Enabled:    true,
			Profile:    string(sim.Profile),
			TickMS:     sim.Tick.Milliseconds(),
			Period:     sim.Period,
			BaseTPS:    sim.BaseTPS,
			PeakTPS:    sim.PeakTPS,
			Validators: sim.Validators,
			LatencyMS:  sim.Latency.Milliseconds(),
			Jitter:     sim.Jitter,
			Seed:       sim.Seed,
		},
	}
}

// #endregion defaults

// #region load
// Load reads a TOML file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes TOML data. Keys missing from data keep their defaults.
func Parse(data []byte) (Config, error) {
	base, err := toml.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("marshal defaults: %w", err)
	}
	tree, err := toml.LoadBytes(base)
	if err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	file, err := toml.LoadBytes(data)
	if err != nil {
		return Config{}, err
	}
	merge(tree, file)

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// merge copies every key of src into dst, descending into tables.
func merge(dst, src *toml.Tree) {
	for _, k := range src.Keys() {
		v := src.GetPath([]string{k})
		if sub, ok := v.(*toml.Tree); ok {
			if into, ok := dst.GetPath([]string{k}).(*toml.Tree); ok {
				merge(into, sub)
				continue
			}
		}
		dst.SetPath([]string{k}, v)
	}
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

func (c *Config) applyEnv() {
	c.DBPath = envOr("TRIUNITY_DB", c.DBPath)
	c.RPCAddr = envOr("TRIUNITY_RPC_ADDR", c.RPCAddr)
	c.MetricsAddr = envOr("TRIUNITY_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOr("TRIUNITY_LOG_LEVEL", c.LogLevel)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region conversions
// EngineConfig converts the [engine] table.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		EpochInterval:  ms(c.Engine.EpochIntervalMS),
		SampleTimeout:  ms(c.Engine.SampleTimeoutMS),
		PublishTimeout: ms(c.Engine.PublishTimeoutMS),
		MaxEpochs:      c.Engine.MaxEpochs,
	}
}

// SamplerConfig converts the [sampler] table.
func (c Config) SamplerConfig() metrics.SamplerConfig {
	return metrics.SamplerConfig{
		Window:      ms(c.Sampler.WindowMS),
		Buckets:     c.Sampler.Buckets,
		HistorySize: c.Sampler.HistorySize,
	}
}

// RouterConfig converts the [router] table.
func (c Config) RouterConfig() router.Config {
	r := c.Router
	return router.Config{
		EmergencyThreshold: r.EmergencyThreshold,
		ReleaseThreshold:   r.ReleaseThreshold,
		ReleaseDwell:       r.ReleaseDwell,
		MinQuorum:          r.MinQuorum,
		MaxStaleEpochs:     r.MaxStaleEpochs,
		SwitchMargin:       r.SwitchMargin,
		MinSwitchGap:       r.MinSwitchGap,
		ThroughputWeight:   r.ThroughputWeight,
		SecurityWeight:     r.SecurityWeight,
		ConfidenceWeight:   r.ConfidenceWeight,
		Headroom:           r.Headroom,
		OvershootPenalty:   r.OvershootPenalty,
		FastLanePenalty:    r.FastLanePenalty,
		HistoryWindow:      r.HistoryWindow,
		LedgerCapacity:     r.LedgerCapacity,
	}
}

// CatalogConfig converts the [catalog] table.
func (c Config) CatalogConfig() consensus.CatalogConfig {
	return consensus.CatalogConfig{
		NominalRisk:  c.Catalog.NominalRisk,
		ElevatedRisk: c.Catalog.ElevatedRisk,
		LowDemand:    c.Catalog.LowDemand,
		PeakDemand:   c.Catalog.PeakDemand,
		MinQuorum:    c.Router.MinQuorum,
		ThinFactor:   c.Catalog.ThinFactor,
	}
}

// ConfidenceConfig converts the [confidence] table.
func (c Config) ConfidenceConfig() confidence.Config {
	k := c.Confidence
	return confidence.Config{
		Floor:           k.Floor,
		HitWeight:       k.HitWeight,
		StabilityWeight: k.StabilityWeight,
		Tolerance:       k.Tolerance,
		Decay:           k.Decay,
		PriorSamples:    k.PriorSamples,
	}
}

// SimulateConfig converts the [simulate] table.
func (c Config) SimulateConfig() simulate.Config {
	s := c.Simulate
	return simulate.Config{
		Profile:    simulate.Profile(s.Profile),
		Tick:       ms(s.TickMS),
		Period:     s.Period,
		BaseTPS:    s.BaseTPS,
		PeakTPS:    s.PeakTPS,
		Validators: s.Validators,
		Latency:    ms(s.LatencyMS),
		Jitter:     s.Jitter,
		Seed:       s.Seed,
	}
}

// ReplayConfig bundles the decision components for an offline replay.
func (c Config) ReplayConfig() replay.Config {
	return replay.Config{
		Router:     c.RouterConfig(),
		Catalog:    c.CatalogConfig(),
		Confidence: c.ConfidenceConfig(),
	}
}

func ms(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// #endregion conversions

// #region validate
// Validate reports every problem in the configuration.
func (c Config) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if err := c.EngineConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if c.Sampler.WindowMS <= 0 || c.Sampler.Buckets <= 0 || c.Sampler.HistorySize <= 0 {
		errs = append(errs, errors.New("sampler: window_ms, buckets and history_size must be positive"))
	}
	if err := c.RouterConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("router: %w", err))
	}
	cat := c.Catalog
	if cat.NominalRisk <= 0 || cat.NominalRisk > cat.ElevatedRisk || cat.ElevatedRisk > 1 {
		errs = append(errs, fmt.Errorf("catalog: need 0 < nominal_risk <= elevated_risk <= 1, got %v, %v",
			cat.NominalRisk, cat.ElevatedRisk))
	}
	if cat.LowDemand > cat.PeakDemand {
		errs = append(errs, fmt.Errorf("catalog: low_demand %d above peak_demand %d", cat.LowDemand, cat.PeakDemand))
	}
	k := c.Confidence
	if k.Floor < 0 || k.Floor > 1 {
		errs = append(errs, fmt.Errorf("confidence: floor %v outside [0,1]", k.Floor))
	}
	if k.Decay <= 0 || k.Decay > 1 {
		errs = append(errs, fmt.Errorf("confidence: decay %v outside (0,1]", k.Decay))
	}
	if k.HitWeight < 0 || k.StabilityWeight < 0 || k.HitWeight+k.StabilityWeight <= 0 {
		errs = append(errs, errors.New("confidence: weights must be non-negative and not both zero"))
	}
	if c.Simulate.Enabled {
		if err := c.SimulateConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("simulate: %w", err))
		}
	}
	return errors.Join(errs...)
}

// #endregion validate
