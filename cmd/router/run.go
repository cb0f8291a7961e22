package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/laudzakusuma/TriUnity/internal/confidence"
	"github.com/laudzakusuma/TriUnity/internal/config"
	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/engine"
	"github.com/laudzakusuma/TriUnity/internal/logging"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
	"github.com/laudzakusuma/TriUnity/internal/router"
	"github.com/laudzakusuma/TriUnity/internal/rpc"
	"github.com/laudzakusuma/TriUnity/internal/simulate"
	"github.com/laudzakusuma/TriUnity/internal/store"
	"github.com/laudzakusuma/TriUnity/internal/telemetry"
)

// #region command
type runFlags struct {
	configPath  string
	dbPath      string
	rpcAddr     string
	metricsAddr string
	profile     string
	epochs      uint64
	noSim       bool
	fresh       bool
}

func runCommand() *cobra.Command {
	var f runFlags
	c := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop with its gRPC and metrics endpoints",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			flags := c.Flags()
			if flags.Changed("db") {
				cfg.DBPath = f.dbPath
			}
			if flags.Changed("rpc-addr") {
				cfg.RPCAddr = f.rpcAddr
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = f.metricsAddr
			}
			if flags.Changed("profile") {
				cfg.Simulate.Profile = f.profile
			}
			if flags.Changed("epochs") {
				cfg.Engine.MaxEpochs = f.epochs
			}
			if f.noSim {
				cfg.Simulate.Enabled = false
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return run(c.Context(), cfg, f.fresh)
		},
	}
	flags := c.Flags()
	flags.StringVar(&f.configPath, "config", "", "path to a TOML config file")
	flags.StringVar(&f.dbPath, "db", "", "checkpoint database path")
	flags.StringVar(&f.rpcAddr, "rpc-addr", "", "gRPC listen address")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus listen address")
	flags.StringVar(&f.profile, "profile", "", "simulated load profile (steady, ramp, attack, quorum-loss)")
	flags.Uint64Var(&f.epochs, "epochs", 0, "stop after this many epochs (0 = run until interrupted)")
	flags.BoolVar(&f.noSim, "no-sim", false, "disable the built-in load simulator")
	flags.BoolVar(&f.fresh, "fresh", false, "ignore any checkpointed router state")
	return c
}

// #endregion command

// #region run
func run(ctx context.Context, cfg config.Config, fresh bool) error {
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rt, err := router.New(cfg.RouterConfig(), consensus.NewCatalog(cfg.CatalogConfig()),
		confidence.New(cfg.ConfidenceConfig()), logger.Named("router"))
	if err != nil {
		return err
	}
	if !fresh {
		if err := restore(st, rt, cfg.Router.LedgerCapacity, logger); err != nil {
			return err
		}
	}

	cfgJSON, _ := json.Marshal(cfg)
	runRec, err := st.BeginRun(string(cfgJSON))
	if err != nil {
		return err
	}
	logger.Info("run started",
		zap.String("run_id", runRec.ID),
		zap.String("db", cfg.DBPath),
		zap.Stringer("path", rt.ActivePath()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tm, err := telemetry.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sampler := metrics.NewSampler(cfg.SamplerConfig())
	eng, err := engine.New(cfg.EngineConfig(), sampler, rt, engine.Deps{
		Checkpointer: st.Writer(runRec.ID),
		Metrics:      tm,
		Logger:       logger.Named("engine"),
	})
	if err != nil {
		return err
	}

	var sim *simulate.Simulator
	if cfg.Simulate.Enabled {
		if sim, err = simulate.New(cfg.SimulateConfig(), sampler, logger.Named("simulate")); err != nil {
			return err
		}
	}

	lis, err := net.Listen("tcp", cfg.RPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.RPCAddr, err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor(logger.Named("rpc"))))
	rpc.NewServer(rt).Register(grpcServer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return eng.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if sim != nil {
		g.Go(func() error { return sim.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.GracefulStop()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	rep := rt.Report()
	logger.Info("run stopped",
		zap.String("run_id", runRec.ID),
		zap.Uint64("epochs", eng.Epochs()),
		zap.Stringer("path", rep.Path),
		zap.Uint64("switches", rep.SwitchCount),
		zap.Uint64("emergency_entries", rep.EmergencyEntries))
	return err
}

// restore resumes the router from the last checkpoint, if any.
func restore(st *store.Store, rt *router.Router, capacity int, logger *zap.Logger) error {
	runID, state, err := st.LoadState()
	if errors.Is(err, store.ErrNoState) {
		return nil
	}
	if err != nil {
		return err
	}
	history, err := st.RecentDecisions(runID, capacity)
	if err != nil {
		return err
	}
	if err := rt.Restore(state, history); err != nil {
		return err
	}
	logger.Info("restored checkpoint",
		zap.String("from_run", runID),
		zap.Uint64("next_epoch", state.Epoch),
		zap.Int("history", len(history)),
		zap.Stringer("path", state.Active))
	return nil
}

// #endregion run
