package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/laudzakusuma/TriUnity/internal/config"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
	"github.com/laudzakusuma/TriUnity/internal/replay"
	"github.com/laudzakusuma/TriUnity/internal/store"
)

// #region main
type flags struct {
	fixture    string
	scenario   string
	dbPath     string
	runID      string
	configPath string
	jsonOut    bool
	list       bool
}

func main() {
	var f flags
	c := &cobra.Command{
		Use:   "replay",
		Short: "Replay metrics through the router offline",
		Long: "Replay runs a fixture, a named scenario or a recorded run through a fresh\n" +
			"router and prints every decision. Fixture expectations are checked.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, _ []string) error {
			return run(f)
		},
	}
	fl := c.Flags()
	fl.StringVar(&f.fixture, "fixture", "", "path to fixture JSON (fixture mode)")
	fl.StringVar(&f.scenario, "scenario", "", "named scenario (scenario mode)")
	fl.StringVar(&f.dbPath, "db", "", "checkpoint database (DB mode)")
	fl.StringVar(&f.runID, "run", "", "run to replay in DB mode (default: latest)")
	fl.StringVar(&f.configPath, "config", "", "TOML config for router parameters (scenario and DB modes)")
	fl.BoolVar(&f.jsonOut, "json", false, "output as JSON")
	fl.BoolVar(&f.list, "list", false, "list scenario names")

	if err := c.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region modes
func run(f flags) error {
	if f.list {
		fmt.Println(strings.Join(replay.ScenarioNames(), "\n"))
		return nil
	}

	modes := 0
	for _, s := range []string{f.fixture, f.scenario, f.dbPath} {
		if s != "" {
			modes++
		}
	}
	if modes != 1 {
		return errors.New("exactly one of --fixture, --scenario or --db is required")
	}

	if f.fixture != "" {
		return runFixtureMode(f)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	var samples []metrics.Sample
	var outcomes map[uint64]ledger.Outcome
	if f.scenario != "" {
		if samples, err = replay.Scenario(f.scenario); err != nil {
			return err
		}
	} else {
		fx, err := fixtureFromDB(f.dbPath, f.runID, cfg.Router.LedgerCapacity)
		if err != nil {
			return err
		}
		samples, outcomes = fx.ToSamples(), fx.ToOutcomes()
	}

	res, err := replay.Replay(cfg.ReplayConfig(), samples, outcomes)
	if err != nil {
		return err
	}
	return report(res, nil, f.jsonOut)
}

func runFixtureMode(f flags) error {
	fx, err := replay.LoadFixture(f.fixture)
	if err != nil {
		return err
	}
	res, err := replay.Replay(fx.Config.ToReplayConfig(), fx.ToSamples(), fx.ToOutcomes())
	if err != nil {
		return err
	}
	diffs := fx.Check(res.Records)
	if err := report(res, diffs, f.jsonOut); err != nil {
		return err
	}
	if len(diffs) > 0 {
		return fmt.Errorf("%d expectation(s) failed", len(diffs))
	}
	return nil
}

func fixtureFromDB(dbPath, runID string, limit int) (*replay.Fixture, error) {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	if runID == "" {
		runs, err := st.ListRuns(1)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, errors.New("no runs recorded")
		}
		runID = runs[0].ID
	}
	recs, err := st.RecentDecisions(runID, limit)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("run %s has no decisions", runID)
	}
	return replay.FromRecords("run "+runID, recs), nil
}

// #endregion modes

// #region output
type output struct {
	Summary   replay.Summary          `json:"summary"`
	Decisions []ledger.DecisionRecord `json:"decisions"`
	Failures  []string                `json:"failures,omitempty"`
}

func report(res replay.Result, diffs []string, jsonOut bool) error {
	sum := replay.Summarize(res.Records)
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(output{Summary: sum, Decisions: res.Records, Failures: diffs})
	}

	fmt.Printf("%6s  %-26s  %8s  %5s  %6s  %6s  %s\n", "Epoch", "Path", "TPS", "Vals", "Anom", "Conf", "Reason")
	for _, r := range res.Records {
		mark := " "
		if r.Switched {
			mark = "*"
		}
		fmt.Printf("%6d%s %-26s  %8d  %5d  %6.2f  %6.3f  %s\n",
			r.Epoch, mark, r.Path, r.Metrics.TPS, r.Metrics.Validators, r.Metrics.AnomalyScore, r.Confidence, r.Reason)
	}

	fmt.Printf("\nEpochs: %d | Switches: %d | Emergency entries: %d | Mean confidence: %.3f | Final: %s\n",
		sum.Epochs, sum.Switches, sum.EmergencyEntries, sum.MeanConfidence, sum.FinalPath)
	for kind, n := range sum.ByKind {
		fmt.Printf("  %-12s %d\n", kind, n)
	}
	for _, d := range diffs {
		fmt.Printf("FAIL %s\n", d)
	}
	return nil
}

// #endregion output
