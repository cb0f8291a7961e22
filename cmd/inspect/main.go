package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/logging"
	"github.com/laudzakusuma/TriUnity/internal/replay"
	"github.com/laudzakusuma/TriUnity/internal/store"
)

// #region main
type globalFlags struct {
	dbPath  string
	runID   string
	jsonOut bool
}

func main() {
	var g globalFlags
	var last int

	root := &cobra.Command{
		Use:           "inspect",
		Short:         "Inspect checkpointed router decisions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, _ []string) error {
			return withStore(g, func(st *store.Store, runID string) error {
				return runListMode(st, runID, last, g.jsonOut)
			})
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.dbPath, "db", "", "path to triunity.db")
	pf.StringVar(&g.runID, "run", "", "run to inspect (default: latest)")
	pf.BoolVar(&g.jsonOut, "json", false, "output as JSON instead of table")
	root.Flags().IntVar(&last, "last", 20, "show N most recent decisions")

	root.AddCommand(runsCommand(&g), transitionsCommand(&g), exportCommand(&g))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withStore opens the database and resolves the run before calling fn.
func withStore(g globalFlags, fn func(st *store.Store, runID string) error) error {
	if g.dbPath == "" {
		return errors.New("--db is required")
	}
	st, err := store.NewStore(g.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	runID := g.runID
	if runID == "" {
		runs, err := st.ListRuns(1)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return errors.New("no runs recorded")
		}
		runID = runs[0].ID
	}
	return fn(st, runID)
}

// #endregion main

// #region list-mode
type listOutput struct {
	RunID     string                  `json:"run_id"`
	Decisions []ledger.DecisionRecord `json:"decisions"`
	ByKind    map[consensus.Kind]int  `json:"by_kind"`
}

func runListMode(st *store.Store, runID string, last int, jsonOut bool) error {
	recs, err := st.RecentDecisions(runID, last)
	if err != nil {
		return err
	}
	counts, err := st.CountByKind(runID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(listOutput{RunID: runID, Decisions: recs, ByKind: counts})
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no decisions found")
		return nil
	}

	fmt.Printf("Run %s\n\n", runID)
	fmt.Printf("%6s  %-26s  %8s  %8s  %6s  %6s  %s\n", "Epoch", "Path", "TPS", "Realized", "Conf", "Util", "Reason")
	fmt.Printf("%6s+-%-26s+-%8s+-%8s+-%6s+-%6s+-%s\n",
		"------", "--------------------------", "--------", "--------", "------", "------", "--------------------")
	for _, r := range recs {
		realized := "-"
		if r.Resolved {
			realized = fmt.Sprintf("%d", r.Outcome.TPS)
		}
		mark := " "
		if r.Switched {
			mark = "*"
		}
		fmt.Printf("%6d%s %-26s  %8d  %8s  %6.3f  %6.3f  %s\n",
			r.Epoch, mark, r.Path, r.Metrics.TPS, realized, r.Confidence, r.Utility, r.Reason)
	}

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	fmt.Printf("\nDecisions by path (whole run):\n")
	for _, k := range kinds {
		fmt.Printf("  %-12s %d\n", k, counts[consensus.Kind(k)])
	}
	return nil
}

// #endregion list-mode

// #region runs
func runsCommand(g *globalFlags) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		RunE: func(c *cobra.Command, _ []string) error {
			if g.dbPath == "" {
				return errors.New("--db is required")
			}
			st, err := store.NewStore(g.dbPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer st.Close()

			runs, err := st.ListRuns(limit)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(runs)
			}
			for _, r := range runs {
				fmt.Printf("%s  %s\n", r.ID, r.StartedAt.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 10, "maximum runs to list")
	return c
}

// #endregion runs

// #region transitions
func transitionsCommand(g *globalFlags) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "transitions",
		Short: "List path transitions of a run",
		RunE: func(c *cobra.Command, _ []string) error {
			return withStore(*g, func(st *store.Store, runID string) error {
				entries, err := logging.ListTransitions(st.DB(), runID, limit)
				if err != nil {
					return err
				}
				if g.jsonOut {
					return printJSON(entries)
				}
				for _, e := range entries {
					fmt.Printf("%6d  %-9s  %s -> %s  (conf %.3f)  %s\n",
						e.Epoch, e.TriggerType, e.FromPath, e.ToPath, e.Confidence, e.Reason)
				}
				return nil
			})
		},
	}
	c.Flags().IntVar(&limit, "limit", 100, "maximum transitions to list")
	return c
}

// #endregion transitions

// #region export
func exportCommand(g *globalFlags) *cobra.Command {
	var (
		last    int
		outPath string
	)
	c := &cobra.Command{
		Use:   "export",
		Short: "Export recent decisions of a run as a replay fixture",
		RunE: func(c *cobra.Command, _ []string) error {
			if outPath == "" {
				return errors.New("--out is required")
			}
			return withStore(*g, func(st *store.Store, runID string) error {
				recs, err := st.RecentDecisions(runID, last)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					return fmt.Errorf("run %s has no decisions", runID)
				}
				fx := replay.FromRecords(fmt.Sprintf("run %s epochs %d-%d", runID, recs[0].Epoch, recs[len(recs)-1].Epoch), recs)
				if err := replay.SaveFixture(outPath, fx); err != nil {
					return err
				}
				fmt.Printf("Exported %d decisions to %s\n", len(recs), outPath)
				return nil
			})
		},
	}
	c.Flags().IntVar(&last, "last", 50, "number of most recent decisions to export")
	c.Flags().StringVar(&outPath, "out", "", "output fixture JSON path")
	return c
}

// #endregion export

// #region helpers
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// #endregion helpers
