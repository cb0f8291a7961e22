package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/laudzakusuma/TriUnity/internal/rpc"
)

// #region command
func statusCommand() *cobra.Command {
	var (
		addr    string
		window  uint32
		jsonOut bool
		timeout time.Duration
	)
	c := &cobra.Command{
		Use:   "status",
		Short: "Query a running router over gRPC",
		RunE: func(c *cobra.Command, _ []string) error {
			client, err := rpc.NewClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()
			return status(ctx, client, window, jsonOut)
		},
	}
	flags := c.Flags()
	flags.StringVar(&addr, "addr", envOr("TRIUNITY_RPC_ADDR", "localhost:50061"), "router gRPC address")
	flags.Uint32Var(&window, "window", 0, "also show the last N decisions")
	flags.BoolVar(&jsonOut, "json", false, "output as JSON")
	flags.DurationVar(&timeout, "timeout", 5*time.Second, "RPC timeout")
	return c
}

// #endregion command

// #region status
func status(ctx context.Context, client *rpc.Client, window uint32, jsonOut bool) error {
	rep, err := client.Report(ctx)
	if err != nil {
		return err
	}
	out := map[string]any{"report": rep}
	if window > 0 {
		recs, err := client.LedgerWindow(ctx, window)
		if err != nil {
			return err
		}
		out["decisions"] = recs

		if !jsonOut {
			printReport(rep)
			fmt.Println()
			printDecisions(recs)
			return nil
		}
	}
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printReport(rep)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion status
