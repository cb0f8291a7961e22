package main

import (
	"fmt"

	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/router"
)

// #region print
func printReport(rep router.Report) {
	fmt.Printf("Path:        %s\n", rep.Path)
	fmt.Printf("Epochs:      %d\n", rep.Epochs)
	fmt.Printf("Confidence:  %.3f\n", rep.Confidence)
	fmt.Printf("Recent TPS:  %d\n", rep.RecentTPS)
	fmt.Printf("Switches:    %d\n", rep.SwitchCount)
	fmt.Printf("Emergencies: %d\n", rep.EmergencyEntries)
	fmt.Printf("Latched:     %v\n", rep.Latched)
}

func printDecisions(recs []ledger.DecisionRecord) {
	fmt.Printf("%6s  %-26s  %8s  %6s  %6s  %s\n", "Epoch", "Path", "TPS", "Conf", "Util", "Reason")
	for _, r := range recs {
		mark := " "
		if r.Switched {
			mark = "*"
		}
		fmt.Printf("%6d%s %-26s  %8d  %6.3f  %6.3f  %s\n",
			r.Epoch, mark, r.Path, r.Metrics.TPS, r.Confidence, r.Utility, r.Reason)
	}
}

// #endregion print
