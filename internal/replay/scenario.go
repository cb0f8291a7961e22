package replay

import (
	"fmt"
	"sort"
	"time"

	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

// #region baseline
const (
	baseValidators = 50
	baseLatency    = 100 * time.Millisecond
	baseTPS        = 5_000
)

func baseline(tps uint64) metrics.Sample {
	return metrics.Sample{Metrics: metrics.NetworkMetrics{
		TPS:        tps,
		Validators: baseValidators,
		Latency:    baseLatency,
	}}
}

// #endregion baseline

// #region generators
// Ramp rises linearly from `from` to `to` TPS over steps samples, then holds
// at `to` for hold samples.
func Ramp(from, to uint64, steps, hold int) []metrics.Sample {
	out := make([]metrics.Sample, 0, steps+hold)
	for k := 0; k < steps; k++ {
		tps := from
		if steps > 1 {
			tps = from + uint64(k)*(to-from)/uint64(steps-1)
		}
		out = append(out, baseline(tps))
	}
	for k := 0; k < hold; k++ {
		out = append(out, baseline(to))
	}
	return out
}

// AnomalySpike is a quiet network whose anomaly score jumps to score for one
// sample at index at.
func AnomalySpike(n, at int, score float64) []metrics.Sample {
	out := make([]metrics.Sample, n)
	for i := range out {
		out[i] = baseline(baseTPS)
		if i == at {
			out[i].Metrics.AnomalyScore = score
		}
	}
	return out
}

// QuorumDrop loses all but two validators for dur samples starting at at.
func QuorumDrop(n, at, dur int) []metrics.Sample {
	out := make([]metrics.Sample, n)
	for i := range out {
		out[i] = baseline(baseTPS)
		if i >= at && i < at+dur {
			out[i].Metrics.Validators = 2
		}
	}
	return out
}

// Starvation reuses the last snapshot for dur samples starting at at, the
// way the metrics guard does when the source is down.
func Starvation(n, at, dur int) []metrics.Sample {
	out := make([]metrics.Sample, n)
	for i := range out {
		out[i] = baseline(baseTPS)
		if i >= at && i < at+dur {
			out[i].StaleEpochs = i - at + 1
		}
	}
	return out
}

// #endregion generators

// #region named
// Scenarios are the named inputs accepted by the replay binary.
var Scenarios = map[string]func() []metrics.Sample{
	"ramp":          func() []metrics.Sample { return Ramp(1_000, 50_000, 20, 10) },
	"anomaly-spike": func() []metrics.Sample { return AnomalySpike(20, 5, 0.9) },
	"quorum-drop":   func() []metrics.Sample { return QuorumDrop(20, 3, 3) },
	"starvation":    func() []metrics.Sample { return Starvation(20, 4, 6) },
}

// Scenario returns the samples of a named scenario.
func Scenario(name string) ([]metrics.Sample, error) {
	gen, ok := Scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (have %v)", name, ScenarioNames())
	}
	return gen(), nil
}

// ScenarioNames lists the scenarios in sorted order.
func ScenarioNames() []string {
	names := make([]string, 0, len(Scenarios))
	for name := range Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// #endregion named
