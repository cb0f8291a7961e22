package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
)

const (
	namespace = "triunity"
	subsystem = "router"
)

var allKinds = []consensus.Kind{
	consensus.KindFastLane, consensus.KindSecureLane, consensus.KindHybrid, consensus.KindEmergency,
}

// #region metrics
// Metrics holds the router's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	epochs        prometheus.Counter
	switches      *prometheus.CounterVec
	emergencies   *prometheus.CounterVec
	activePath    *prometheus.GaugeVec
	confidence    prometheus.Gauge
	utility       prometheus.Gauge
	observedTPS   prometheus.Gauge
	anomaly       prometheus.Gauge
	staleEpochs   prometheus.Gauge
	failures      *prometheus.CounterVec
	epochDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	epochDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "epoch_duration_seconds",
		Help:      "Wall time spent per decision epoch.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m := &Metrics{
		epochs:        prometheus.NewCounter(counterOpts("epochs_total", "Decision epochs completed.")),
		switches:      prometheus.NewCounterVec(counterOpts("path_switches_total", "Path switches segmented by source and destination kind."), []string{"from", "to"}),
		emergencies:   prometheus.NewCounterVec(counterOpts("emergency_entries_total", "Entries into emergency mode segmented by trigger."), []string{"trigger"}),
		activePath:    prometheus.NewGaugeVec(gaugeOpts("active_path", "1 for the active path kind, 0 otherwise."), []string{"kind"}),
		confidence:    prometheus.NewGauge(gaugeOpts("confidence", "Confidence used for the latest decision.")),
		utility:       prometheus.NewGauge(gaugeOpts("utility", "Utility of the latest selected path.")),
		observedTPS:   prometheus.NewGauge(gaugeOpts("observed_tps", "Throughput demand seen by the latest decision.")),
		anomaly:       prometheus.NewGauge(gaugeOpts("anomaly_score", "Anomaly score seen by the latest decision.")),
		staleEpochs:   prometheus.NewGauge(gaugeOpts("stale_epochs", "Consecutive epochs decided on a reused metrics snapshot.")),
		failures:      prometheus.NewCounterVec(counterOpts("failures_total", "Non-fatal loop failures segmented by stage."), []string{"stage"}),
		epochDuration: epochDuration,
	}

	for _, c := range []prometheus.Collector{
		m.epochs, m.switches, m.emergencies, m.activePath, m.confidence, m.utility,
		m.observedTPS, m.anomaly, m.staleEpochs, m.failures, m.epochDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

func gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

// #endregion metrics

// #region observe
// ObserveDecision records one epoch's decision. prev is the path active
// before it.
func (m *Metrics) ObserveDecision(prev consensus.Path, rec ledger.DecisionRecord, staleEpochs int, took time.Duration) {
	if m == nil {
		return
	}
	m.epochs.Inc()
	if rec.Switched {
		m.switches.WithLabelValues(string(prev.Kind), string(rec.Path.Kind)).Inc()
		if rec.Path.IsEmergency() {
			m.emergencies.WithLabelValues(string(rec.Path.TriggeredBy)).Inc()
		}
	}
	for _, k := range allKinds {
		v := 0.0
		if k == rec.Path.Kind {
			v = 1
		}
		m.activePath.WithLabelValues(string(k)).Set(v)
	}
	m.confidence.Set(rec.Confidence)
	m.utility.Set(rec.Utility)
	m.observedTPS.Set(float64(rec.Metrics.TPS))
	m.anomaly.Set(rec.Metrics.AnomalyScore)
	m.staleEpochs.Set(float64(staleEpochs))
	m.epochDuration.Observe(took.Seconds())
}

// ObserveFailure counts a non-fatal failure in stage ("sample", "publish",
// "checkpoint", "backfill").
func (m *Metrics) ObserveFailure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

// #endregion observe
