package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

func TestObserveDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	hold := ledger.DecisionRecord{
		Path:       consensus.Neutral(),
		Metrics:    metrics.NetworkMetrics{TPS: 1200, AnomalyScore: 0.1},
		Confidence: 0.6,
		Utility:    0.8,
	}
	m.ObserveDecision(consensus.Neutral(), hold, 0, time.Millisecond)

	enter := ledger.DecisionRecord{
		Epoch:      1,
		Path:       consensus.Emergency(consensus.ReasonAnomalyScore),
		Metrics:    metrics.NetworkMetrics{TPS: 1100, AnomalyScore: 0.9},
		Confidence: 0.55,
		Switched:   true,
	}
	m.ObserveDecision(consensus.Neutral(), enter, 2, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.epochs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.switches.WithLabelValues("hybrid", "emergency")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emergencies.WithLabelValues("anomaly_score")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activePath.WithLabelValues("emergency")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activePath.WithLabelValues("hybrid")))
	assert.Equal(t, 0.55, testutil.ToFloat64(m.confidence))
	assert.Equal(t, 1100.0, testutil.ToFloat64(m.observedTPS))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.staleEpochs))
}

func TestObserveFailure(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.ObserveFailure("publish")
	m.ObserveFailure("publish")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failures.WithLabelValues("publish")))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDecision(consensus.Neutral(), ledger.DecisionRecord{}, 0, 0)
	m.ObserveFailure("sample")
}
