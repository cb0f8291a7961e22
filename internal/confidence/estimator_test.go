package confidence

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
)

// #region helpers
func resolved(epoch uint64, p consensus.Path, expected, realized uint64) ledger.DecisionRecord {
	return ledger.DecisionRecord{
		Epoch:       epoch,
		Path:        p,
		ExpectedTPS: expected,
		Outcome:     ledger.Outcome{TPS: realized},
		Resolved:    true,
	}
}

// #endregion helpers

// #region tests
func TestConfidence_EmptyIsFloor(t *testing.T) {
	e := New(DefaultConfig())
	assert.Equal(t, 0.5, e.Confidence(nil))

	cfg := DefaultConfig()
	cfg.Floor = 0.3
	assert.Equal(t, 0.3, New(cfg).Confidence([]ledger.DecisionRecord{}))
}

func TestConfidence_AllHitsStableApproachesOne(t *testing.T) {
	e := New(DefaultConfig())
	var hist []ledger.DecisionRecord
	for i := uint64(0); i < 60; i++ {
		hist = append(hist, resolved(i, consensus.Neutral(), 10_000, 10_500))
	}
	b := e.Breakdown(hist)
	assert.Equal(t, 1.0, b.HitRate)
	assert.Equal(t, 1.0, b.Stability)
	assert.Equal(t, 60, b.Resolved)
	// 60 samples against a prior of 3 at 0.5
	assert.InDelta(t, (60.0+1.5)/63.0, b.Confidence, 1e-9)
}

func TestConfidence_MissesAndSwitchesLowerIt(t *testing.T) {
	e := New(DefaultConfig())
	var hist []ledger.DecisionRecord
	for i := uint64(0); i < 20; i++ {
		p := consensus.Neutral()
		if i%2 == 1 {
			p = consensus.FastLane(consensus.NominalFastTPS)
		}
		hist = append(hist, resolved(i, p, 10_000, 2_000))
	}
	b := e.Breakdown(hist)
	assert.Equal(t, 0.0, b.HitRate)
	assert.Equal(t, 0.0, b.Stability)
	assert.Less(t, b.Confidence, 0.1)
	assert.GreaterOrEqual(t, b.Confidence, 0.0)
}

func TestConfidence_RecentOutcomesWeighMore(t *testing.T) {
	e := New(DefaultConfig())
	oldMiss := []ledger.DecisionRecord{
		resolved(0, consensus.Neutral(), 10_000, 0),
		resolved(1, consensus.Neutral(), 10_000, 10_000),
	}
	recentMiss := []ledger.DecisionRecord{
		resolved(0, consensus.Neutral(), 10_000, 10_000),
		resolved(1, consensus.Neutral(), 10_000, 0),
	}
	assert.Greater(t, e.Confidence(oldMiss), e.Confidence(recentMiss))
}

func TestConfidence_UnresolvedUsesFloorForHits(t *testing.T) {
	e := New(DefaultConfig())
	hist := []ledger.DecisionRecord{
		{Epoch: 0, Path: consensus.Neutral()},
		{Epoch: 1, Path: consensus.Neutral()},
	}
	b := e.Breakdown(hist)
	assert.Equal(t, 0.5, b.HitRate)
	assert.Equal(t, 0, b.Resolved)
	assert.InDelta(t, 0.7, b.Raw, 1e-9)
	assert.InDelta(t, (2*0.7+3*0.5)/5, b.Confidence, 1e-9)
}

func TestConfidence_ZeroExpectedTPS(t *testing.T) {
	e := New(DefaultConfig())
	idle := []ledger.DecisionRecord{resolved(0, consensus.Neutral(), 0, 0)}
	busy := []ledger.DecisionRecord{resolved(0, consensus.Neutral(), 0, 50)}
	assert.Greater(t, e.Confidence(idle), e.Confidence(busy))
}

func TestConfidence_AlwaysBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	paths := []consensus.Path{consensus.Neutral(), consensus.FastLane(100_000), consensus.SecureLane(0.9)}
	e := New(DefaultConfig())
	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(40)
		hist := make([]ledger.DecisionRecord, n)
		for i := range hist {
			hist[i] = ledger.DecisionRecord{
				Epoch:       uint64(i),
				Path:        paths[rng.Intn(len(paths))],
				ExpectedTPS: uint64(rng.Intn(100_000)),
				Outcome:     ledger.Outcome{TPS: uint64(rng.Intn(100_000))},
				Resolved:    rng.Intn(2) == 0,
			}
		}
		c := e.Confidence(hist)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

// #endregion tests
