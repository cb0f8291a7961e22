package ledger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/metrics"
)

// #region types
// Outcome is the realized performance observed one epoch after a decision.
type Outcome struct {
	TPS     uint64        `json:"tps"`
	Latency time.Duration `json:"latency"`
}

// DecisionRecord is one epoch's routing decision. Records carry no wall-clock
// fields so that replays of the same inputs are identical.
type DecisionRecord struct {
	Epoch       uint64                 `json:"epoch"`
	Path        consensus.Path         `json:"path"`
	Metrics     metrics.NetworkMetrics `json:"metrics"`
	Confidence  float64                `json:"confidence"`
	Utility     float64                `json:"utility"`
	ExpectedTPS uint64                 `json:"expected_tps"`
	Switched    bool                   `json:"switched"`
	Reason      string                 `json:"reason"`
	Outcome     Outcome                `json:"outcome"`
	Resolved    bool                   `json:"resolved"`
}

var (
	// ErrNotFound means the epoch was never recorded or has been evicted.
	ErrNotFound = errors.New("decision record not found")
	// ErrAlreadyResolved means the outcome was already backfilled.
	ErrAlreadyResolved = errors.New("decision record already resolved")
	// ErrEpochOrder means an append did not advance the epoch.
	ErrEpochOrder = errors.New("decision epochs must strictly increase")
)

// DefaultCapacity is the number of records retained when none is configured.
const DefaultCapacity = 256

// #endregion types

// #region ledger
// Ledger is a fixed-capacity ring of decision records. One writer appends and
// backfills; any number of readers take copies.
type Ledger struct {
	mu    sync.RWMutex
	arena []DecisionRecord
	head  int // next write slot
	count int

	latest atomic.Pointer[DecisionRecord]
}

// New creates a ledger holding at most capacity records.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{arena: make([]DecisionRecord, capacity)}
}

// Cap returns the ring capacity.
func (l *Ledger) Cap() int {
	return len(l.arena)
}

// Len returns the number of retained records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// #endregion ledger

// #region append
// Append stores rec, evicting the oldest record when full.
func (l *Ledger) Append(rec DecisionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count > 0 {
		last := l.arena[l.index(l.count-1)]
		if rec.Epoch <= last.Epoch {
			return fmt.Errorf("%w: append %d after %d", ErrEpochOrder, rec.Epoch, last.Epoch)
		}
	}
	l.arena[l.head] = rec
	l.head = (l.head + 1) % len(l.arena)
	if l.count < len(l.arena) {
		l.count++
	}
	cp := rec
	l.latest.Store(&cp)
	return nil
}

// #endregion append

// #region reads
// Window returns up to n most recent records, oldest first.
func (l *Ledger) Window(n int) []DecisionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > l.count {
		n = l.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]DecisionRecord, n)
	for i := 0; i < n; i++ {
		out[i] = l.arena[l.index(l.count-n+i)]
	}
	return out
}

// Latest returns the most recent record without taking the lock.
func (l *Ledger) Latest() (DecisionRecord, bool) {
	p := l.latest.Load()
	if p == nil {
		return DecisionRecord{}, false
	}
	return *p, true
}

// Get returns the retained record for epoch.
func (l *Ledger) Get(epoch uint64) (DecisionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.find(epoch)
	if !ok {
		return DecisionRecord{}, false
	}
	return l.arena[i], true
}

// #endregion reads

// #region backfill
// UpdateRealized backfills the observed outcome of epoch's decision.
func (l *Ledger) UpdateRealized(epoch uint64, out Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.find(epoch)
	if !ok {
		return fmt.Errorf("%w: epoch %d", ErrNotFound, epoch)
	}
	rec := l.arena[i]
	if rec.Resolved {
		return fmt.Errorf("%w: epoch %d", ErrAlreadyResolved, epoch)
	}
	rec.Outcome = out
	rec.Resolved = true
	l.arena[i] = rec

	if cur := l.latest.Load(); cur != nil && cur.Epoch == epoch {
		cp := rec
		l.latest.Store(&cp)
	}
	return nil
}

// #endregion backfill

// #region helpers
// index maps a logical position (0 = oldest) to an arena slot. Caller holds l.mu.
func (l *Ledger) index(pos int) int {
	start := l.head - l.count
	if start < 0 {
		start += len(l.arena)
	}
	return (start + pos) % len(l.arena)
}

// find binary-searches the retained records, which are ordered by epoch.
func (l *Ledger) find(epoch uint64) (int, bool) {
	lo, hi := 0, l.count-1
	for lo <= hi {
		mid := (lo + hi) / 2
		slot := l.index(mid)
		switch e := l.arena[slot].Epoch; {
		case e == epoch:
			return slot, true
		case e < epoch:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false
}

// #endregion helpers
