package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
	"github.com/laudzakusuma/TriUnity/internal/logging"
	"github.com/laudzakusuma/TriUnity/internal/router"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	config_json   TEXT
);

CREATE TABLE IF NOT EXISTS decisions (
	run_id              TEXT NOT NULL,
	epoch               INTEGER NOT NULL,
	path_kind           TEXT NOT NULL,
	path_json           TEXT NOT NULL,
	metrics_json        TEXT NOT NULL,
	confidence          REAL NOT NULL,
	utility             REAL NOT NULL,
	expected_tps        INTEGER NOT NULL,
	switched            INTEGER NOT NULL DEFAULT 0,
	reason              TEXT,
	realized_tps        INTEGER,
	realized_latency_ns INTEGER,
	created_at          TEXT NOT NULL,
	PRIMARY KEY (run_id, epoch),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS path_transitions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	epoch         INTEGER NOT NULL,
	from_path     TEXT NOT NULL,
	to_path       TEXT NOT NULL,
	trigger_type  TEXT NOT NULL,
	reason        TEXT,
	confidence    REAL NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS router_state (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	run_id        TEXT NOT NULL,
	state_json    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region store-struct
// Store checkpoints decisions and router state in SQLite.
type Store struct {
	db *sql.DB
}

// Run identifies one router process lifetime.
type Run struct {
	ID         string
	StartedAt  time.Time
	ConfigJSON string
}

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoState is returned by LoadState when nothing has been checkpointed.
var ErrNoState = errors.New("no router state checkpointed")

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB runs migrations on an already opened database.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region runs
// BeginRun registers a new run with the config it was started with.
func (s *Store) BeginRun(configJSON string) (Run, error) {
	run := Run{ID: uuid.New().String(), StartedAt: time.Now().UTC(), ConfigJSON: configJSON}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, started_at, config_json) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt.Format(timeFormat), nullIfEmpty(configJSON),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, started_at, config_json FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var cfg sql.NullString
		if err := rows.Scan(&r.ID, &started, &cfg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeFormat, started)
		r.ConfigJSON = cfg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// #endregion runs

// #region checkpoint
// Checkpoint stores one decision and the router state that followed it in a
// single transaction.
func (s *Store) Checkpoint(runID string, rec ledger.DecisionRecord, st router.State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertDecision(tx, runID, rec); err != nil {
		return err
	}
	if err := upsertState(tx, runID, st); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveDecision stores a single decision record.
func (s *Store) SaveDecision(runID string, rec ledger.DecisionRecord) error {
	return insertDecision(s.db, runID, rec)
}

// SaveState upserts the router state.
func (s *Store) SaveState(runID string, st router.State) error {
	return upsertState(s.db, runID, st)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertDecision(ex execer, runID string, rec ledger.DecisionRecord) error {
	pathJSON, err := json.Marshal(rec.Path)
	if err != nil {
		return fmt.Errorf("marshal path: %w", err)
	}
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	var realizedTPS, realizedLatency interface{}
	if rec.Resolved {
		realizedTPS = int64(rec.Outcome.TPS)
		realizedLatency = int64(rec.Outcome.Latency)
	}
	_, err = ex.Exec(
		`INSERT INTO decisions (run_id, epoch, path_kind, path_json, metrics_json, confidence, utility,
		 expected_tps, switched, reason, realized_tps, realized_latency_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, epoch) DO UPDATE SET
		 path_kind = excluded.path_kind, path_json = excluded.path_json, metrics_json = excluded.metrics_json,
		 confidence = excluded.confidence, utility = excluded.utility, expected_tps = excluded.expected_tps,
		 switched = excluded.switched, reason = excluded.reason,
		 realized_tps = excluded.realized_tps, realized_latency_ns = excluded.realized_latency_ns`,
		runID, int64(rec.Epoch), string(rec.Path.Kind), string(pathJSON), string(metricsJSON),
		rec.Confidence, rec.Utility, int64(rec.ExpectedTPS), boolInt(rec.Switched), nullIfEmpty(rec.Reason),
		realizedTPS, realizedLatency, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert decision %d: %w", rec.Epoch, err)
	}
	return nil
}

func upsertState(ex execer, runID string, st router.State) error {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = ex.Exec(
		`INSERT INTO router_state (id, run_id, state_json, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET run_id = excluded.run_id, state_json = excluded.state_json,
		 updated_at = excluded.updated_at`,
		runID, string(stateJSON), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// UpdateOutcome backfills the realized outcome of a stored decision.
func (s *Store) UpdateOutcome(runID string, epoch uint64, out ledger.Outcome) error {
	res, err := s.db.Exec(
		`UPDATE decisions SET realized_tps = ?, realized_latency_ns = ? WHERE run_id = ? AND epoch = ?`,
		int64(out.TPS), int64(out.Latency), runID, int64(epoch),
	)
	if err != nil {
		return fmt.Errorf("update outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update outcome: epoch %d of run %s: %w", epoch, runID, ledger.ErrNotFound)
	}
	return nil
}

// RunWriter binds a Store to one run for the decision loop.
type RunWriter struct {
	store *Store
	runID string
}

// Writer returns a RunWriter for runID.
func (s *Store) Writer(runID string) *RunWriter {
	return &RunWriter{store: s, runID: runID}
}

// RunID returns the run this writer appends to.
func (w *RunWriter) RunID() string {
	return w.runID
}

// Checkpoint stores rec and st, and logs a transition row when rec switched
// away from prev.
func (w *RunWriter) Checkpoint(prev consensus.Path, rec ledger.DecisionRecord, st router.State) error {
	if err := w.store.Checkpoint(w.runID, rec, st); err != nil {
		return err
	}
	if !rec.Switched {
		return nil
	}
	return logging.LogTransition(w.store.db, logging.TransitionFor(w.runID, prev, rec))
}

// UpdateOutcome backfills the realized outcome of epoch in this run.
func (w *RunWriter) UpdateOutcome(epoch uint64, out ledger.Outcome) error {
	return w.store.UpdateOutcome(w.runID, epoch, out)
}

// #endregion checkpoint

// #region load
// LoadState returns the last checkpointed router state and its run.
func (s *Store) LoadState() (string, router.State, error) {
	var runID, stateJSON string
	err := s.db.QueryRow(`SELECT run_id, state_json FROM router_state WHERE id = 1`).Scan(&runID, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", router.State{}, ErrNoState
	}
	if err != nil {
		return "", router.State{}, fmt.Errorf("get state: %w", err)
	}
	var st router.State
	if err := json.Unmarshal([]byte(stateJSON), &st); err != nil {
		return "", router.State{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return runID, st, nil
}

// RecentDecisions returns up to limit decisions of a run, oldest first.
func (s *Store) RecentDecisions(runID string, limit int) ([]ledger.DecisionRecord, error) {
	rows, err := s.db.Query(
		`SELECT epoch, path_json, metrics_json, confidence, utility, expected_tps, switched, reason,
		 realized_tps, realized_latency_ns
		 FROM decisions WHERE run_id = ? ORDER BY epoch DESC LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var records []ledger.DecisionRecord
	for rows.Next() {
		var rec ledger.DecisionRecord
		var epoch, expected int64
		var pathJSON, metricsJSON string
		var switched int
		var reason sql.NullString
		var realizedTPS, realizedLatency sql.NullInt64

		if err := rows.Scan(&epoch, &pathJSON, &metricsJSON, &rec.Confidence, &rec.Utility, &expected,
			&switched, &reason, &realizedTPS, &realizedLatency); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(pathJSON), &rec.Path); err != nil {
			return nil, fmt.Errorf("unmarshal path: %w", err)
		}
		if err := rec.Path.Validate(); err != nil {
			return nil, fmt.Errorf("decision %d: %w", epoch, err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &rec.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		rec.Epoch = uint64(epoch)
		rec.ExpectedTPS = uint64(expected)
		rec.Switched = switched != 0
		rec.Reason = reason.String
		if realizedTPS.Valid {
			rec.Resolved = true
			rec.Outcome = ledger.Outcome{TPS: uint64(realizedTPS.Int64), Latency: time.Duration(realizedLatency.Int64)}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest first from the query; callers want chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// CountByKind returns how many decisions of a run chose each path kind.
func (s *Store) CountByKind(runID string) (map[consensus.Kind]int, error) {
	rows, err := s.db.Query(
		`SELECT path_kind, COUNT(*) FROM decisions WHERE run_id = ? GROUP BY path_kind`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}
	defer rows.Close()

	out := make(map[consensus.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[consensus.Kind(kind)] = n
	}
	return out, rows.Err()
}

// #endregion load

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
