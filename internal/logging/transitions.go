package logging

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/laudzakusuma/TriUnity/internal/consensus"
	"github.com/laudzakusuma/TriUnity/internal/ledger"
)

// #region log-transition
// LogTransition writes one path switch to the path_transitions table.
func LogTransition(db *sql.DB, entry TransitionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO path_transitions (run_id, epoch, from_path, to_path, trigger_type, reason, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		int64(entry.Epoch),
		entry.FromPath,
		entry.ToPath,
		entry.TriggerType,
		nullIfEmpty(entry.Reason),
		entry.Confidence,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return nil
}

// TransitionFor builds the entry for a switched decision, given the path that
// was active before it.
func TransitionFor(runID string, from consensus.Path, rec ledger.DecisionRecord) TransitionEntry {
	trigger := "switch"
	switch {
	case rec.Path.IsEmergency():
		trigger = "emergency"
	case from.IsEmergency():
		trigger = "release"
	}
	return TransitionEntry{
		RunID:       runID,
		Epoch:       rec.Epoch,
		FromPath:    from.String(),
		ToPath:      rec.Path.String(),
		TriggerType: trigger,
		Reason:      rec.Reason,
		Confidence:  rec.Confidence,
	}
}

// #endregion log-transition

// #region list-transitions
// ListTransitions returns up to limit transitions of a run, oldest first.
func ListTransitions(db *sql.DB, runID string, limit int) ([]TransitionEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, epoch, from_path, to_path, trigger_type, reason, confidence, created_at
		 FROM path_transitions WHERE run_id = ? ORDER BY epoch ASC LIMIT ?`, runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionEntry
	for rows.Next() {
		var e TransitionEntry
		var epoch int64
		var reason sql.NullString
		var created string
		if err := rows.Scan(&e.RunID, &epoch, &e.FromPath, &e.ToPath, &e.TriggerType, &reason, &e.Confidence, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Epoch = uint64(epoch)
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-transitions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
