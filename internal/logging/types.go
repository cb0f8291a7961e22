package logging

import "time"

// #region transition-entry
// TransitionEntry is a single row in the path_transitions table.
type TransitionEntry struct {
	RunID       string
	Epoch       uint64
	FromPath    string
	ToPath      string
	TriggerType string // "emergency" | "release" | "switch"
	Reason      string
	Confidence  float64
	CreatedAt   time.Time
}

// #endregion transition-entry
