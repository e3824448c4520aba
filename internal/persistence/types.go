package persistence

import "time"

// Run is one batch harvest or summarization run.
type Run struct {
	ID         string
	TaskID     string
	Kind       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Total      int
	Failed     int
}

// UnitResult is the outcome of one channel (or item) within a run.
type UnitResult struct {
	RunID     string
	Unit      string
	Status    string
	Detail    string
	Error     string
	UpdatedAt time.Time
}
