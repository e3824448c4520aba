package jobs

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether a task in this status will not run again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Kind names the work a task performs.
type Kind string

const (
	// KindAdHocURL fetches one URL and summarizes it.
	KindAdHocURL Kind = "adhoc_url"
	// KindHarvestRun runs discovery, planning and materialization over channels.
	KindHarvestRun Kind = "harvest_run"
	// KindSummarizeRun runs the summarization pipeline over channels.
	KindSummarizeRun Kind = "summarize_run"
)

type EnqueueRequest struct {
	Kind      Kind
	Source    string
	DedupeKey string
	Payload   Payload
}

type Payload struct {
	URL          string   `json:"url,omitempty"`
	ContentType  string   `json:"content_type,omitempty"`
	Transcript   bool     `json:"transcript,omitempty"`
	Channels     []string `json:"channels,omitempty"`
	MaxChannels  int      `json:"max_channels,omitempty"`
	NoSkip       bool     `json:"no_skip,omitempty"`
	ForceReindex bool     `json:"force_reindex,omitempty"`
	Format       string   `json:"format,omitempty"`
	// SkipSummarize stops a harvest run before the summarization pass.
	SkipSummarize bool   `json:"skip_summarize,omitempty"`
	Language      string `json:"language,omitempty"`
}

// Task is a unit of background work and its observable state.
type Task struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Source    string    `json:"source"`
	DedupeKey string    `json:"dedupe_key"`
	Payload   Payload   `json:"payload"`
	Status    Status    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
