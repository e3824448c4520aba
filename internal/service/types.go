package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/fetcher"
	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/internal/persistence"
)

// Fetcher is the external fetch tool as used by the service.
type Fetcher interface {
	Discover(ctx context.Context, channelURL string, cutoff time.Time) ([]index.Entry, error)
	Materialize(ctx context.Context, req fetcher.Request) error
	FetchAdHoc(ctx context.Context, downloadsDir string, req fetcher.AdHocRequest) (string, error)
}

// RunRecorder stores run progress. The sqlite store implements it.
type RunRecorder interface {
	StartRun(ctx context.Context, run persistence.Run) error
	PutUnitResult(ctx context.Context, result persistence.UnitResult) error
	FinishRun(ctx context.Context, runID string, failed int, finishedAt time.Time) error
}

// RunOptions selects channels and toggles for a batch harvest.
type RunOptions struct {
	Channels     []string
	MaxChannels  int
	NoSkip       bool
	ForceReindex bool
	// Format overrides the fetch tool format selector.
	Format string
	// TaskID links the run to the background task that started it.
	TaskID string
}

// SummarizeOptions selects channels for a summarization pass.
type SummarizeOptions struct {
	Channels []string
	// Language overrides the preferred transcript language.
	Language string
	TaskID   string
}

// IndexAction says how a channel's index was brought up to date.
type IndexAction string

const (
	IndexCreated       IndexAction = "created"
	IndexMerged        IndexAction = "merged"
	IndexCutoffTracked IndexAction = "cutoff_tracked"
	IndexReused        IndexAction = "reused"
)

// UnitStatus is the outcome of one channel or item.
type UnitStatus string

const (
	UnitSuccess UnitStatus = "success"
	UnitSkipped UnitStatus = "skipped"
	UnitFailed  UnitStatus = "failed"
)

// ChannelHarvest is what a harvest did for one channel.
type ChannelHarvest struct {
	Channel     string
	IndexAction IndexAction
	Indexed     int
	Known       int
	Planned     []string
	Fetched     int
	MissingURLs []string
	Recorded    int
}

// ChannelPlan is the read-only fetch plan of one channel.
type ChannelPlan struct {
	Channel  string
	Dir      string
	HasIndex bool
	Indexed  int
	Known    int
	IDs      []string
	URLs     []string
	Missing  []string
	Err      error
}

// RepairResult lists the index fields repaired in one channel directory.
type RepairResult struct {
	Channel  string
	Repaired []string
	Err      error
}

// UnitReport is one row of a run report.
type UnitReport struct {
	Unit   string     `json:"unit"`
	Status UnitStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	Err    error      `json:"-"`
}

// Error is the failure message, if any.
func (u UnitReport) Error() string {
	if u.Err == nil {
		return ""
	}
	return u.Err.Error()
}

func (u UnitReport) MarshalJSON() ([]byte, error) {
	type plain UnitReport
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(u), u.Error()})
}

// BatchReport is the per-unit outcome of a run.
type BatchReport struct {
	RunID      string       `json:"run_id"`
	Kind       string       `json:"kind"`
	Units      []UnitReport `json:"units"`
	NotFound   []string     `json:"not_found,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Counts returns the number of succeeded, skipped and failed units.
func (r BatchReport) Counts() (ok, skipped, failed int) {
	for _, u := range r.Units {
		switch u.Status {
		case UnitSuccess:
			ok++
		case UnitSkipped:
			skipped++
		default:
			failed++
		}
	}
	return ok, skipped, failed
}

// Failure returns a PartialBatchFailure when any unit failed.
func (r BatchReport) Failure() error {
	failures := &apperr.PartialBatchFailure{Total: len(r.Units)}
	for _, u := range r.Units {
		if u.Status == UnitFailed {
			failures.Add(u.Unit, u.Err)
		}
	}
	return failures.ErrOrNil()
}
