package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/internal/persistence"
)

var (
	errJobNotFound   = errors.New("job not found")
	errJobInProgress = errors.New("job is not finished")
)

type jobDetailResponse struct {
	Job      *jobs.Task          `json:"job"`
	Progress jobProgressResponse `json:"progress"`
	Runs     []jobRunResponse    `json:"runs"`
}

type jobProgressResponse struct {
	DoneUnits  int     `json:"done_units"`
	TotalUnits int     `json:"total_units"`
	Percent    float64 `json:"percent"`
}

type jobRunResponse struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Total      int               `json:"total_units"`
	Failed     int               `json:"failed_units"`
	Units      []jobUnitResponse `json:"units"`
}

type jobUnitResponse struct {
	Unit      string    `json:"unit"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleJobDetailRoutes(w http.ResponseWriter, r *http.Request) {
	jobID, action, ok := parseJobRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		s.handleJobDetail(w, r, jobID)
	case "retry":
		s.handleRetryJob(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func parseJobRoute(path string) (jobID string, action string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/api/jobs/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		return "", "", false
	}
	rawID, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(rawID) == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return rawID, "", true
	}
	return rawID, parts[1], true
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	detail, err := s.buildJobDetail(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, errJobNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleRetryJob enqueues a finished task again with the same payload.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	task, ok := s.queue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, errJobNotFound.Error())
		return
	}
	if !task.Status.Terminal() {
		writeError(w, http.StatusConflict, errJobInProgress.Error())
		return
	}
	next, created := s.queue.Enqueue(jobs.EnqueueRequest{
		Kind:      task.Kind,
		Source:    "retry",
		DedupeKey: task.DedupeKey,
		Payload:   task.Payload,
	})
	writeEnqueued(w, next, created)
}

func (s *Server) buildJobDetail(ctx context.Context, jobID string) (jobDetailResponse, error) {
	task, ok := s.queue.Get(jobID)
	if !ok {
		return jobDetailResponse{}, errJobNotFound
	}
	detail := jobDetailResponse{
		Job:  task,
		Runs: []jobRunResponse{},
	}
	if s.runs == nil {
		return detail, nil
	}

	runs, err := s.runs.RunsByTask(ctx, jobID)
	if err != nil {
		return jobDetailResponse{}, err
	}
	for _, run := range runs {
		units, err := s.runs.LoadUnitResults(ctx, run.ID)
		if err != nil {
			return jobDetailResponse{}, err
		}
		detail.Runs = append(detail.Runs, newJobRunResponse(run, units))
	}
	detail.Progress = computeJobProgress(detail.Runs)
	return detail, nil
}

func newJobRunResponse(run persistence.Run, units []persistence.UnitResult) jobRunResponse {
	ret := jobRunResponse{
		ID:         run.ID,
		Kind:       run.Kind,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Total:      run.Total,
		Failed:     run.Failed,
		Units:      make([]jobUnitResponse, 0, len(units)),
	}
	for _, u := range units {
		ret.Units = append(ret.Units, jobUnitResponse{
			Unit:      u.Unit,
			Status:    u.Status,
			Detail:    u.Detail,
			Error:     u.Error,
			UpdatedAt: u.UpdatedAt,
		})
	}
	return ret
}

func computeJobProgress(runs []jobRunResponse) jobProgressResponse {
	var p jobProgressResponse
	for _, run := range runs {
		p.TotalUnits += run.Total
		p.DoneUnits += len(run.Units)
	}
	if p.TotalUnits > 0 {
		p.Percent = float64(p.DoneUnits) * 100 / float64(p.TotalUnits)
	}
	return p
}
