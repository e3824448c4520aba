package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/internal/service"
	"github.com/MimeLyc/podharvest/internal/summarize"
	"github.com/MimeLyc/podharvest/pkg/icron"
)

const summarizeDedupeKey = "summarize_run"

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	channels, err := s.channels.ListChannels(r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

type channelPlanResponse struct {
	Channel  string   `json:"channel"`
	Dir      string   `json:"dir"`
	HasIndex bool     `json:"has_index"`
	Indexed  int      `json:"indexed"`
	Known    int      `json:"known"`
	IDs      []string `json:"ids"`
	URLs     []string `json:"urls"`
	Missing  []string `json:"missing,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func newChannelPlanResponse(p service.ChannelPlan) channelPlanResponse {
	resp := channelPlanResponse{
		Channel:  p.Channel,
		Dir:      p.Dir,
		HasIndex: p.HasIndex,
		Indexed:  p.Indexed,
		Known:    p.Known,
		IDs:      p.IDs,
		URLs:     p.URLs,
		Missing:  p.Missing,
	}
	if resp.IDs == nil {
		resp.IDs = []string{}
	}
	if resp.URLs == nil {
		resp.URLs = []string{}
	}
	if p.Err != nil {
		resp.Error = p.Err.Error()
	}
	return resp
}

func (s *Server) handleChannelPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// /api/channels/{name}/plan
	path := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	if !strings.HasSuffix(path, "/plan") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	name := strings.TrimSuffix(strings.TrimSuffix(path, "/plan"), "/")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, "missing channel name")
		return
	}

	ch, ok, err := s.channels.FindChannel(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	noSkip := r.URL.Query().Get("no_skip") == "true"
	writeJSON(w, http.StatusOK, newChannelPlanResponse(s.channels.PlanChannel(ch, noSkip)))
}

type adHocRequest struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Transcript  bool   `json:"transcript"`
	Language    string `json:"language"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.queue.List())
	case http.MethodPost:
		var req adHocRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}
		if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
			return
		}
		switch config.ContentType(req.ContentType) {
		case "":
			req.ContentType = string(config.ContentAudio)
		case config.ContentAudio, config.ContentVideo:
		default:
			writeError(w, http.StatusBadRequest, "content_type must be audio or video")
			return
		}
		if !validLanguage(req.Language) {
			writeError(w, http.StatusBadRequest, "invalid language")
			return
		}

		task, created := s.queue.Enqueue(jobs.EnqueueRequest{
			Kind:      jobs.KindAdHocURL,
			Source:    "api",
			DedupeKey: "adhoc|" + req.URL,
			Payload: jobs.Payload{
				URL:         req.URL,
				ContentType: req.ContentType,
				Transcript:  req.Transcript,
				Language:    req.Language,
			},
		})
		writeEnqueued(w, task, created)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type runRequest struct {
	Channels      []string `json:"channels"`
	MaxChannels   int      `json:"max_channels"`
	NoSkip        bool     `json:"no_skip"`
	ForceReindex  bool     `json:"force_reindex"`
	Format        string   `json:"format"`
	SkipSummarize bool     `json:"skip_summarize"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req runRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.MaxChannels < 0 {
		writeError(w, http.StatusBadRequest, "max_channels must not be negative")
		return
	}

	payload := jobs.Payload{
		Channels:      req.Channels,
		MaxChannels:   req.MaxChannels,
		NoSkip:        req.NoSkip,
		ForceReindex:  req.ForceReindex,
		Format:        req.Format,
		SkipSummarize: req.SkipSummarize,
	}
	var (
		task    *jobs.Task
		created bool
	)
	if s.schedule != nil {
		task, created = s.schedule.Trigger("api", payload)
	} else {
		task, created = s.queue.Enqueue(jobs.EnqueueRequest{
			Kind:      jobs.KindHarvestRun,
			Source:    "api",
			DedupeKey: service.HarvestDedupeKey,
			Payload:   payload,
		})
	}
	writeEnqueued(w, task, created)
}

type summarizeRequest struct {
	Channels []string `json:"channels"`
	Language string   `json:"language"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req summarizeRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if !validLanguage(req.Language) {
		writeError(w, http.StatusBadRequest, "invalid language")
		return
	}
	task, created := s.queue.Enqueue(jobs.EnqueueRequest{
		Kind:      jobs.KindSummarizeRun,
		Source:    "api",
		DedupeKey: summarizeDedupeKey,
		Payload: jobs.Payload{
			Channels: req.Channels,
			Language: req.Language,
		},
	})
	writeEnqueued(w, task, created)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.Get().Redacted())
	case http.MethodPut:
		// Absent fields keep their current values.
		req := s.settings.Get()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.Update(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, saved.Redacted())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type scheduleResponse struct {
	CronExpr string    `json:"cron_expr"`
	Next     time.Time `json:"next"`
	Last     time.Time `json:"last"`
}

type scheduleRequest struct {
	CronExpr string `json:"cron_expr"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedule == nil {
		writeError(w, http.StatusNotImplemented, "scheduler is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req scheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if _, err := icron.Parse(req.CronExpr); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.schedule.Reschedule(r.Context(), req.CronExpr); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	info, err := s.schedule.Info(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		CronExpr: info.Expression,
		Next:     info.Next,
		Last:     info.Last,
	})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.downloadsDir == "" {
		writeError(w, http.StatusNotImplemented, "downloads directory is not configured")
		return
	}
	entries, err := summarize.Catalog(s.downloadsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusOK, []summarize.CatalogEntry{})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if channel := r.URL.Query().Get("channel"); channel != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(e.Channel, channel) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []summarize.CatalogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func validLanguage(raw string) bool {
	if raw == "" {
		return true
	}
	_, err := language.Parse(raw)
	return err == nil
}

// decodeOptionalBody decodes a JSON body into v. An empty body leaves v
// untouched.
func decodeOptionalBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeEnqueued(w http.ResponseWriter, task *jobs.Task, created bool) {
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"created": created,
		"job":     task,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
