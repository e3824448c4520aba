package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/internal/metrics"
	"github.com/MimeLyc/podharvest/internal/persistence"
	"github.com/MimeLyc/podharvest/internal/service"
	"github.com/MimeLyc/podharvest/pkg/icron"
)

type channelService interface {
	ListChannels(search string) ([]service.ChannelInfo, error)
	FindChannel(name string) (config.Channel, bool, error)
	PlanChannel(ch config.Channel, noSkip bool) service.ChannelPlan
}

type summarizerSettingsStore interface {
	Get() config.Summarizer
	Update(next config.Summarizer) (config.Summarizer, error)
}

type scheduleController interface {
	Expr() string
	Info(now time.Time) (*icron.TriggerInfo, error)
	Reschedule(ctx context.Context, expr string) error
	Trigger(source string, payload jobs.Payload) (*jobs.Task, bool)
}

type runStore interface {
	RunsByTask(ctx context.Context, taskID string) ([]persistence.Run, error)
	LoadUnitResults(ctx context.Context, runID string) ([]persistence.UnitResult, error)
}

type Server struct {
	channels     channelService
	queue        *jobs.Queue
	settings     summarizerSettingsStore
	schedule     scheduleController
	runs         runStore
	downloadsDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithSummarizerSettings(store summarizerSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithSchedule(schedule scheduleController) Option {
	return func(s *Server) {
		s.schedule = schedule
	}
}

func WithRunStore(store runStore) Option {
	return func(s *Server) {
		s.runs = store
	}
}

// WithDownloadsDir enables the summary catalog endpoint.
func WithDownloadsDir(dir string) Option {
	return func(s *Server) {
		s.downloadsDir = dir
	}
}

func NewServer(channels channelService, queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		channels: channels,
		queue:    queue,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/channels", s.handleListChannels)
	s.mux.HandleFunc("/api/channels/", s.handleChannelPlan)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/", s.handleJobDetailRoutes)
	s.mux.HandleFunc("/api/run", s.handleRun)
	s.mux.HandleFunc("/api/summarize", s.handleSummarize)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/schedule", s.handleSchedule)
	s.mux.HandleFunc("/api/summaries", s.handleSummaries)
	s.mux.Handle("/metrics", metrics.Handler())
}
