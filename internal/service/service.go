package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/llm"
	"github.com/MimeLyc/podharvest/internal/metrics"
	"github.com/MimeLyc/podharvest/internal/persistence"
	"github.com/MimeLyc/podharvest/internal/summarize"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// SettingsSource returns the current summarization service settings.
type SettingsSource interface {
	Get() config.Summarizer
}

// SummarizerFactory builds the summarization client for one run.
type SummarizerFactory func(settings config.Summarizer) (summarize.Summarizer, error)

// Prober checks that the summarization service answers.
type Prober func(ctx context.Context, settings config.Summarizer) error

// Service runs harvests, summarization passes and ad hoc jobs over the
// channel list. Channels are processed one after another.
type Service struct {
	cfg      *config.Config
	fetcher  Fetcher
	settings SettingsSource
	recorder RunRecorder

	limiter       *rate.Limiter
	locks         *channelLocks
	newSummarizer SummarizerFactory
	probe         Prober
	newRunID      func() string
	now           func() time.Time
}

type Option func(*Service)

func WithRecorder(r RunRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithSummarizerFactory(f SummarizerFactory) Option {
	return func(s *Service) { s.newSummarizer = f }
}

func WithProber(p Prober) Option {
	return func(s *Service) { s.probe = p }
}

func WithRunIDs(next func() string) Option {
	return func(s *Service) { s.newRunID = next }
}

func New(cfg *config.Config, f Fetcher, settings SettingsSource, opts ...Option) *Service {
	s := &Service{
		cfg:           cfg,
		fetcher:       f,
		settings:      settings,
		limiter:       newPacer(cfg.Harvest.ChannelDelay),
		locks:         newChannelLocks(),
		newSummarizer: defaultSummarizer,
		probe:         probeModels,
		newRunID:      uuid.NewString,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newPacer allows one channel per delay. A zero delay disables pacing.
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func defaultSummarizer(settings config.Summarizer) (summarize.Summarizer, error) {
	c, err := summarize.NewClient(settings)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// probeModels asks <server>/v1/models for the model list.
func probeModels(ctx context.Context, settings config.Summarizer) error {
	c, err := llm.NewClient(settings.LLMConfig())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	log.Debug("Summarization service lists %d model(s)", len(models))
	return nil
}

// channels loads and filters the channel list. Only an unreadable list is
// an error.
func (s *Service) channels(names []string, max int) ([]config.ChannelEntry, []string, error) {
	entries, err := config.LoadChannels(s.cfg.Paths.ChannelsFile)
	if err != nil {
		return nil, nil, err
	}
	selected, notFound := config.SelectChannels(entries, names, max)
	if len(notFound) > 0 {
		log.Warn("Channels not found in configuration: %v", notFound)
	}
	if len(names) > 0 && len(selected) == 0 {
		return nil, notFound, apperr.Newf(apperr.ErrConfig, "no matching channels for %v", names)
	}
	return selected, notFound, nil
}

// unitFunc handles one valid channel.
type unitFunc func(ctx context.Context, ch config.Channel) UnitReport

// eachChannel runs fn over the entries, sequentially, recording every
// unit. Invalid entries become failed units without calling fn. With
// paced, consecutive channels are spaced by the channel delay.
func (s *Service) eachChannel(ctx context.Context, kind, taskID string, entries []config.ChannelEntry, paced bool, fn unitFunc) (BatchReport, error) {
	report := s.beginRun(ctx, kind, taskID, len(entries))
	for i, e := range entries {
		if paced {
			if err := s.limiter.Wait(ctx); err != nil {
				s.finishRun(ctx, &report)
				return report, err
			}
		}
		if err := ctx.Err(); err != nil {
			s.finishRun(ctx, &report)
			return report, err
		}

		log.Info("[%d/%d] %s: %s", i+1, len(entries), kind, e.Channel.Name)
		var unit UnitReport
		if e.Err != nil {
			unit = UnitReport{Unit: e.Channel.Name, Status: UnitFailed, Detail: "invalid configuration", Err: e.Err}
		} else {
			unit = fn(ctx, e.Channel)
		}
		if unit.Err != nil {
			apperr.Report(unit.Err)
			metrics.RecordError(kind, apperr.TypeOf(unit.Err).String())
		}
		s.recordUnit(ctx, &report, unit)
	}
	s.finishRun(ctx, &report)

	ok, skipped, failed := report.Counts()
	log.Info("%s finished: %d succeeded, %d skipped, %d failed", kind, ok, skipped, failed)
	return report, report.Failure()
}

func (s *Service) beginRun(ctx context.Context, kind, taskID string, total int) BatchReport {
	report := BatchReport{RunID: s.newRunID(), Kind: kind, StartedAt: s.now()}
	if s.recorder != nil {
		err := s.recorder.StartRun(ctx, persistence.Run{
			ID:        report.RunID,
			TaskID:    taskID,
			Kind:      kind,
			StartedAt: report.StartedAt,
			Total:     total,
		})
		if err != nil {
			log.Warn("Cannot record run %s: %v", report.RunID, err)
		}
	}
	return report
}

func (s *Service) recordUnit(ctx context.Context, report *BatchReport, unit UnitReport) {
	report.Units = append(report.Units, unit)
	if s.recorder == nil {
		return
	}
	err := s.recorder.PutUnitResult(context.WithoutCancel(ctx), persistence.UnitResult{
		RunID:     report.RunID,
		Unit:      unit.Unit,
		Status:    string(unit.Status),
		Detail:    unit.Detail,
		Error:     unit.Error(),
		UpdatedAt: s.now(),
	})
	if err != nil {
		log.Warn("Cannot record result of %s: %v", unit.Unit, err)
	}
}

func (s *Service) finishRun(ctx context.Context, report *BatchReport) {
	report.FinishedAt = s.now()
	if s.recorder == nil {
		return
	}
	_, _, failed := report.Counts()
	if err := s.recorder.FinishRun(context.WithoutCancel(ctx), report.RunID, failed, report.FinishedAt); err != nil {
		log.Warn("Cannot finish run %s: %v", report.RunID, err)
	}
}
