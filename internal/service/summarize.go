package service

import (
	"context"
	"fmt"

	"golang.org/x/text/language"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/metrics"
	"github.com/MimeLyc/podharvest/internal/summarize"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// SummarizeBatch runs the summarization pipeline over every selected
// channel with summarization enabled. Invalid channel entries are left to
// the harvest report and ignored here.
func (s *Service) SummarizeBatch(ctx context.Context, opts SummarizeOptions) (BatchReport, error) {
	entries, notFound, err := s.channels(opts.Channels, 0)
	if err != nil {
		return BatchReport{Kind: KindSummarize, NotFound: notFound}, err
	}

	var enabled []config.ChannelEntry
	for _, e := range entries {
		if e.Err == nil && e.Channel.ShouldSummarize() {
			enabled = append(enabled, e)
		}
	}
	if len(enabled) == 0 {
		log.Info("No channels have summarization enabled")
		return BatchReport{Kind: KindSummarize, NotFound: notFound}, nil
	}

	pipeline, err := s.pipeline(ctx, opts.Language)
	if err != nil {
		return BatchReport{Kind: KindSummarize, NotFound: notFound}, err
	}

	log.Info("Summarizing %d channel(s)", len(enabled))
	report, err := s.eachChannel(ctx, KindSummarize, opts.TaskID, enabled, false, func(ctx context.Context, ch config.Channel) UnitReport {
		return s.summarizeChannel(ctx, pipeline, ch)
	})
	report.NotFound = notFound
	return report, err
}

func (s *Service) summarizeChannel(ctx context.Context, p *summarize.Pipeline, ch config.Channel) UnitReport {
	dir := ch.Dir(s.cfg.Paths.DownloadsDir)
	release, err := s.locks.Lock(ctx, dir)
	if err != nil {
		return UnitReport{Unit: ch.Name, Status: UnitFailed, Err: err}
	}
	defer release()

	res, err := p.ProcessChannel(ctx, dir)
	if apperr.Is(err, apperr.ErrNotFound) && len(res.Items) == 0 {
		log.Warn("%s: no channel directory, nothing to summarize", ch.Name)
		return UnitReport{Unit: ch.Name, Status: UnitSkipped, Detail: "no channel directory"}
	}

	done, skipped, failed := res.Counts()
	unit := UnitReport{
		Unit:   ch.Name,
		Status: UnitSuccess,
		Detail: fmt.Sprintf("%d summarized, %d skipped, %d failed", done, skipped, failed),
		Err:    err,
	}
	if err != nil {
		unit.Status = UnitFailed
	}
	return unit
}

// pipeline builds a pipeline over a fresh summarization client. The model
// list probe only warns; the service may still answer chat requests.
func (s *Service) pipeline(ctx context.Context, lang string) (*summarize.Pipeline, error) {
	settings := s.settings.Get()
	if err := settings.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfig, "invalid summarizer settings")
	}

	preferred := s.cfg.Summarize.PreferredLanguage
	if lang != "" {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrConfig, "invalid language").WithContext("language", lang)
		}
		preferred = tag
	}

	client, err := s.newSummarizer(settings)
	if err != nil {
		return nil, err
	}
	if s.probe != nil {
		if err := s.probe(ctx, settings); err != nil {
			log.Warn("Summarization service at %s did not list models: %v", settings.ServerURL, err)
			metrics.RecordError("summarize_probe", apperr.TypeOf(err).String())
		}
	}
	return summarize.NewPipeline(client, preferred), nil
}
