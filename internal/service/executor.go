package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/fetcher"
	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// Harvest runs a batch harvest followed by a summarization pass over the
// same channels. A failing harvest does not prevent summarization of what
// is already on disk.
func (s *Service) Harvest(ctx context.Context, opts RunOptions, summarizeAfter bool) ([]BatchReport, error) {
	harvest, harvestErr := s.RunBatch(ctx, opts)
	reports := []BatchReport{harvest}
	if !summarizeAfter || ctx.Err() != nil || isFatal(harvestErr) {
		return reports, harvestErr
	}

	sum, sumErr := s.SummarizeBatch(ctx, SummarizeOptions{Channels: opts.Channels, TaskID: opts.TaskID})
	if sumErr != nil {
		log.Warn("Summarization after harvest failed: %v", sumErr)
	}
	if len(sum.Units) > 0 {
		reports = append(reports, sum)
	}
	return reports, errors.Join(harvestErr, sumErr)
}

// isFatal reports errors that stop a run before any channel was handled.
func isFatal(err error) bool {
	return err != nil && !apperr.Is(err, apperr.ErrPartialBatch)
}

// Execute runs a background task. It is the queue's executor.
func (s *Service) Execute(ctx context.Context, task *jobs.Task) (string, error) {
	p := task.Payload
	switch task.Kind {
	case jobs.KindAdHocURL:
		req := fetcher.AdHocRequest{
			URL:         p.URL,
			ContentType: config.ContentType(p.ContentType),
			Transcript:  p.Transcript,
		}
		if req.ContentType == "" {
			req.ContentType = config.ContentAudio
		}
		res, err := s.RunAdHoc(ctx, req, p.Language)
		return describeAdHoc(res), err

	case jobs.KindHarvestRun:
		reports, err := s.Harvest(ctx, RunOptions{
			Channels:     p.Channels,
			MaxChannels:  p.MaxChannels,
			NoSkip:       p.NoSkip,
			ForceReindex: p.ForceReindex,
			Format:       p.Format,
			TaskID:       task.ID,
		}, !p.SkipSummarize)
		return describeReports(reports), err

	case jobs.KindSummarizeRun:
		report, err := s.SummarizeBatch(ctx, SummarizeOptions{
			Channels: p.Channels,
			Language: p.Language,
			TaskID:   task.ID,
		})
		return describeReports([]BatchReport{report}), err
	}
	return "", apperr.Newf(apperr.ErrConfig, "unknown task kind %q", task.Kind)
}

func describeReports(reports []BatchReport) string {
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		ok, skipped, failed := r.Counts()
		parts = append(parts, fmt.Sprintf("%s: %d succeeded, %d skipped, %d failed", r.Kind, ok, skipped, failed))
	}
	return strings.Join(parts, "; ")
}

func describeAdHoc(res AdHocResult) string {
	if res.ItemDir == "" {
		return ""
	}
	if res.Summary == nil {
		return "fetched into " + res.ItemDir
	}
	return fmt.Sprintf("fetched into %s, summarized %d of %d chunks", res.ItemDir, res.Summary.ProcessedChunks(), res.Summary.TotalChunks)
}
