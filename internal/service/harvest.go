package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/control"
	"github.com/MimeLyc/podharvest/internal/fetcher"
	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/internal/metrics"
	"github.com/MimeLyc/podharvest/internal/reconcile"
	"github.com/MimeLyc/podharvest/pkg/file"
	"github.com/MimeLyc/podharvest/pkg/log"
)

const (
	KindHarvest   = "harvest"
	KindRescan    = "rescan"
	KindSummarize = "summarize"

	corruptSuffix = ".corrupt"
)

// RunBatch harvests the selected channels one after another. A failing
// channel is recorded and the batch moves on; the returned error is a
// PartialBatchFailure when any channel failed.
func (s *Service) RunBatch(ctx context.Context, opts RunOptions) (BatchReport, error) {
	entries, notFound, err := s.channels(opts.Channels, opts.MaxChannels)
	if err != nil {
		return BatchReport{Kind: KindHarvest, NotFound: notFound}, err
	}
	log.Info("Harvesting %d channel(s)", len(entries))

	report, err := s.eachChannel(ctx, KindHarvest, opts.TaskID, entries, true, func(ctx context.Context, ch config.Channel) UnitReport {
		h, err := s.RunChannel(ctx, ch, opts)
		return harvestUnit(h, err)
	})
	report.NotFound = notFound
	return report, err
}

func harvestUnit(h ChannelHarvest, err error) UnitReport {
	unit := UnitReport{Unit: h.Channel, Status: UnitSuccess, Err: err}
	switch {
	case h.IndexAction == "":
		unit.Detail = "no index"
	case len(h.Planned) == 0:
		unit.Detail = fmt.Sprintf("index %s, %d indexed, up to date", h.IndexAction, h.Indexed)
	default:
		unit.Detail = fmt.Sprintf("index %s, %d indexed, %d planned, %d fetched", h.IndexAction, h.Indexed, len(h.Planned), h.Fetched)
	}
	if err != nil {
		unit.Status = UnitFailed
	}
	return unit
}

// RunChannel brings the channel's index up to date, fetches what the plan
// says is missing and rescans the control ledger. The control ledger is
// refreshed even when fetching failed, since the fetch tool may have
// completed part of the work.
func (s *Service) RunChannel(ctx context.Context, ch config.Channel, opts RunOptions) (ChannelHarvest, error) {
	h := ChannelHarvest{Channel: ch.Name}
	dir := ch.Dir(s.cfg.Paths.DownloadsDir)

	release, err := s.locks.Lock(ctx, dir)
	if err != nil {
		return h, err
	}
	defer release()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		metrics.RecordChannelRun("failed")
		return h, apperr.Wrap(err, apperr.ErrFileIO, "cannot create channel directory").WithContext("dir", dir)
	}

	idx, action, indexErr := s.ensureIndex(ctx, ch, dir, opts.ForceReindex)
	if idx == nil {
		metrics.RecordChannelRun("failed")
		return h, indexErr
	}
	h.IndexAction = action

	policy := reconcile.Policy{
		RedownloadDeleted: ch.ShouldRedownloadDeleted(),
		NoSkip:            opts.NoSkip,
	}
	plan := reconcile.PlanFetch(dir, idx, control.Load(dir), policy)
	h.Indexed = plan.Indexed
	h.Known = plan.Known
	h.Planned = plan.IDs
	metrics.RecordPlan(ch.Name, len(plan.IDs))
	log.Info("%s: %d indexed, %d already handled, %d to fetch", ch.Name, plan.Indexed, plan.Known, len(plan.IDs))

	urls, missing := reconcile.URLs(idx, plan.IDs)
	h.MissingURLs = missing
	if len(missing) > 0 {
		log.Warn("%s: %d planned item(s) have no source URL: %v", ch.Name, len(missing), missing)
	}

	var fetchErr error
	if len(urls) > 0 {
		fetchErr = s.fetcher.Materialize(ctx, fetcher.RequestFor(ch, s.cfg.Paths.DownloadsDir, opts.Format, urls))
		if fetchErr == nil {
			h.Fetched = len(urls)
		}
	}

	ctl, refreshErr := control.Refresh(dir, !ch.ShouldRedownloadDeleted())
	if refreshErr != nil {
		log.Warn("%s: cannot refresh control ledger: %v", ch.Name, refreshErr)
	} else {
		h.Recorded = len(ctl.Entries)
	}

	err = errors.Join(indexErr, fetchErr, refreshErr)
	if err != nil {
		metrics.RecordChannelRun("failed")
	} else {
		metrics.RecordChannelRun("success")
	}
	return h, err
}

// ensureIndex loads the channel's index and runs discovery when the index
// is missing, the cutoff is new or force is set. When discovery fails but an
// index exists, the existing index is returned with the error.
func (s *Service) ensureIndex(ctx context.Context, ch config.Channel, dir string, force bool) (*index.ChannelIndex, IndexAction, error) {
	idx, err := s.loadIndex(dir)
	if err != nil {
		return nil, "", err
	}

	cutoff := ch.CutoffDate
	if idx != nil && !force && idx.Has(cutoff) {
		log.Info("%s: using existing index (%d items)", ch.Name, idx.TotalVideos)
		return idx, IndexReused, nil
	}

	entries, err := s.fetcher.Discover(ctx, ch.URL, ch.Cutoff())
	if err != nil {
		if idx == nil {
			return nil, "", err
		}
		log.Warn("%s: discovery failed, keeping existing index: %v", ch.Name, err)
		return idx, IndexReused, err
	}

	var action IndexAction
	switch {
	case idx == nil:
		idx = index.New(ch.Name, ch.URL, cutoff, entries)
		action = IndexCreated
	case len(entries) == 0:
		idx = index.TrackCutoff(idx, cutoff)
		action = IndexCutoffTracked
	default:
		idx = index.Merge(idx, entries, cutoff)
		action = IndexMerged
	}
	if err := index.Save(dir, idx); err != nil {
		return nil, "", err
	}
	log.Info("%s: index %s, %d items", ch.Name, action, idx.TotalVideos)
	return idx, action, nil
}

// loadIndex reads the unified index, consolidating legacy per-cutoff files
// first when it does not exist yet. A corrupt index is moved aside and
// treated as absent.
func (s *Service) loadIndex(dir string) (*index.ChannelIndex, error) {
	if !file.IsRegular(index.Path(dir)) {
		legacy, err := index.LegacyFiles(dir)
		if err == nil && len(legacy) > 0 {
			res, err := index.Consolidate(dir, index.ConsolidateOptions{Backup: true})
			if err != nil {
				log.Warn("Cannot consolidate legacy indexes in %s: %v", dir, err)
			} else {
				log.Info("Consolidated %d legacy index file(s) in %s (%s)", len(res.Legacy), dir, res.Action)
			}
		}
	}

	idx, repaired, err := index.Load(dir)
	if apperr.Is(err, apperr.ErrLedgerParse) {
		aside := index.Path(dir) + corruptSuffix
		log.Warn("Corrupt index in %s moved to %s: %v", dir, filepath.Base(aside), err)
		if err := os.Rename(index.Path(dir), aside); err != nil {
			return nil, apperr.Wrap(err, apperr.ErrFileIO, "cannot move corrupt index").WithContext("dir", dir)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(repaired) > 0 {
		log.Info("Repaired index fields in %s: %v", dir, repaired)
		if err := index.Save(dir, idx); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Plan computes the fetch plans of the selected channels from the ledgers
// on disk, without discovery or fetching.
func (s *Service) Plan(ctx context.Context, names []string, max int, noSkip bool) ([]ChannelPlan, error) {
	entries, _, err := s.channels(names, max)
	if err != nil {
		return nil, err
	}
	plans := make([]ChannelPlan, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return plans, err
		}
		if e.Err != nil {
			plans = append(plans, ChannelPlan{Channel: e.Channel.Name, Err: e.Err})
			continue
		}
		plans = append(plans, s.PlanChannel(e.Channel, noSkip))
	}
	return plans, nil
}

// PlanChannel is the read-only plan of one channel.
func (s *Service) PlanChannel(ch config.Channel, noSkip bool) ChannelPlan {
	dir := ch.Dir(s.cfg.Paths.DownloadsDir)
	p := ChannelPlan{Channel: ch.Name, Dir: dir}

	idx, _, err := index.Load(dir)
	if err != nil {
		p.Err = err
		return p
	}
	if idx == nil {
		return p
	}
	p.HasIndex = true

	plan := reconcile.PlanFetch(dir, idx, control.Load(dir), reconcile.Policy{
		RedownloadDeleted: ch.ShouldRedownloadDeleted(),
		NoSkip:            noSkip,
	})
	p.Indexed = plan.Indexed
	p.Known = plan.Known
	p.IDs = plan.IDs
	p.URLs, p.Missing = reconcile.URLs(idx, plan.IDs)
	return p
}

// RescanAll rebuilds the control ledger of every selected channel from
// disk. Channels without a directory are skipped.
func (s *Service) RescanAll(ctx context.Context, names []string, taskID string) (BatchReport, error) {
	entries, notFound, err := s.channels(names, 0)
	if err != nil {
		return BatchReport{Kind: KindRescan, NotFound: notFound}, err
	}
	report, err := s.eachChannel(ctx, KindRescan, taskID, entries, false, func(ctx context.Context, ch config.Channel) UnitReport {
		dir := ch.Dir(s.cfg.Paths.DownloadsDir)
		if !file.IsDir(dir) {
			return UnitReport{Unit: ch.Name, Status: UnitSkipped, Detail: "no channel directory"}
		}
		release, err := s.locks.Lock(ctx, dir)
		if err != nil {
			return UnitReport{Unit: ch.Name, Status: UnitFailed, Err: err}
		}
		defer release()

		ctl, err := control.Refresh(dir, !ch.ShouldRedownloadDeleted())
		if err != nil {
			return UnitReport{Unit: ch.Name, Status: UnitFailed, Err: err}
		}
		st := ctl.Statistics
		return UnitReport{
			Unit:   ch.Name,
			Status: UnitSuccess,
			Detail: fmt.Sprintf("%d recorded, %d audio, %d video, %d subtitles", st.TotalVideos, st.TotalAudioFiles, st.TotalVideoFiles, st.TotalSubtitles),
		}
	})
	report.NotFound = notFound
	return report, err
}

// channelDirs lists the non-hidden subfolders of the downloads directory.
func (s *Service) channelDirs() ([]string, error) {
	root := s.cfg.Paths.DownloadsDir
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrNotFound, "downloads directory not found").WithContext("dir", root)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !file.Hidden(e.Name()) {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// MergeIndexes consolidates legacy per-cutoff indexes in every channel
// directory. Only directories holding legacy files are reported.
func (s *Service) MergeIndexes(ctx context.Context, opts index.ConsolidateOptions) ([]index.ConsolidateResult, error) {
	dirs, err := s.channelDirs()
	if err != nil {
		return nil, err
	}
	var results []index.ConsolidateResult
	failures := &apperr.PartialBatchFailure{}
	for _, dir := range dirs {
		release, err := s.locks.Lock(ctx, dir)
		if err != nil {
			return results, err
		}
		res, err := index.Consolidate(dir, opts)
		release()

		if err != nil {
			failures.Add(res.Channel, err)
		}
		if len(res.Legacy) > 0 || err != nil {
			failures.Total++
			results = append(results, res)
		}
	}
	return results, failures.ErrOrNil()
}

// RepairIndexes repairs the unified index of every channel directory.
// Directories without an index are ignored.
func (s *Service) RepairIndexes(ctx context.Context, dryRun bool) ([]RepairResult, error) {
	dirs, err := s.channelDirs()
	if err != nil {
		return nil, err
	}
	var results []RepairResult
	failures := &apperr.PartialBatchFailure{}
	for _, dir := range dirs {
		release, err := s.locks.Lock(ctx, dir)
		if err != nil {
			return results, err
		}
		repaired, err := index.RepairFile(dir, dryRun)
		release()

		if apperr.Is(err, apperr.ErrNotFound) {
			continue
		}
		failures.Total++
		res := RepairResult{Channel: filepath.Base(dir), Repaired: repaired, Err: err}
		if err != nil {
			failures.Add(res.Channel, err)
		}
		results = append(results, res)
	}
	return results, failures.ErrOrNil()
}
