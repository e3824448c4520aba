package service

import (
	"context"
	"path/filepath"

	"github.com/MimeLyc/podharvest/internal/control"
	"github.com/MimeLyc/podharvest/internal/fetcher"
	"github.com/MimeLyc/podharvest/internal/summarize"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// AdHocResult is the outcome of a single-URL job.
type AdHocResult struct {
	ItemDir string
	// Summary is set when the item went through the pipeline.
	Summary *summarize.ItemResult
}

// RunAdHoc fetches one URL into the ad hoc channel and, when transcripts
// were requested, summarizes it. The ad hoc channel is locked for the whole
// job.
func (s *Service) RunAdHoc(ctx context.Context, req fetcher.AdHocRequest, lang string) (AdHocResult, error) {
	dir := filepath.Join(s.cfg.Paths.DownloadsDir, fetcher.AdHocChannel)
	release, err := s.locks.Lock(ctx, dir)
	if err != nil {
		return AdHocResult{}, err
	}
	defer release()

	log.Info("Fetching ad hoc URL %s", req.URL)
	itemDir, err := s.fetcher.FetchAdHoc(ctx, s.cfg.Paths.DownloadsDir, req)
	res := AdHocResult{ItemDir: itemDir}
	if err != nil {
		return res, err
	}
	if _, err := control.Refresh(dir, true); err != nil {
		log.Warn("Cannot refresh ad hoc control ledger: %v", err)
	}

	if !req.Transcript {
		return res, nil
	}
	p, err := s.pipeline(ctx, lang)
	if err != nil {
		return res, err
	}
	item, err := p.ProcessItem(ctx, itemDir)
	res.Summary = &item
	return res, err
}
