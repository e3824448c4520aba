package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/internal/metrics"
	"github.com/MimeLyc/podharvest/pkg/log"
)

const (
	watchURL          = "https://www.youtube.com/watch?v="
	descriptionLimit  = 200
	descriptionSuffix = "..."
	uploadDateLayout  = "20060102"
)

// Fetcher drives the external fetch tool for discovery and materialization.
type Fetcher struct {
	tool         string
	runner       Runner
	probeTimeout time.Duration
	playlistEnd  int
	maxProbes    int
}

func New(cfg config.HarvestConfig, runner Runner) *Fetcher {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Fetcher{
		tool:         cfg.FetchTool,
		runner:       runner,
		probeTimeout: cfg.ProbeTimeout,
		playlistEnd:  cfg.PlaylistEnd,
		maxProbes:    cfg.MaxProbes,
	}
}

// probeResult is the part of a detailed item description we index.
type probeResult struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	UploadDate  string   `json:"upload_date"`
	Duration    *float64 `json:"duration"`
	WebpageURL  string   `json:"webpage_url"`
	Uploader    string   `json:"uploader"`
	ViewCount   *int64   `json:"view_count"`
	Description string   `json:"description"`
}

func (p probeResult) entry() index.Entry {
	e := index.Entry{
		ID:          p.ID,
		Title:       p.Title,
		UploadDate:  p.UploadDate,
		WebpageURL:  p.WebpageURL,
		Uploader:    p.Uploader,
		Description: shortDescription(p.Description),
	}
	if p.Duration != nil {
		e.Duration = *p.Duration
	}
	if p.ViewCount != nil {
		e.ViewCount = *p.ViewCount
	}
	return e
}

// Discover lists the most recent items of channelURL and probes the first
// of them in detail. Items without an upload date, or uploaded before
// cutoff, are dropped. A probe that fails or exceeds the probe timeout is
// skipped; only a failed listing is an error.
func (f *Fetcher) Discover(ctx context.Context, channelURL string, cutoff time.Time) ([]index.Entry, error) {
	out, err := f.runner.Output(ctx, f.tool, f.listArgs(channelURL)...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTransport, "channel listing failed").WithContext("url", channelURL)
	}
	ids := listedIDs(out)
	if len(ids) == 0 {
		log.Info("No items listed for %s", channelURL)
		return nil, nil
	}
	log.Info("Listed %d recent items, probing up to %d", len(ids), f.maxProbes)

	if f.maxProbes > 0 && len(ids) > f.maxProbes {
		ids = ids[:f.maxProbes]
	}
	cutoffStr := cutoff.Format(uploadDateLayout)

	var entries []index.Entry
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		res, err := f.probe(ctx, id, cutoffStr)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn("Timeout probing item %d/%d (%s)", i+1, len(ids), id)
			metrics.RecordProbe("timeout")
			continue
		case err != nil:
			log.Debug("Probe of %s failed: %v", id, err)
			metrics.RecordProbe("error")
			continue
		}
		if res.UploadDate == "" || res.UploadDate < cutoffStr {
			metrics.RecordProbe("filtered")
			continue
		}
		metrics.RecordProbe("kept")
		entries = append(entries, res.entry())
	}
	return entries, nil
}

func (f *Fetcher) probe(ctx context.Context, id, cutoff string) (probeResult, error) {
	pctx := ctx
	if f.probeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, f.probeTimeout)
		defer cancel()
	}
	out, err := f.runner.Output(pctx, f.tool, f.probeArgs(id, cutoff)...)
	if pctx.Err() != nil {
		return probeResult{}, pctx.Err()
	}
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		if err != nil {
			return probeResult{}, err
		}
		return probeResult{}, errors.New("empty probe output")
	}
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return probeResult{}, err
	}
	return res, nil
}

func (f *Fetcher) listArgs(channelURL string) []string {
	return []string{
		"--flat-playlist",
		"--dump-json",
		"--no-download",
		"--ignore-errors",
		"--no-warnings",
		"--playlist-end", strconv.Itoa(f.playlistEnd),
		channelURL,
	}
}

func (f *Fetcher) probeArgs(id, cutoff string) []string {
	return []string{
		"--dump-json",
		"--no-download",
		"--ignore-errors",
		"--no-warnings",
		"--dateafter", cutoff,
		watchURL + id,
	}
}

// listedIDs reads one JSON object per line and keeps their ids in order.
// Lines that are not JSON are ignored.
func listedIDs(out []byte) []string {
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var item struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &item); err != nil || item.ID == "" {
			continue
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func shortDescription(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) > descriptionLimit {
		r = r[:descriptionLimit]
	}
	return string(r) + descriptionSuffix
}
