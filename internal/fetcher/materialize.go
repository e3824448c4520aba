package fetcher

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/pkg/log"
)

const (
	// AdHocChannel is the channel directory that receives single URLs.
	AdHocChannel = "AdHoc_URLs"
	adHocOutput  = "%(upload_date)s_%(uploader)s_%(title)s"
)

var defaultSubtitleLangs = []string{"en", "pl"}

// Request describes one materialization run.
type Request struct {
	Dest         string
	OutputFormat string
	ContentType  config.ContentType
	// Format overrides the format selector derived from ContentType.
	Format     string
	Metadata   bool
	Transcript bool
	Languages  []string
	URLs       []string
}

// RequestFor builds the request for a channel's planned URLs.
func RequestFor(ch config.Channel, downloadsDir, format string, urls []string) Request {
	return Request{
		Dest:         ch.Dir(downloadsDir),
		OutputFormat: ch.Format(),
		ContentType:  ch.ContentType,
		Format:       format,
		Metadata:     ch.WantsMetadata(),
		Transcript:   ch.WantsTranscript(),
		Languages:    ch.TranscriptLanguages,
		URLs:         urls,
	}
}

// Materialize fetches req.URLs, one subfolder per item under req.Dest.
// Thumbnails are reduced to the largest one per item afterwards.
func (f *Fetcher) Materialize(ctx context.Context, req Request) error {
	if len(req.URLs) == 0 {
		return nil
	}
	if err := os.MkdirAll(req.Dest, 0o755); err != nil {
		return apperr.Wrap(err, apperr.ErrFileIO, "cannot create destination").WithContext("dir", req.Dest)
	}

	log.Info("Fetching %d item(s) into %s (%s)", len(req.URLs), req.Dest, req.ContentType)
	if err := f.runner.Run(ctx, f.tool, materializeArgs(req)...); err != nil {
		return apperr.Wrap(err, apperr.ErrTransport, "fetch tool failed").WithContext("items", len(req.URLs))
	}

	if req.Metadata {
		groups, removed, err := CleanupThumbnails(req.Dest)
		if err != nil {
			log.Warn("Thumbnail cleanup failed: %v", err)
		} else if groups > 0 {
			log.Info("Kept the largest thumbnail in %d group(s), removed %d", groups, removed)
		}
	}
	return nil
}

func formatSelector(req Request) string {
	if req.Format != "" {
		return req.Format
	}
	if req.ContentType == config.ContentAudio {
		return "bestaudio/best"
	}
	return "best"
}

func materializeArgs(req Request) []string {
	output := req.OutputFormat
	if output == "" {
		output = config.DefaultOutputFormat
	}
	args := []string{
		"--output", filepath.Join(req.Dest, output, output+".%(ext)s"),
		"--restrict-filenames",
		"--no-overwrites",
		"--continue",
		"--write-info-json",
		"--write-description",
		"--ignore-errors",
	}
	if req.Metadata {
		args = append(args, "--write-thumbnail", "--write-annotations")
	}
	if req.Transcript {
		langs := "all"
		if len(req.Languages) > 0 {
			langs = strings.Join(req.Languages, ",")
		}
		args = append(args,
			"--write-subs",
			"--write-auto-subs",
			"--convert-subs", "srt",
			"--sub-langs", langs,
		)
	}
	args = append(args, "--format", formatSelector(req))
	if req.ContentType == config.ContentAudio {
		args = append(args,
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "0",
			"--embed-metadata",
			"--add-metadata",
		)
	}
	return append(args, req.URLs...)
}

// AdHocRequest is a single URL fetched outside any configured channel.
type AdHocRequest struct {
	URL         string
	ContentType config.ContentType
	Transcript  bool
}

// ItemID extracts the "v" query parameter of an item URL, or "unknown".
func ItemID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	if v := u.Query().Get("v"); v != "" {
		return filepath.Base(v)
	}
	return "unknown"
}

// FetchAdHoc materializes one URL into <downloadsDir>/AdHoc_URLs/<id> and
// returns that item folder.
func (f *Fetcher) FetchAdHoc(ctx context.Context, downloadsDir string, req AdHocRequest) (string, error) {
	if req.URL == "" {
		return "", apperr.New(apperr.ErrConfig, "url is required")
	}
	dir := filepath.Join(downloadsDir, AdHocChannel, ItemID(req.URL))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(err, apperr.ErrFileIO, "cannot create item folder").WithContext("dir", dir)
	}

	if err := f.runner.Run(ctx, f.tool, adHocArgs(dir, req)...); err != nil {
		return dir, apperr.Wrap(err, apperr.ErrTransport, "fetch tool failed").WithContext("url", req.URL)
	}
	return dir, nil
}

func adHocArgs(dir string, req AdHocRequest) []string {
	format := "best"
	if req.ContentType != config.ContentVideo {
		format = "bestaudio[ext=mp3]/bestaudio/best"
	}
	args := []string{
		"--format", format,
		"--output", filepath.Join(dir, adHocOutput+".%(ext)s"),
		"--write-info-json",
		"--write-description",
		"--write-thumbnail",
	}
	if req.Transcript {
		args = append(args,
			"--write-subs",
			"--sub-langs", strings.Join(defaultSubtitleLangs, ","),
			"--convert-subs", "srt",
		)
	}
	return append(args, req.URL)
}
