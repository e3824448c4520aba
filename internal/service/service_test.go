package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/fetcher"
	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/internal/persistence"
	"github.com/MimeLyc/podharvest/internal/summarize"
)

const alphaURL = "https://www.youtube.com/@alpha"

type fakeFetcher struct {
	mu            sync.Mutex
	discovered    map[string][]index.Entry
	discoverErr   error
	discoverCalls []string
	materialized  [][]string
	fetchErr      error
	// adHocFiles are written into the ad hoc item folder.
	adHocFiles map[string]string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{discovered: map[string][]index.Entry{}}
}

func (f *fakeFetcher) Discover(_ context.Context, channelURL string, _ time.Time) ([]index.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls = append(f.discoverCalls, channelURL)
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return f.discovered[channelURL], nil
}

// Materialize lays items out one subfolder per id, the way the fetch tool
// does with the default output template.
func (f *fakeFetcher) Materialize(_ context.Context, req fetcher.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.materialized = append(f.materialized, append([]string(nil), req.URLs...))
	if f.fetchErr != nil {
		return f.fetchErr
	}
	for _, u := range req.URLs {
		id := fetcher.ItemID(u)
		dir := filepath.Join(req.Dest, id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		info := fmt.Sprintf(`{"id":%q,"title":"Item %s","upload_date":"20250105","webpage_url":%q}`, id, id, u)
		if err := os.WriteFile(filepath.Join(dir, id+".info.json"), []byte(info), 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, id+".mp3"), []byte("audio "+id), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeFetcher) FetchAdHoc(_ context.Context, downloadsDir string, req fetcher.AdHocRequest) (string, error) {
	id := fetcher.ItemID(req.URL)
	dir := filepath.Join(downloadsDir, fetcher.AdHocChannel, id)
	if f.fetchErr != nil {
		return dir, f.fetchErr
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	files := map[string]string{id + ".info.json": fmt.Sprintf(`{"id":%q,"upload_date":"20250105"}`, id)}
	for name, content := range f.adHocFiles {
		files[name] = content
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func (f *fakeFetcher) calls() (discover int, materialize [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.discoverCalls), append([][]string(nil), f.materialized...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	runs     []persistence.Run
	units    []persistence.UnitResult
	finished map[string]int
}

func (r *fakeRecorder) StartRun(_ context.Context, run persistence.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRecorder) PutUnitResult(_ context.Context, u persistence.UnitResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, u)
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, runID string, failed int, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = map[string]int{}
	}
	r.finished[runID] = failed
	return nil
}

type staticSettings config.Summarizer

func (s staticSettings) Get() config.Summarizer { return config.Summarizer(s) }

func validSettings() staticSettings {
	s := config.DefaultSummarizer()
	s.ServerURL = "http://127.0.0.1:1"
	s.ModelName = "test-model"
	s.SystemPrompts = map[string]string{"chunk": "Summarize.", "final": "Combine."}
	return staticSettings(s)
}

// echoSummarizer answers every request without a network.
type echoSummarizer struct {
	mu     sync.Mutex
	chunks int
	fail   bool
}

func (e *echoSummarizer) SummarizeChunk(_ context.Context, text string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks++
	if e.fail {
		return "", apperr.New(apperr.ErrTransport, "service down")
	}
	return "summary: " + text, nil
}

func (e *echoSummarizer) SummarizeFinal(_ context.Context, combined string) (string, error) {
	if e.fail {
		return "", apperr.New(apperr.ErrTransport, "service down")
	}
	return "FINAL " + combined, nil
}

type fixture struct {
	svc       *Service
	cfg       *config.Config
	fetch     *fakeFetcher
	rec       *fakeRecorder
	llm       *echoSummarizer
	probes    int
	downloads string
}

func newFixture(t *testing.T, channels string) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		fetch:     newFakeFetcher(),
		rec:       &fakeRecorder{},
		llm:       &echoSummarizer{},
		downloads: filepath.Join(root, "downloads"),
	}
	f.cfg = &config.Config{
		Paths: config.PathsConfig{
			DownloadsDir: f.downloads,
			ChannelsFile: filepath.Join(root, "channels_config.json"),
		},
		Summarize: config.SummarizeConfig{PreferredLanguage: language.Polish},
	}
	f.writeChannels(t, channels)

	runs := 0
	f.svc = New(f.cfg, f.fetch, validSettings(),
		WithRecorder(f.rec),
		WithSummarizerFactory(func(config.Summarizer) (summarize.Summarizer, error) { return f.llm, nil }),
		WithProber(func(context.Context, config.Summarizer) error {
			f.probes++
			return apperr.New(apperr.ErrTransport, "no /v1/models")
		}),
		WithRunIDs(func() string {
			runs++
			return fmt.Sprintf("run-%d", runs)
		}),
	)
	return f
}

func (f *fixture) writeChannels(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.cfg.Paths.ChannelsFile, []byte(content), 0o644))
}

func (f *fixture) channelDir(name string) string {
	return filepath.Join(f.downloads, name)
}

func channelJSON(name, extra string) string {
	fields := []string{
		fmt.Sprintf(`"url":"https://www.youtube.com/@%s"`, strings.ToLower(name)),
		fmt.Sprintf(`"channel_name":%q`, name),
		`"content_type":"audio"`,
		`"cutoff_date":"2025-01-01"`,
	}
	if extra != "" {
		fields = append(fields, extra)
	}
	return "{" + strings.Join(fields, ",") + "}"
}

func channelsJSON(items ...string) string {
	return "[" + strings.Join(items, ",") + "]"
}

func entry(id string) index.Entry {
	return index.Entry{
		ID:         id,
		Title:      "Item " + id,
		UploadDate: "20250105",
		WebpageURL: "https://www.youtube.com/watch?v=" + id,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// srt builds a transcript with one short cue per text.
func srt(texts ...string) string {
	var b strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&b, "%d\n00:00:%02d,000 --> 00:00:%02d,500\n%s\n\n", i+1, i, i, text)
	}
	return b.String()
}
