package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	outputs map[string]string
	hang    map[string]bool
	listErr error
	runErr  error
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()

	target := args[len(args)-1]
	if args[0] == "--flat-playlist" {
		return []byte(f.outputs[target]), f.listErr
	}
	id := strings.TrimPrefix(target, watchURL)
	if f.hang[id] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out, ok := f.outputs[id]
	if !ok {
		return nil, errors.New("exit status 1")
	}
	return []byte(out), nil
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args})
	return f.runErr
}

func harvestConfig() config.HarvestConfig {
	return config.HarvestConfig{FetchTool: "yt-dlp", ProbeTimeout: 50 * time.Millisecond, PlaylistEnd: 50, MaxProbes: 3}
}

func TestDiscover(t *testing.T) {
	long := strings.Repeat("ą", 250)
	runner := &fakeRunner{
		outputs: map[string]string{
			"https://www.youtube.com/@chan": "{\"id\":\"new\"}\nnot json\n{\"id\":\"old\"}\n{\"id\":\"slow\"}\n{\"id\":\"nodate\"}\n{\"id\":\"beyond\"}\n",
			"new":                           `{"id":"new","title":"New","upload_date":"20240301","duration":61,"webpage_url":"https://www.youtube.com/watch?v=new","view_count":7,"description":"` + long + `"}`,
			"old":                           `{"id":"old","title":"Old","upload_date":"20231231"}`,
			"nodate":                        `{"id":"nodate","title":"No date"}`,
			"beyond":                        `{"id":"beyond","upload_date":"20250101"}`,
		},
		hang: map[string]bool{"slow": true},
	}
	f := New(harvestConfig(), runner)

	entries, err := f.Discover(context.Background(), "https://www.youtube.com/@chan", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "new", e.ID)
	assert.Equal(t, "20240301", e.UploadDate)
	assert.Equal(t, 61.0, e.Duration)
	assert.EqualValues(t, 7, e.ViewCount)
	assert.Equal(t, strings.Repeat("ą", 200)+"...", e.Description)

	// listing plus at most three probes
	require.Len(t, runner.calls, 4)
	assert.Equal(t, []string{
		"--flat-playlist", "--dump-json", "--no-download", "--ignore-errors", "--no-warnings",
		"--playlist-end", "50", "https://www.youtube.com/@chan",
	}, runner.calls[0].args)
	assert.Equal(t, []string{
		"--dump-json", "--no-download", "--ignore-errors", "--no-warnings",
		"--dateafter", "20240101", "https://www.youtube.com/watch?v=new",
	}, runner.calls[1].args)
}

func TestDiscover_ListingFailure(t *testing.T) {
	runner := &fakeRunner{listErr: errors.New("exit status 2")}
	_, err := New(harvestConfig(), runner).Discover(context.Background(), "u", time.Now())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrTransport))
}

func TestMaterializeArgs(t *testing.T) {
	req := Request{
		Dest:         "downloads/Chan",
		ContentType:  config.ContentAudio,
		Metadata:     true,
		Transcript:   true,
		Languages:    []string{"pl", "en"},
		URLs:         []string{"u1", "u2"},
		OutputFormat: "%(title)s",
	}
	assert.Equal(t, []string{
		"--output", filepath.Join("downloads/Chan", "%(title)s", "%(title)s.%(ext)s"),
		"--restrict-filenames", "--no-overwrites", "--continue",
		"--write-info-json", "--write-description", "--ignore-errors",
		"--write-thumbnail", "--write-annotations",
		"--write-subs", "--write-auto-subs", "--convert-subs", "srt", "--sub-langs", "pl,en",
		"--format", "bestaudio/best",
		"--extract-audio", "--audio-format", "mp3", "--audio-quality", "0", "--embed-metadata", "--add-metadata",
		"u1", "u2",
	}, materializeArgs(req))

	video := materializeArgs(Request{Dest: "d", ContentType: config.ContentVideo, Transcript: true, URLs: []string{"u"}})
	assert.Contains(t, strings.Join(video, " "), "--sub-langs all --format best u")
	assert.NotContains(t, video, "--extract-audio")
	assert.Contains(t, video[1], config.DefaultOutputFormat)
}

func TestMaterialize(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Chan")
	runner := &fakeRunner{}
	f := New(harvestConfig(), runner)

	require.NoError(t, f.Materialize(context.Background(), Request{Dest: dest}))
	assert.Empty(t, runner.calls)

	require.NoError(t, f.Materialize(context.Background(), Request{Dest: dest, URLs: []string{"u"}}))
	assert.DirExists(t, dest)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "yt-dlp", runner.calls[0].name)

	runner.runErr = errors.New("exit status 1")
	err := f.Materialize(context.Background(), Request{Dest: dest, URLs: []string{"u"}})
	assert.True(t, apperr.Is(err, apperr.ErrTransport))
}

func TestFetchAdHoc(t *testing.T) {
	downloads := t.TempDir()
	runner := &fakeRunner{}
	f := New(harvestConfig(), runner)

	dir, err := f.FetchAdHoc(context.Background(), downloads, AdHocRequest{
		URL: "https://www.youtube.com/watch?v=abc123&t=5", ContentType: config.ContentAudio, Transcript: true,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(downloads, AdHocChannel, "abc123"), dir)
	assert.DirExists(t, dir)

	args := runner.calls[0].args
	assert.Equal(t, "bestaudio[ext=mp3]/bestaudio/best", args[1])
	assert.Contains(t, args, "en,pl")
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123&t=5", args[len(args)-1])

	_, err = f.FetchAdHoc(context.Background(), downloads, AdHocRequest{})
	assert.True(t, apperr.Is(err, apperr.ErrConfig))
}

func TestItemID(t *testing.T) {
	assert.Equal(t, "xyz", ItemID("https://www.youtube.com/watch?v=xyz"))
	assert.Equal(t, "unknown", ItemID("https://youtu.be/xyz"))
	assert.Equal(t, "unknown", ItemID("::bad"))
}

func TestCleanupThumbnails(t *testing.T) {
	dest := t.TempDir()
	item := filepath.Join(dest, "item")
	require.NoError(t, os.MkdirAll(item, 0o755))
	files := map[string]int{
		"talk.hq.jpg":      10,
		"talk.maxres.webp": 30,
		"talk.sd.png":      20,
		"single.jpg":       5,
		"other.a.jpg":      1,
		"notes.txt":        100,
	}
	for name, size := range files {
		require.NoError(t, os.WriteFile(filepath.Join(item, name), make([]byte, size), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stray.a.jpg"), nil, 0o644))

	groups, removed, err := CleanupThumbnails(dest)
	require.NoError(t, err)
	assert.Equal(t, 1, groups)
	assert.Equal(t, 2, removed)

	assert.FileExists(t, filepath.Join(item, "talk.maxres.webp"))
	assert.NoFileExists(t, filepath.Join(item, "talk.hq.jpg"))
	assert.NoFileExists(t, filepath.Join(item, "talk.sd.png"))
	assert.FileExists(t, filepath.Join(item, "single.jpg"))
	assert.FileExists(t, filepath.Join(item, "other.a.jpg"))
}
