package control

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRescan_FlatLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ColdFusion")
	write(t, dir, "20240105_CF_Title.info.json",
		`{"id":"abc","title":"Title","upload_date":"20240105","duration":612.5,"uploader":"CF","webpage_url":"https://www.youtube.com/watch?v=abc"}`)
	write(t, dir, "20240105_CF_Title.mp3", "12345")
	write(t, dir, "20240105_CF_Title.description", "desc")
	write(t, dir, "20240105_CF_Title.webp", "img")
	write(t, dir, "20240105_CF_Title.en.srt", "1")
	write(t, dir, "20240105_CF_Title.pl.vtt", "2")
	write(t, dir, "20240105_CF_Title.annotations.xml", "<a/>")
	write(t, dir, "broken.info.json", "{nope")
	write(t, dir, "noid.info.json", `{"title":"x"}`)

	c, err := Rescan(dir)
	require.NoError(t, err)
	assert.Equal(t, Flat, c.Layout)
	assert.Equal(t, "ColdFusion", c.ChannelName)
	require.Len(t, c.Entries, 1)

	e := c.Entries["abc"]
	assert.Equal(t, "Title", e.Title)
	assert.Equal(t, 612.5, e.Duration)
	assert.Nil(t, e.Subfolder)
	assert.Equal(t, Files{
		InfoJSON:    "20240105_CF_Title.info.json",
		Description: "20240105_CF_Title.description",
		Audio:       "20240105_CF_Title.mp3",
		Thumbnails:  []string{"20240105_CF_Title.webp"},
		Subtitles:   []string{"20240105_CF_Title.en.srt", "20240105_CF_Title.pl.vtt"},
		Annotations: "20240105_CF_Title.annotations.xml",
	}, e.Files)
	assert.EqualValues(t, 5+3+1+1+4, e.FileSizeBytes)
	assert.NotEmpty(t, e.DownloadDate)

	s := c.Statistics
	assert.Equal(t, 1, s.TotalVideos)
	assert.Equal(t, 1, s.TotalAudioFiles)
	assert.Equal(t, 0, s.TotalVideoFiles)
	assert.Equal(t, 1, s.TotalThumbnails)
	assert.Equal(t, 2, s.TotalSubtitles)
	assert.Equal(t, 1, s.TotalAnnotations)
	assert.Equal(t, "20240105", *s.DateRange.Earliest)
	assert.Len(t, c.FileHashes, 7)
	assert.Len(t, c.FileHashes["20240105_CF_Title.mp3"], 32)
}

func TestRescan_SubfolderedLayout(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "item_a/a.info.json", `{"id":"a","upload_date":"20240201"}`)
	write(t, dir, "item_a/a.mp4", "video")
	write(t, dir, "item_b/b.info.info.json", `{"id":"b","upload_date":"20240101"}`)
	write(t, dir, "item_b/b.m4a", "alt base")
	write(t, dir, ".hidden/c.info.json", `{"id":"c"}`)

	c, err := Rescan(dir)
	require.NoError(t, err)
	assert.Equal(t, Subfoldered, c.Layout)
	assert.Len(t, c.Entries, 2)

	a := c.Entries["a"]
	require.NotNil(t, a.Subfolder)
	assert.Equal(t, "item_a", *a.Subfolder)
	assert.Equal(t, "item_a/a.mp4", a.Files.Video)
	assert.Equal(t, "item_a/a.mp4", a.Files.PrimaryMedia())
	assert.Contains(t, c.FileHashes, "item_a/a.mp4")

	assert.Equal(t, "item_b/b.m4a", c.Entries["b"].Files.Audio)
	assert.Equal(t, "20240101", *c.Statistics.DateRange.Earliest)
	assert.Equal(t, "20240201", *c.Statistics.DateRange.Latest)
}

func TestRescan_MissingDirectory(t *testing.T) {
	_, err := Rescan(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestLoad_DefaultsOnMissingOrCorrupt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Chan")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	c := Load(dir)
	assert.Equal(t, "Chan", c.ChannelName)
	assert.Empty(t, c.Entries)
	assert.NotNil(t, c.FileHashes)

	write(t, dir, FileName, "[]garbage")
	c = Load(dir)
	assert.Empty(t, c.Entries)
	assert.Zero(t, c.Statistics)
}

func TestSaveLoad_RepairIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "x.info.json", `{"id":"x"}`)
	write(t, dir, "x.mp3", "a")

	c, err := Refresh(dir, true)
	require.NoError(t, err)
	first, err := os.ReadFile(Path(dir))
	require.NoError(t, err)

	loaded, err := Read(dir)
	require.NoError(t, err)
	assert.Empty(t, Repair(loaded))
	require.NoError(t, Save(dir, loaded))
	second, err := os.ReadFile(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, c.Statistics, loaded.Statistics)
}

func TestReconcileWithPrevious(t *testing.T) {
	previous := Empty("C")
	previous.Entries["old"] = Entry{Title: "gone"}
	previous.Entries["both"] = Entry{Title: "stale"}
	previous.FileHashes["old.mp3"] = "h1"

	rescanned := Empty("C")
	rescanned.Entries["both"] = Entry{Title: "fresh"}
	rescanned.Entries["new"] = Entry{Title: "new"}
	rescanned.FileHashes["new.mp3"] = "h2"
	rescanned.Statistics = Stats{TotalVideos: 2, TotalAudioFiles: 2}

	kept := ReconcileWithPrevious(previous, rescanned, true)
	assert.Len(t, kept.Entries, 3)
	assert.Equal(t, "fresh", kept.Entries["both"].Title)
	assert.Equal(t, 3, kept.Statistics.TotalVideos)
	assert.Equal(t, 2, kept.Statistics.TotalAudioFiles)
	assert.Equal(t, map[string]string{"old.mp3": "h1", "new.mp3": "h2"}, kept.FileHashes)

	dropped := ReconcileWithPrevious(previous, rescanned, false)
	assert.ElementsMatch(t, []string{"both", "new"}, dropped.IDs())
	assert.Equal(t, 2, dropped.Statistics.TotalVideos)

	// inputs are untouched
	assert.Len(t, rescanned.Entries, 2)
}

func TestItemsPresentOnDisk(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "sub/a.mp3", "a")
	write(t, dir, "b.webm", "b")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "c.mp3"), 0o755))

	c := Empty("C")
	c.Entries["a"] = Entry{Files: Files{Audio: "sub/a.mp3"}}
	c.Entries["b"] = Entry{Files: Files{Video: "b.webm"}}
	c.Entries["c"] = Entry{Files: Files{Audio: "c.mp3"}}
	c.Entries["d"] = Entry{Files: Files{Audio: "deleted.mp3"}}
	c.Entries["e"] = Entry{Files: Files{InfoJSON: "e.info.json"}}
	c.Statistics.TotalAudioFiles = 99

	present := ItemsPresentOnDisk(dir, c)
	assert.Equal(t, []string{"a", "b"}, present.Sorted())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, Known(c).Sorted())
	assert.Empty(t, ItemsPresentOnDisk(dir, nil))
}
