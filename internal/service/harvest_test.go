package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/control"
	"github.com/MimeLyc/podharvest/internal/index"
)

func TestRunBatch_FetchesPlannedItemsAndReportsBrokenChannel(t *testing.T) {
	f := newFixture(t, channelsJSON(
		channelJSON("Alpha", `"summarize":"yes"`),
		`{"channel_name":"Broken","content_type":"audio","cutoff_date":"2025-01-01"}`,
	))
	f.fetch.discovered[alphaURL] = []index.Entry{entry("a"), entry("b")}

	report, err := f.svc.RunBatch(context.Background(), RunOptions{})
	require.Error(t, err)
	var partial *apperr.PartialBatchFailure
	require.True(t, errors.As(err, &partial))
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, "Broken", partial.Failures[0].Unit)
	assert.True(t, apperr.Is(partial.Failures[0].Err, apperr.ErrConfig))

	require.Len(t, report.Units, 2)
	assert.Equal(t, "Alpha", report.Units[0].Unit)
	assert.Equal(t, UnitSuccess, report.Units[0].Status)
	assert.Equal(t, "index created, 2 indexed, 2 planned, 2 fetched", report.Units[0].Detail)
	assert.Equal(t, UnitFailed, report.Units[1].Status)

	_, materialized := f.fetch.calls()
	require.Len(t, materialized, 1)
	assert.Equal(t, []string{
		"https://www.youtube.com/watch?v=a",
		"https://www.youtube.com/watch?v=b",
	}, materialized[0])

	ctl := control.Load(f.channelDir("Alpha"))
	assert.Equal(t, []string{"a", "b"}, ctl.IDs())

	require.Len(t, f.rec.runs, 1)
	assert.Equal(t, "run-1", f.rec.runs[0].ID)
	assert.Equal(t, 2, f.rec.runs[0].Total)
	assert.Len(t, f.rec.units, 2)
	assert.Equal(t, 1, f.rec.finished["run-1"])
}

func TestRunBatch_SecondRunIsUpToDate(t *testing.T) {
	f := newFixture(t, channelsJSON(channelJSON("Alpha", "")))
	f.fetch.discovered[alphaURL] = []index.Entry{entry("a"), entry("b")}

	_, err := f.svc.RunBatch(context.Background(), RunOptions{})
	require.NoError(t, err)

	report, err := f.svc.RunBatch(context.Background(), RunOptions{Channels: []string{"alpha"}})
	require.NoError(t, err)
	require.Len(t, report.Units, 1)
	assert.Equal(t, "index reused, 2 indexed, up to date", report.Units[0].Detail)

	discovers, materialized := f.fetch.calls()
	assert.Equal(t, 1, discovers)
	assert.Len(t, materialized, 1)
}

func TestRunBatch_UnknownChannelNames(t *testing.T) {
	f := newFixture(t, channelsJSON(channelJSON("Alpha", "")))

	report, err := f.svc.RunBatch(context.Background(), RunOptions{Channels: []string{"Nope"}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrConfig))
	assert.Equal(t, []string{"Nope"}, report.NotFound)
}

func TestRunBatch_UnreadableChannelListIsFatal(t *testing.T) {
	f := newFixture(t, `{"not":"an array"}`)

	_, err := f.svc.RunBatch(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrConfig))
	assert.Empty(t, f.rec.runs)
}

func TestRunChannel_DeletedItemsFollowChannelPolicy(t *testing.T) {
	f := newFixture(t, channelsJSON(channelJSON("Alpha", "")))
	f.fetch.discovered[alphaURL] = []index.Entry{entry("a"), entry("b")}
	ctx := context.Background()

	_, err := f.svc.RunBatch(ctx, RunOptions{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(f.channelDir("Alpha"), "a")))

	// deleted items stay recorded and are never fetched again by default
	report, err := f.svc.RunBatch(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, report.Units[0].Detail, "up to date")
	assert.Equal(t, []string{"a", "b"}, control.Load(f.channelDir("Alpha")).IDs())

	f.writeChannels(t, channelsJSON(channelJSON("Alpha", `"redownload_deleted":true`)))
	report, err = f.svc.RunBatch(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, report.Units[0].Detail, "1 planned, 1 fetched")

	_, materialized := f.fetch.calls()
	require.Len(t, materialized, 2)
	assert.Equal(t, []string{"https://www.youtube.com/watch?v=a"}, materialized[1])
	assert.DirExists(t, filepath.Join(f.channelDir("Alpha"), "a"))
}

func TestRunChannel_NoSkipPlansEverything(t *testing.T) {
	f := newFixture(t, channelsJSON(channelJSON("Alpha", "")))
	f.fetch.discovered[alphaURL] = []index.Entry{entry("a")}
	ctx := context.Background()

	_, err := f.svc.RunBatch(ctx, RunOptions{})
	require.NoError(t, err)
	report, err := f.svc.RunBatch(ctx, RunOptions{NoSkip: true, Format: "best"})
	require.NoError(t, err)
	assert.Contains(t, report.Units[0].Detail, "1 planned")
}

func TestRunChannel_FetchFailureStillRescans(t *testing.T) {
	f := newFixture(t, channelsJSON(channelJSON("Alpha", "")))
	f.fetch.discovered[alphaURL] = []index.Entry{entry("a")}
	f.fetch.fetchErr = apperr.New(apperr.ErrTransport, "fetch tool failed")

	// an item from an earlier, interrupted run is on disk
	writeFile(t, filepath.Join(f.channelDir("Alpha"), "old", "old.info.json"), `{"id":"old","upload_date":"20250102"}`)
	writeFile(t, filepath.Join(f.channelDir("Alpha"), "old", "old.mp3"), "x")

	report, err := f.svc.RunBatch(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, UnitFailed, report.Units[0].Status)
	assert.True(t, apperr.Is(report.Units[0].Err, apperr.ErrTransport))
	assert.Equal(t, []string{"old"}, control.Load(f.channelDir("Alpha")).IDs())
}

func alphaChannel(cutoff string) config.Channel {
	return config.Channel{
		URL:         alphaURL,
		Name:        "Alpha",
		ContentType: config.ContentAudio,
		CutoffDate:  cutoff,
	}
}

func TestEnsureIndex_Actions(t *testing.T) {
	f := newFixture(t, "[]")
	dir := t.TempDir()
	ctx := context.Background()

	f.fetch.discovered[alphaURL] = []index.Entry{entry("a")}
	idx, action, err := f.svc.ensureIndex(ctx, alphaChannel("2025-01-01"), dir, false)
	require.NoError(t, err)
	assert.Equal(t, IndexCreated, action)
	assert.Equal(t, []string{"a"}, idx.IDs())

	_, action, err = f.svc.ensureIndex(ctx, alphaChannel("2025-01-01"), dir, false)
	require.NoError(t, err)
	assert.Equal(t, IndexReused, action)

	f.fetch.discovered[alphaURL] = nil
	idx, action, err = f.svc.ensureIndex(ctx, alphaChannel("2024-06-01"), dir, false)
	require.NoError(t, err)
	assert.Equal(t, IndexCutoffTracked, action)
	assert.Equal(t, []string{"2024-06-01", "2025-01-01"}, idx.CutoffDates)
	assert.Len(t, idx.History, 1)

	f.fetch.discovered[alphaURL] = []index.Entry{entry("b")}
	idx, action, err = f.svc.ensureIndex(ctx, alphaChannel("2024-01-01"), dir, false)
	require.NoError(t, err)
	assert.Equal(t, IndexMerged, action)
	assert.Equal(t, []string{"a", "b"}, idx.IDs())

	// force rediscovers but never drops what is indexed
	f.fetch.discovered[alphaURL] = []index.Entry{entry("c")}
	idx, action, err = f.svc.ensureIndex(ctx, alphaChannel("2024-01-01"), dir, true)
	require.NoError(t, err)
	assert.Equal(t, IndexMerged, action)
	assert.Equal(t, []string{"a", "b", "c"}, idx.IDs())

	saved, _, err := index.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, idx.IDs(), saved.IDs())
	assert.Len(t, f.fetch.discoverCalls, 4)
}

func TestEnsureIndex_DiscoveryFailure(t *testing.T) {
	f := newFixture(t, "[]")
	ctx := context.Background()
	f.fetch.discoverErr = apperr.New(apperr.ErrTransport, "listing failed")

	idx, _, err := f.svc.ensureIndex(ctx, alphaChannel("2025-01-01"), t.TempDir(), false)
	require.Error(t, err)
	assert.Nil(t, idx)

	dir := t.TempDir()
	require.NoError(t, index.Save(dir, index.New("Alpha", alphaURL, "2024-01-01", []index.Entry{entry("a")})))
	idx, action, err := f.svc.ensureIndex(ctx, alphaChannel("2025-01-01"), dir, false)
	require.Error(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, IndexReused, action)
	assert.Equal(t, []string{"a"}, idx.IDs())
	assert.False(t, idx.Has("2025-01-01"))
}

func TestEnsureIndex_CorruptIndexIsMovedAside(t *testing.T) {
	f := newFixture(t, "[]")
	dir := t.TempDir()
	writeFile(t, index.Path(dir), "{not json")
	f.fetch.discovered[alphaURL] = []index.Entry{entry("a")}

	idx, action, err := f.svc.ensureIndex(context.Background(), alphaChannel("2025-01-01"), dir, false)
	require.NoError(t, err)
	assert.Equal(t, IndexCreated, action)
	assert.Equal(t, []string{"a"}, idx.IDs())

	data, err := os.ReadFile(index.Path(dir) + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestEnsureIndex_ConsolidatesLegacyFiles(t *testing.T) {
	f := newFixture(t, "[]")
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".channel_index_2025-01-01.json"), `{
  "channel_name": "Alpha",
  "channel_url": "https://www.youtube.com/@alpha",
  "created_date": "2025-01-02T08:00:00.000000",
  "cutoff_date": "2025-01-01",
  "videos": {"a": {"id": "a", "title": "A", "upload_date": "20250105", "webpage_url": "https://www.youtube.com/watch?v=a"}}
}`)

	idx, action, err := f.svc.ensureIndex(context.Background(), alphaChannel("2025-01-01"), dir, false)
	require.NoError(t, err)
	assert.Equal(t, IndexReused, action)
	assert.Equal(t, []string{"a"}, idx.IDs())
	assert.Empty(t, f.fetch.discoverCalls)

	legacy, err := index.LegacyFiles(dir)
	require.NoError(t, err)
	assert.Empty(t, legacy)

	// the repaired record was written back
	saved, err := index.ReadFile(index.Path(dir))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01"}, saved.CutoffDates)
}

func TestPlan_ReadsLedgersOnly(t *testing.T) {
	f := newFixture(t, channelsJSON(
		channelJSON("Alpha", ""),
		channelJSON("Beta", ""),
		`{"channel_name":"Broken"}`,
	))
	dir := f.channelDir("Alpha")
	idx := index.New("Alpha", alphaURL, "2025-01-01", []index.Entry{entry("a"), entry("b"), {ID: "nourl", Title: "x"}})
	require.NoError(t, index.Save(dir, idx))
	writeFile(t, filepath.Join(dir, "a", "a.info.json"), `{"id":"a"}`)
	writeFile(t, filepath.Join(dir, "a", "a.mp3"), "x")
	_, err := control.Refresh(dir, true)
	require.NoError(t, err)

	plans, err := f.svc.Plan(context.Background(), nil, 0, false)
	require.NoError(t, err)
	require.Len(t, plans, 3)

	alpha := plans[0]
	assert.True(t, alpha.HasIndex)
	assert.Equal(t, 3, alpha.Indexed)
	assert.Equal(t, 1, alpha.Known)
	assert.Equal(t, []string{"b", "nourl"}, alpha.IDs)
	assert.Equal(t, []string{"https://www.youtube.com/watch?v=b"}, alpha.URLs)
	assert.Equal(t, []string{"nourl"}, alpha.Missing)

	assert.False(t, plans[1].HasIndex)
	assert.NoError(t, plans[1].Err)
	assert.Error(t, plans[2].Err)

	discovers, materialized := f.fetch.calls()
	assert.Zero(t, discovers)
	assert.Empty(t, materialized)
}

func TestRescanAll(t *testing.T) {
	f := newFixture(t, channelsJSON(channelJSON("Alpha", ""), channelJSON("Beta", "")))
	writeFile(t, filepath.Join(f.channelDir("Alpha"), "a", "a.info.json"), `{"id":"a","upload_date":"20250105"}`)
	writeFile(t, filepath.Join(f.channelDir("Alpha"), "a", "a.mp3"), "x")

	report, err := f.svc.RescanAll(context.Background(), nil, "")
	require.NoError(t, err)
	require.Len(t, report.Units, 2)
	assert.Equal(t, UnitSuccess, report.Units[0].Status)
	assert.Equal(t, "1 recorded, 1 audio, 0 video, 0 subtitles", report.Units[0].Detail)
	assert.Equal(t, UnitSkipped, report.Units[1].Status)
	assert.FileExists(t, control.Path(f.channelDir("Alpha")))
}

func TestMergeAndRepairIndexes(t *testing.T) {
	f := newFixture(t, "[]")
	legacy := `{"channel_name":"Alpha","created_date":"2025-01-02T08:00:00.000000","cutoff_date":"%s","videos":{"%s":{"id":"%s","title":"x"}}}`
	writeFile(t, filepath.Join(f.channelDir("Alpha"), ".channel_index_2024-01-01.json"), fmt.Sprintf(legacy, "2024-01-01", "a", "a"))
	writeFile(t, filepath.Join(f.channelDir("Alpha"), ".channel_index_2025-01-01.json"), fmt.Sprintf(legacy, "2025-01-01", "b", "b"))
	writeFile(t, filepath.Join(f.channelDir("Beta"), "item", "x.mp3"), "x")
	ctx := context.Background()

	results, err := f.svc.MergeIndexes(ctx, index.ConsolidateOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, index.ActionMerged, results[0].Action)
	assert.Len(t, results[0].Legacy, 2)
	assert.NoFileExists(t, index.Path(f.channelDir("Alpha")))

	results, err = f.svc.MergeIndexes(ctx, index.ConsolidateOptions{Backup: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Items)
	assert.DirExists(t, filepath.Join(f.channelDir("Alpha"), index.BackupDir))

	repairs, err := f.svc.RepairIndexes(ctx, false)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, "Alpha", repairs[0].Channel)
	assert.NoError(t, repairs[0].Err)
}

func TestRepairIndexes_MissingDownloads(t *testing.T) {
	f := newFixture(t, "[]")
	_, err := f.svc.RepairIndexes(context.Background(), true)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}
