package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/control"
	"github.com/MimeLyc/podharvest/internal/fetcher"
	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/internal/jobs"
	"github.com/MimeLyc/podharvest/internal/summarize"
)

func summarizeChannels() string {
	return channelsJSON(
		channelJSON("Alpha", `"summarize":"yes"`),
		channelJSON("Beta", `"summarize":"yes"`),
		channelJSON("Gamma", `"summarize":"no"`),
	)
}

func TestSummarizeBatch(t *testing.T) {
	f := newFixture(t, summarizeChannels())
	item := filepath.Join(f.channelDir("Alpha"), "20250105_Alpha_Talk")
	writeFile(t, filepath.Join(item, "talk.pl.srt"), srt("dzień dobry", "do widzenia"))
	writeFile(t, filepath.Join(f.channelDir("Alpha"), "20250106_Alpha_Music", "music.mp3"), "x")
	writeFile(t, filepath.Join(f.channelDir("Gamma"), "g", "g.pl.srt"), srt("x"))

	report, err := f.svc.SummarizeBatch(context.Background(), SummarizeOptions{})
	require.NoError(t, err)
	require.Len(t, report.Units, 2)

	assert.Equal(t, "Alpha", report.Units[0].Unit)
	assert.Equal(t, UnitSuccess, report.Units[0].Status)
	assert.Equal(t, "1 summarized, 1 skipped, 0 failed", report.Units[0].Detail)
	assert.Equal(t, UnitSkipped, report.Units[1].Status)

	assert.True(t, summarize.NewArtifacts(item).HasFinal())
	assert.False(t, summarize.NewArtifacts(filepath.Join(f.channelDir("Gamma"), "g")).HasFinal())
	// the model probe failed but only warned
	assert.Equal(t, 1, f.probes)
}

func TestSummarizeBatch_ServiceFailureIsPartial(t *testing.T) {
	f := newFixture(t, summarizeChannels())
	writeFile(t, filepath.Join(f.channelDir("Alpha"), "item", "talk.pl.srt"), srt("hello"))
	f.llm.fail = true

	report, err := f.svc.SummarizeBatch(context.Background(), SummarizeOptions{Channels: []string{"Alpha"}})
	require.Error(t, err)
	var partial *apperr.PartialBatchFailure
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, "Alpha", partial.Failures[0].Unit)
	assert.Equal(t, UnitFailed, report.Units[0].Status)
	assert.Equal(t, 1, f.rec.finished["run-1"])
}

func TestSummarizeBatch_Settings(t *testing.T) {
	f := newFixture(t, summarizeChannels())
	f.svc.settings = staticSettings(config.DefaultSummarizer())

	_, err := f.svc.SummarizeBatch(context.Background(), SummarizeOptions{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrConfig))

	f.svc.settings = validSettings()
	_, err = f.svc.SummarizeBatch(context.Background(), SummarizeOptions{Language: "not a language!"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrConfig))
	assert.Empty(t, f.rec.runs)
}

func TestSummarizeBatch_NothingEnabled(t *testing.T) {
	f := newFixture(t, channelsJSON(channelJSON("Gamma", "")))

	report, err := f.svc.SummarizeBatch(context.Background(), SummarizeOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Units)
	assert.Zero(t, f.probes)
}

func TestExecute_AdHocURL(t *testing.T) {
	f := newFixture(t, "[]")
	f.fetch.adHocFiles = map[string]string{"clip.pl.srt": srt("jeden", "dwa")}

	result, err := f.svc.Execute(context.Background(), &jobs.Task{
		ID:   "task-1",
		Kind: jobs.KindAdHocURL,
		Payload: jobs.Payload{
			URL:        "https://www.youtube.com/watch?v=xyz",
			Transcript: true,
		},
	})
	require.NoError(t, err)

	itemDir := filepath.Join(f.downloads, fetcher.AdHocChannel, "xyz")
	assert.Contains(t, result, "fetched into "+itemDir)
	assert.Contains(t, result, "summarized 1 of 1 chunks")
	assert.True(t, summarize.NewArtifacts(itemDir).HasFinal())
	assert.Equal(t, []string{"xyz"}, control.Load(filepath.Dir(itemDir)).IDs())
}

func TestExecute_AdHocWithoutTranscript(t *testing.T) {
	f := newFixture(t, "[]")

	res, err := f.svc.RunAdHoc(context.Background(), fetcher.AdHocRequest{
		URL:         "https://www.youtube.com/watch?v=abc",
		ContentType: config.ContentVideo,
	}, "")
	require.NoError(t, err)
	assert.Nil(t, res.Summary)
	assert.Zero(t, f.probes)

	f.fetch.fetchErr = apperr.New(apperr.ErrTransport, "fetch tool failed")
	_, err = f.svc.Execute(context.Background(), &jobs.Task{Kind: jobs.KindAdHocURL, Payload: jobs.Payload{URL: "https://www.youtube.com/watch?v=def"}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrTransport))
}

func TestExecute_HarvestRun(t *testing.T) {
	f := newFixture(t, channelsJSON(channelJSON("Alpha", `"summarize":"yes"`)))
	f.fetch.discovered[alphaURL] = []index.Entry{entry("a")}

	result, err := f.svc.Execute(context.Background(), &jobs.Task{
		ID:      "task-3",
		Kind:    jobs.KindHarvestRun,
		Payload: jobs.Payload{Channels: []string{"Alpha"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "harvest: 1 succeeded, 0 skipped, 0 failed; summarize: 1 succeeded, 0 skipped, 0 failed", result)
	require.Len(t, f.rec.runs, 2)
	assert.Equal(t, "task-3", f.rec.runs[0].TaskID)
	assert.Equal(t, KindSummarize, f.rec.runs[1].Kind)

	result, err = f.svc.Execute(context.Background(), &jobs.Task{
		Kind:    jobs.KindHarvestRun,
		Payload: jobs.Payload{SkipSummarize: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "harvest: 1 succeeded, 0 skipped, 0 failed", result)
}

func TestExecute_UnknownKind(t *testing.T) {
	f := newFixture(t, "[]")
	_, err := f.svc.Execute(context.Background(), &jobs.Task{Kind: "mystery"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrConfig))
}
