package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/podharvest/internal/apperr"
)

func writeChannels(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels_config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadChannels_PerEntryValidation(t *testing.T) {
	path := writeChannels(t, `[
		{"url": "https://www.youtube.com/@ColdFusion", "channel_name": "ColdFusion", "content_type": "audio",
		 "cutoff_date": "2025-01-01", "transcript_languages": ["pl", "en"], "summarize": "yes"},
		{"url": "https://www.youtube.com/@PBoyle", "channel_name": "PBoyle", "content_type": "podcast", "cutoff_date": "2025-01-01"},
		{"url": "https://www.youtube.com/@Broken", "channel_name": "Broken", "content_type": "audio", "cutoff_date": "2025-01-01",
		 "redownload_deleted": "yes"},
		{"channel_name": "NoURL", "content_type": "video", "cutoff_date": "2025/01/01"}
	]`)

	entries, err := LoadChannels(path)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	require.NoError(t, entries[0].Err)
	ch := entries[0].Channel
	assert.True(t, ch.ShouldSummarize())
	assert.True(t, ch.WantsTranscript())
	assert.True(t, ch.WantsMetadata())
	assert.False(t, ch.ShouldRedownloadDeleted())
	assert.Equal(t, filepath.Join("downloads", "ColdFusion"), ch.Dir("downloads"))
	assert.Equal(t, DefaultOutputFormat, ch.Format())

	assert.True(t, apperr.Is(entries[1].Err, apperr.ErrConfig))
	assert.Contains(t, entries[1].Err.Error(), "content_type")

	assert.Equal(t, "Broken", entries[2].Channel.Name)
	assert.True(t, apperr.Is(entries[2].Err, apperr.ErrConfig))

	assert.Contains(t, entries[3].Err.Error(), "url")
}

func TestLoadChannels_FatalErrors(t *testing.T) {
	_, err := LoadChannels(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrConfig))

	_, err = LoadChannels(writeChannels(t, `{"channel_name": "x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON array")
}

func TestChannel_Validate(t *testing.T) {
	valid := Channel{URL: "u", Name: "n", ContentType: ContentVideo, CutoffDate: "2024-01-01"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Channel)
		want   string
	}{
		{name: "bad date", mutate: func(c *Channel) { c.CutoffDate = "01-01-2024" }, want: "cutoff_date"},
		{name: "bad summarize", mutate: func(c *Channel) { c.Summarize = "maybe" }, want: "summarize"},
		{name: "short language", mutate: func(c *Channel) { c.TranscriptLanguages = []string{"p"} }, want: "language code"},
		{name: "missing name", mutate: func(c *Channel) { c.Name = "" }, want: "channel_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	regexLang := valid
	regexLang.TranscriptLanguages = []string{"en.*", "pl"}
	assert.NoError(t, regexLang.Validate())
}

func TestChannel_ExplicitFlags(t *testing.T) {
	no, yes := false, true
	c := Channel{TranscriptLanguages: []string{"pl"}, DownloadTranscript: &no, DownloadMetadata: &no, RedownloadDeleted: &yes, OutputDirectory: "/data/x"}

	assert.False(t, c.WantsTranscript())
	assert.False(t, c.WantsMetadata())
	assert.True(t, c.ShouldRedownloadDeleted())
	assert.Equal(t, "/data/x", c.Dir("downloads"))
}

func TestSelectChannels(t *testing.T) {
	entries := []ChannelEntry{
		{Channel: Channel{Name: "ColdFusion", URL: "https://yt/@coldfusion"}},
		{Channel: Channel{Name: "PBoyle", URL: "https://yt/@pboyle"}},
		{Channel: Channel{Name: "Asianometry", URL: "https://yt/@asianometry"}},
	}

	selected, notFound := SelectChannels(entries, []string{"coldfusion", " asianometry ", "Missing"}, 0)
	require.Len(t, selected, 2)
	assert.Equal(t, "ColdFusion", selected[0].Channel.Name)
	assert.Equal(t, "Asianometry", selected[1].Channel.Name)
	assert.Equal(t, []string{"Missing"}, notFound)

	selected, notFound = SelectChannels(entries, nil, 2)
	assert.Len(t, selected, 2)
	assert.Empty(t, notFound)

	assert.Len(t, SearchChannels(entries, "BOYLE"), 1)
	assert.Len(t, SearchChannels(entries, ""), 3)
}
