package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/podharvest/internal/index"
)

func TestListChannels(t *testing.T) {
	f := newFixture(t, channelsJSON(
		channelJSON("Alpha", `"summarize":"yes"`),
		channelJSON("Beta", ""),
		`{"channel_name":"Broken","content_type":"podcast"}`,
	))
	f.fetch.discovered[alphaURL] = []index.Entry{entry("a"), entry("b")}
	_, err := f.svc.RunBatch(context.Background(), RunOptions{Channels: []string{"Alpha"}})
	require.NoError(t, err)

	all, err := f.svc.ListChannels("")
	require.NoError(t, err)
	require.Len(t, all, 3)

	alpha := all[0]
	assert.True(t, alpha.Valid)
	assert.True(t, alpha.Summarize)
	assert.Equal(t, 2, alpha.Indexed)
	assert.Equal(t, 2, alpha.Recorded)
	assert.Equal(t, 2, alpha.Stats.TotalAudioFiles)
	assert.NotEmpty(t, alpha.LastIndexed)

	assert.Zero(t, all[1].Indexed)
	assert.False(t, all[2].Valid)
	assert.NotEmpty(t, all[2].Error)

	found, err := f.svc.ListChannels("BET")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Beta", found[0].Name)

	ch, ok, err := f.svc.FindChannel("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alphaURL, ch.URL)

	_, ok, err = f.svc.FindChannel("Broken")
	require.NoError(t, err)
	assert.False(t, ok)
}
