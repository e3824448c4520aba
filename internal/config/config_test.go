package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/podharvest/pkg/log"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"DOWNLOADS_DIR", "DATA_DIR", "HTTP_ADDR", "CRON_EXPR", "CHANNEL_DELAY", "PROBE_TIMEOUT", "PREFERRED_LANGUAGE", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "downloads", cfg.Paths.DownloadsDir)
	assert.Equal(t, filepath.Join("data", "podharvest.db"), cfg.DBPath())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.Harvest.ChannelDelay)
	assert.Equal(t, 10*time.Second, cfg.Harvest.ProbeTimeout)
	assert.Equal(t, 50, cfg.Harvest.PlaylistEnd)
	assert.Equal(t, 20, cfg.Harvest.MaxProbes)
	assert.Equal(t, language.Polish, cfg.Summarize.PreferredLanguage)
	assert.Equal(t, log.LevelInfo, cfg.System.LogLevel)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/podharvest")
	t.Setenv("CHANNEL_DELAY", "5")
	t.Setenv("PROBE_TIMEOUT", "250ms")
	t.Setenv("PREFERRED_LANGUAGE", "en")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := NewFromEnv(WithDownloadsDir("/srv/downloads"), WithPreferredLanguage("de"))
	require.NoError(t, err)

	assert.Equal(t, "/srv/downloads", cfg.Paths.DownloadsDir)
	assert.Equal(t, filepath.Join("/tmp/podharvest", "podharvest.db"), cfg.DBPath())
	assert.Equal(t, 5*time.Second, cfg.Harvest.ChannelDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Harvest.ProbeTimeout)
	assert.Equal(t, language.German, cfg.Summarize.PreferredLanguage)
	assert.Equal(t, log.LevelDebug, cfg.System.LogLevel)
}

func TestNewFromEnv_InvalidCron(t *testing.T) {
	t.Setenv("CRON_EXPR", "bad cron")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRON_EXPR")
}
