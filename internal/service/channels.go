package service

import (
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/control"
	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/pkg/file"
)

// ChannelInfo describes a configured channel and its ledgers.
type ChannelInfo struct {
	Name        string             `json:"name"`
	URL         string             `json:"url"`
	ContentType config.ContentType `json:"content_type"`
	CutoffDate  string             `json:"cutoff_date"`
	Summarize   bool               `json:"summarize"`
	Dir         string             `json:"dir"`
	Valid       bool               `json:"valid"`
	Error       string             `json:"error,omitempty"`

	Indexed     int           `json:"indexed"`
	LastIndexed string        `json:"last_indexed,omitempty"`
	Recorded    int           `json:"recorded"`
	LastScanned string        `json:"last_scanned,omitempty"`
	Stats       control.Stats `json:"stats"`
}

// ListChannels returns the configured channels matching search, or all of
// them when search is empty.
func (s *Service) ListChannels(search string) ([]ChannelInfo, error) {
	entries, err := config.LoadChannels(s.cfg.Paths.ChannelsFile)
	if err != nil {
		return nil, err
	}
	if search != "" {
		entries = config.SearchChannels(entries, search)
	}

	out := make([]ChannelInfo, 0, len(entries))
	for _, e := range entries {
		ch := e.Channel
		info := ChannelInfo{
			Name:        ch.Name,
			URL:         ch.URL,
			ContentType: ch.ContentType,
			CutoffDate:  ch.CutoffDate,
			Summarize:   ch.ShouldSummarize(),
			Valid:       e.Err == nil,
		}
		if e.Err != nil {
			info.Error = e.Err.Error()
			out = append(out, info)
			continue
		}
		info.Dir = ch.Dir(s.cfg.Paths.DownloadsDir)
		if !file.IsDir(info.Dir) {
			out = append(out, info)
			continue
		}
		if idx, _, err := index.Load(info.Dir); err == nil && idx != nil {
			info.Indexed = idx.TotalVideos
			info.LastIndexed = idx.LastUpdated
		}
		ctl := control.Load(info.Dir)
		info.Recorded = len(ctl.Entries)
		info.LastScanned = ctl.LastUpdated
		info.Stats = ctl.Statistics
		out = append(out, info)
	}
	return out, nil
}

// FindChannel returns the valid configured channel named name.
func (s *Service) FindChannel(name string) (config.Channel, bool, error) {
	entries, err := config.LoadChannels(s.cfg.Paths.ChannelsFile)
	if err != nil {
		return config.Channel{}, false, err
	}
	selected, _ := config.SelectChannels(entries, []string{name}, 0)
	for _, e := range selected {
		if e.Err == nil {
			return e.Channel, true, nil
		}
	}
	return config.Channel{}, false, nil
}
