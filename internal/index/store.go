package index

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/pkg/file"
)

// Path returns the unified index path of a channel directory.
func Path(channelDir string) string {
	return filepath.Join(channelDir, FileName)
}

// Load reads the channel's index and repairs legacy fields in memory.
// A missing file yields (nil, nil, nil). A corrupt file yields a
// LedgerParse error; callers treat the index as absent.
func Load(channelDir string) (*ChannelIndex, []string, error) {
	idx, err := ReadFile(Path(channelDir))
	if err != nil || idx == nil {
		return nil, nil, err
	}
	repaired := Repair(idx)
	return idx, repaired, nil
}

// ReadFile parses an index file without repairing it.
func ReadFile(path string) (*ChannelIndex, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrFileIO, "cannot read index").WithContext("file", path)
	}
	var idx ChannelIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrLedgerParse, "cannot parse index").WithContext("file", path)
	}
	idx.Origin = filepath.Base(path)
	return &idx, nil
}

// Save atomically overwrites the channel's index.
func Save(channelDir string, idx *ChannelIndex) error {
	if err := file.WriteJSONAtomic(Path(channelDir), idx); err != nil {
		return apperr.Wrap(err, apperr.ErrFileIO, "cannot save index").WithContext("channel", idx.ChannelName)
	}
	return nil
}

// Repair fills fields missing from older index schemas and restores the
// derived fields. It returns the names of the fields it changed; repairing
// a well-formed index changes nothing.
func Repair(idx *ChannelIndex) []string {
	var repaired []string

	if idx.CutoffDates == nil {
		repaired = append(repaired, "cutoff_dates")
		idx.CutoffDates = normalizeCutoffs([]string{idx.LegacyCutoffDate})
	} else if norm := normalizeCutoffs(idx.CutoffDates); !slices.Equal(norm, idx.CutoffDates) {
		repaired = append(repaired, "cutoff_dates")
		idx.CutoffDates = norm
	}

	if idx.History == nil {
		repaired = append(repaired, "index_history")
		cutoff := idx.LegacyCutoffDate
		if cutoff == "" {
			cutoff = unknownCutoff
		}
		created := idx.CreatedDate
		if created == "" {
			created = timestamp()
		}
		idx.History = []HistoryRecord{{
			CutoffDate:  cutoff,
			CreatedDate: created,
			TotalVideos: len(idx.Videos),
			SourceFile:  SourceRepaired,
		}}
	}

	if idx.CurrentCutoffDate == "" {
		repaired = append(repaired, "current_cutoff_date")
		switch {
		case idx.LegacyCutoffDate != "":
			idx.CurrentCutoffDate = idx.LegacyCutoffDate
		case len(idx.CutoffDates) > 0:
			idx.CurrentCutoffDate = idx.CutoffDates[len(idx.CutoffDates)-1]
		default:
			idx.CurrentCutoffDate = unknownCutoff
		}
	}

	if idx.LastUpdated == "" {
		repaired = append(repaired, "last_updated")
		idx.LastUpdated = idx.CreatedDate
		if idx.LastUpdated == "" {
			idx.LastUpdated = timestamp()
		}
	}

	if idx.Videos == nil {
		idx.Videos = map[string]Entry{}
	}
	if ids := orderedIDs(idx.VideoIDs, idx.Videos); !slices.Equal(ids, idx.VideoIDs) {
		repaired = append(repaired, "video_ids")
		idx.VideoIDs = ids
	}
	if idx.TotalVideos != len(idx.Videos) {
		repaired = append(repaired, "total_videos")
		idx.TotalVideos = len(idx.Videos)
	}
	if dr := dateRange(idx.Videos); !dr.equal(idx.DateRange) {
		repaired = append(repaired, "date_range")
		idx.DateRange = dr
	}
	return repaired
}

// RepairFile repairs the index of channelDir on disk. With dryRun the file
// is left untouched and only the fields that would change are returned.
func RepairFile(channelDir string, dryRun bool) ([]string, error) {
	idx, err := ReadFile(Path(channelDir))
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, apperr.New(apperr.ErrNotFound, "no unified index").WithContext("dir", channelDir)
	}
	repaired := Repair(idx)
	if len(repaired) == 0 || dryRun {
		return repaired, nil
	}
	return repaired, Save(channelDir, idx)
}
