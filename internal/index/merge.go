package index

import (
	"github.com/MimeLyc/podharvest/pkg/log"
)

// Merge folds a discovery run for cutoff into a copy of existing. New ids
// are appended; for known ids the larger payload wins. existing is not
// modified. A nil existing behaves like an empty index.
func Merge(existing *ChannelIndex, incoming []Entry, cutoff string) *ChannelIndex {
	var idx *ChannelIndex
	if existing == nil {
		idx = &ChannelIndex{CreatedDate: timestamp(), Videos: map[string]Entry{}}
	} else {
		idx = existing.Clone()
	}

	for _, e := range incoming {
		if e.ID == "" {
			continue
		}
		idx.put(e)
	}

	ts := timestamp()
	idx.LastUpdated = ts
	idx.CurrentCutoffDate = cutoff
	idx.addCutoff(cutoff)
	idx.History = append(idx.History, HistoryRecord{
		CutoffDate:  cutoff,
		CreatedDate: ts,
		TotalVideos: len(incoming),
		SourceFile:  SourceUpdated,
	})
	idx.refresh()
	return idx
}

// TrackCutoff records cutoff as seen and current without new items. Used
// when a discovery run for a new cutoff finds nothing.
func TrackCutoff(existing *ChannelIndex, cutoff string) *ChannelIndex {
	idx := existing.Clone()
	idx.addCutoff(cutoff)
	idx.CurrentCutoffDate = cutoff
	idx.LastUpdated = timestamp()
	idx.refresh()
	return idx
}

// MergeMultipleSources consolidates several indexes of the same channel.
// The most recently created source provides channel name and URL; items
// from every source are folded with the larger-payload rule; cutoff dates
// are unioned. Nil sources are ignored. It returns nil when nothing is left.
func MergeMultipleSources(sources []*ChannelIndex) *ChannelIndex {
	var valid []*ChannelIndex
	for _, s := range sources {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	base := valid[0]
	for _, s := range valid[1:] {
		if s.CreatedDate > base.CreatedDate {
			base = s
		}
	}

	ts := timestamp()
	out := &ChannelIndex{
		ChannelName: base.ChannelName,
		ChannelURL:  base.ChannelURL,
		CreatedDate: ts,
		LastUpdated: ts,
		CutoffDates: []string{},
		History:     []HistoryRecord{},
		Videos:      map[string]Entry{},
		VideoIDs:    []string{},
	}

	var cutoffs []string
	for _, s := range valid {
		cutoff := s.LegacyCutoffDate
		if cutoff == "" {
			cutoff = s.CurrentCutoffDate
		}
		cutoffs = append(cutoffs, cutoff)
		cutoffs = append(cutoffs, s.CutoffDates...)

		out.History = append(out.History, HistoryRecord{
			CutoffDate:  cutoff,
			CreatedDate: s.CreatedDate,
			TotalVideos: len(s.Videos),
			SourceFile:  s.Origin,
		})

		for _, id := range orderedIDs(s.VideoIDs, s.Videos) {
			out.put(s.Videos[id])
		}
	}
	out.CutoffDates = normalizeCutoffs(cutoffs)
	if n := len(out.CutoffDates); n > 0 {
		out.CurrentCutoffDate = out.CutoffDates[n-1]
	} else {
		out.CurrentCutoffDate = unknownCutoff
	}
	out.refresh()

	log.Debug("Merged %d index sources for %s: %d items", len(valid), out.ChannelName, out.TotalVideos)
	return out
}
