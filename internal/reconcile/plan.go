package reconcile

import (
	"github.com/MimeLyc/podharvest/internal/control"
	"github.com/MimeLyc/podharvest/internal/index"
)

// Policy selects how deleted items are treated.
type Policy struct {
	// RedownloadDeleted re-fetches items whose primary media was deleted.
	// When false, every recorded id counts as handled and deletions are
	// permanent.
	RedownloadDeleted bool
	// NoSkip plans every indexed id, known or not.
	NoSkip bool
}

// DefaultPolicy skips known items and never re-fetches deleted ones. It is
// the zero Policy.
func DefaultPolicy() Policy {
	return Policy{}
}

// Plan is the work list for one channel.
type Plan struct {
	// IDs are the ids to fetch, in index order.
	IDs []string
	// Known is the number of indexed ids excluded as already handled.
	Known int
	// Indexed is the number of ids in the index.
	Indexed int
}

// Known returns the ids treated as already handled under policy.
func Known(channelDir string, ctl *control.ChannelControl, policy Policy) control.IDSet {
	if policy.RedownloadDeleted {
		return control.ItemsPresentOnDisk(channelDir, ctl)
	}
	return control.Known(ctl)
}

// PlanFetch returns the indexed ids that still have to be fetched: the
// index ids minus the known ids. The result is always a subset of the
// index ids.
func PlanFetch(channelDir string, idx *index.ChannelIndex, ctl *control.ChannelControl, policy Policy) Plan {
	if idx == nil {
		return Plan{}
	}
	ids := idx.IDs()
	plan := Plan{Indexed: len(ids), IDs: []string{}}
	if policy.NoSkip {
		plan.IDs = ids
		return plan
	}

	known := Known(channelDir, ctl, policy)
	for _, id := range ids {
		if known.Has(id) {
			plan.Known++
			continue
		}
		plan.IDs = append(plan.IDs, id)
	}
	return plan
}

// URLs resolves plan ids to source URLs. Ids without a URL are returned
// separately and are not fetched.
func URLs(idx *index.ChannelIndex, ids []string) (urls []string, missing []string) {
	for _, id := range ids {
		e, ok := idx.Videos[id]
		if !ok || e.WebpageURL == "" {
			missing = append(missing, id)
			continue
		}
		urls = append(urls, e.WebpageURL)
	}
	return urls, missing
}
