package index

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	// FileName is the unified per-channel discovery index.
	FileName = ".channel_index.json"
	// LegacyPattern matches the older one-file-per-cutoff indexes.
	LegacyPattern = ".channel_index_*.json"
	// BackupDir receives legacy files when consolidating with backups.
	BackupDir = "index_backups"

	// TimeLayout is the timestamp format stored in ledgers.
	TimeLayout = "2006-01-02T15:04:05.000000"

	unknownCutoff = "unknown"
)

// History source labels.
const (
	SourceCreated  = "created_new"
	SourceUpdated  = "updated_existing"
	SourceRepaired = "repaired_legacy"
)

var now = time.Now

func timestamp() string {
	return now().Format(TimeLayout)
}

// Entry is one discovered content item.
type Entry struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	UploadDate  string  `json:"upload_date,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	WebpageURL  string  `json:"webpage_url,omitempty"`
	Uploader    string  `json:"uploader,omitempty"`
	ViewCount   int64   `json:"view_count,omitempty"`
	Description string  `json:"description,omitempty"`
}

// payloadSize is the encoded size of e. Merges keep the larger copy of an
// item on the assumption that it carries more fields; this is a heuristic,
// not a field-by-field comparison.
func (e Entry) payloadSize() int {
	data, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return len(data)
}

// HistoryRecord describes one discovery run folded into the index.
type HistoryRecord struct {
	CutoffDate  string `json:"cutoff_date"`
	CreatedDate string `json:"created_date"`
	TotalVideos int    `json:"total_videos"`
	SourceFile  string `json:"source_file"`
}

// DateRange spans the upload dates of the indexed items. Both ends are null
// when no item carries a date.
type DateRange struct {
	Earliest *string `json:"earliest"`
	Latest   *string `json:"latest"`
}

func (r DateRange) equal(o DateRange) bool {
	eq := func(a, b *string) bool {
		if a == nil || b == nil {
			return a == b
		}
		return *a == *b
	}
	return eq(r.Earliest, o.Earliest) && eq(r.Latest, o.Latest)
}

// ChannelIndex is the durable discovery record of one channel.
//
// A nil CutoffDates or History means the field was absent from the file;
// Repair fills it in.
type ChannelIndex struct {
	ChannelName       string           `json:"channel_name"`
	ChannelURL        string           `json:"channel_url"`
	CreatedDate       string           `json:"created_date"`
	LastUpdated       string           `json:"last_updated,omitempty"`
	CurrentCutoffDate string           `json:"current_cutoff_date,omitempty"`
	CutoffDates       []string         `json:"cutoff_dates"`
	History           []HistoryRecord  `json:"index_history"`
	TotalVideos       int              `json:"total_videos"`
	Videos            map[string]Entry `json:"videos"`
	VideoIDs          []string         `json:"video_ids"`
	DateRange         DateRange        `json:"date_range"`

	// LegacyCutoffDate is the singular cutoff of per-cutoff index files.
	LegacyCutoffDate string `json:"cutoff_date,omitempty"`

	// Origin is the file the record was loaded from, if any.
	Origin string `json:"-"`
}

// New creates the index for a first discovery run.
func New(channelName, channelURL, cutoff string, entries []Entry) *ChannelIndex {
	ts := timestamp()
	idx := &ChannelIndex{
		ChannelName:       channelName,
		ChannelURL:        channelURL,
		CreatedDate:       ts,
		LastUpdated:       ts,
		CurrentCutoffDate: cutoff,
		CutoffDates:       []string{cutoff},
		Videos:            make(map[string]Entry, len(entries)),
		VideoIDs:          []string{},
	}
	for _, e := range entries {
		idx.put(e)
	}
	idx.History = []HistoryRecord{{
		CutoffDate:  cutoff,
		CreatedDate: ts,
		TotalVideos: len(idx.Videos),
		SourceFile:  SourceCreated,
	}}
	idx.refresh()
	return idx
}

// IDs returns the item ids in index order.
func (idx *ChannelIndex) IDs() []string {
	out := make([]string, len(idx.VideoIDs))
	copy(out, idx.VideoIDs)
	return out
}

// Has reports whether cutoff was already indexed and is the current one.
func (idx *ChannelIndex) Has(cutoff string) bool {
	if idx.CurrentCutoffDate != cutoff {
		return false
	}
	for _, c := range idx.CutoffDates {
		if c == cutoff {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (idx *ChannelIndex) Clone() *ChannelIndex {
	out := *idx
	out.CutoffDates = append([]string(nil), idx.CutoffDates...)
	out.History = append([]HistoryRecord(nil), idx.History...)
	out.VideoIDs = append([]string(nil), idx.VideoIDs...)
	out.Videos = make(map[string]Entry, len(idx.Videos))
	for id, e := range idx.Videos {
		out.Videos[id] = e
	}
	if idx.CutoffDates != nil && out.CutoffDates == nil {
		out.CutoffDates = []string{}
	}
	if idx.History != nil && out.History == nil {
		out.History = []HistoryRecord{}
	}
	return &out
}

// put inserts e or replaces the stored copy when e is larger. It reports
// whether e was a new id.
func (idx *ChannelIndex) put(e Entry) bool {
	if idx.Videos == nil {
		idx.Videos = make(map[string]Entry)
	}
	old, ok := idx.Videos[e.ID]
	if !ok {
		idx.Videos[e.ID] = e
		idx.VideoIDs = append(idx.VideoIDs, e.ID)
		return true
	}
	if e.payloadSize() > old.payloadSize() {
		idx.Videos[e.ID] = e
	}
	return false
}

func (idx *ChannelIndex) addCutoff(cutoff string) {
	idx.CutoffDates = normalizeCutoffs(append(idx.CutoffDates, cutoff))
}

// refresh recomputes the fields derived from Videos.
func (idx *ChannelIndex) refresh() {
	idx.VideoIDs = orderedIDs(idx.VideoIDs, idx.Videos)
	idx.TotalVideos = len(idx.Videos)
	idx.DateRange = dateRange(idx.Videos)
}

// orderedIDs keeps the known order of ids that still exist and appends the
// remaining keys sorted.
func orderedIDs(order []string, videos map[string]Entry) []string {
	out := make([]string, 0, len(videos))
	seen := make(map[string]bool, len(videos))
	for _, id := range order {
		if _, ok := videos[id]; ok && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range videos {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func dateRange(videos map[string]Entry) DateRange {
	var earliest, latest string
	for _, e := range videos {
		if e.UploadDate == "" {
			continue
		}
		if earliest == "" || e.UploadDate < earliest {
			earliest = e.UploadDate
		}
		if latest == "" || e.UploadDate > latest {
			latest = e.UploadDate
		}
	}
	if earliest == "" {
		return DateRange{}
	}
	return DateRange{Earliest: &earliest, Latest: &latest}
}

func normalizeCutoffs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
