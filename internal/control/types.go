package control

import (
	"sort"
	"time"
)

// FileName is the per-channel control ledger.
const FileName = ".download_control.json"

const timeLayout = "2006-01-02T15:04:05.000000"

var now = time.Now

// Layout is the physical arrangement of a channel directory.
type Layout int

const (
	// Flat keeps every item's files directly in the channel directory.
	Flat Layout = iota
	// Subfoldered keeps each item in its own subfolder.
	Subfoldered
)

func (l Layout) String() string {
	if l == Subfoldered {
		return "subfoldered"
	}
	return "flat"
}

// Files maps file roles to paths relative to the channel directory.
type Files struct {
	InfoJSON    string   `json:"info_json"`
	Description string   `json:"description,omitempty"`
	Audio       string   `json:"audio,omitempty"`
	Video       string   `json:"video,omitempty"`
	Thumbnails  []string `json:"thumbnails,omitempty"`
	Subtitles   []string `json:"subtitles,omitempty"`
	Annotations string   `json:"annotations,omitempty"`
}

// PrimaryMedia is the audio file, or the video file when there is no audio.
func (f Files) PrimaryMedia() string {
	if f.Audio != "" {
		return f.Audio
	}
	return f.Video
}

// All lists every recorded path.
func (f Files) All() []string {
	var out []string
	for _, p := range []string{f.InfoJSON, f.Description, f.Audio, f.Video} {
		if p != "" {
			out = append(out, p)
		}
	}
	out = append(out, f.Thumbnails...)
	out = append(out, f.Subtitles...)
	if f.Annotations != "" {
		out = append(out, f.Annotations)
	}
	return out
}

// Entry is one materialized item. The item id is its key in
// ChannelControl.Entries.
type Entry struct {
	Title         string  `json:"title"`
	UploadDate    string  `json:"upload_date"`
	Duration      float64 `json:"duration"`
	Uploader      string  `json:"uploader"`
	WebpageURL    string  `json:"webpage_url"`
	Files         Files   `json:"files"`
	FileSizeBytes int64   `json:"file_size_bytes"`
	DownloadDate  string  `json:"download_date"`
	Subfolder     *string `json:"subfolder"`
}

type DateRange struct {
	Earliest *string `json:"earliest"`
	Latest   *string `json:"latest"`
}

func (r *DateRange) add(date string) {
	if date == "" {
		return
	}
	if r.Earliest == nil || date < *r.Earliest {
		d := date
		r.Earliest = &d
	}
	if r.Latest == nil || date > *r.Latest {
		d := date
		r.Latest = &d
	}
}

// Stats summarizes the files found by the last rescan. TotalVideos always
// equals the number of entries, including preserved ones.
type Stats struct {
	TotalVideos      int       `json:"total_videos"`
	TotalAudioFiles  int       `json:"total_audio_files"`
	TotalVideoFiles  int       `json:"total_video_files"`
	TotalThumbnails  int       `json:"total_thumbnails"`
	TotalSubtitles   int       `json:"total_subtitles"`
	TotalAnnotations int       `json:"total_annotations"`
	TotalSizeBytes   int64     `json:"total_size_bytes"`
	DateRange        DateRange `json:"date_range"`
}

// ChannelControl is the durable record of what a channel has on disk.
type ChannelControl struct {
	ChannelName string            `json:"channel_name"`
	LastUpdated string            `json:"last_updated"`
	Entries     map[string]Entry  `json:"downloaded_videos"`
	FileHashes  map[string]string `json:"file_hashes"`
	Statistics  Stats             `json:"statistics"`

	Layout Layout `json:"-"`
}

// Empty returns a ledger with no entries.
func Empty(channelName string) *ChannelControl {
	return &ChannelControl{
		ChannelName: channelName,
		Entries:     map[string]Entry{},
		FileHashes:  map[string]string{},
	}
}

// IDs returns the recorded ids sorted.
func (c *ChannelControl) IDs() []string {
	ids := make([]string, 0, len(c.Entries))
	for id := range c.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IDSet is a set of item ids.
type IDSet map[string]struct{}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
