package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"golang.org/x/text/language"
)

const (
	DefaultOutputFormat = "%(upload_date)s_%(channel_name)s_%(title)s"
	CutoffLayout        = "2006-01-02"
)

type ContentType string

const (
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
)

// Channel is one entry of the channel list file. Optional booleans are
// pointers so that absent fields can take their defaults.
type Channel struct {
	URL                 string      `json:"url"`
	Name                string      `json:"channel_name"`
	ContentType         ContentType `json:"content_type"`
	CutoffDate          string      `json:"cutoff_date"`
	OutputDirectory     string      `json:"output_directory,omitempty"`
	OutputFormat        string      `json:"output_format,omitempty"`
	TranscriptLanguages []string    `json:"transcript_languages,omitempty"`
	DownloadMetadata    *bool       `json:"download_metadata,omitempty"`
	DownloadTranscript  *bool       `json:"download_transcript,omitempty"`
	RedownloadDeleted   *bool       `json:"redownload_deleted,omitempty"`
	Summarize           string      `json:"summarize,omitempty"`
}

// ChannelEntry is a channel as read from the list, with its validation error
// if it was rejected. Invalid entries stay in the list so the run can report
// them as failed units.
type ChannelEntry struct {
	Channel Channel
	Err     error
}

// Validate checks required fields and enumerations.
func (c Channel) Validate() error {
	missing := []string{}
	if strings.TrimSpace(c.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "channel_name")
	}
	if c.ContentType == "" {
		missing = append(missing, "content_type")
	}
	if c.CutoffDate == "" {
		missing = append(missing, "cutoff_date")
	}
	if len(missing) > 0 {
		return configErr(c.Name, "missing required field(s): %s", strings.Join(missing, ", "))
	}

	if c.ContentType != ContentAudio && c.ContentType != ContentVideo {
		return configErr(c.Name, "invalid content_type %q, must be audio or video", c.ContentType)
	}
	if _, err := time.Parse(CutoffLayout, c.CutoffDate); err != nil {
		return configErr(c.Name, "invalid cutoff_date %q, use YYYY-MM-DD", c.CutoffDate)
	}
	if c.Summarize != "" && c.Summarize != "yes" && c.Summarize != "no" {
		return configErr(c.Name, "summarize must be yes or no, got %q", c.Summarize)
	}
	for _, lang := range c.TranscriptLanguages {
		if len(lang) < 2 {
			return configErr(c.Name, "invalid language code %q in transcript_languages", lang)
		}
		// yt-dlp accepts regexes and suffixes like "en.*" or "pl-orig"; only
		// plain codes are checked against BCP 47.
		if isPlainCode(lang) {
			if _, err := language.Parse(lang); err != nil {
				return configErr(c.Name, "unknown language code %q in transcript_languages", lang)
			}
		}
	}
	return nil
}

func configErr(channel, format string, args ...any) error {
	return apperr.Newf(apperr.ErrConfig, format, args...).WithContext("channel", channel)
}

func isPlainCode(lang string) bool {
	for _, r := range lang {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && r != '-' {
			return false
		}
	}
	return true
}

// Dir is the channel directory holding ledgers and materialized items.
func (c Channel) Dir(downloadsDir string) string {
	if c.OutputDirectory != "" {
		return c.OutputDirectory
	}
	return filepath.Join(downloadsDir, c.Name)
}

func (c Channel) Format() string {
	if c.OutputFormat != "" {
		return c.OutputFormat
	}
	return DefaultOutputFormat
}

func (c Channel) WantsMetadata() bool {
	if c.DownloadMetadata != nil {
		return *c.DownloadMetadata
	}
	return true
}

// WantsTranscript defaults to true when transcript languages are listed.
func (c Channel) WantsTranscript() bool {
	if c.DownloadTranscript != nil {
		return *c.DownloadTranscript
	}
	return len(c.TranscriptLanguages) > 0
}

func (c Channel) ShouldRedownloadDeleted() bool {
	return c.RedownloadDeleted != nil && *c.RedownloadDeleted
}

func (c Channel) ShouldSummarize() bool {
	return c.Summarize == "yes"
}

// Cutoff returns the parsed cutoff date. Call Validate first.
func (c Channel) Cutoff() time.Time {
	t, _ := time.Parse(CutoffLayout, c.CutoffDate)
	return t
}

// LoadChannels reads the channel list. An unreadable file or a document that
// is not a JSON array is fatal; a malformed entry is only marked invalid.
func LoadChannels(path string) ([]ChannelEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfig, "cannot read channel list").WithContext("path", path)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfig, "channel list must be a JSON array").WithContext("path", path)
	}

	entries := make([]ChannelEntry, 0, len(raw))
	for i, item := range raw {
		var ch Channel
		if err := json.Unmarshal(item, &ch); err != nil {
			name := channelNameOf(item)
			if name == "" {
				name = fmt.Sprintf("Channel_%d", i+1)
			}
			ch.Name = name
			entries = append(entries, ChannelEntry{
				Channel: ch,
				Err:     apperr.Wrap(err, apperr.ErrConfig, "invalid channel entry").WithContext("channel", name),
			})
			continue
		}
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("Channel_%d", i+1)
		}
		entries = append(entries, ChannelEntry{Channel: ch, Err: ch.Validate()})
	}
	return entries, nil
}

// channelNameOf pulls channel_name out of an entry that failed strict decoding.
func channelNameOf(item json.RawMessage) string {
	var probe map[string]any
	if err := json.Unmarshal(item, &probe); err != nil {
		return ""
	}
	name, _ := probe["channel_name"].(string)
	return name
}

// SelectChannels filters entries by case-insensitive name and caps the count.
// Names that match nothing are returned as notFound.
func SelectChannels(entries []ChannelEntry, names []string, max int) (selected []ChannelEntry, notFound []string) {
	selected = entries
	if len(names) > 0 {
		selected = nil
		wanted := make(map[string]bool, len(names))
		for _, n := range names {
			wanted[strings.ToLower(strings.TrimSpace(n))] = true
		}
		found := map[string]bool{}
		for _, e := range entries {
			key := strings.ToLower(e.Channel.Name)
			if wanted[key] {
				selected = append(selected, e)
				found[key] = true
			}
		}
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n != "" && !found[strings.ToLower(n)] {
				notFound = append(notFound, n)
			}
		}
	}
	if max > 0 && len(selected) > max {
		selected = selected[:max]
	}
	return selected, notFound
}

// SearchChannels returns entries whose name or URL contains term.
func SearchChannels(entries []ChannelEntry, term string) []ChannelEntry {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return entries
	}
	var out []ChannelEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Channel.Name), term) ||
			strings.Contains(strings.ToLower(e.Channel.URL), term) {
			out = append(out, e)
		}
	}
	return out
}
