package subtitle

import (
	"time"

	"golang.org/x/text/language"
)

// Reader reads a transcript file.
type Reader interface {
	Read(path string) (*File, error)
}

// Line is a single SRT cue.
type Line struct {
	Index     int
	StartTime time.Duration
	EndTime   time.Duration
	Text      string
}

// File represents a parsed transcript.
type File struct {
	Path     string
	Lines    []Line
	Language language.Tag
	Format   string // e.g. SRT
}

// Event is a cue reduced to what segmentation needs.
type Event struct {
	StartSeconds float64
	Text         string
}

// Events converts cues to segmentation events, dropping cues with no text.
func (f *File) Events() []Event {
	if f == nil {
		return nil
	}
	events := make([]Event, 0, len(f.Lines))
	for _, line := range f.Lines {
		if line.Text == "" {
			continue
		}
		events = append(events, Event{
			StartSeconds: line.StartTime.Seconds(),
			Text:         line.Text,
		})
	}
	return events
}
