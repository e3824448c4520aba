// Package chunk splits a time-stamped transcript into fixed-duration windows.
package chunk

import (
	"fmt"
	"math"
	"strings"

	"github.com/MimeLyc/podharvest/internal/subtitle"
)

const (
	// DefaultWindowSeconds is the length of one summarization unit.
	DefaultWindowSeconds = 300
	// finalTailSeconds approximates the length of the last event in the final chunk.
	finalTailSeconds = 60
)

// Chunk is one transcript window. Number is 1-based and dense.
type Chunk struct {
	Number       int
	StartSeconds float64
	EndSeconds   float64
	Text         string
}

// Segment groups events into windows of windowSeconds. Events must be ordered
// by start time. A window is aligned down to a multiple of windowSeconds from
// the event that opens it, so gaps in the transcript do not produce empty
// chunks. Empty input yields no chunks.
func Segment(events []subtitle.Event, windowSeconds float64) []Chunk {
	if len(events) == 0 {
		return nil
	}
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}

	align := func(t float64) float64 {
		return math.Floor(t/windowSeconds) * windowSeconds
	}

	var (
		chunks      []Chunk
		texts       []string
		windowStart = align(events[0].StartSeconds)
		lastStart   = events[0].StartSeconds
	)

	emit := func(end float64) {
		chunks = append(chunks, Chunk{
			Number:       len(chunks) + 1,
			StartSeconds: windowStart,
			EndSeconds:   end,
			Text:         strings.Join(texts, " "),
		})
		texts = texts[:0]
	}

	for _, ev := range events {
		if ev.StartSeconds >= windowStart+windowSeconds && len(texts) > 0 {
			emit(windowStart + windowSeconds)
			windowStart = align(ev.StartSeconds)
		}
		texts = append(texts, strings.TrimSpace(ev.Text))
		lastStart = ev.StartSeconds
	}
	emit(lastStart + finalTailSeconds)

	return chunks
}

// Header renders the descriptive header written above the chunk text.
func (c Chunk) Header() string {
	return fmt.Sprintf("Chunk %d\nTime: %s - %s\nDuration: ~%d minutes\n\n",
		c.Number, clock(c.StartSeconds), clock(c.EndSeconds), int((c.EndSeconds-c.StartSeconds)/60))
}

// clock formats seconds as MM:SS; minutes keep counting past the hour.
func clock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
