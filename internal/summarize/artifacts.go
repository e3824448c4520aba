package summarize

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/podharvest/internal/chunk"
	"github.com/MimeLyc/podharvest/pkg/file"
)

const (
	ChunksDir         = "chunks"
	ChunkSummariesDir = "chunk_summaries"
	ContentSummaryDir = "content_summary"
	FinalSummaryFile  = "final_summary.txt"
	MetadataFile      = "summary_metadata.json"
)

// Metadata is the side-car written next to the final summary.
type Metadata struct {
	ItemFolder        string    `json:"video_folder"`
	TranscriptFile    string    `json:"srt_file_used"`
	TotalChunks       int       `json:"total_chunks"`
	ProcessedChunks   int       `json:"processed_chunks"`
	ProcessedAt       time.Time `json:"processing_date"`
	PreferredLanguage string    `json:"preferred_language"`
	DetectedLanguage  string    `json:"detected_language,omitempty"`
}

// FinalSummary is a persisted roll-up with its counters.
type FinalSummary struct {
	Text              string    `json:"text"`
	TotalChunks       int       `json:"totalChunks"`
	ProcessedChunks   int       `json:"processedChunks"`
	PreferredLanguage string    `json:"preferredLanguage"`
	ProcessedAt       time.Time `json:"processedAt"`
}

// Artifacts addresses the per-item summarization files under one item folder.
// Every write replaces its file atomically, so a file that exists is complete.
type Artifacts struct {
	dir string
}

func NewArtifacts(itemDir string) Artifacts {
	return Artifacts{dir: itemDir}
}

func (a Artifacts) Dir() string { return a.dir }

func (a Artifacts) ChunkPath(n int) string {
	return filepath.Join(a.dir, ChunksDir, fmt.Sprintf("chunk_%03d.txt", n))
}

func (a Artifacts) SummaryPath(n int) string {
	return filepath.Join(a.dir, ChunkSummariesDir, fmt.Sprintf("summary_%03d.txt", n))
}

func (a Artifacts) FinalPath() string {
	return filepath.Join(a.dir, ContentSummaryDir, FinalSummaryFile)
}

func (a Artifacts) MetadataPath() string {
	return filepath.Join(a.dir, ContentSummaryDir, MetadataFile)
}

// HasFinal reports whether the item is done.
func (a Artifacts) HasFinal() bool {
	return file.IsRegular(a.FinalPath())
}

// WriteChunks writes chunk files that are not on disk yet.
func (a Artifacts) WriteChunks(chunks []chunk.Chunk) error {
	for _, c := range chunks {
		path := a.ChunkPath(c.Number)
		if file.IsRegular(path) {
			continue
		}
		if err := file.WriteAtomic(path, []byte(c.Header()+c.Text), 0o644); err != nil {
			return fmt.Errorf("write chunk %d: %w", c.Number, err)
		}
	}
	return nil
}

// CountChunks counts contiguous chunk files starting at 1.
func (a Artifacts) CountChunks() int {
	n := 0
	for file.IsRegular(a.ChunkPath(n + 1)) {
		n++
	}
	return n
}

// ReadChunkSummary returns the persisted summary for chunk n, if any.
func (a Artifacts) ReadChunkSummary(n int) (string, bool, error) {
	data, err := os.ReadFile(a.SummaryPath(n))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (a Artifacts) WriteChunkSummary(n int, text string) error {
	return file.WriteAtomic(a.SummaryPath(n), []byte(text), 0o644)
}

// WriteFinal persists metadata and then the summary text. The summary file
// is the completion marker, so it is written last.
func (a Artifacts) WriteFinal(text string, meta Metadata) error {
	if err := file.WriteJSONAtomic(a.MetadataPath(), meta); err != nil {
		return fmt.Errorf("write summary metadata: %w", err)
	}
	if err := file.WriteAtomic(a.FinalPath(), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write final summary: %w", err)
	}
	return nil
}

// ReadMetadata reads the side-car; a missing file is reported as absent.
func (a Artifacts) ReadMetadata() (Metadata, bool, error) {
	data, err := os.ReadFile(a.MetadataPath())
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, false, fmt.Errorf("parse %s: %w", a.MetadataPath(), err)
	}
	return meta, true, nil
}

// ReadFinal loads the final summary with its counters.
func (a Artifacts) ReadFinal() (FinalSummary, error) {
	data, err := os.ReadFile(a.FinalPath())
	if err != nil {
		return FinalSummary{}, err
	}
	out := FinalSummary{Text: strings.TrimSpace(string(data))}

	meta, ok, err := a.ReadMetadata()
	if err != nil {
		return out, err
	}
	if ok {
		out.TotalChunks = meta.TotalChunks
		out.ProcessedChunks = meta.ProcessedChunks
		out.PreferredLanguage = meta.PreferredLanguage
		out.ProcessedAt = meta.ProcessedAt
	}
	return out, nil
}
