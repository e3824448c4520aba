package summarize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/chunk"
	"github.com/MimeLyc/podharvest/internal/index"
	"github.com/MimeLyc/podharvest/internal/metrics"
	"github.com/MimeLyc/podharvest/internal/subtitle"
	"github.com/MimeLyc/podharvest/pkg/file"
	"github.com/MimeLyc/podharvest/pkg/log"
	"golang.org/x/text/language"
)

// Summarizer produces chunk and roll-up summaries.
type Summarizer interface {
	SummarizeChunk(ctx context.Context, text string) (string, error)
	SummarizeFinal(ctx context.Context, combined string) (string, error)
}

// Pipeline drives one item through NotStarted → Chunked → ChunkSummarized →
// FinalSummarized → Done. Items are processed sequentially, chunk by chunk.
type Pipeline struct {
	client    Summarizer
	reader    subtitle.Reader
	preferred language.Tag
	window    float64
	now       func() time.Time
}

type Option func(*Pipeline)

func WithReader(r subtitle.Reader) Option {
	return func(p *Pipeline) { p.reader = r }
}

func WithWindow(seconds float64) Option {
	return func(p *Pipeline) { p.window = seconds }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(client Summarizer, preferred language.Tag, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:    client,
		reader:    subtitle.NewReader(),
		preferred: preferred,
		window:    chunk.DefaultWindowSeconds,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ItemResult reports what happened to one item.
type ItemResult struct {
	Item          string
	State         State
	Transcript    string
	TotalChunks   int
	CachedChunks  int
	SummarizedNow int
	FailedChunks  int
	AlreadyDone   bool
	Err           error
}

// ProcessedChunks is the number of chunks that have a summary.
func (r ItemResult) ProcessedChunks() int {
	return r.CachedChunks + r.SummarizedNow
}

// Skipped reports an item with nothing to summarize.
func (r ItemResult) Skipped() bool {
	return apperr.Is(r.Err, apperr.ErrNotFound)
}

// ProcessItem runs the state machine for the item folder itemDir. The
// returned error is also stored in the result.
func (p *Pipeline) ProcessItem(ctx context.Context, itemDir string) (result ItemResult, err error) {
	logger := log.GetLogger().With(filepath.Base(itemDir))
	art := NewArtifacts(itemDir)
	result = ItemResult{Item: filepath.Base(itemDir)}
	defer func() {
		result.Err = err
		metrics.RecordItem(itemOutcome(result))
	}()

	state, err := Inspect(art)
	if err != nil {
		return result, apperr.Wrap(err, apperr.ErrFileIO, "cannot inspect summary artifacts")
	}
	result.State = state
	if state.Terminal() {
		logger.Info("Already summarized, skipping")
		result.AlreadyDone = true
		return result, nil
	}

	// NotStarted → Chunked
	transcript, err := SelectTranscript(itemDir, p.preferred)
	if err != nil {
		logger.Warn("No transcript, skipping summarization: %v", err)
		return result, err
	}
	if transcript.Preferred {
		logger.Info("Using %s", filepath.Base(transcript.Path))
	} else {
		logger.Warn("Using %s (preferred language %s not found)", filepath.Base(transcript.Path), p.preferred)
	}
	result.Transcript = filepath.Base(transcript.Path)

	parsed, err := p.reader.Read(transcript.Path)
	if err != nil {
		return result, apperr.Wrap(err, apperr.ErrNotFound, "cannot parse transcript").WithContext("file", result.Transcript)
	}
	chunks := chunk.Segment(parsed.Events(), p.window)
	if len(chunks) == 0 {
		return result, apperr.New(apperr.ErrNotFound, "transcript has no text").WithContext("file", result.Transcript)
	}
	if err := art.WriteChunks(chunks); err != nil {
		return result, apperr.Wrap(err, apperr.ErrFileIO, "cannot write chunks")
	}
	result.TotalChunks = len(chunks)
	result.State = State{Phase: Chunked, Total: len(chunks)}
	logger.Info("Created %d chunks", len(chunks))

	// Chunked → ChunkSummarized(k of N)
	summaries := make([]chunkSummary, 0, len(chunks))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		text, ok, err := art.ReadChunkSummary(c.Number)
		if err != nil {
			return result, apperr.Wrap(err, apperr.ErrFileIO, "cannot read chunk summary").WithContext("chunk", c.Number)
		}
		if ok {
			result.CachedChunks++
			metrics.RecordChunkSummary("cached")
		} else {
			logger.Debug("Summarizing chunk %d/%d (%d chars)", c.Number, len(chunks), len(c.Text))
			text, err = p.client.SummarizeChunk(ctx, c.Text)
			if err != nil {
				logger.Warn("Chunk %d failed: %v", c.Number, err)
				result.FailedChunks++
				metrics.RecordChunkSummary("failed")
				continue
			}
			if err := art.WriteChunkSummary(c.Number, text); err != nil {
				return result, apperr.Wrap(err, apperr.ErrFileIO, "cannot write chunk summary").WithContext("chunk", c.Number)
			}
			result.SummarizedNow++
			metrics.RecordChunkSummary("service")
		}
		summaries = append(summaries, chunkSummary{number: c.Number, text: text})
		result.State = State{Phase: ChunkSummarized, Summarized: len(summaries), Total: len(chunks)}
	}

	if len(summaries) == 0 {
		return result, apperr.New(apperr.ErrTransport, "all chunk summaries failed").WithContext("chunks", len(chunks))
	}

	// ChunkSummarized → FinalSummarized
	final, err := p.client.SummarizeFinal(ctx, combineSummaries(summaries))
	if err != nil {
		logger.Warn("Final summary failed, item stays resumable: %v", err)
		return result, err
	}
	result.State = State{Phase: FinalSummarized, Summarized: len(summaries), Total: len(chunks)}

	// FinalSummarized → Done
	meta := Metadata{
		ItemFolder:        filepath.Base(itemDir),
		TranscriptFile:    result.Transcript,
		TotalChunks:       len(chunks),
		ProcessedChunks:   len(summaries),
		ProcessedAt:       p.now(),
		PreferredLanguage: p.preferred.String(),
	}
	if parsed.Language != language.Und {
		meta.DetectedLanguage = parsed.Language.String()
	}
	if err := art.WriteFinal(final, meta); err != nil {
		return result, apperr.Wrap(err, apperr.ErrFileIO, "cannot persist final summary")
	}
	result.State = State{Phase: Done, Summarized: len(summaries), Total: len(chunks)}
	logger.Info("Final summary saved (%d of %d chunks)", len(summaries), len(chunks))
	return result, nil
}

type chunkSummary struct {
	number int
	text   string
}

func combineSummaries(summaries []chunkSummary) string {
	parts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		parts = append(parts, fmt.Sprintf("Chunk %d:\n%s", s.number, s.text))
	}
	return strings.Join(parts, "\n\n")
}

func itemOutcome(r ItemResult) string {
	switch {
	case r.AlreadyDone:
		return "already_done"
	case r.Err == nil:
		return "done"
	case r.Skipped():
		return "skipped"
	default:
		return "failed"
	}
}

// ChannelResult aggregates the items of one channel directory.
type ChannelResult struct {
	Channel string
	Items   []ItemResult
}

// Counts returns done, skipped and failed item counts. Items that were
// already done count as done.
func (r ChannelResult) Counts() (done, skipped, failed int) {
	for _, it := range r.Items {
		switch {
		case it.Err == nil:
			done++
		case it.Skipped():
			skipped++
		default:
			failed++
		}
	}
	return done, skipped, failed
}

// ProcessChannel runs every item folder of channelDir. Items without a
// transcript are skipped; other item failures are collected into a
// PartialBatchFailure and never stop the loop.
func (p *Pipeline) ProcessChannel(ctx context.Context, channelDir string) (ChannelResult, error) {
	result := ChannelResult{Channel: filepath.Base(channelDir)}

	items, err := ItemFolders(channelDir)
	if err != nil {
		return result, err
	}
	log.Info("Summarizing %d item folders in %s", len(items), result.Channel)

	failures := &apperr.PartialBatchFailure{Total: len(items)}
	for _, dir := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item, err := p.ProcessItem(ctx, dir)
		result.Items = append(result.Items, item)
		if err != nil && !item.Skipped() {
			failures.Add(item.Item, err)
		}
	}

	done, skipped, failed := result.Counts()
	log.Info("Channel %s: %d summarized, %d skipped, %d failed", result.Channel, done, skipped, failed)
	return result, failures.ErrOrNil()
}

// ItemFolders lists the non-hidden subfolders of channelDir, sorted by name.
// The index backup folder is not an item.
func ItemFolders(channelDir string) ([]string, error) {
	entries, err := os.ReadDir(channelDir)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrNotFound, "channel directory not found").WithContext("dir", channelDir)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !file.Hidden(e.Name()) && e.Name() != index.BackupDir {
			dirs = append(dirs, filepath.Join(channelDir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
