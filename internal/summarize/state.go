package summarize

import "fmt"

// Phase is a step of the per-item summarization state machine.
type Phase int

const (
	NotStarted Phase = iota
	Chunked
	ChunkSummarized
	FinalSummarized
	Done
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "NotStarted"
	case Chunked:
		return "Chunked"
	case ChunkSummarized:
		return "ChunkSummarized"
	case FinalSummarized:
		return "FinalSummarized"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is the item state. Summarized and Total are only meaningful in
// ChunkSummarized (k of N) and later phases.
type State struct {
	Phase      Phase
	Summarized int
	Total      int
}

func (s State) String() string {
	if s.Phase == ChunkSummarized {
		return fmt.Sprintf("ChunkSummarized(%d of %d)", s.Summarized, s.Total)
	}
	return s.Phase.String()
}

// Terminal reports whether re-running the item is a no-op.
func (s State) Terminal() bool {
	return s.Phase == Done
}

// Inspect derives the state from the artifacts on disk.
func Inspect(a Artifacts) (State, error) {
	if a.HasFinal() {
		return State{Phase: Done}, nil
	}

	total := a.CountChunks()
	if total == 0 {
		return State{Phase: NotStarted}, nil
	}

	summarized := 0
	for n := 1; n <= total; n++ {
		_, ok, err := a.ReadChunkSummary(n)
		if err != nil {
			return State{}, err
		}
		if ok {
			summarized++
		}
	}
	if summarized == 0 {
		return State{Phase: Chunked, Total: total}, nil
	}
	return State{Phase: ChunkSummarized, Summarized: summarized, Total: total}, nil
}
