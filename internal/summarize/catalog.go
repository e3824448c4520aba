package summarize

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/MimeLyc/podharvest/pkg/file"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// CatalogEntry is one item that has a final summary.
type CatalogEntry struct {
	Channel string       `json:"channel"`
	Item    string       `json:"item"`
	Summary FinalSummary `json:"summary"`
}

// Catalog lists every summarized item under downloadsDir/<channel>/<item>.
// Only summary artifacts are read; ledgers are not consulted. Newest first.
func Catalog(downloadsDir string) ([]CatalogEntry, error) {
	channels, err := os.ReadDir(downloadsDir)
	if err != nil {
		return nil, err
	}

	var out []CatalogEntry
	for _, ch := range channels {
		if !ch.IsDir() || file.Hidden(ch.Name()) {
			continue
		}
		items, err := ItemFolders(filepath.Join(downloadsDir, ch.Name()))
		if err != nil {
			log.Warn("Skipping channel %s: %v", ch.Name(), err)
			continue
		}
		for _, dir := range items {
			art := NewArtifacts(dir)
			if !art.HasFinal() {
				continue
			}
			summary, err := art.ReadFinal()
			if err != nil {
				log.Warn("Skipping summary in %s: %v", dir, err)
				continue
			}
			out = append(out, CatalogEntry{
				Channel: ch.Name(),
				Item:    filepath.Base(dir),
				Summary: summary,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Summary.ProcessedAt.After(out[j].Summary.ProcessedAt)
	})
	return out, nil
}
