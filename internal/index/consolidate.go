package index

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// Action is what Consolidate did, or would do, for one channel.
type Action string

const (
	ActionNone    Action = "none"
	ActionCleaned Action = "cleaned"
	ActionRenamed Action = "renamed"
	ActionMerged  Action = "merged"
)

type ConsolidateOptions struct {
	DryRun bool
	Backup bool
}

// ConsolidateResult reports the legacy files of one channel directory.
type ConsolidateResult struct {
	Channel string
	Legacy  []string
	Skipped []string
	Action  Action
	Items   int
}

// LegacyFiles lists the per-cutoff index files of channelDir, sorted.
func LegacyFiles(channelDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(channelDir, LegacyPattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Consolidate replaces the legacy per-cutoff indexes of channelDir with a
// single unified index. When a unified index already exists the legacy
// files are only removed. A single legacy file is renamed; several are
// merged with MergeMultipleSources, skipping files that fail to parse.
func Consolidate(channelDir string, opts ConsolidateOptions) (ConsolidateResult, error) {
	result := ConsolidateResult{Channel: filepath.Base(channelDir), Action: ActionNone}
	legacy, err := LegacyFiles(channelDir)
	if err != nil {
		return result, apperr.Wrap(err, apperr.ErrFileIO, "cannot list legacy indexes")
	}
	for _, p := range legacy {
		result.Legacy = append(result.Legacy, filepath.Base(p))
	}
	if len(legacy) == 0 {
		return result, nil
	}

	unified := Path(channelDir)
	if _, err := os.Stat(unified); err == nil {
		result.Action = ActionCleaned
		if opts.DryRun {
			return result, nil
		}
		return result, removeAll(legacy)
	}

	if len(legacy) == 1 {
		result.Action = ActionRenamed
		if opts.DryRun {
			return result, nil
		}
		if err := os.Rename(legacy[0], unified); err != nil {
			return result, apperr.Wrap(err, apperr.ErrFileIO, "cannot rename legacy index")
		}
		return result, nil
	}

	result.Action = ActionMerged
	if opts.DryRun {
		return result, nil
	}
	if opts.Backup {
		if err := backup(channelDir, legacy); err != nil {
			return result, err
		}
	}

	var sources []*ChannelIndex
	for _, p := range legacy {
		idx, err := ReadFile(p)
		if err != nil || idx == nil {
			log.Warn("Skipping %s: %v", filepath.Base(p), err)
			result.Skipped = append(result.Skipped, filepath.Base(p))
			continue
		}
		sources = append(sources, idx)
	}
	merged := MergeMultipleSources(sources)
	if merged == nil {
		return result, apperr.New(apperr.ErrLedgerParse, "no legacy index could be parsed").WithContext("channel", result.Channel)
	}
	if err := Save(channelDir, merged); err != nil {
		return result, err
	}
	result.Items = merged.TotalVideos
	return result, removeAll(legacy)
}

func backup(channelDir string, files []string) error {
	dir := filepath.Join(channelDir, BackupDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(err, apperr.ErrFileIO, "cannot create backup directory")
	}
	for _, src := range files {
		if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return apperr.Wrap(err, apperr.ErrFileIO, "cannot back up legacy index").WithContext("file", filepath.Base(src))
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func removeAll(files []string) error {
	var failed []string
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			log.Warn("Cannot remove %s: %v", filepath.Base(f), err)
			failed = append(failed, filepath.Base(f))
		}
	}
	if len(failed) > 0 {
		return apperr.New(apperr.ErrFileIO, fmt.Sprintf("cannot remove %d legacy index file(s)", len(failed))).
			WithContext("files", failed)
	}
	return nil
}
