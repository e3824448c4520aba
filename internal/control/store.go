package control

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/pkg/file"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// Path returns the control ledger path of a channel directory.
func Path(channelDir string) string {
	return filepath.Join(channelDir, FileName)
}

// Load reads the ledger of channelDir. A missing or unparsable file yields
// an empty ledger; the parse error is logged, never returned.
func Load(channelDir string) *ChannelControl {
	c, err := Read(channelDir)
	if err != nil {
		log.Warn("Ignoring control ledger of %s: %v", filepath.Base(channelDir), err)
		return Empty(filepath.Base(channelDir))
	}
	if c == nil {
		return Empty(filepath.Base(channelDir))
	}
	return c
}

// Read is Load with errors reported. It returns (nil, nil) when there is
// no ledger.
func Read(channelDir string) (*ChannelControl, error) {
	data, err := os.ReadFile(Path(channelDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrFileIO, "cannot read control ledger")
	}
	var c ChannelControl
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrLedgerParse, "cannot parse control ledger").WithContext("file", Path(channelDir))
	}
	Repair(&c)
	return &c, nil
}

// Repair restores the ledger invariants: non-nil maps and a total equal to
// the number of entries. It returns the names of the fields it changed.
func Repair(c *ChannelControl) []string {
	var repaired []string
	if c.Entries == nil {
		repaired = append(repaired, "downloaded_videos")
		c.Entries = map[string]Entry{}
	}
	if c.FileHashes == nil {
		repaired = append(repaired, "file_hashes")
		c.FileHashes = map[string]string{}
	}
	if c.Statistics.TotalVideos != len(c.Entries) {
		repaired = append(repaired, "statistics.total_videos")
		c.Statistics.TotalVideos = len(c.Entries)
	}
	return repaired
}

// Save atomically overwrites the ledger of channelDir.
func Save(channelDir string, c *ChannelControl) error {
	if err := file.WriteJSONAtomic(Path(channelDir), c); err != nil {
		return apperr.Wrap(err, apperr.ErrFileIO, "cannot save control ledger").WithContext("channel", c.ChannelName)
	}
	return nil
}

// ReconcileWithPrevious combines the previous ledger with a fresh rescan.
// With preserveDeleted, entries and file hashes of previous are kept and
// rescanned ones replace them on id collision, so items whose files were
// deleted stay recorded. Otherwise rescanned is used as is. Statistics
// come from the rescan; TotalVideos is recomputed from the entries.
func ReconcileWithPrevious(previous, rescanned *ChannelControl, preserveDeleted bool) *ChannelControl {
	out := &ChannelControl{
		ChannelName: rescanned.ChannelName,
		LastUpdated: rescanned.LastUpdated,
		Entries:     make(map[string]Entry, len(rescanned.Entries)),
		FileHashes:  make(map[string]string, len(rescanned.FileHashes)),
		Statistics:  rescanned.Statistics,
		Layout:      rescanned.Layout,
	}

	if preserveDeleted && previous != nil {
		for id, e := range previous.Entries {
			out.Entries[id] = e
		}
		for p, h := range previous.FileHashes {
			out.FileHashes[p] = h
		}
	}
	for id, e := range rescanned.Entries {
		out.Entries[id] = e
	}
	for p, h := range rescanned.FileHashes {
		out.FileHashes[p] = h
	}
	out.Statistics.TotalVideos = len(out.Entries)

	if preserved := len(out.Entries) - len(rescanned.Entries); preserved > 0 {
		log.Info("Preserved %d deleted item record(s) for %s", preserved, out.ChannelName)
	}
	return out
}

// ItemsPresentOnDisk returns the ids whose primary media file exists as a
// regular file now. Recorded statistics are not trusted.
func ItemsPresentOnDisk(channelDir string, c *ChannelControl) IDSet {
	present := IDSet{}
	if c == nil {
		return present
	}
	for id, e := range c.Entries {
		media := e.Files.PrimaryMedia()
		if media == "" {
			continue
		}
		if file.IsRegular(filepath.Join(channelDir, filepath.FromSlash(media))) {
			present.Add(id)
		}
	}
	return present
}

// Known returns every recorded id, whether or not its files still exist.
func Known(c *ChannelControl) IDSet {
	known := IDSet{}
	if c == nil {
		return known
	}
	for id := range c.Entries {
		known.Add(id)
	}
	return known
}

// Refresh rescans channelDir, reconciles the result with the saved ledger
// and saves it.
func Refresh(channelDir string, preserveDeleted bool) (*ChannelControl, error) {
	previous := Load(channelDir)
	rescanned, err := Rescan(channelDir)
	if err != nil {
		return nil, err
	}
	merged := ReconcileWithPrevious(previous, rescanned, preserveDeleted)
	if err := Save(channelDir, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
