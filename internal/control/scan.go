package control

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/pkg/file"
	"github.com/MimeLyc/podharvest/pkg/log"
)

const descriptorSuffix = ".info.json"

var (
	audioExts     = []string{".mp3", ".m4a", ".wav", ".opus"}
	videoExts     = []string{".mp4", ".webm", ".mkv", ".avi"}
	thumbnailExts = []string{".jpg", ".jpeg", ".png", ".webp"}
	subtitleLangs = []string{"en", "pl", "auto"}
	subtitleExts  = []string{"srt", "vtt", "ass", "ssa"}
)

// descriptor is the subset of the fetch tool's info.json we record.
type descriptor struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	UploadDate string   `json:"upload_date"`
	Duration   *float64 `json:"duration"`
	Uploader   string   `json:"uploader"`
	WebpageURL string   `json:"webpage_url"`
}

// DetectLayout reports Subfoldered when any non-hidden subfolder of
// channelDir holds an item descriptor.
func DetectLayout(channelDir string) (Layout, error) {
	entries, err := os.ReadDir(channelDir)
	if err != nil {
		return Flat, err
	}
	for _, e := range entries {
		if !e.IsDir() || file.Hidden(e.Name()) {
			continue
		}
		names, err := dirNames(filepath.Join(channelDir, e.Name()))
		if err != nil {
			continue
		}
		for _, n := range names {
			if strings.HasSuffix(n, descriptorSuffix) {
				return Subfoldered, nil
			}
		}
	}
	return Flat, nil
}

// Rescan rebuilds the ledger of channelDir from the files on disk.
// Descriptors that cannot be parsed or carry no id are skipped.
func Rescan(channelDir string) (*ChannelControl, error) {
	layout, err := DetectLayout(channelDir)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrFileIO, "cannot scan channel directory").WithContext("dir", channelDir)
	}

	c := Empty(filepath.Base(channelDir))
	c.Layout = layout
	c.LastUpdated = now().Format(timeLayout)

	dirs := []string{""}
	if layout == Subfoldered {
		entries, _ := os.ReadDir(channelDir)
		for _, e := range entries {
			if e.IsDir() && !file.Hidden(e.Name()) {
				dirs = append(dirs, e.Name())
			}
		}
	}

	for _, sub := range dirs {
		s := scanner{channelDir: channelDir, sub: sub, control: c}
		if err := s.scan(); err != nil {
			log.Warn("Skipping %s: %v", filepath.Join(channelDir, sub), err)
		}
	}
	c.Statistics.TotalVideos = len(c.Entries)
	return c, nil
}

// scanner records the items of one working directory: the channel root or
// one item subfolder.
type scanner struct {
	channelDir string
	sub        string
	control    *ChannelControl
	names      map[string]bool
	sorted     []string
}

func (s *scanner) dir() string {
	return filepath.Join(s.channelDir, s.sub)
}

func (s *scanner) rel(name string) string {
	if s.sub == "" {
		return name
	}
	return path.Join(s.sub, name)
}

func (s *scanner) scan() error {
	names, err := dirNames(s.dir())
	if err != nil {
		return err
	}
	s.sorted = names
	s.names = make(map[string]bool, len(names))
	for _, n := range names {
		s.names[n] = true
	}

	for _, name := range names {
		if !strings.HasSuffix(name, descriptorSuffix) {
			continue
		}
		desc, err := readDescriptor(filepath.Join(s.dir(), name))
		if err != nil {
			log.Warn("Cannot read %s: %v", s.rel(name), err)
			continue
		}
		if desc.ID == "" {
			continue
		}
		s.record(name, desc)
	}
	return nil
}

func (s *scanner) record(infoName string, desc descriptor) {
	stats := &s.control.Statistics
	files := s.match(infoName)

	var size int64
	addSize := func(name string) {
		if info, err := os.Stat(filepath.Join(s.dir(), name)); err == nil {
			size += info.Size()
		}
	}
	if files.Audio != "" {
		stats.TotalAudioFiles++
		addSize(files.Audio)
	}
	if files.Video != "" {
		stats.TotalVideoFiles++
		addSize(files.Video)
	}
	stats.TotalThumbnails += len(files.Thumbnails)
	for _, n := range files.Thumbnails {
		addSize(n)
	}
	stats.TotalSubtitles += len(files.Subtitles)
	for _, n := range files.Subtitles {
		addSize(n)
	}
	if files.Annotations != "" {
		stats.TotalAnnotations++
		addSize(files.Annotations)
	}
	stats.TotalSizeBytes += size
	stats.DateRange.add(desc.UploadDate)

	for _, name := range files.All() {
		if h, err := Fingerprint(filepath.Join(s.dir(), name)); err == nil {
			s.control.FileHashes[s.rel(name)] = h
		}
	}

	entry := Entry{
		Title:         desc.Title,
		UploadDate:    desc.UploadDate,
		Uploader:      desc.Uploader,
		WebpageURL:    desc.WebpageURL,
		Files:         s.relative(files),
		FileSizeBytes: size,
	}
	if desc.Duration != nil {
		entry.Duration = *desc.Duration
	}
	if info, err := os.Stat(filepath.Join(s.dir(), infoName)); err == nil {
		entry.DownloadDate = info.ModTime().Format(timeLayout)
	}
	if s.sub != "" {
		sub := s.sub
		entry.Subfolder = &sub
	}
	s.control.Entries[desc.ID] = entry
}

// match finds the files sharing the descriptor's name prefix. Both the
// name without ".info.json" and the name with every ".info" removed are
// tried.
func (s *scanner) match(infoName string) Files {
	base := strings.TrimSuffix(infoName, descriptorSuffix)
	bases := []string{base}
	if alt := strings.ReplaceAll(base, ".info", ""); alt != base {
		bases = append(bases, alt)
	}

	files := Files{InfoJSON: infoName}
	files.Description = s.first(bases, []string{".description"})
	files.Audio = s.first(bases, audioExts)
	files.Video = s.first(bases, videoExts)
	files.Annotations = s.first(bases, []string{".annotations.xml"})

	seen := map[string]bool{}
	add := func(list *[]string, name string) {
		if s.names[name] && !seen[name] {
			seen[name] = true
			*list = append(*list, name)
		}
	}
	for _, b := range bases {
		for _, ext := range thumbnailExts {
			add(&files.Thumbnails, b+ext)
		}
	}
	for _, b := range bases {
		for _, n := range s.sorted {
			if strings.HasPrefix(n, b+".") && strings.HasSuffix(n, ".srt") && len(n) > len(b)+len(".srt") {
				add(&files.Subtitles, n)
			}
		}
		add(&files.Subtitles, b+".srt")
		for _, lang := range subtitleLangs {
			for _, ext := range subtitleExts {
				add(&files.Subtitles, b+"."+lang+"."+ext)
			}
		}
	}
	return files
}

func (s *scanner) first(bases, exts []string) string {
	for _, b := range bases {
		for _, ext := range exts {
			if s.names[b+ext] {
				return b + ext
			}
		}
	}
	return ""
}

func (s *scanner) relative(f Files) Files {
	rel := func(list []string) []string {
		var out []string
		for _, n := range list {
			out = append(out, s.rel(n))
		}
		return out
	}
	out := Files{InfoJSON: s.rel(f.InfoJSON), Thumbnails: rel(f.Thumbnails), Subtitles: rel(f.Subtitles)}
	for _, p := range []struct {
		dst *string
		src string
	}{
		{&out.Description, f.Description},
		{&out.Audio, f.Audio},
		{&out.Video, f.Video},
		{&out.Annotations, f.Annotations},
	} {
		if p.src != "" {
			*p.dst = s.rel(p.src)
		}
	}
	return out
}

// Fingerprint is an md5 over file size and modification time. Media files
// are large, so content is never read.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%s", info.Size(), strconv.FormatFloat(mtime, 'f', -1, 64))))
	return hex.EncodeToString(sum[:]), nil
}

func readDescriptor(path string) (descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return descriptor{}, err
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return descriptor{}, err
	}
	return d, nil
}

func dirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
