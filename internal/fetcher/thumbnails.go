package fetcher

import (
	"os"
	"path/filepath"
	"strings"
)

var thumbnailExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// CleanupThumbnails keeps the largest file of each thumbnail group in every
// item folder of dest. A group is the thumbnails whose names share
// everything before the last dot of the stem ("x.hq.jpg" and "x.max.webp").
// It returns the number of groups reduced and files removed.
func CleanupThumbnails(dest string) (groups, removed int, err error) {
	dirs, err := os.ReadDir(dest)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		g, r := cleanupDir(filepath.Join(dest, d.Name()))
		groups += g
		removed += r
	}
	return groups, removed, nil
}

type thumb struct {
	path string
	size int64
}

func cleanupDir(dir string) (groups, removed int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}

	byBase := map[string][]thumb{}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.Type().IsRegular() || !thumbnailExts[ext] {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		i := strings.LastIndex(stem, ".")
		if i < 0 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		base := stem[:i]
		byBase[base] = append(byBase[base], thumb{path: filepath.Join(dir, e.Name()), size: info.Size()})
	}

	for _, list := range byBase {
		if len(list) < 2 {
			continue
		}
		largest := 0
		for i, t := range list {
			if t.size > list[largest].size {
				largest = i
			}
		}
		for i, t := range list {
			if i == largest {
				continue
			}
			if err := os.Remove(t.path); err == nil {
				removed++
			}
		}
		groups++
	}
	return groups, removed
}
