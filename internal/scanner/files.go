// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/autobrr/dubarr/pkg/hashutil"
)

var videoExtensions = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".flv":  {},
	".webm": {},
	".m4v":  {},
	".mpg":  {},
	".mpeg": {},
	".ts":   {},
	".m2ts": {},
}

func isVideoFile(name string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// seasonDirs returns the "Season *" subfolders of a title, sorted.
func seasonDirs(titlePath string) ([]string, error) {
	entries, err := os.ReadDir(titlePath)
	if err != nil {
		return nil, err
	}

	var seasons []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if strings.HasPrefix(strings.ToLower(entry.Name()), "season ") {
			seasons = append(seasons, entry.Name())
		}
	}
	sort.Strings(seasons)
	return seasons, nil
}

// videoFilesIn returns the video files directly inside dir, in sorted
// order. Nested folders are not descended into; episode files live
// flat in their season folder.
func videoFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isVideoFile(entry.Name()) {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// seriesWatermark is the newest mtime of any file under the title's
// season folders. Files at the title root, tvshow.nfo included, stay
// outside the watermark so mirror writes do not retrigger scans.
func seriesWatermark(titlePath string, seasons []string) time.Time {
	var newest time.Time
	for _, season := range seasons {
		newest = maxTime(newest, treeWatermark(filepath.Join(titlePath, season)))
	}
	return newest
}

// movieWatermark is the newest mtime of any file under the title root.
func movieWatermark(titlePath string) time.Time {
	return treeWatermark(titlePath)
}

func treeWatermark(root string) time.Time {
	var newest time.Time
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		newest = maxTime(newest, info.ModTime())
		return nil
	})
	return newest
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// titleFingerprint hashes the relative file paths under a title so
// renames and moves are detected even when no mtime changes.
func titleFingerprint(titlePath string) string {
	var paths []string
	_ = filepath.WalkDir(titlePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(titlePath, path)
		if err != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})

	return fmt.Sprintf("%016x", hashutil.Fingerprint(paths))
}

var extraMarkers = []string{
	"sample",
	"trailer",
	"extras",
	"featurette",
	"behind-the-scenes",
	"deleted-scenes",
}

func isExtraName(name string) bool {
	lowered := strings.ToLower(name)
	for _, marker := range extraMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// largestVideo returns the path of the biggest video file under the
// title root, skipping extras subtrees and extra-looking files.
// Empty when the title has no scannable video.
func largestVideo(titlePath string) string {
	var best string
	var bestSize int64

	_ = filepath.WalkDir(titlePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != titlePath && isExtraName(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !isVideoFile(d.Name()) || isExtraName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if best == "" || info.Size() > bestSize {
			best = path
			bestSize = info.Size()
		}
		return nil
	})

	return best
}
