// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nfo patches tag and genre elements in Kodi-style NFO files. The
// patching is line based and leaves every untouched line byte-identical, so
// hand-edited metadata survives the mirror.
package nfo

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	tagPattern   = regexp.MustCompile(`^(\s*)<tag>(.*)</tag>\s*$`)
	genrePattern = regexp.MustCompile(`^(\s*)<genre>(.*)</genre>\s*$`)

	closingPattern = regexp.MustCompile(`^\s*</[A-Za-z]+>\s*$`)

	entityReplacer = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&apos;", "'",
		"&quot;", `"`,
	)
)

const defaultIndent = "  "

// ReadGenres returns the genre values of an NFO file with basic XML
// entities decoded.
func ReadGenres(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var genres []string
	for _, line := range strings.Split(string(content), "\n") {
		if m := genrePattern.FindStringSubmatch(line); m != nil {
			genres = append(genres, entityReplacer.Replace(strings.TrimSpace(m[2])))
		}
	}

	return genres, nil
}

// UpdateTag ensures the wanted value is the only managed <tag> element in
// the file. An empty want removes all managed values. Unmanaged tags are
// never touched.
func UpdateTag(path, want string, managed []string) error {
	return updateElement(path, tagPattern, "tag", want, managed)
}

// UpdateGenre mirrors UpdateTag for <genre> elements.
func UpdateGenre(path, want string, managed []string) error {
	return updateElement(path, genrePattern, "genre", want, managed)
}

func updateElement(path string, pattern *regexp.Regexp, element, want string, managed []string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(content), "\n")

	changed := false
	found := false
	indent := defaultIndent
	lastElementIdx := -1

	kept := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			kept = append(kept, line)
			continue
		}

		value := entityReplacer.Replace(strings.TrimSpace(m[2]))
		indent = m[1]

		if isManaged(value, managed) && !strings.EqualFold(value, want) {
			changed = true
			continue
		}
		if strings.EqualFold(value, want) {
			found = true
		}

		kept = append(kept, line)
		lastElementIdx = len(kept) - 1
	}

	if want != "" && !found {
		insert := fmt.Sprintf("%s<%s>%s</%s>", indent, element, want, element)
		kept = insertLine(kept, lastElementIdx, insert)
		changed = true
	}

	if !changed {
		// Leave the file untouched so its mtime stays stable.
		return nil
	}

	return writeAtomic(path, strings.Join(kept, "\n"))
}

func isManaged(value string, managed []string) bool {
	for _, m := range managed {
		if strings.EqualFold(value, m) {
			return true
		}
	}
	return false
}

// insertLine places the new element after the last sibling of its kind,
// falling back to just before the closing root element.
func insertLine(lines []string, afterIdx int, insert string) []string {
	idx := afterIdx + 1
	if afterIdx < 0 {
		idx = len(lines)
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.TrimSpace(lines[i]) == "" {
				continue
			}
			if closingPattern.MatchString(lines[i]) {
				idx = i
			}
			break
		}
	}

	lines = append(lines, "")
	copy(lines[idx+1:], lines[idx:])
	lines[idx] = insert

	return lines
}

func writeAtomic(path, content string) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
