// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pathcmp compares file paths across the process and catalog
// views of a library. The two sides may mount the same library under
// different separators or casing, so comparisons run on a normalized
// forward-slash form.
package pathcmp

import (
	"path"
	"strings"
)

// NormalizePath folds a path into comparable forward-slash form:
// backslashes become slashes, dot segments collapse, and trailing
// separators drop. Windows drive roots keep their slash so "C:/" and
// the drive-relative "C:" stay distinct.
func NormalizePath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")

	if drive, rest, ok := splitDrive(p); ok {
		if rest == "" {
			return drive
		}
		rest = path.Clean(rest)
		switch rest {
		case "/":
			return drive + "/"
		case ".":
			return drive
		}
		return drive + rest
	}

	return path.Clean(p)
}

// NormalizePathFold is NormalizePath plus case folding, for catalogs
// that report paths with Windows casing.
func NormalizePathFold(p string) string {
	return strings.ToLower(NormalizePath(p))
}

// splitDrive separates a leading Windows drive like "C:" from the rest
// of the path.
func splitDrive(p string) (drive, rest string, ok bool) {
	if len(p) < 2 || p[1] != ':' {
		return "", "", false
	}
	c := p[0]
	if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
		return "", "", false
	}
	return p[:2], p[2:], true
}
