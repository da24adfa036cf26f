// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb hands tests migrated SQLite database files without
// rerunning the schema migrations for every single test.
package testdb

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/autobrr/dubarr/internal/database"
)

var (
	templateOnce sync.Once
	templatePath string
	templateErr  error
)

// Path returns a fresh, fully migrated database file rooted in the test's
// temp dir. The first call per process runs the migrations once into a
// template; every call clones that template, so tests stay isolated while
// only paying the migration cost a single time.
func Path(t *testing.T) string {
	t.Helper()

	templateOnce.Do(buildTemplate)
	if templateErr != nil {
		t.Fatalf("build database template: %v", templateErr)
	}

	dbPath := filepath.Join(t.TempDir(), "dubarr.db")
	if err := clone(templatePath, dbPath); err != nil {
		t.Fatalf("clone database template: %v", err)
	}

	return dbPath
}

func buildTemplate() {
	dir, err := os.MkdirTemp("", "dubarr-dbtemplate-")
	if err != nil {
		templateErr = err
		return
	}

	path := filepath.Join(dir, "template.db")
	db, err := database.New(path)
	if err != nil {
		templateErr = err
		return
	}
	if err := db.Close(); err != nil {
		templateErr = err
		return
	}

	templatePath = path
}

// clone copies the main database file and, when present, its WAL sidecars.
// A clean close checkpoints the WAL, but a crashed earlier run may have
// left them behind.
func clone(src, dst string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		data, err := os.ReadFile(src + suffix)
		if err != nil {
			if suffix != "" && os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.WriteFile(dst+suffix, data, 0o644); err != nil {
			return err
		}
	}

	return nil
}
