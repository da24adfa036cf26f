// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"errors"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// isUniqueConstraintError detects SQLite unique violations so stores
// can surface them as their own duplicate-name errors instead of a
// driver string.
func isUniqueConstraintError(err error) bool {
	var sqlErr *sqlite.Error
	return errors.As(err, &sqlErr) && sqlErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE
}
