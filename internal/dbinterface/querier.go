// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface holds the narrow database contracts the stores
// compile against, so models never import internal/database and the
// packages stay cycle-free.
package dbinterface

import (
	"context"
	"database/sql"
)

// Querier runs statements and queries. *sql.DB, *sql.Tx, and
// *database.DB all satisfy it, which lets a store method run unchanged
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner is a Querier that can open transactions. Only *sql.DB and
// *database.DB qualify; a *sql.Tx cannot nest.
type TxBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
