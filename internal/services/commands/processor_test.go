// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dubarr/internal/database"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/testdb"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	dbPath := testdb.Path(t)
	db, err := database.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func newTestProcessor(t *testing.T) (*Processor, *models.CommandStore) {
	t.Helper()

	store := models.NewCommandStore(newTestDB(t))
	return NewProcessor(Config{}, store, zerolog.Nop()), store
}

func TestProcessor_RunsCommandsInOrder(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t)

	var order []string
	p.Register("record", func(_ context.Context, cmd *models.Command) (string, error) {
		var payload struct {
			Label string `json:"label"`
		}
		require.NoError(t, json.Unmarshal(cmd.Payload, &payload))
		order = append(order, payload.Label)
		return "done " + payload.Label, nil
	})

	ctx := t.Context()
	for _, label := range []string{"first", "second", "third"} {
		_, err := store.Enqueue(ctx, "record", json.RawMessage(fmt.Sprintf(`{"label":%q}`, label)), models.CommandTriggerManual)
		require.NoError(t, err)
	}

	for range 3 {
		p.tick(ctx)
	}

	assert.Equal(t, []string{"first", "second", "third"}, order)

	all, err := store.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, cmd := range all {
		assert.Equal(t, models.CommandStatusCompleted, cmd.Status)
		assert.NotNil(t, cmd.StartedAt)
		assert.NotNil(t, cmd.EndedAt)
	}
	// newest first
	assert.Equal(t, "done third", all[0].Message)
}

func TestProcessor_OneCommandPerTick(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t)
	p.Register("noop", func(context.Context, *models.Command) (string, error) {
		return "ok", nil
	})

	ctx := t.Context()
	for range 2 {
		_, err := store.Enqueue(ctx, "noop", nil, models.CommandTriggerManual)
		require.NoError(t, err)
	}

	p.tick(ctx)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.CommandStatusCompleted])
	assert.Equal(t, 1, counts[models.CommandStatusQueued])
}

func TestProcessor_EmptyQueueTickIsNoop(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t)

	ctx := t.Context()
	p.tick(ctx)
	p.tick(ctx)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestProcessor_UnknownCommandFails(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t)

	ctx := t.Context()
	cmd, err := store.Enqueue(ctx, "frobnicate", nil, models.CommandTriggerManual)
	require.NoError(t, err)

	p.tick(ctx)

	fetched, err := store.Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, fetched.Status)
	assert.Equal(t, "unknown command: frobnicate", fetched.Message)
	assert.NotNil(t, fetched.EndedAt)
}

func TestProcessor_HandlerErrorFailsCommand(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t)
	p.Register("scan", func(context.Context, *models.Command) (string, error) {
		return "", errors.New("catalog unreachable")
	})

	ctx := t.Context()
	cmd, err := store.Enqueue(ctx, "scan", nil, models.CommandTriggerManual)
	require.NoError(t, err)

	p.tick(ctx)

	fetched, err := store.Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, fetched.Status)
	assert.Equal(t, "catalog unreachable", fetched.Message)
}

func TestProcessor_HandlerPanicFailsCommand(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t)
	p.Register("explode", func(context.Context, *models.Command) (string, error) {
		panic("boom")
	})
	p.Register("noop", func(context.Context, *models.Command) (string, error) {
		return "ok", nil
	})

	ctx := t.Context()
	exploding, err := store.Enqueue(ctx, "explode", nil, models.CommandTriggerManual)
	require.NoError(t, err)
	next, err := store.Enqueue(ctx, "noop", nil, models.CommandTriggerManual)
	require.NoError(t, err)

	p.tick(ctx)

	fetched, err := store.Get(ctx, exploding.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, fetched.Status)
	assert.Equal(t, "handler panicked: boom", fetched.Message)

	// the panic does not poison the loop
	p.tick(ctx)

	fetched, err = store.Get(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusCompleted, fetched.Status)
}

func TestProcessor_RecoversStuckCommands(t *testing.T) {
	t.Parallel()

	p, store := newTestProcessor(t)

	ctx := t.Context()
	stuck, err := store.Enqueue(ctx, "scan", nil, models.CommandTriggerManual)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, stuck.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	p.recoverStuckCommands(ctx)

	fetched, err := store.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommandStatusFailed, fetched.Status)
	assert.Equal(t, "interrupted by restart", fetched.Message)
}

func TestProcessor_StartStop(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	store := models.NewCommandStore(db)
	p := NewProcessor(Config{PollInterval: 10 * time.Millisecond}, store, zerolog.Nop())
	p.Register("noop", func(context.Context, *models.Command) (string, error) {
		return "ok", nil
	})

	ctx := t.Context()
	cmd, err := store.Enqueue(ctx, "noop", nil, models.CommandTriggerManual)
	require.NoError(t, err)

	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		fetched, err := store.Get(ctx, cmd.ID)
		return err == nil && fetched.Status == models.CommandStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	p.Stop()
	// Stop is idempotent
	p.Stop()
}
