// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dubarr/internal/arr"
	"github.com/autobrr/dubarr/internal/models"
	"github.com/autobrr/dubarr/internal/scanner"
)

type fakeScanner struct {
	instance *models.Instance
	client   scanner.CatalogClient
	mode     scanner.WriteMode
	summary  *scanner.Summary
	err      error
}

func (f *fakeScanner) Scan(_ context.Context, instance *models.Instance, client scanner.CatalogClient, mode scanner.WriteMode) (*scanner.Summary, error) {
	f.instance = instance
	f.client = client
	f.mode = mode
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type fakeDispatcher struct {
	events   []models.NotificationEvent
	titles   []string
	messages []string
}

func (f *fakeDispatcher) Dispatch(event models.NotificationEvent, title, message string) {
	f.events = append(f.events, event)
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
}

type fakeCatalog struct {
	apiKey string
	closed bool
}

func (f *fakeCatalog) InvalidateCache() {}

func (f *fakeCatalog) FindByPath(context.Context, string) (*arr.MediaItem, error) {
	return nil, nil
}

func (f *fakeCatalog) ApplyTagChanges(context.Context, int, []string, []string, bool) error {
	return nil
}

func (f *fakeCatalog) Refresh(context.Context, int) error { return nil }

func (f *fakeCatalog) Close() { f.closed = true }

type scanHandlerFixture struct {
	handler   *ScanHandler
	instances *models.InstanceStore
	scan      *fakeScanner
	catalog   *fakeCatalog
	notifier  *fakeDispatcher
}

func newScanHandlerFixture(t *testing.T) *scanHandlerFixture {
	t.Helper()

	instances, err := models.NewInstanceStore(newTestDB(t), []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	scan := &fakeScanner{summary: &scanner.Summary{Scanned: 2, Skipped: 1}}
	catalog := &fakeCatalog{}
	notifier := &fakeDispatcher{}

	handler := NewScanHandler(instances, scan, notifier, zerolog.Nop())
	handler.newCatalog = func(_ *models.Instance, apiKey string) catalogClient {
		catalog.apiKey = apiKey
		return catalog
	}

	return &scanHandlerFixture{
		handler:   handler,
		instances: instances,
		scan:      scan,
		catalog:   catalog,
		notifier:  notifier,
	}
}

func (f *scanHandlerFixture) createInstance(t *testing.T, name string) *models.Instance {
	t.Helper()

	instance, err := f.instances.Create(t.Context(), models.InstanceCreateParams{
		Name:            name,
		Kind:            models.InstanceKindTV,
		BaseURL:         "http://localhost:8989",
		APIKey:          "super-secret",
		LibraryRoot:     t.TempDir(),
		TargetLanguages: []string{"en"},
		Enabled:         true,
	})
	require.NoError(t, err)

	return instance
}

func scanCommand(payload string) *models.Command {
	return &models.Command{
		ID:          1,
		Name:        CommandScanInstance,
		Payload:     json.RawMessage(payload),
		TriggeredBy: models.CommandTriggerManual,
	}
}

func TestScanHandler_Handle(t *testing.T) {
	t.Parallel()

	f := newScanHandlerFixture(t)
	instance := f.createInstance(t, "Anime TV")

	ctx := t.Context()
	message, err := f.handler.Handle(ctx, scanCommand(fmt.Sprintf(`{"instanceId":%d,"writeMode":"rewrite"}`, instance.ID)))
	require.NoError(t, err)

	assert.Equal(t, "Anime TV: 2 scanned, 1 skipped, 0 failed, 0 removed", message)
	assert.Equal(t, scanner.WriteModeRewrite, f.scan.mode)
	require.NotNil(t, f.scan.instance)
	assert.Equal(t, instance.ID, f.scan.instance.ID)

	// the pass ran against a client built from the decrypted key
	assert.Equal(t, "super-secret", f.catalog.apiKey)
	assert.Same(t, f.catalog, f.scan.client)
	assert.True(t, f.catalog.closed)
	assert.Empty(t, f.notifier.events)
}

func TestScanHandler_HandleErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid payload", func(t *testing.T) {
		t.Parallel()

		f := newScanHandlerFixture(t)

		_, err := f.handler.Handle(t.Context(), scanCommand(`{"instanceId":"one"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid scan payload")
	})

	t.Run("unknown instance", func(t *testing.T) {
		t.Parallel()

		f := newScanHandlerFixture(t)

		_, err := f.handler.Handle(t.Context(), scanCommand(`{"instanceId":4242}`))
		assert.ErrorIs(t, err, models.ErrInstanceNotFound)
	})

	t.Run("invalid write mode", func(t *testing.T) {
		t.Parallel()

		f := newScanHandlerFixture(t)
		instance := f.createInstance(t, "Anime TV")

		_, err := f.handler.Handle(t.Context(), scanCommand(fmt.Sprintf(`{"instanceId":%d,"writeMode":"sideways"}`, instance.ID)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid write mode")
	})

	t.Run("scan failure propagates and still closes the client", func(t *testing.T) {
		t.Parallel()

		f := newScanHandlerFixture(t)
		instance := f.createInstance(t, "Anime TV")
		f.scan.err = errors.New("library root missing")

		_, err := f.handler.Handle(t.Context(), scanCommand(fmt.Sprintf(`{"instanceId":%d}`, instance.ID)))
		assert.EqualError(t, err, "library root missing")
		assert.True(t, f.catalog.closed)

		// a pass failing outright is a health event
		require.Equal(t, []models.NotificationEvent{models.EventHealthWarning}, f.notifier.events)
		assert.Equal(t, []string{"Anime TV"}, f.notifier.titles)
		assert.Equal(t, []string{"Scan failed: library root missing"}, f.notifier.messages)
	})
}

func TestScanHandler_DefaultCatalogBuilders(t *testing.T) {
	t.Parallel()

	handler := NewScanHandler(nil, nil, nil, zerolog.Nop())

	for _, kind := range []models.InstanceKind{models.InstanceKindTV, models.InstanceKindMovie} {
		client := handler.newCatalog(&models.Instance{Kind: kind, BaseURL: "http://localhost:8989"}, "key")
		require.NotNil(t, client)
		client.Close()
	}
}

type fakeBackupRunner struct {
	kind   models.BackupKind
	calls  int
	backup *models.Backup
	err    error
}

func (f *fakeBackupRunner) Create(_ context.Context, kind models.BackupKind) (*models.Backup, error) {
	f.calls++
	f.kind = kind
	if f.err != nil {
		return nil, f.err
	}
	return f.backup, nil
}

func TestBackupHandler_Handle(t *testing.T) {
	t.Parallel()

	t.Run("manual trigger", func(t *testing.T) {
		t.Parallel()

		runner := &fakeBackupRunner{backup: &models.Backup{
			ArchivePath: "/data/backups/dubarr-backup-20260301T020000.zip",
			SizeBytes:   524288,
		}}
		handler := NewBackupHandler(runner)

		message, err := handler.Handle(t.Context(), &models.Command{
			Name:        CommandCreateBackup,
			TriggeredBy: models.CommandTriggerManual,
		})
		require.NoError(t, err)

		assert.Equal(t, "created dubarr-backup-20260301T020000.zip (524 kB)", message)
		assert.Equal(t, models.BackupKindManual, runner.kind)
		assert.Equal(t, 1, runner.calls)
	})

	t.Run("scheduled trigger maps to scheduled kind", func(t *testing.T) {
		t.Parallel()

		runner := &fakeBackupRunner{backup: &models.Backup{ArchivePath: "dubarr-backup.zip"}}
		handler := NewBackupHandler(runner)

		_, err := handler.Handle(t.Context(), &models.Command{
			Name:        CommandCreateBackup,
			TriggeredBy: models.CommandTriggerScheduled,
		})
		require.NoError(t, err)
		assert.Equal(t, models.BackupKindScheduled, runner.kind)
	})

	t.Run("failure propagates", func(t *testing.T) {
		t.Parallel()

		runner := &fakeBackupRunner{err: errors.New("disk full")}
		handler := NewBackupHandler(runner)

		_, err := handler.Handle(t.Context(), &models.Command{Name: CommandCreateBackup})
		assert.EqualError(t, err, "disk full")
	})
}
