// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dubarr/internal/auth"
	"github.com/autobrr/dubarr/internal/config"
	"github.com/autobrr/dubarr/internal/domain"
	"github.com/autobrr/dubarr/internal/models"
)

type routeKey struct {
	Method string
	Path   string
}

// declaredRoutes is the API surface the router must expose. The route test
// fails in both directions: routes registered but not declared here, and
// routes declared but never registered.
var declaredRoutes = []routeKey{
	{http.MethodGet, "/health"},
	{http.MethodGet, "/health/readiness"},
	{http.MethodGet, "/health/liveness"},

	{http.MethodPost, "/api/auth/setup"},
	{http.MethodGet, "/api/auth/check-setup"},
	{http.MethodPost, "/api/auth/login"},
	{http.MethodPost, "/api/auth/logout"},
	{http.MethodGet, "/api/auth/me"},
	{http.MethodGet, "/api/auth/validate"},
	{http.MethodPost, "/api/auth/change-password"},
	{http.MethodGet, "/api/auth/api-keys"},
	{http.MethodPost, "/api/auth/api-keys"},
	{http.MethodDelete, "/api/auth/api-keys/{id}"},

	{http.MethodGet, "/api/instances"},
	{http.MethodPost, "/api/instances"},
	{http.MethodGet, "/api/instances/{instanceID}"},
	{http.MethodPut, "/api/instances/{instanceID}"},
	{http.MethodDelete, "/api/instances/{instanceID}"},
	{http.MethodPost, "/api/instances/{instanceID}/test"},
	{http.MethodPost, "/api/instances/{instanceID}/scan"},
	{http.MethodGet, "/api/instances/{instanceID}/state"},

	{http.MethodGet, "/api/commands"},
	{http.MethodGet, "/api/commands/{commandID}"},
	{http.MethodDelete, "/api/commands/{commandID}"},

	{http.MethodGet, "/api/notifications"},
	{http.MethodPost, "/api/notifications"},
	{http.MethodPut, "/api/notifications/{id}"},
	{http.MethodDelete, "/api/notifications/{id}"},
	{http.MethodPost, "/api/notifications/{id}/test"},

	{http.MethodGet, "/api/backups"},
	{http.MethodPost, "/api/backups"},
	{http.MethodDelete, "/api/backups/{backupID}"},
	{http.MethodPost, "/api/backups/{backupID}/restore"},
	{http.MethodGet, "/api/backups/{backupID}/download"},

	{http.MethodGet, "/api/settings"},
	{http.MethodPut, "/api/settings"},

	{http.MethodGet, "/api/config"},
	{http.MethodPatch, "/api/config"},

	{http.MethodGet, "/api/updates/latest"},
	{http.MethodGet, "/api/updates/check"},
	{http.MethodGet, "/api/version/latest"},
}

func TestRouterRegistersDeclaredRoutes(t *testing.T) {
	router := NewRouter(newTestDependencies(t))

	actualRoutes := collectRouterRoutes(t, router)

	declared := make(map[routeKey]struct{}, len(declaredRoutes))
	for _, route := range declaredRoutes {
		declared[route] = struct{}{}
	}

	undeclared := diffRoutes(actualRoutes, declared)
	if len(undeclared) > 0 {
		t.Fatalf("found %d registered routes missing from the declared surface:\n%s", len(undeclared), formatRoutes(undeclared))
	}

	missing := diffRoutes(declared, actualRoutes)
	if len(missing) > 0 {
		t.Fatalf("found %d declared routes without handlers:\n%s", len(missing), formatRoutes(missing))
	}

	t.Logf("checked %d API routes registered in chi", len(actualRoutes))
}

func TestRouterMountsUnderBaseURL(t *testing.T) {
	deps := newTestDependencies(t)
	deps.Config.Config.BaseURL = "/dubarr/"

	router := NewRouter(deps)
	actualRoutes := collectRouterRoutes(t, router)

	_, found := actualRoutes[routeKey{Method: http.MethodGet, Path: "/dubarr/api/instances"}]
	require.True(t, found, "expected instance routes under the base URL")

	_, found = actualRoutes[routeKey{Method: http.MethodGet, Path: "/"}]
	require.True(t, found, "expected a root redirect to the base URL")
}

func TestRouterMetricsRouteToggle(t *testing.T) {
	deps := newTestDependencies(t)

	router := NewRouter(deps)
	actualRoutes := collectRouterRoutes(t, router)
	_, found := actualRoutes[routeKey{Method: http.MethodGet, Path: "/metrics"}]
	require.False(t, found, "metrics route should be absent while disabled")
}

func newTestDependencies(t *testing.T) *Dependencies {
	t.Helper()

	return &Dependencies{
		Config: &config.AppConfig{
			Config: &domain.Config{},
		},
		AuthService:              &auth.Service{},
		SessionManager:           scs.New(),
		InstanceStore:            &models.InstanceStore{},
		CommandStore:             &models.CommandStore{},
		NotificationChannelStore: &models.NotificationChannelStore{},
		SettingStore:             &models.SettingStore{},
	}
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(method)
		if !isComparableMethod(method) {
			return nil
		}

		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			return nil
		}

		routes[routeKey{Method: method, Path: normalizedPath}] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func normalizeRoutePath(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	if strings.Contains(path, "/*") {
		return "", false
	}

	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	return path, true
}

func isComparableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func diffRoutes(left, right map[routeKey]struct{}) []routeKey {
	diff := make([]routeKey, 0)
	for route := range left {
		if _, exists := right[route]; !exists {
			diff = append(diff, route)
		}
	}

	sort.Slice(diff, func(i, j int) bool {
		if diff[i].Path == diff[j].Path {
			return diff[i].Method < diff[j].Method
		}
		return diff[i].Path < diff[j].Path
	})

	return diff
}

func formatRoutes(routes []routeKey) string {
	lines := make([]string, len(routes))
	for i, route := range routes {
		lines[i] = fmt.Sprintf("%s %s", route.Method, route.Path)
	}
	return strings.Join(lines, "\n")
}
