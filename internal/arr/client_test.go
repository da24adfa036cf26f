// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/dubarr/internal/metrics/collector"
)

type callCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *callCounter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		if c.counts == nil {
			c.counts = make(map[string]int)
		}
		c.counts[r.Method+" "+r.URL.Path]++
		c.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (c *callCounter) count(method, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[method+" "+path]
}

func (c *callCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

func newTestSeriesClient(t *testing.T, host string) *Client {
	t.Helper()

	client := NewSeriesClient(Config{Host: host, APIKey: "test-key", Timeout: 5}, zerolog.Nop())
	client.retryDelay = time.Millisecond
	t.Cleanup(client.Close)
	return client
}

func newTestMovieClient(t *testing.T, host string) *Client {
	t.Helper()

	client := NewMovieClient(Config{Host: host, APIKey: "test-key", Timeout: 5}, zerolog.Nop())
	client.retryDelay = time.Millisecond
	t.Cleanup(client.Close)
	return client
}

func staticTagsHandler(t *testing.T, tags []Tag) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected %s on tag endpoint", r.Method)
			http.Error(w, "unexpected tag write", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(tags)
	}
}

func TestClient_GetOrCreateTag(t *testing.T) {
	t.Parallel()

	t.Run("case insensitive lookup uses the cached list", func(t *testing.T) {
		t.Parallel()

		counter := &callCounter{}
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/tag", func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
			staticTagsHandler(t, []Tag{{ID: 1, Label: "dub"}, {ID: 2, Label: "semi-dub"}})(w, r)
		})
		server := httptest.NewServer(counter.middleware(mux))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		ctx := context.Background()

		id, err := client.GetOrCreateTag(ctx, "DUB")
		require.NoError(t, err)
		require.Equal(t, 1, id)

		id, err = client.GetOrCreateTag(ctx, "Semi-Dub")
		require.NoError(t, err)
		require.Equal(t, 2, id)

		require.Equal(t, 1, counter.count(http.MethodGet, "/api/v3/tag"))
	})

	t.Run("creates missing tag and drops the cache", func(t *testing.T) {
		t.Parallel()

		var (
			mu   sync.Mutex
			tags = []Tag{{ID: 1, Label: "dub"}}
		)

		counter := &callCounter{}
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/tag", func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()

			switch r.Method {
			case http.MethodGet:
				_ = json.NewEncoder(w).Encode(tags)
			case http.MethodPost:
				var payload struct {
					Label string `json:"label"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

				created := Tag{ID: 7, Label: payload.Label}
				tags = append(tags, created)
				w.WriteHeader(http.StatusCreated)
				_ = json.NewEncoder(w).Encode(created)
			}
		})
		server := httptest.NewServer(counter.middleware(mux))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		ctx := context.Background()

		id, err := client.GetOrCreateTag(ctx, "wrong-dub")
		require.NoError(t, err)
		require.Equal(t, 7, id)
		require.Equal(t, 1, counter.count(http.MethodPost, "/api/v3/tag"))

		// The create invalidated the cache, so the next lookup refetches.
		id, err = client.GetOrCreateTag(ctx, "wrong-dub")
		require.NoError(t, err)
		require.Equal(t, 7, id)
		require.Equal(t, 2, counter.count(http.MethodGet, "/api/v3/tag"))
		require.Equal(t, 1, counter.count(http.MethodPost, "/api/v3/tag"))
	})
}

func TestClient_ApplyTagChanges(t *testing.T) {
	t.Parallel()

	t.Run("single read and write with unknown fields preserved", func(t *testing.T) {
		t.Parallel()

		var (
			mu      sync.Mutex
			putBody []byte
		)

		counter := &callCounter{}
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/tag", staticTagsHandler(t, []Tag{{ID: 1, Label: "dub"}, {ID: 2, Label: "semi-dub"}, {ID: 3, Label: "wrong-dub"}}))
		mux.HandleFunc("/api/v3/series/5", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_, _ = w.Write([]byte(`{"id":5,"title":"Alpha","path":"/tv/Alpha","qualityProfileId":4,"statistics":{"episodeFileCount":12},"tags":[2,9]}`))
			case http.MethodPut:
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				mu.Lock()
				putBody = body
				mu.Unlock()
				_, _ = w.Write(body)
			}
		})
		server := httptest.NewServer(counter.middleware(mux))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		err := client.ApplyTagChanges(context.Background(), 5, []string{"dub"}, []string{"semi-dub"}, false)
		require.NoError(t, err)

		require.Equal(t, 1, counter.count(http.MethodGet, "/api/v3/series/5"))
		require.Equal(t, 1, counter.count(http.MethodPut, "/api/v3/series/5"))

		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(putBody, &doc))

		var newTags []int
		require.NoError(t, json.Unmarshal(doc["tags"], &newTags))
		require.Equal(t, []int{1, 9}, newTags, "unmanaged tag 9 must survive the write")

		require.JSONEq(t, `4`, string(doc["qualityProfileId"]))
		require.JSONEq(t, `{"episodeFileCount":12}`, string(doc["statistics"]))
		require.JSONEq(t, `"/tv/Alpha"`, string(doc["path"]))
	})

	t.Run("creates missing add tag before the read", func(t *testing.T) {
		t.Parallel()

		var (
			mu      sync.Mutex
			putBody []byte
		)

		counter := &callCounter{}
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/tag", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_, _ = w.Write([]byte(`[]`))
			case http.MethodPost:
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":11,"label":"dub"}`))
			}
		})
		mux.HandleFunc("/api/v3/movie/9", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_, _ = w.Write([]byte(`{"id":9,"title":"Beta","movieFile":{"relativePath":"Beta.mkv"}}`))
			case http.MethodPut:
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				mu.Lock()
				putBody = body
				mu.Unlock()
				_, _ = w.Write(body)
			}
		})
		server := httptest.NewServer(counter.middleware(mux))
		defer server.Close()

		client := newTestMovieClient(t, server.URL)
		err := client.ApplyTagChanges(context.Background(), 9, []string{"dub"}, nil, false)
		require.NoError(t, err)

		require.Equal(t, 1, counter.count(http.MethodPost, "/api/v3/tag"))
		require.Equal(t, 1, counter.count(http.MethodPut, "/api/v3/movie/9"))

		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(putBody, &doc))

		var newTags []int
		require.NoError(t, json.Unmarshal(doc["tags"], &newTags))
		require.Equal(t, []int{11}, newTags)
		require.JSONEq(t, `{"relativePath":"Beta.mkv"}`, string(doc["movieFile"]))
	})

	t.Run("no write when the tag set does not change", func(t *testing.T) {
		t.Parallel()

		counter := &callCounter{}
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/tag", staticTagsHandler(t, []Tag{{ID: 1, Label: "dub"}, {ID: 3, Label: "wrong-dub"}}))
		mux.HandleFunc("/api/v3/series/5", func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method, "a no-op change must not write")
			_, _ = w.Write([]byte(`{"id":5,"tags":[1]}`))
		})
		server := httptest.NewServer(counter.middleware(mux))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		err := client.ApplyTagChanges(context.Background(), 5, []string{"dub"}, []string{"wrong-dub"}, false)
		require.NoError(t, err)

		require.Equal(t, 1, counter.count(http.MethodGet, "/api/v3/series/5"))
		require.Equal(t, 0, counter.count(http.MethodPut, "/api/v3/series/5"))
	})

	t.Run("unknown remove label is never created", func(t *testing.T) {
		t.Parallel()

		counter := &callCounter{}
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/tag", staticTagsHandler(t, []Tag{{ID: 1, Label: "dub"}}))
		mux.HandleFunc("/api/v3/series/5", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":5,"tags":[1]}`))
		})
		server := httptest.NewServer(counter.middleware(mux))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		err := client.ApplyTagChanges(context.Background(), 5, nil, []string{"obsolete"}, false)
		require.NoError(t, err)

		require.Equal(t, 0, counter.count(http.MethodPost, "/api/v3/tag"))
		require.Equal(t, 0, counter.count(http.MethodPut, "/api/v3/series/5"))
	})

	t.Run("empty change set performs no network calls", func(t *testing.T) {
		t.Parallel()

		counter := &callCounter{}
		server := httptest.NewServer(counter.middleware(http.NotFoundHandler()))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		err := client.ApplyTagChanges(context.Background(), 5, nil, []string{"  "}, false)
		require.NoError(t, err)
		require.Equal(t, 0, counter.total())
	})

	t.Run("dry run performs no network calls", func(t *testing.T) {
		t.Parallel()

		counter := &callCounter{}
		server := httptest.NewServer(counter.middleware(http.NotFoundHandler()))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		err := client.ApplyTagChanges(context.Background(), 5, []string{"dub"}, []string{"wrong-dub"}, true)
		require.NoError(t, err)
		require.Equal(t, 0, counter.total())
	})
}

func TestClient_Retry(t *testing.T) {
	t.Parallel()

	t.Run("transient failures are retried until success", func(t *testing.T) {
		t.Parallel()

		var (
			mu       sync.Mutex
			attempts int
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()

			if n < 3 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`[{"id":1,"label":"dub"}]`))
		}))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)

		id, err := client.GetOrCreateTag(context.Background(), "dub")
		require.NoError(t, err)
		require.Equal(t, 1, id)

		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, 3, attempts)
	})

	t.Run("gives up after three attempts with growing backoff", func(t *testing.T) {
		t.Parallel()

		var (
			mu    sync.Mutex
			times []time.Time
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		client.retryDelay = 20 * time.Millisecond

		_, err := client.GetOrCreateTag(context.Background(), "dub")
		require.Error(t, err)
		require.True(t, IsTransient(err))
		require.False(t, IsPermanent(err))

		var transient *TransientError
		require.ErrorAs(t, err, &transient)
		require.Equal(t, http.StatusInternalServerError, transient.Status)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, times, 3)
		require.GreaterOrEqual(t, times[1].Sub(times[0]), 20*time.Millisecond)
		require.GreaterOrEqual(t, times[2].Sub(times[1]), 40*time.Millisecond)
	})

	t.Run("permanent failures are not retried", func(t *testing.T) {
		t.Parallel()

		var (
			mu       sync.Mutex
			attempts int
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			attempts++
			mu.Unlock()
			http.Error(w, "bad api key", http.StatusUnauthorized)
		}))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)

		_, err := client.GetOrCreateTag(context.Background(), "dub")
		require.Error(t, err)
		require.True(t, IsPermanent(err))
		require.False(t, IsTransient(err))

		var permanent *PermanentError
		require.ErrorAs(t, err, &permanent)
		require.Equal(t, http.StatusUnauthorized, permanent.Status)

		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, 1, attempts)
	})
}

func TestClient_FindByPath(t *testing.T) {
	t.Parallel()

	items := []MediaItem{
		{ID: 1, Title: "Alpha", Path: "/media/tv/Alpha", Tags: []int{1}, OriginalLanguage: Language{ID: 8, Name: "Japanese"}},
		{ID: 2, Title: "Beta", Path: "/media/tv/Beta/"},
		{ID: 3, Title: "Show", Path: "/a/Show"},
		{ID: 4, Title: "Show", Path: "/b/Show"},
		{ID: 5, Title: "Gamma", Path: `C:\tv\Gamma`},
	}

	counter := &callCounter{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/series", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(items)
	})
	server := httptest.NewServer(counter.middleware(mux))
	defer server.Close()

	client := newTestSeriesClient(t, server.URL)
	ctx := context.Background()

	t.Run("basename match survives a different mount prefix", func(t *testing.T) {
		item, err := client.FindByPath(ctx, "/library/tv/Alpha")
		require.NoError(t, err)
		require.NotNil(t, item)
		require.Equal(t, 1, item.ID)
		require.Equal(t, "Japanese", item.OriginalLanguage.Name)
	})

	t.Run("trailing separators are ignored", func(t *testing.T) {
		item, err := client.FindByPath(ctx, "/somewhere/Beta/")
		require.NoError(t, err)
		require.NotNil(t, item)
		require.Equal(t, 2, item.ID)
	})

	t.Run("ambiguous basename resolved by full path", func(t *testing.T) {
		item, err := client.FindByPath(ctx, "/b/Show")
		require.NoError(t, err)
		require.NotNil(t, item)
		require.Equal(t, 4, item.ID)
	})

	t.Run("ambiguous basename without a path match is treated as missing", func(t *testing.T) {
		item, err := client.FindByPath(ctx, "/c/Show")
		require.NoError(t, err)
		require.Nil(t, item)
	})

	t.Run("windows catalog paths still match", func(t *testing.T) {
		item, err := client.FindByPath(ctx, "/mnt/tv/Gamma")
		require.NoError(t, err)
		require.NotNil(t, item)
		require.Equal(t, 5, item.ID)
	})

	t.Run("unknown title is missing, not an error", func(t *testing.T) {
		item, err := client.FindByPath(ctx, "/media/tv/Delta")
		require.NoError(t, err)
		require.Nil(t, item)
	})

	t.Run("list is fetched once until invalidated", func(t *testing.T) {
		require.Equal(t, 1, counter.count(http.MethodGet, "/api/v3/series"))

		client.InvalidateCache()

		_, err := client.FindByPath(ctx, "/media/tv/Alpha")
		require.NoError(t, err)
		require.Equal(t, 2, counter.count(http.MethodGet, "/api/v3/series"))
	})
}

func TestClient_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("series refresh command", func(t *testing.T) {
		t.Parallel()

		var (
			mu   sync.Mutex
			body []byte
		)
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/command", func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			mu.Lock()
			body = data
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":1}`))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		require.NoError(t, client.Refresh(context.Background(), 5))

		mu.Lock()
		defer mu.Unlock()
		require.JSONEq(t, `{"name":"RefreshSeries","seriesId":5}`, string(body))
	})

	t.Run("movie refresh command", func(t *testing.T) {
		t.Parallel()

		var (
			mu   sync.Mutex
			body []byte
		)
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/command", func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			mu.Lock()
			body = data
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":1}`))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client := newTestMovieClient(t, server.URL)
		require.NoError(t, client.Refresh(context.Background(), 9))

		mu.Lock()
		defer mu.Unlock()
		require.JSONEq(t, `{"name":"RefreshMovie","movieIds":[9]}`, string(body))
	})
}

func TestClient_Test(t *testing.T) {
	t.Parallel()

	statusHandler := func(payload string) http.Handler {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/system/status", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(payload))
		})
		return mux
	}

	t.Run("accepts a supported catalog", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(statusHandler(`{"appName":"Sonarr","version":"4.0.10.2544"}`))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		require.NoError(t, client.Test(context.Background()))
	})

	t.Run("rejects a catalog below the minimum version", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(statusHandler(`{"appName":"Sonarr","version":"3.0.10.1567"}`))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		err := client.Test(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "not supported")
	})

	t.Run("rejects an unparseable version", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(statusHandler(`{"appName":"Sonarr","version":"nightly"}`))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		err := client.Test(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to parse catalog version")
	})

	t.Run("bad credentials surface as a permanent error", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer server.Close()

		client := newTestSeriesClient(t, server.URL)
		err := client.Test(context.Background())
		require.Error(t, err)
		require.True(t, IsPermanent(err))
	})
}

func newMeteredSeriesClient(t *testing.T, host string) (*Client, *collector.CatalogCollector) {
	t.Helper()

	m := collector.NewCatalogCollector(prometheus.NewRegistry())
	client := NewSeriesClient(Config{Host: host, APIKey: "test-key", Timeout: 5, Metrics: m}, zerolog.Nop())
	client.retryDelay = time.Millisecond
	t.Cleanup(client.Close)
	return client, m
}

func TestClient_Metrics(t *testing.T) {
	t.Parallel()

	t.Run("counts requests, retries, and tag writes", func(t *testing.T) {
		t.Parallel()

		var (
			mu       sync.Mutex
			attempts int
		)
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/tag", func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()

			if n == 1 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`[{"id":1,"label":"dub"}]`))
		})
		mux.HandleFunc("/api/v3/series/5", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_, _ = w.Write([]byte(`{"id":5,"title":"Alpha","tags":[]}`))
			case http.MethodPut:
				w.WriteHeader(http.StatusAccepted)
			}
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client, m := newMeteredSeriesClient(t, server.URL)

		// tag list (retried once), entry fetch, entry write
		require.NoError(t, client.ApplyTagChanges(context.Background(), 5, []string{"dub"}, nil, false))

		require.Equal(t, 3.0, testutil.ToFloat64(m.RequestTotal.WithLabelValues("series", "success")))
		require.Equal(t, 1.0, testutil.ToFloat64(m.RetryTotal.WithLabelValues("series")))
		require.Equal(t, 1.0, testutil.ToFloat64(m.TagWriteTotal.WithLabelValues("series")))
	})

	t.Run("exhausted retries count as transient", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client, m := newMeteredSeriesClient(t, server.URL)

		_, err := client.GetOrCreateTag(context.Background(), "dub")
		require.Error(t, err)

		require.Equal(t, 1.0, testutil.ToFloat64(m.RequestTotal.WithLabelValues("series", "transient")))
		require.Equal(t, 2.0, testutil.ToFloat64(m.RetryTotal.WithLabelValues("series")))
	})

	t.Run("permanent failures are counted without retries", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad api key", http.StatusUnauthorized)
		}))
		defer server.Close()

		client, m := newMeteredSeriesClient(t, server.URL)

		_, err := client.GetOrCreateTag(context.Background(), "dub")
		require.Error(t, err)

		require.Equal(t, 1.0, testutil.ToFloat64(m.RequestTotal.WithLabelValues("series", "permanent")))
		require.Equal(t, 0.0, testutil.ToFloat64(m.RetryTotal.WithLabelValues("series")))
	})
}
