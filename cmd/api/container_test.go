package main

import (
	"context"
	"encoding/json"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lllypuk/userfeed/internal/config"
	"github.com/lllypuk/userfeed/internal/domain/event"
	"github.com/lllypuk/userfeed/internal/infrastructure/httpserver"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagestore"
	"github.com/lllypuk/userfeed/internal/middleware"
	"github.com/lllypuk/userfeed/internal/service"
	"github.com/lllypuk/userfeed/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.ListTimeout = 5 * time.Second
	cfg.API.ImageTimeout = 5 * time.Second
	cfg.App.LoadOnStart = false
	return cfg
}

func newTestContainer(t *testing.T, cfg *config.Config, opts ...ContainerOption) *Container {
	t.Helper()

	opts = append([]ContainerOption{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	c, err := NewContainer(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewContainer(t *testing.T) {
	t.Run("default wiring", func(t *testing.T) {
		c := newTestContainer(t, testConfig("https://api.example.com"))

		assert.NotNil(t, c.Loop)
		assert.NotNil(t, c.Registry)
		assert.NotNil(t, c.Metrics)
		assert.NotNil(t, c.ListFetcher)
		assert.NotNil(t, c.ImageFetcher)
		assert.NotNil(t, c.List)
		assert.NotNil(t, c.Feed)
		assert.NotNil(t, c.Hub)
		assert.NotNil(t, c.Broadcaster)
		assert.NotNil(t, c.UsersHandler)
		assert.NotNil(t, c.WSHandler)
		assert.Nil(t, c.ImageStore)
		assert.Nil(t, c.Redis)
		assert.Equal(t, "https://api.example.com/users", c.ListLoader.Endpoint())
		assert.IsType(t, &middleware.MemoryRateLimitStore{}, c.RateLimitStore)
	})

	t.Run("memory image store", func(t *testing.T) {
		cfg := testConfig("https://api.example.com")
		cfg.ImageStore.Type = config.ImageStoreMemory

		c := newTestContainer(t, cfg)

		assert.IsType(t, &imagestore.MemoryStore{}, c.ImageStore)
	})

	t.Run("rate limiting disabled", func(t *testing.T) {
		cfg := testConfig("https://api.example.com")
		cfg.RateLimit.Enabled = false

		c := newTestContainer(t, cfg)

		assert.Nil(t, c.RateLimitStore)
	})

	t.Run("invalid placeholder color", func(t *testing.T) {
		cfg := testConfig("https://api.example.com")
		cfg.Placeholder.Color = "not-a-color"

		c, err := NewContainer(cfg, WithLogger(slog.New(slog.DiscardHandler)))

		require.Error(t, err)
		assert.Nil(t, c)
	})

	t.Run("redis image store", func(t *testing.T) {
		client := testutil.SetupTestRedis(t)
		cfg := testConfig("https://api.example.com")
		cfg.ImageStore.Type = config.ImageStoreRedis

		c := newTestContainer(t, cfg, WithRedisClient(client))

		assert.IsType(t, &imagestore.RedisStore{}, c.ImageStore)
		assert.IsType(t, &middleware.RedisRateLimitStore{}, c.RateLimitStore)

		require.NoError(t, c.Close())
		// The injected client stays open for its owner.
		assert.NoError(t, client.Ping(t.Context()).Err())
	})
}

func TestContainer_Health(t *testing.T) {
	c := newTestContainer(t, testConfig("https://api.example.com"))

	assert.False(t, c.IsReady(t.Context()))
	for _, status := range c.GetHealthStatus(t.Context()) {
		assert.NotEqual(t, httpserver.StatusHealthy, status.Status, status.Name)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	c.Start(ctx)

	require.Eventually(t, func() bool { return c.IsReady(t.Context()) }, time.Second, 5*time.Millisecond)

	statuses := c.GetHealthStatus(t.Context())
	require.Len(t, statuses, 2)
	assert.Equal(t, "main_loop", statuses[0].Name)
	assert.Equal(t, httpserver.StatusHealthy, statuses[0].Status)
	assert.Equal(t, "websocket_hub", statuses[1].Name)
	assert.Equal(t, httpserver.StatusHealthy, statuses[1].Status)
}

func TestContainer_EndToEnd(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.HandleJSON("/users", []map[string]any{
		testutil.UserAttrs(1, "mojombo", api.URL("")),
		testutil.UserAttrs(2, "defunkt", api.URL("")),
	})
	api.HandleBytes("/avatars/mojombo.png", "image/png", testutil.PNG(t, 8, 8, color.RGBA{R: 255, A: 255}))
	api.HandleBytes("/avatars/defunkt.png", "image/png", testutil.PNG(t, 8, 8, color.RGBA{B: 255, A: 255}))

	cfg := testConfig(api.URL(""))
	cfg.App.LoadOnStart = true
	cfg.ImageStore.Type = config.ImageStoreMemory
	c := newTestContainer(t, cfg)

	recorder := testutil.NewEventRecorder()
	unsubscribe := c.Feed.Subscribe(recorder.Record)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	c.Start(ctx)

	e := SetupRoutes(echo.New(), c).Echo()

	var snap service.Snapshot
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		var resp struct {
			Data service.Snapshot `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			return false
		}
		snap = resp.Data
		return snap.State == "finished"
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 2, snap.Count)
	assert.Equal(t, "mojombo", snap.Items[0].DisplayName)
	assert.Equal(t, "defunkt", snap.Items[1].DisplayName)
	assert.NotEmpty(t, snap.Generation)

	finished := recorder.WaitFor(t, event.ListFinished)
	assert.Equal(t, 2, finished.Count)
	assert.Equal(t, snap.Generation, finished.Generation)
	testutil.AssertEventPublished(t, recorder.Events(), event.ListLoading)
	testutil.AssertEventCount(t, recorder.Events(), event.ListFinished, 1)

	for range 2 {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/1/icon", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		img, err := png.Decode(rec.Body)
		require.NoError(t, err)
		_, _, b, _ := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(0xffff), b)
	}
	assert.Equal(t, 1, api.Hits("/avatars/defunkt.png"))
	assert.Equal(t, 1, recorder.WaitFor(t, event.ImageFinished).Index)
	testutil.AssertEventCount(t, recorder.Events(), event.ImageLoading, 1)
	assert.Equal(t, 0, api.Hits("/avatars/mojombo.png"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/0/profile", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, api.URL("/mojombo"), rec.Header().Get(echo.HeaderLocation))
}
