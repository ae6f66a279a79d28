package service_test

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/lllypuk/userfeed/internal/domain/errs"
	"github.com/lllypuk/userfeed/internal/domain/event"
	"github.com/lllypuk/userfeed/internal/infrastructure/fetcher"
	"github.com/lllypuk/userfeed/internal/infrastructure/github"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagecache"
	"github.com/lllypuk/userfeed/internal/infrastructure/mainloop"
	"github.com/lllypuk/userfeed/internal/presentation"
	"github.com/lllypuk/userfeed/internal/service"
	"github.com/lllypuk/userfeed/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventLog collects events published on the loop.
type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) record(evt event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) has(eventType string) bool {
	for _, t := range l.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	api     *testutil.FakeAPI
	loop    *mainloop.Loop
	service *service.FeedService
	events  *eventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	api := testutil.NewFakeAPI(t)
	loop := mainloop.New()
	go loop.Run(t.Context())
	t.Cleanup(loop.Stop)

	listFetcher := fetcher.New(fetcher.Config{Timeout: time.Second}, loop)
	imageFetcher := fetcher.New(fetcher.Config{Timeout: time.Second}, loop)
	loader := github.NewListLoader(github.ListLoaderConfig{BaseURL: api.URL("")}, listFetcher)
	list := presentation.NewList(loader, func() *imagecache.Cache { return imagecache.New(imageFetcher) })

	svc := service.NewFeedService(loop, list)
	events := &eventLog{}
	svc.Subscribe(events.record)

	return &fixture{api: api, loop: loop, service: svc, events: events}
}

func (f *fixture) reload(t *testing.T, terminal string) {
	t.Helper()

	require.NoError(t, f.service.Reload(t.Context()))
	require.Eventually(t, func() bool { return f.events.has(terminal) }, 5*time.Second, time.Millisecond)
}

func TestFeedService_Reload(t *testing.T) {
	t.Run("publishes loading then finished", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		f.api.HandleJSON("/users", []map[string]any{
			testutil.UserAttrs(1, "mojombo", f.api.URL("")),
			testutil.UserAttrs(2, "defunkt", f.api.URL("")),
		})

		// Act
		f.reload(t, event.ListFinished)

		// Assert
		assert.Equal(t, []string{event.ListLoading, event.ListFinished}, f.events.types())
		finished := f.events.events[1]
		assert.Equal(t, 2, finished.Count)
		assert.NotEmpty(t, finished.Generation)
	})

	t.Run("publishes error", func(t *testing.T) {
		f := newFixture(t)
		f.api.HandleBytes("/users", "application/json", []byte(`{"message":"Not Found"}`))

		f.reload(t, event.ListError)

		f.events.mu.Lock()
		defer f.events.mu.Unlock()
		last := f.events.events[len(f.events.events)-1]
		require.ErrorIs(t, last.Err, errs.ErrInvalidResponse)
	})

	t.Run("survives the request context", func(t *testing.T) {
		f := newFixture(t)
		f.api.HandleJSON("/users", []map[string]any{testutil.UserAttrs(1, "octo", f.api.URL(""))})
		ctx, cancel := context.WithCancel(t.Context())

		require.NoError(t, f.service.Reload(ctx))
		cancel()

		require.Eventually(t, func() bool { return f.events.has(event.ListFinished) }, 5*time.Second, time.Millisecond)
	})

	t.Run("fails on stopped loop", func(t *testing.T) {
		f := newFixture(t)
		f.loop.Stop()

		require.ErrorIs(t, f.service.Reload(t.Context()), service.ErrUnavailable)
	})
}

func TestFeedService_Snapshot(t *testing.T) {
	t.Run("before any load", func(t *testing.T) {
		f := newFixture(t)

		snap, err := f.service.Snapshot(t.Context())

		require.NoError(t, err)
		assert.Equal(t, "idle", snap.State)
		assert.Equal(t, 0, snap.Count)
		assert.Empty(t, snap.Items)
	})

	t.Run("after a successful load", func(t *testing.T) {
		f := newFixture(t)
		f.api.HandleJSON("/users", []map[string]any{
			testutil.UserAttrs(1, "mojombo", f.api.URL("")),
			{"id": 2, "login": "nourl", "avatar_url": "", "html_url": ""},
		})
		f.reload(t, event.ListFinished)

		snap, err := f.service.Snapshot(t.Context())

		require.NoError(t, err)
		assert.Equal(t, "finished", snap.State)
		assert.NotEmpty(t, snap.Generation)
		require.Equal(t, 2, snap.Count)
		require.Len(t, snap.Items, 2)
		assert.Equal(t, service.ItemView{
			Index:       0,
			ID:          1,
			DisplayName: "mojombo",
			ProfileURL:  f.api.URL("/mojombo"),
			IconURL:     f.api.URL("/avatars/mojombo.png"),
			ImageState:  "idle",
		}, snap.Items[0])
		assert.Empty(t, snap.Items[1].ProfileURL)
	})

	t.Run("after a failed load", func(t *testing.T) {
		f := newFixture(t)
		f.api.Server.Close()
		f.reload(t, event.ListError)

		snap, err := f.service.Snapshot(t.Context())

		require.NoError(t, err)
		assert.Equal(t, "error", snap.State)
		assert.Equal(t, errs.CodeTransport, snap.ErrorCode)
		assert.NotEmpty(t, snap.Error)
		assert.Equal(t, 0, snap.Count)
	})

	t.Run("stopped loop", func(t *testing.T) {
		f := newFixture(t)
		f.loop.Stop()

		_, err := f.service.Snapshot(t.Context())
		require.ErrorIs(t, err, service.ErrUnavailable)
	})
}

func TestFeedService_Icon(t *testing.T) {
	t.Run("downloads once then serves from cache", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		f.api.HandleJSON("/users", []map[string]any{testutil.UserAttrs(1, "octo", f.api.URL(""))})
		f.api.HandleBytes("/avatars/octo.png", "image/png", testutil.PNG(t, 45, 45, color.White))
		f.reload(t, event.ListFinished)

		// Act
		first, err := f.service.Icon(t.Context(), 0)
		require.NoError(t, err)
		second, err := f.service.Icon(t.Context(), 0)
		require.NoError(t, err)

		// Assert
		assert.Same(t, first, second)
		assert.Equal(t, image.Rect(0, 0, 45, 45), first.Bounds())
		assert.Equal(t, 1, f.api.Hits("/avatars/octo.png"))
		assert.True(t, f.events.has(event.ImageLoading))
		assert.True(t, f.events.has(event.ImageFinished))

		snap, err := f.service.Snapshot(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "cached", snap.Items[0].ImageState)
	})

	t.Run("concurrent callers share one download", func(t *testing.T) {
		f := newFixture(t)
		f.api.HandleJSON("/users", []map[string]any{testutil.UserAttrs(1, "octo", f.api.URL(""))})
		release := f.api.HandleGated(t, "/avatars/octo.png", "image/png", testutil.PNG(t, 4, 4, color.White))
		f.reload(t, event.ListFinished)

		var wg sync.WaitGroup
		results := make([]image.Image, 3)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				img, err := f.service.Icon(t.Context(), 0)
				assert.NoError(t, err)
				results[i] = img
			}()
		}

		require.Eventually(t, func() bool { return f.api.Hits("/avatars/octo.png") == 1 }, time.Second, time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		release()
		wg.Wait()

		assert.Equal(t, 1, f.api.Hits("/avatars/octo.png"))
		for _, img := range results {
			assert.Same(t, results[0], img)
		}
	})

	t.Run("decode failure", func(t *testing.T) {
		f := newFixture(t)
		f.api.HandleJSON("/users", []map[string]any{testutil.UserAttrs(1, "octo", f.api.URL(""))})
		f.api.HandleBytes("/avatars/octo.png", "image/png", []byte("not an image"))
		f.reload(t, event.ListFinished)

		_, err := f.service.Icon(t.Context(), 0)

		require.ErrorIs(t, err, errs.ErrDecode)
		assert.True(t, f.events.has(event.ImageError))
	})

	t.Run("unknown index", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.Icon(t.Context(), 5)

		require.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("caller gives up", func(t *testing.T) {
		f := newFixture(t)
		f.api.HandleJSON("/users", []map[string]any{testutil.UserAttrs(1, "octo", f.api.URL(""))})
		f.api.HandleGated(t, "/avatars/octo.png", "image/png", testutil.PNG(t, 4, 4, color.White))
		f.reload(t, event.ListFinished)

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()

		_, err := f.service.Icon(ctx, 0)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestFeedService_ProfileURL(t *testing.T) {
	f := newFixture(t)
	f.api.HandleJSON("/users", []map[string]any{
		testutil.UserAttrs(1, "octo", f.api.URL("")),
		{"id": 2, "login": "ghost", "avatar_url": "", "html_url": ""},
		{"id": 3, "login": "local", "avatar_url": "", "html_url": "not a url"},
	})
	f.reload(t, event.ListFinished)

	target, err := f.service.ProfileURL(t.Context(), 0)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, f.api.URL("/octo"), target.String())

	for _, index := range []int{1, 2} {
		target, err = f.service.ProfileURL(t.Context(), index)
		require.NoError(t, err)
		assert.Nil(t, target, index)
	}

	_, err = f.service.ProfileURL(t.Context(), 3)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFeedService_Ready(t *testing.T) {
	f := newFixture(t)
	require.Eventually(t, f.service.Ready, time.Second, time.Millisecond)

	f.loop.Stop()
	require.Eventually(t, func() bool { return !f.service.Ready() }, time.Second, time.Millisecond)
}

func TestFeedService_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	f.api.HandleJSON("/users", []map[string]any{})

	other := &eventLog{}
	unsubscribe := f.service.Subscribe(other.record)
	unsubscribe()

	f.reload(t, event.ListFinished)
	assert.Empty(t, other.types())
}
