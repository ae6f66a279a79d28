package fetcher_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lllypuk/userfeed/internal/domain/errs"
	"github.com/lllypuk/userfeed/internal/infrastructure/fetcher"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagestore"
	"github.com/lllypuk/userfeed/internal/infrastructure/mainloop"
	"github.com/lllypuk/userfeed/internal/infrastructure/metrics"
	"github.com/lllypuk/userfeed/tests/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPoster forwards to a running loop and counts deliveries.
type countingPoster struct {
	loop   *mainloop.Loop
	posted atomic.Int32
}

func (p *countingPoster) Post(task func()) bool {
	p.posted.Add(1)
	return p.loop.Post(task)
}

type result struct {
	data []byte
	err  error
}

func newPoster(t *testing.T) *countingPoster {
	t.Helper()

	loop := mainloop.New()
	go loop.Run(t.Context())
	t.Cleanup(loop.Stop)

	return &countingPoster{loop: loop}
}

func fetch(t *testing.T, f *fetcher.Fetcher, rawURL string) result {
	t.Helper()

	ch := make(chan result, 1)
	f.Fetch(t.Context(), rawURL,
		func(data []byte) { ch <- result{data: data} },
		func(err error) { ch <- result{err: err} },
	)

	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not complete")
		return result{}
	}
}

func TestFetcher_Success(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.Handle("/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "userfeed-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`[]`))
	})

	poster := newPoster(t)
	f := fetcher.New(fetcher.Config{
		Endpoint:  metrics.EndpointList,
		Timeout:   time.Second,
		UserAgent: "userfeed-test",
		Accept:    "application/json",
	}, poster)

	r := fetch(t, f, api.URL("/users"))

	require.NoError(t, r.err)
	assert.Equal(t, []byte(`[]`), r.data)
	assert.Equal(t, int32(1), poster.posted.Load(), "completion must go through the poster")
	assert.Equal(t, 1, api.Hits("/users"))
}

func TestFetcher_CallbacksNeverRunSynchronously(t *testing.T) {
	poster := newPoster(t)
	f := fetcher.New(fetcher.Config{}, poster)

	var calledDuringFetch atomic.Bool
	var inFetch atomic.Bool
	done := make(chan struct{})

	inFetch.Store(true)
	f.Fetch(t.Context(), "",
		func([]byte) {},
		func(error) {
			calledDuringFetch.Store(inFetch.Load())
			close(done)
		},
	)
	inFetch.Store(false)

	<-done
	assert.False(t, calledDuringFetch.Load())
}

func TestFetcher_InvalidURL(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	poster := newPoster(t)
	f := fetcher.New(fetcher.Config{}, poster)

	tests := []struct {
		name   string
		rawURL string
	}{
		{name: "empty", rawURL: ""},
		{name: "unparseable", rawURL: "http://[::1"},
		{name: "relative", rawURL: "/users"},
		{name: "unsupported scheme", rawURL: "ftp://example.com/users"},
		{name: "missing host", rawURL: "https:///users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fetch(t, f, tt.rawURL)

			require.ErrorIs(t, r.err, errs.ErrInvalidURL)
			assert.Nil(t, r.data)
		})
	}

	assert.Equal(t, 0, api.Hits("/users"), "invalid urls must never reach the network")
}

func TestFetcher_TransportError(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		api := testutil.NewFakeAPI(t)
		target := api.URL("/users")
		api.Server.Close()

		f := fetcher.New(fetcher.Config{Timeout: time.Second}, newPoster(t))

		r := fetch(t, f, target)

		var transportErr *errs.TransportError
		require.ErrorAs(t, r.err, &transportErr)
		require.ErrorIs(t, r.err, errs.ErrTransport)
		assert.Error(t, transportErr.Cause)
	})

	t.Run("timeout", func(t *testing.T) {
		api := testutil.NewFakeAPI(t)
		api.HandleGated(t, "/slow", "application/json", []byte(`[]`))

		f := fetcher.New(fetcher.Config{Timeout: 50 * time.Millisecond}, newPoster(t))

		r := fetch(t, f, api.URL("/slow"))

		require.ErrorIs(t, r.err, errs.ErrTransport)
	})

	t.Run("non-2xx status", func(t *testing.T) {
		api := testutil.NewFakeAPI(t)
		api.Handle("/users", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
		})

		f := fetcher.New(fetcher.Config{}, newPoster(t))

		r := fetch(t, f, api.URL("/users"))

		require.ErrorIs(t, r.err, errs.ErrTransport)
		var statusErr *errs.StatusError
		require.ErrorAs(t, r.err, &statusErr)
		assert.Equal(t, http.StatusForbidden, statusErr.Code)
	})
}

func TestFetcher_EmptyResponse(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	api.Handle("/users", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	f := fetcher.New(fetcher.Config{}, newPoster(t))

	r := fetch(t, f, api.URL("/users"))

	require.ErrorIs(t, r.err, errs.ErrEmptyResponse)
}

func TestFetcher_Store(t *testing.T) {
	t.Run("hit skips the network", func(t *testing.T) {
		api := testutil.NewFakeAPI(t)
		store := imagestore.NewMemoryStore(8, 0)
		require.NoError(t, store.Set(t.Context(), api.URL("/a.png"), []byte("cached")))

		registry := prometheus.NewRegistry()
		feedMetrics := metrics.NewFeedMetrics(registry)
		f := fetcher.New(fetcher.Config{Endpoint: metrics.EndpointImage}, newPoster(t),
			fetcher.WithStore(store),
			fetcher.WithMetrics(feedMetrics),
		)

		r := fetch(t, f, api.URL("/a.png"))

		require.NoError(t, r.err)
		assert.Equal(t, []byte("cached"), r.data)
		assert.Equal(t, 0, api.Hits("/a.png"))
		assert.InDelta(t, 1, promtestutil.ToFloat64(feedMetrics.StoreLookups.WithLabelValues("image", "hit")), 0)
	})

	t.Run("miss downloads and fills the store", func(t *testing.T) {
		api := testutil.NewFakeAPI(t)
		api.HandleBytes("/a.png", "image/png", []byte("fresh"))
		store := imagestore.NewMemoryStore(8, 0)

		f := fetcher.New(fetcher.Config{}, newPoster(t), fetcher.WithStore(store))

		r := fetch(t, f, api.URL("/a.png"))
		require.NoError(t, r.err)
		assert.Equal(t, []byte("fresh"), r.data)

		stored, err := store.Get(t.Context(), api.URL("/a.png"))
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), stored)

		r = fetch(t, f, api.URL("/a.png"))
		require.NoError(t, r.err)
		assert.Equal(t, 1, api.Hits("/a.png"))
	})

	t.Run("failures are not stored", func(t *testing.T) {
		api := testutil.NewFakeAPI(t)
		store := imagestore.NewMemoryStore(8, 0)

		f := fetcher.New(fetcher.Config{}, newPoster(t), fetcher.WithStore(store))

		r := fetch(t, f, api.URL("/missing.png"))
		require.ErrorIs(t, r.err, errs.ErrTransport)
		assert.Equal(t, 0, store.Len())
	})
}

func TestFetcher_Coalescing(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	release := api.HandleGated(t, "/a.png", "image/png", []byte("img"))

	f := fetcher.New(fetcher.Config{}, newPoster(t), fetcher.WithCoalescing())

	results := make(chan result, 2)
	for range 2 {
		f.Fetch(t.Context(), api.URL("/a.png"),
			func(data []byte) { results <- result{data: data} },
			func(err error) { results <- result{err: err} },
		)
	}

	require.Eventually(t, func() bool { return api.Hits("/a.png") == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	release()

	for range 2 {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Equal(t, []byte("img"), r.data)
		case <-time.After(5 * time.Second):
			t.Fatal("coalesced fetch did not complete")
		}
	}
	assert.Equal(t, 1, api.Hits("/a.png"))
}

func TestFetcher_InvalidURLFromLoopTaskUnderLoad(t *testing.T) {
	poster := newPoster(t)
	loop := poster.loop
	f := fetcher.New(fetcher.Config{}, loop)

	gate := make(chan struct{})
	require.True(t, loop.Post(func() { <-gate }))
	for range 1000 {
		loop.Post(func() {})
	}

	failed := make(chan error, 1)
	require.True(t, loop.Post(func() {
		f.Fetch(t.Context(), "", func([]byte) {}, func(err error) { failed <- err })
	}))
	close(gate)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.Do(ctx, func() {}))

	select {
	case err := <-failed:
		require.ErrorIs(t, err, errs.ErrInvalidURL)
	case <-ctx.Done():
		t.Fatal("invalid url failure was not delivered")
	}
}

func TestFetcher_DropsCompletionWhenLoopStopped(t *testing.T) {
	loop := mainloop.New()
	loop.Stop()

	f := fetcher.New(fetcher.Config{}, loop)

	called := make(chan struct{}, 1)
	f.Fetch(context.Background(), "", func([]byte) {}, func(error) { called <- struct{}{} })

	select {
	case <-called:
		t.Fatal("completion must not run on a stopped loop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestValidateURL(t *testing.T) {
	u, err := fetcher.ValidateURL("https://api.github.com/users")

	require.NoError(t, err)
	assert.Equal(t, "api.github.com", u.Host)
}
