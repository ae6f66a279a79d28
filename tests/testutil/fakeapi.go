package testutil

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// FakeAPI is an httptest server that serves canned responses per path and
// counts how many requests reached each path.
type FakeAPI struct {
	Server *httptest.Server

	mu     sync.Mutex
	hits   map[string]int
	routes map[string]http.HandlerFunc
}

// NewFakeAPI starts a FakeAPI that is closed when the test ends.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()

	f := &FakeAPI{
		hits:   make(map[string]int),
		routes: make(map[string]http.HandlerFunc),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)

	return f
}

func (f *FakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	handler, ok := f.routes[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	handler(w, r)
}

// URL returns the absolute URL for path on the fake server.
func (f *FakeAPI) URL(path string) string {
	return f.Server.URL + path
}

// Handle registers handler for path, replacing any previous one.
func (f *FakeAPI) Handle(path string, handler http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = handler
}

// HandleBytes serves data with the given content type on path.
func (f *FakeAPI) HandleBytes(path, contentType string, data []byte) {
	f.Handle(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

// HandleJSON serves v encoded as JSON on path.
func (f *FakeAPI) HandleJSON(path string, v any) {
	f.Handle(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(v)
	})
}

// HandleGated serves data on path only after the returned release func is
// called. Release is idempotent and also runs on test cleanup.
func (f *FakeAPI) HandleGated(t *testing.T, path, contentType string, data []byte) func() {
	t.Helper()

	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)

	f.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	return release
}

// Hits returns how many requests reached path.
func (f *FakeAPI) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// UserAttrs builds one list entry in the shape of the GitHub users endpoint.
func UserAttrs(id int, login, baseURL string) map[string]any {
	return map[string]any{
		"id":         id,
		"login":      login,
		"avatar_url": baseURL + "/avatars/" + login + ".png",
		"html_url":   baseURL + "/" + login,
	}
}

// PNG encodes a solid w×h image of color c.
func PNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
