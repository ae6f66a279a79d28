// Package httphandler exposes the user feed over the versioned REST API.
package httphandler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/userfeed/internal/infrastructure/httpserver"
	"github.com/lllypuk/userfeed/internal/middleware"
	"github.com/lllypuk/userfeed/internal/service"
)

// FeedService defines the feed operations the handler needs.
// Declared on the consumer side per project guidelines.
type FeedService interface {
	Snapshot(ctx context.Context) (service.Snapshot, error)
	Reload(ctx context.Context) error
	Icon(ctx context.Context, index int) (image.Image, error)
	ProfileURL(ctx context.Context, index int) (*url.URL, error)
}

// ReloadResponse acknowledges a scheduled reload.
type ReloadResponse struct {
	Status string `json:"status"`
}

// UsersHandler handles user feed HTTP requests.
type UsersHandler struct {
	feed             FeedService
	reloadMiddleware []echo.MiddlewareFunc
}

// UsersHandlerOption configures a UsersHandler.
type UsersHandlerOption func(*UsersHandler)

// WithReloadMiddleware adds middleware to the reload route only.
func WithReloadMiddleware(m ...echo.MiddlewareFunc) UsersHandlerOption {
	return func(h *UsersHandler) {
		h.reloadMiddleware = append(h.reloadMiddleware, m...)
	}
}

// NewUsersHandler creates a new UsersHandler.
func NewUsersHandler(feed FeedService, opts ...UsersHandlerOption) *UsersHandler {
	h := &UsersHandler{feed: feed}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers user feed routes with the router.
func (h *UsersHandler) RegisterRoutes(r *httpserver.Router) {
	r.API().GET("/users", h.List)
	r.API().POST("/users/reload", h.Reload, h.reloadMiddleware...)
	r.API().GET("/users/:index/icon", h.Icon)
	r.API().GET("/users/:index/profile", h.Profile)
}

// List handles GET /api/v1/users.
// Returns the current list state and its items.
func (h *UsersHandler) List(c echo.Context) error {
	snap, err := h.feed.Snapshot(c.Request().Context())
	if err != nil {
		return respondFeedError(c, err)
	}
	return httpserver.RespondOK(c, snap)
}

// Reload handles POST /api/v1/users/reload.
// The load runs in the background; its outcome is reported on the live feed.
func (h *UsersHandler) Reload(c echo.Context) error {
	if err := h.feed.Reload(c.Request().Context()); err != nil {
		return respondFeedError(c, err)
	}
	return httpserver.RespondAccepted(c, ReloadResponse{Status: "loading"})
}

// Icon handles GET /api/v1/users/:index/icon.
// Waits for the item's icon and returns it as PNG.
func (h *UsersHandler) Icon(c echo.Context) error {
	index, ok := parseIndex(c)
	if !ok {
		return respondInvalidIndex(c)
	}

	img, err := h.feed.Icon(c.Request().Context(), index)
	if err != nil {
		middleware.GetLogger(c).DebugContext(c.Request().Context(), "icon unavailable",
			slog.Int("index", index),
			slog.String("error", err.Error()),
		)
		return respondFeedError(c, err)
	}

	var buf bytes.Buffer
	if encodeErr := png.Encode(&buf, img); encodeErr != nil {
		return httpserver.RespondError(c, encodeErr)
	}

	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600")
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// Profile handles GET /api/v1/users/:index/profile.
// Redirects to the item's profile page, or 404 when it has none.
func (h *UsersHandler) Profile(c echo.Context) error {
	index, ok := parseIndex(c)
	if !ok {
		return respondInvalidIndex(c)
	}

	target, err := h.feed.ProfileURL(c.Request().Context(), index)
	if err != nil {
		return respondFeedError(c, err)
	}
	if target == nil {
		return httpserver.RespondErrorWithCode(c, http.StatusNotFound, "NO_PROFILE", "item has no profile url")
	}

	return c.Redirect(http.StatusFound, target.String())
}

func parseIndex(c echo.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	return index, err == nil
}

func respondInvalidIndex(c echo.Context) error {
	return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_INDEX", "index must be an integer")
}

func respondFeedError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrUnavailable) {
		err = httpserver.NewAPIError(http.StatusServiceUnavailable, "UNAVAILABLE", "feed is not running", err)
	}
	return httpserver.RespondError(c, err)
}
