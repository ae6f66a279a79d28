package presentation

import (
	"context"
	"image"
	"net/url"

	"github.com/lllypuk/userfeed/internal/domain/user"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagecache"
)

// Item is the per-row view state of one user. It owns the user's image cache.
type Item struct {
	user  *user.User
	cache *imagecache.Cache
}

func newItem(u *user.User, cache *imagecache.Cache) *Item {
	return &Item{user: u, cache: cache}
}

// User returns the underlying record.
func (i *Item) User() *user.User {
	return i.user
}

// DisplayName returns the text shown for the row.
func (i *Item) DisplayName() string {
	return i.user.DisplayName()
}

// ProfileURL returns the navigation target, or nil when the stored profile
// URL is empty, does not parse, or is not absolute with a host.
func (i *Item) ProfileURL() *url.URL {
	raw := i.user.ProfileURL()
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil
	}
	return u
}

// RequestImage resolves the user's icon. The download is detached from ctx
// cancellation and always runs to completion, filling this item's cache.
func (i *Item) RequestImage(ctx context.Context, onProgress func(imagecache.Progress)) {
	i.cache.RequestImage(context.WithoutCancel(ctx), i.user.IconURL(), onProgress)
}

// IsLoading reports whether an icon download is in flight.
func (i *Item) IsLoading() bool {
	return i.cache.State() == imagecache.StateLoading
}

// ImageState returns the icon cache state.
func (i *Item) ImageState() imagecache.State {
	return i.cache.State()
}

// Image returns the cached icon, if any.
func (i *Item) Image() (image.Image, bool) {
	return i.cache.Cached()
}
