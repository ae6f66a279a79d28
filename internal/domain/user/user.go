// Package user holds the remote user record decoded from the list endpoint.
package user

import (
	"encoding/json"

	"github.com/lllypuk/userfeed/internal/domain/errs"
)

// Attribute keys of a user object in the list response.
const (
	AttrID         = "id"
	AttrLogin      = "login"
	AttrAvatarURL  = "avatar_url"
	AttrProfileURL = "html_url"
)

// User is an immutable remote user record.
type User struct {
	id          int64
	displayName string
	iconURL     string
	profileURL  string
}

// New creates a user from already validated values.
func New(id int64, displayName, iconURL, profileURL string) *User {
	return &User{
		id:          id,
		displayName: displayName,
		iconURL:     iconURL,
		profileURL:  profileURL,
	}
}

// FromAttributes decodes a user from a generic JSON object.
// Every field is required; a missing or mistyped field yields a *errs.DecodeError.
// Numbers are accepted as json.Number, float64 or any Go integer type.
func FromAttributes(attrs map[string]any) (*User, error) {
	id, err := intField(attrs, AttrID)
	if err != nil {
		return nil, err
	}
	login, err := stringField(attrs, AttrLogin)
	if err != nil {
		return nil, err
	}
	avatar, err := stringField(attrs, AttrAvatarURL)
	if err != nil {
		return nil, err
	}
	profile, err := stringField(attrs, AttrProfileURL)
	if err != nil {
		return nil, err
	}

	return New(id, login, avatar, profile), nil
}

func stringField(attrs map[string]any, key string) (string, error) {
	raw, ok := attrs[key]
	if !ok || raw == nil {
		return "", missing(key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", wrongType(key)
	}
	return s, nil
}

func intField(attrs map[string]any, key string) (int64, error) {
	raw, ok := attrs[key]
	if !ok || raw == nil {
		return 0, missing(key)
	}

	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, &errs.DecodeError{Kind: errs.DecodeWrongType, Field: key, Index: -1, Cause: err}
		}
		return n, nil
	case float64:
		n := int64(v)
		if float64(n) != v {
			return 0, wrongType(key)
		}
		return n, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, wrongType(key)
	}
}

func missing(key string) error {
	return &errs.DecodeError{Kind: errs.DecodeMissingField, Field: key, Index: -1}
}

func wrongType(key string) error {
	return &errs.DecodeError{Kind: errs.DecodeWrongType, Field: key, Index: -1}
}

// ID returns the remote user ID
func (u *User) ID() int64 {
	return u.id
}

// DisplayName returns the login shown in the list
func (u *User) DisplayName() string {
	return u.displayName
}

// IconURL returns the avatar image URL
func (u *User) IconURL() string {
	return u.iconURL
}

// ProfileURL returns the raw profile page URL
func (u *User) ProfileURL() string {
	return u.profileURL
}
