package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DefaultCORSMaxAge is the default max age for CORS preflight cache (24 hours in seconds).
const DefaultCORSMaxAge = 86400

// AnyOrigin allows every origin.
const AnyOrigin = "*"

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	// AllowOrigins lists the origins that may read feed responses. AnyOrigin
	// allows all of them.
	AllowOrigins []string

	// AllowMethods lists the methods a browser may use cross-origin.
	AllowMethods []string

	// AllowHeaders lists the request headers a browser may send.
	AllowHeaders []string

	// ExposeHeaders lists the response headers scripts may read.
	ExposeHeaders []string

	// MaxAge is how long, in seconds, a preflight result may be cached.
	MaxAge int
}

// DefaultCORSConfig allows every origin to use the feed API.
func DefaultCORSConfig() CORSConfig {
	return FeedCORSConfig([]string{AnyOrigin})
}

// FeedCORSConfig returns the CORS settings for the feed API limited to
// origins. Reads, reloads and the request id and rate-limit headers are
// exposed, nothing else.
func FeedCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowOrigins: slices.Clone(origins),
		AllowMethods: []string{
			echo.GET,
			echo.HEAD,
			echo.POST,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestID,
		},
		ExposeHeaders: []string{
			echo.HeaderXRequestID,
			HeaderRateLimitLimit,
			HeaderRateLimitRemaining,
			HeaderRateLimitReset,
		},
		MaxAge: DefaultCORSMaxAge,
	}
}

// CORS returns a CORS middleware with the given configuration.
func CORS(config CORSConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  config.AllowOrigins,
		AllowMethods:  config.AllowMethods,
		AllowHeaders:  config.AllowHeaders,
		ExposeHeaders: config.ExposeHeaders,
		MaxAge:        config.MaxAge,
	})
}

// OriginAllowed reports whether origin is in origins. Origins compare
// case-insensitively. Requests without an Origin header come from
// non-browser clients and are always allowed.
func OriginAllowed(origins []string, origin string) bool {
	if origin == "" {
		return true
	}
	return slices.ContainsFunc(origins, func(allowed string) bool {
		return allowed == AnyOrigin || strings.EqualFold(allowed, origin)
	})
}

// OriginChecker adapts OriginAllowed to the WebSocket upgrader so that live
// updates follow the same allowlist as the REST API.
func OriginChecker(origins []string) func(r *http.Request) bool {
	origins = slices.Clone(origins)
	return func(r *http.Request) bool {
		return OriginAllowed(origins, r.Header.Get(echo.HeaderOrigin))
	}
}
