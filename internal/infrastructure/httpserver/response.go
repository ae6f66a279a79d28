package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/userfeed/internal/domain/errs"
)

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents an error in the API response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPError interface allows application errors to define their HTTP representation.
// Errors implementing this interface will be automatically mapped to proper HTTP responses.
type HTTPError interface {
	error
	HTTPStatus() int
	HTTPCode() string
	HTTPMessage() string
}

// APIError is an HTTPError built by handlers for conditions the domain
// taxonomy does not cover.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// NewAPIError creates an APIError wrapping err.
func NewAPIError(status int, code, message string, err error) *APIError {
	return &APIError{Status: status, Code: code, Message: message, Err: err}
}

func (e *APIError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPStatus implements HTTPError.
func (e *APIError) HTTPStatus() int { return e.Status }

// HTTPCode implements HTTPError.
func (e *APIError) HTTPCode() string { return e.Code }

// HTTPMessage implements HTTPError.
func (e *APIError) HTTPMessage() string { return e.Message }

// RespondJSON sends a successful JSON response.
func RespondJSON(c echo.Context, code int, data any) error {
	return c.JSON(code, Response{
		Success: true,
		Data:    data,
	})
}

// RespondOK sends a 200 OK response with data.
func RespondOK(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusOK, data)
}

// RespondAccepted sends a 202 Accepted response with data.
func RespondAccepted(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusAccepted, data)
}

// RespondError sends an error JSON response based on the error type.
func RespondError(c echo.Context, err error) error {
	statusCode, apiError := mapError(err)
	return c.JSON(statusCode, Response{
		Success: false,
		Error:   apiError,
	})
}

// RespondErrorWithCode sends an error JSON response with a specific HTTP status code.
func RespondErrorWithCode(c echo.Context, code int, errorCode, message string) error {
	return c.JSON(code, Response{
		Success: false,
		Error: &Error{
			Code:    errorCode,
			Message: message,
		},
	})
}

// StatusOf returns the HTTP status RespondError would use for err.
func StatusOf(err error) int {
	status, _ := mapError(err)
	return status
}

// mapError maps domain errors to HTTP status codes and API errors.
// Failures of the upstream API surface as 502 with the domain error code.
func mapError(err error) (int, *Error) {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.HTTPStatus(), &Error{
			Code:    httpErr.HTTPCode(),
			Message: httpErr.HTTPMessage(),
		}
	}

	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, &Error{
			Code:    errs.CodeNotFound,
			Message: "The requested resource was not found",
		}

	case errors.Is(err, errs.ErrInvalidURL),
		errors.Is(err, errs.ErrTransport),
		errors.Is(err, errs.ErrEmptyResponse),
		errors.Is(err, errs.ErrInvalidResponse),
		errors.Is(err, errs.ErrDecode):
		return http.StatusBadGateway, &Error{
			Code:    errs.CodeOf(err),
			Message: err.Error(),
		}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &Error{
			Code:    "TIMEOUT",
			Message: "The request timed out",
		}

	default:
		return http.StatusInternalServerError, &Error{
			Code:    "INTERNAL_ERROR",
			Message: "An internal error occurred",
		}
	}
}
