package source

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of provider errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents bodies that could not be parsed.
	ErrorClassDecode ErrorClass = "decode"
)

// ErrInvalidResponse indicates a provider body that matched none of the known shapes.
var ErrInvalidResponse = errors.New("invalid provider response")

// HTTPError is a provider error with its classification.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s error on %s (status %d): %v",
			e.Class, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s error on %s (status %d): %s",
		e.Class, e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an error class. 2xx/3xx return "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// isRetryable retries transport failures and 5xx responses only.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return true
	}
	switch httpErr.Class {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
