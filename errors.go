package webinar

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrUnauthorized means no Webex user has authorized the integration.
	ErrUnauthorized = errors.New("webex integration is not authorized")
	// ErrAuthExpired means the stored tokens could not be refreshed. A human
	// has to re-run the authorization flow before the next run.
	ErrAuthExpired = errors.New("webex authorization expired")
)

type (
	// ConfigurationError is fatal at startup or at the beginning of a run:
	// malformed parameter JSON, or a required column missing from the sheet.
	ConfigurationError struct {
		Reason string
		Err    error
	}

	// ValidationError marks a row that cannot be submitted to Webex.
	ValidationError struct {
		Field string
	}

	// APIError is a non-success response from an upstream API, surfaced
	// verbatim for diagnostics.
	APIError struct {
		Method     string
		Host       string
		URI        string
		StatusCode int
		Status     string
		Body       string
	}
)

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for field: '%s'", e.Field)
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP Error:\n%s: %s\n%s\n\nResponse:\n%s\n%s",
		e.Method, e.Host, e.URI, e.Status, e.Body)
}

// handleHTTPError reads the failed response and wraps it in an *APIError.
func handleHTTPError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response body: %w", err)
	}
	return &APIError{
		Method:     resp.Request.Method,
		Host:       resp.Request.URL.Scheme + "://" + resp.Request.URL.Host,
		URI:        resp.Request.URL.RequestURI(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}
