package csc

import (
	"errors"
	"fmt"
)

// ErrZoneNotFound is returned when no zone managed by the account is a
// suffix of the requested domain.
var ErrZoneNotFound = errors.New("no managed zone found for domain")

// APIError represents a non-success response from the CSC Domain Manager API,
// a malformed payload, or a transport failure.
type APIError struct {
	StatusCode int    // HTTP status, 0 for transport-level failures
	Code       string // API error code, if the response carried one
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("csc: %s", e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("csc: API returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("csc: API returned status %d: %s", e.StatusCode, e.Message)
}

// CredentialError indicates the API rejected the supplied API key or bearer
// token (401/403). It unwraps to the underlying APIError so callers that only
// care about the broader failure class still match.
type CredentialError struct {
	APIError
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("csc: authentication rejected (status %d): check your API key and bearer token", e.StatusCode)
}

func (e *CredentialError) Unwrap() error {
	return &e.APIError
}
