package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes the backend returns in error payloads.
const (
	CodeBadCredentials  = "BAD_CREDENTIALS"
	CodeVerifyingEmail  = "VERIFYING_EMAIL"
	CodeAccountInactive = "ACCOUNT_INACTIVE"
)

// Error is a structured error response from the backend API.
type Error struct {
	// Status is the HTTP status code of the response.
	Status int `json:"-"`

	// Code is the backend's machine-readable error code, when present.
	Code string `json:"code"`

	// Message is the human-readable error description.
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

// IsStatus reports whether err (or any error in its chain) is an API
// error with the given HTTP status code.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// IsAuthError reports whether err is an HTTP 401 API error, i.e. the
// backend rejected the presented credential.
func IsAuthError(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}

// HasCode reports whether err is an API error carrying the given
// machine-readable code.
func HasCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
