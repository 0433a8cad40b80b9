package oauth

import (
	"errors"
	"fmt"
)

// OAuth error codes returned across component boundaries. The taxonomy is
// RFC 6749 / RFC 7591 shaped: callers branch on the code, the description is
// for humans.
const (
	ErrCodeInvalidClientMetadata = "invalid_client_metadata"
	ErrCodeInvalidRedirectURI    = "invalid_redirect_uri"
	ErrCodeInvalidGrant          = "invalid_grant"
	ErrCodeInvalidClient         = "invalid_client"
	ErrCodeInvalidToken          = "invalid_token"
	ErrCodeServerError           = "server_error"
)

// Error is an OAuth-protocol error. It is the only error type public
// operations in this package return for protocol-level failures.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches two OAuth errors by code, so errors.Is(err, &Error{Code: ...})
// works regardless of description.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewError builds an OAuth error with a formatted description.
func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the OAuth error code from err, or server_error if err is
// not an OAuth error.
func ErrorCode(err error) string {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Code
	}
	return ErrCodeServerError
}
