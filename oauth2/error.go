package oauth2

import (
	"encoding/json"
	"fmt"
)

// Token endpoint error codes, RFC 6749 section 5.2.
const (
	ErrorInvalidRequest       = "invalid_request"
	ErrorInvalidClient        = "invalid_client"
	ErrorInvalidGrant         = "invalid_grant"
	ErrorUnsupportedGrantType = "unsupported_grant_type"
)

// Error is an error response from the token endpoint.
type Error struct {
	ErrorCode   string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func NewError(code, description string) *Error {
	return &Error{ErrorCode: code, Description: description}
}

func (e *Error) Error() string {
	if e.Description != "" {
		return e.ErrorCode + ": " + e.Description
	}
	return e.ErrorCode
}

// unmarshalError decodes a non-2xx token endpoint body. Bodies without an
// error code are reported with the status alone.
func unmarshalError(status int, b []byte) error {
	var oerr Error
	if err := json.Unmarshal(b, &oerr); err != nil || oerr.ErrorCode == "" {
		return fmt.Errorf("token endpoint returned status %d: %s", status, b)
	}
	return &oerr
}
