package oidc

import (
	"fmt"
	"net/http"
)

// ConfigurationError is returned when a component is constructed with
// missing or invalid settings.
type ConfigurationError struct {
	Msg string
}

// Error interface
func (e *ConfigurationError) Error() string {
	return "oidc: invalid configuration: " + e.Msg
}

// IssuerError is returned when the discovery document or the key set cannot
// be obtained, or when the issuer does not support a requested parameter or
// algorithm.
type IssuerError struct {
	Msg string
	Err error
}

// Error interface
func (e *IssuerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oidc: %s: %v", e.Msg, e.Err)
	}
	return "oidc: " + e.Msg
}

func (e *IssuerError) Unwrap() error { return e.Err }

// IDTokenError is returned when an ID token fails decoding or one of the
// claim checks. Msg identifies the failing check.
type IDTokenError struct {
	Msg string
	Err error
}

// Error interface
func (e *IDTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oidc: %s: %v", e.Msg, e.Err)
	}
	return "oidc: " + e.Msg
}

func (e *IDTokenError) Unwrap() error { return e.Err }

// AuthError is returned for state mismatches, errors reported by the token
// endpoint and invalid flow combinations.
type AuthError struct {
	Msg string
	Err error
}

// Error interface
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oidc: %s: %v", e.Msg, e.Err)
	}
	return "oidc: " + e.Msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// HTTPError is returned when an issuer endpoint answers with a non-2xx
// status.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("oidc: %s returned %d %s: %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func issuerErr(msg string, err error) error  { return &IssuerError{Msg: msg, Err: err} }
func idTokenErr(msg string, err error) error { return &IDTokenError{Msg: msg, Err: err} }
func authErr(msg string, err error) error    { return &AuthError{Msg: msg, Err: err} }
