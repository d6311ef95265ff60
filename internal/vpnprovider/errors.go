package vpnprovider

import (
	"errors"
	"fmt"
	"strings"
)

// Common provider errors.
var (
	// ErrProviderUnavailable indicates the provider API is not reachable.
	ErrProviderUnavailable = errors.New("provider API unavailable")

	// ErrAuthenticationFailed indicates an invalid or expired user token.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrMalformedResponse indicates an unexpected content type or JSON shape.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrMissingCredentialField indicates the credentials response lacks a required field.
	ErrMissingCredentialField = errors.New("credential field missing from provider response")

	// ErrInvalidInput indicates the caller omitted or malformed a required input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedProtocol indicates the requested protocol is not available.
	ErrUnsupportedProtocol = errors.New("protocol not supported by provider")
)

// UpstreamError is returned when the provider answers with a non-2xx status.
type UpstreamError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned HTTP %d for %s", e.Status, e.Endpoint)
	}
	return fmt.Sprintf("provider returned HTTP %d for %s: %s", e.Status, e.Endpoint, e.Body)
}

// Unwrap lets errors.Is match ErrProviderUnavailable.
func (e *UpstreamError) Unwrap() error {
	return ErrProviderUnavailable
}

// Temporary reports whether the status is a server-side failure.
func (e *UpstreamError) Temporary() bool {
	return e.Status >= 500
}

// MalformedResponseError is returned when a 2xx response cannot be decoded
// into the expected shape.
type MalformedResponseError struct {
	Endpoint    string
	ContentType string
	Err         error
}

func (e *MalformedResponseError) Error() string {
	var sb strings.Builder
	sb.WriteString("malformed response from ")
	sb.WriteString(e.Endpoint)
	if e.ContentType != "" {
		sb.WriteString(" (content-type ")
		sb.WriteString(e.ContentType)
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *MalformedResponseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedResponse}
	}
	return []error{ErrMalformedResponse, e.Err}
}

// NetworkError wraps a transport failure or timeout.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Err}
}

// MissingCredentialFieldError names the fields that were looked up and not found.
type MissingCredentialFieldError struct {
	Fields []string
}

func (e *MissingCredentialFieldError) Error() string {
	return fmt.Sprintf("credentials response has none of: %s", strings.Join(e.Fields, ", "))
}

func (e *MissingCredentialFieldError) Unwrap() error {
	return ErrMissingCredentialField
}

// ValidationError reports a missing or malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Required returns a ValidationError for an absent input.
func Required(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

// AuthErrorKind classifies credential resolution failures so callers can
// render a specific message.
type AuthErrorKind int

const (
	AuthInvalidToken AuthErrorKind = iota + 1
	AuthMissingKey
	AuthUpstream
	AuthMalformed
	AuthNetwork
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthInvalidToken:
		return "invalid_token"
	case AuthMissingKey:
		return "missing_key"
	case AuthUpstream:
		return "upstream"
	case AuthMalformed:
		return "malformed"
	case AuthNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// AuthError is returned by credential resolution. Err carries the underlying
// taxonomy error.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthInvalidToken:
		return "invalid or expired token"
	case AuthMissingKey:
		return fmt.Sprintf("could not read credentials from provider: %v", e.Err)
	default:
		return fmt.Sprintf("credential lookup failed: %v", e.Err)
	}
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrAuthenticationFailed) match token rejections.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthenticationFailed && (e.Kind == AuthInvalidToken || e.Kind == AuthMissingKey)
}

// ClassifyAuth wraps err in an AuthError whose kind follows the taxonomy type of err.
func ClassifyAuth(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	var (
		upstream  *UpstreamError
		malformed *MalformedResponseError
		missing   *MissingCredentialFieldError
		network   *NetworkError
	)
	switch {
	case errors.As(err, &upstream):
		if upstream.Status == 401 || upstream.Status == 403 {
			return &AuthError{Kind: AuthInvalidToken, Err: err}
		}
		return &AuthError{Kind: AuthUpstream, Err: err}
	case errors.As(err, &missing):
		return &AuthError{Kind: AuthMissingKey, Err: err}
	case errors.As(err, &malformed):
		return &AuthError{Kind: AuthMalformed, Err: err}
	case errors.As(err, &network):
		return &AuthError{Kind: AuthNetwork, Err: err}
	default:
		return &AuthError{Kind: AuthUpstream, Err: err}
	}
}
