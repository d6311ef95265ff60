package vpnprovider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamError(t *testing.T) {
	err := fmt.Errorf("fetch servers: %w", &UpstreamError{Endpoint: "/v1/servers", Status: 503, Body: "busy"})

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 503, upstream.Status)
	assert.True(t, upstream.Temporary())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestMalformedResponseError(t *testing.T) {
	inner := errors.New("json: cannot unmarshal object")
	err := &MalformedResponseError{Endpoint: "/v1/servers", ContentType: "text/html", Err: inner}

	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "malformed response from /v1/servers (content-type text/html): json: cannot unmarshal object", err.Error())

	var upstream *UpstreamError
	assert.False(t, errors.As(err, &upstream))
}

func TestValidationError(t *testing.T) {
	err := Required("hostname")
	assert.Equal(t, "hostname is required", err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestClassifyAuth(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want AuthErrorKind
	}{
		{"401", &UpstreamError{Status: 401}, AuthInvalidToken},
		{"403", &UpstreamError{Status: 403}, AuthInvalidToken},
		{"500", &UpstreamError{Status: 500}, AuthUpstream},
		{"missing field", &MissingCredentialFieldError{Fields: []string{"nordlynx_private_key"}}, AuthMissingKey},
		{"malformed", &MalformedResponseError{Endpoint: "/x"}, AuthMalformed},
		{"network", &NetworkError{Endpoint: "/x", Err: errors.New("dial")}, AuthNetwork},
		{"other", errors.New("other"), AuthUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authErr := ClassifyAuth(fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.want, authErr.Kind)
			assert.ErrorIs(t, authErr, tt.err)
		})
	}
}

func TestAuthErrorIsAuthenticationFailed(t *testing.T) {
	assert.ErrorIs(t, &AuthError{Kind: AuthInvalidToken}, ErrAuthenticationFailed)
	assert.ErrorIs(t, &AuthError{Kind: AuthMissingKey, Err: &MissingCredentialFieldError{}}, ErrAuthenticationFailed)
	assert.NotErrorIs(t, &AuthError{Kind: AuthNetwork, Err: errors.New("x")}, ErrAuthenticationFailed)
}

func TestClassifyAuthKeepsExisting(t *testing.T) {
	orig := &AuthError{Kind: AuthMissingKey}
	assert.Same(t, orig, ClassifyAuth(fmt.Errorf("x: %w", orig)))
}
