package nordvpn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

func credentialsServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/services/credentials", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "token", user)
		assert.Equal(t, "secret-token", pass)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestResolveCredentials(t *testing.T) {
	server := credentialsServer(t, http.StatusOK, `{
		"id": 1,
		"username": "svc-user",
		"password": "svc-pass",
		"nordlynx_private_key": "NLPRIV",
		"private_key": "PRIV",
		"public_key": "PUB",
		"expires_at": "2001-01-01 00:00:00"
	}`)
	defer server.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := NewClient(WithBaseURL(server.URL), WithClock(func() time.Time { return now }))

	creds, err := client.ResolveCredentials(context.Background(), "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "NLPRIV", creds.PrivateKey)
	assert.Equal(t, "PUB", creds.PublicKey)
	assert.Equal(t, now.Add(30*24*time.Hour), creds.ExpiresAt, "upstream expires_at is ignored")
}

func TestResolveCredentialsExpiryFollowsClock(t *testing.T) {
	server := credentialsServer(t, http.StatusOK, `{"private_key":"PRIV"}`)
	defer server.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := NewClient(WithBaseURL(server.URL), WithClock(func() time.Time { return now }))

	first, err := client.ResolveCredentials(context.Background(), "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "PRIV", first.PrivateKey, "private_key is the fallback")

	now = now.Add(time.Second)
	second, err := client.ResolveCredentials(context.Background(), "secret-token")
	require.NoError(t, err)

	assert.Equal(t, time.Second, second.ExpiresAt.Sub(first.ExpiresAt))
}

func TestResolveCredentialsErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind vpnprovider.AuthErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"errors":{"message":"Unauthorized"}}`, vpnprovider.AuthInvalidToken},
		{"forbidden", http.StatusForbidden, `{}`, vpnprovider.AuthInvalidToken},
		{"server error", http.StatusInternalServerError, `{}`, vpnprovider.AuthUpstream},
		{"missing key", http.StatusOK, `{"username":"u","password":"p"}`, vpnprovider.AuthMissingKey},
		{"array body", http.StatusOK, `[]`, vpnprovider.AuthMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := credentialsServer(t, tt.status, tt.body)
			defer server.Close()

			client := NewClient(WithBaseURL(server.URL))
			_, err := client.ResolveCredentials(context.Background(), "secret-token")

			var authErr *vpnprovider.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.wantKind, authErr.Kind)
		})
	}
}

func TestResolveCredentialsMissingKeyNamesFields(t *testing.T) {
	server := credentialsServer(t, http.StatusOK, `{"username":"u"}`)
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.ResolveCredentials(context.Background(), "secret-token")

	var missing *vpnprovider.MissingCredentialFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"nordlynx_private_key", "private_key"}, missing.Fields)
	assert.ErrorIs(t, err, vpnprovider.ErrAuthenticationFailed)
}

func TestResolveCredentialsEmptyToken(t *testing.T) {
	client := NewClient(WithBaseURL("http://127.0.0.1:1"))

	_, err := client.ResolveCredentials(context.Background(), "  ")

	var vErr *vpnprovider.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "token", vErr.Field)

	var authErr *vpnprovider.AuthError
	assert.NotErrorAs(t, err, &authErr)
}

func TestResolveServiceCredentials(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := credentialsServer(t, http.StatusOK, `{"username":"svc-user","password":"svc-pass"}`)
		defer server.Close()

		client := NewClient(WithBaseURL(server.URL))
		creds, err := client.ResolveServiceCredentials(context.Background(), "secret-token")
		require.NoError(t, err)
		assert.Equal(t, &vpnprovider.ServiceCredentials{Username: "svc-user", Password: "svc-pass"}, creds)
	})

	t.Run("missing password", func(t *testing.T) {
		server := credentialsServer(t, http.StatusOK, `{"username":"svc-user"}`)
		defer server.Close()

		client := NewClient(WithBaseURL(server.URL))
		_, err := client.ResolveServiceCredentials(context.Background(), "secret-token")

		var authErr *vpnprovider.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, vpnprovider.AuthMissingKey, authErr.Kind)

		var missing *vpnprovider.MissingCredentialFieldError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"password"}, missing.Fields)
	})
}
