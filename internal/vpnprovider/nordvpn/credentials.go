package nordvpn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

// CredentialLifetime is the validity assigned to resolved credentials. The
// upstream expires_at field is not used.
const CredentialLifetime = 30 * 24 * time.Hour

// Credential field names, in lookup order.
var (
	privateKeyFields = []string{"nordlynx_private_key", "private_key"}
	publicKeyFields  = []string{"nordlynx_public_key", "public_key"}
)

// APICredentials is the response of /users/services/credentials.
type APICredentials struct {
	ID                 int    `json:"id"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	NordLynxPrivateKey string `json:"nordlynx_private_key"`
	PrivateKey         string `json:"private_key"`
	NordLynxPublicKey  string `json:"nordlynx_public_key"`
	PublicKey          string `json:"public_key"`
	ExpiresAt          string `json:"expires_at"`
}

func (a *APICredentials) field(name string) string {
	switch name {
	case "nordlynx_private_key":
		return a.NordLynxPrivateKey
	case "private_key":
		return a.PrivateKey
	case "nordlynx_public_key":
		return a.NordLynxPublicKey
	case "public_key":
		return a.PublicKey
	}
	return ""
}

func (a *APICredentials) first(names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(a.field(n)); v != "" {
			return v
		}
	}
	return ""
}

// FetchCredentials retrieves the service credentials of the token's owner.
func (c *Client) FetchCredentials(ctx context.Context, token string) (*APICredentials, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, vpnprovider.Required("token")
	}

	var creds APICredentials
	if err := c.getJSON(ctx, "/users/services/credentials", "", token, &creds); err != nil {
		return nil, fmt.Errorf("fetch credentials: %w", err)
	}
	return &creds, nil
}

// ResolveCredentials exchanges a user token for WireGuard credentials. The
// expiry is always now plus CredentialLifetime.
func (c *Client) ResolveCredentials(ctx context.Context, token string) (*vpnprovider.Credentials, error) {
	apiCreds, err := c.FetchCredentials(ctx, token)
	if err != nil {
		return nil, authError(err)
	}

	privateKey := apiCreds.first(privateKeyFields)
	if privateKey == "" {
		return nil, &vpnprovider.AuthError{
			Kind: vpnprovider.AuthMissingKey,
			Err:  &vpnprovider.MissingCredentialFieldError{Fields: privateKeyFields},
		}
	}

	return &vpnprovider.Credentials{
		PrivateKey: privateKey,
		PublicKey:  apiCreds.first(publicKeyFields),
		ExpiresAt:  c.now().UTC().Add(CredentialLifetime),
	}, nil
}

// ResolveServiceCredentials exchanges a user token for the SOCKS/OpenVPN
// username and password.
func (c *Client) ResolveServiceCredentials(ctx context.Context, token string) (*vpnprovider.ServiceCredentials, error) {
	apiCreds, err := c.FetchCredentials(ctx, token)
	if err != nil {
		return nil, authError(err)
	}

	var missing []string
	if apiCreds.Username == "" {
		missing = append(missing, "username")
	}
	if apiCreds.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, &vpnprovider.AuthError{
			Kind: vpnprovider.AuthMissingKey,
			Err:  &vpnprovider.MissingCredentialFieldError{Fields: missing},
		}
	}

	return &vpnprovider.ServiceCredentials{
		Username: apiCreds.Username,
		Password: apiCreds.Password,
	}, nil
}

// authError classifies err, leaving validation errors untouched.
func authError(err error) error {
	var vErr *vpnprovider.ValidationError
	if errors.As(err, &vErr) {
		return err
	}
	return vpnprovider.ClassifyAuth(err)
}
