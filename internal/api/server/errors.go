package server

import (
	"errors"
	"net/http"

	"github.com/rennerdo30/nordcfg/internal/logging"
	"github.com/rennerdo30/nordcfg/internal/vpnprovider"
)

// errNoSocksCredentials is returned by the SOCKS route when neither a
// token nor fallback credentials are available.
var errNoSocksCredentials = errors.New("no token or SOCKS credentials available")

// errorResponse is the body of every failed request.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vpnprovider.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, vpnprovider.ErrAuthenticationFailed),
		errors.Is(err, errNoSocksCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}

// fail logs err and writes it using the mapped status.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}
