package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorMessage is the error text returned with a 429 response.
const ErrorMessage = "rate limit exceeded"

// ClientKey returns the rate limit key for a request: the host part of
// RemoteAddr, or the whole value when it carries no port.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the per-client limit with 429 and a
// Retry-After header. onReject, when non-nil, is called for every
// rejected request.
func Middleware(kl *KeyedLimiter, onReject func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := kl.Reserve(ClientKey(r))
			if !ok {
				if onReject != nil {
					onReject(r)
				}
				w.Header().Set("Retry-After", retryAfter(wait))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   ErrorMessage,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter renders a wait as whole seconds, at least one.
func retryAfter(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
