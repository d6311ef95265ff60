package server

import (
	"net/http"
)

// ConfigMeta describes a configuration section.
type ConfigMeta struct {
	Section       string `json:"section"`
	HotReloadable bool   `json:"hot_reloadable"`
	Description   string `json:"description"`
}

// configSections lists the server configuration sections in file order.
var configSections = []ConfigMeta{
	{Section: "server", Description: "HTTP listener and timeouts"},
	{Section: "upstream", Description: "NordVPN API and CDN endpoints"},
	{Section: "cache", Description: "Catalogue and listing cache lifetimes"},
	{Section: "wireguard", Description: "DNS presets and key validation"},
	{Section: "socks", Description: "Fallback SOCKS credentials"},
	{Section: "session", Description: "Session cookie sealing"},
	{Section: "rate_limit", HotReloadable: true, Description: "Per-client request rate limiting"},
	{Section: "health", Description: "Upstream readiness probes"},
	{Section: "admin", Description: "Client allow and deny lists for admin routes"},
	{Section: "metrics", Description: "Prometheus metrics listener"},
	{Section: "access_log", Description: "Per-request access log"},
	{Section: "logging", Description: "Application logging"},
}

// handleGetConfig returns the sanitized running configuration.
func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if a.getConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "configuration not available")
		return
	}
	writeJSON(w, http.StatusOK, a.getConfig())
}

func (a *API) handleGetConfigMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configSections)
}
