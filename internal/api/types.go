// Package api defines the JSON documents served by the proxy listener.
package api

// Health is the health endpoint payload.
type Health struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Requests         int64  `json:"requests"`
	ActiveCredential string `json:"active_credential"`
}

// ErrorResponse is the body of proxy-generated error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
