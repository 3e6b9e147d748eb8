package api

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	// Problems lists individual validation failures, when there are any.
	Problems []string `json:"problems,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	ActiveSessions  int    `json:"active_sessions"`
	Employees       int    `json:"employees"`
	VerifierEnabled bool   `json:"verifier_enabled"`
	EventListeners  int    `json:"event_listeners"`
}
