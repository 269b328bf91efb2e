package domain

// SessionOptions configures a single measurement session. Immutable for the
// session lifetime.
type SessionOptions struct {
	ColdLoad     bool `json:"cold_load"`
	TraceEnabled bool `json:"trace_enabled"`
}

// SessionStatus reports whether a target currently has a live session.
type SessionStatus struct {
	TargetID string `json:"target_id"`
	Active   bool   `json:"active"`
}
