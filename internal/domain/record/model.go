// Package record defines the audit, security, and performance log records.
package record

import "time"

// Kind distinguishes the three record families sharing the log store.
type Kind string

const (
	KindAudit       Kind = "audit"
	KindSecurity    Kind = "security"
	KindPerformance Kind = "performance"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindAudit, KindSecurity, KindPerformance:
		return true
	}
	return false
}

// Security event names recorded by the auth and middleware layers.
const (
	EventLoginFailed      = "login_failed"
	EventLoginLocked      = "login_locked"
	EventTokenRejected    = "token_rejected"
	EventRateLimited      = "rate_limit_exceeded"
	EventPermissionDenied = "permission_denied"
)

// Record is one log entry. Fields are populated according to Kind: audit
// records carry Actor/Action/Entity*, security records carry Event and
// Detail, performance records carry Source and the numeric metrics.
type Record struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	At         time.Time         `json:"at"`
	TraceID    string            `json:"trace_id,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`

	// audit
	Action     string `json:"action,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Summary    string `json:"summary,omitempty"`

	// security
	Event  string            `json:"event,omitempty"`
	Detail map[string]string `json:"detail,omitempty"`

	// performance
	Source     string  `json:"source,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemPercent float64 `json:"mem_percent,omitempty"`
}

// Query filters records. Zero values mean "no constraint"; Limit is capped by
// the store.
type Query struct {
	Kind       Kind
	Since      time.Time
	Until      time.Time
	Actor      string
	Event      string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}
