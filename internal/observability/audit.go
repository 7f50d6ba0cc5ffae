package observability

import (
	"context"
	"log/slog"
	"net/http"
)

// Security audit event names. The audit trail is append-only: events are
// emitted once at the failure or success site and never rewritten.
const (
	AuditLogin              = "login"
	AuditLogout             = "logout"
	AuditFailedLogin        = "failed_login"
	AuditOAuthLogin         = "oauth_login"
	AuditOAuthCallback      = "oauth_callback"
	AuditAccountLinked      = "account_linked"
	AuditCSRFViolation      = "csrf_violation"
	AuditOAuthStateMismatch = "oauth_state_mismatch"
	AuditRateLimitExceeded  = "rate_limit_exceeded"
	AuditRegistration       = "registration"
	AuditSessionsPurged     = "sessions_purged"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Audit emits one security audit record for an HTTP request. Severity maps
// onto slog levels so high-severity events surface in default log filters.
func Audit(r *http.Request, event string, severity Severity, attrs ...any) {
	base := []any{
		"event", event,
		"severity", string(severity),
		"method", r.Method,
		"path", r.URL.Path,
		"ip", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	logAudit(r.Context(), severity, base)
	RecordAuditEvent(r.Context(), event, string(severity))
}

// AuditContext emits an audit record outside an HTTP handler (maintenance
// commands, background cleanup).
func AuditContext(ctx context.Context, event string, severity Severity, attrs ...any) {
	base := []any{"event", event, "severity", string(severity)}
	base = append(base, attrs...)
	logAudit(ctx, severity, base)
	RecordAuditEvent(ctx, event, string(severity))
}

func logAudit(ctx context.Context, severity Severity, attrs []any) {
	switch severity {
	case SeverityHigh, SeverityCritical:
		slog.WarnContext(ctx, "audit", attrs...)
	default:
		slog.InfoContext(ctx, "audit", attrs...)
	}
}
