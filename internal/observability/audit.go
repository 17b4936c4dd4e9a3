package observability

import (
	"context"
	"log/slog"
)

// Audit emits a structured security audit event. The durable audit trail
// lives in the audit_log table; this log stream is the operational mirror.
func Audit(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
