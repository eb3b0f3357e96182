package audit

import "context"

// LogSink emits workflow audit records through the structured audit log.
// It satisfies the sink interfaces of the packages that produce the
// records without importing them.
type LogSink struct{}

// NewLogSink returns a sink backed by LogEvent.
func NewLogSink() *LogSink { return &LogSink{} }

// Denied records a refused authorization check.
func (LogSink) Denied(ctx context.Context, userID, permission, resource, reason string) {
	_ = LogEvent(ctx, "authz.denied", map[string]any{
		"user_id":    userID,
		"permission": permission,
		"resource":   resource,
		"reason":     reason,
	})
}

// Transition records a successful application status change.
func (LogSink) Transition(ctx context.Context, applicationID, from, to, actorID string) {
	_ = LogEvent(ctx, "workflow.transition", map[string]any{
		"application_id": applicationID,
		"from":           from,
		"to":             to,
		"actor_id":       actorID,
	})
}
