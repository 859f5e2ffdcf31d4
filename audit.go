package tally

import (
	"context"
	"time"
)

// SystemActor is recorded on mutations made without an audit context.
const SystemActor = "system"

// AuditContext identifies who performed a mutation, when and from where.
type AuditContext struct {
	ActorID   string
	Timestamp time.Time
	SourceIP  string
}

type auditKey struct{}

// WithActor returns a context carrying the acting user and source address.
func WithActor(ctx context.Context, actorID, sourceIP string) context.Context {
	return WithAuditContext(ctx, AuditContext{ActorID: actorID, SourceIP: sourceIP})
}

// WithAuditContext returns a context carrying ac. A non-zero Timestamp is
// used as the mutation time instead of the engine clock.
func WithAuditContext(ctx context.Context, ac AuditContext) context.Context {
	return context.WithValue(ctx, auditKey{}, ac)
}

// AuditFromContext returns the audit context attached to ctx, if any.
func AuditFromContext(ctx context.Context) (AuditContext, bool) {
	ac, ok := ctx.Value(auditKey{}).(AuditContext)
	return ac, ok
}

// audit resolves the audit context for one operation.
func (t *Tally) audit(ctx context.Context) AuditContext {
	ac, _ := AuditFromContext(ctx)
	if ac.ActorID == "" {
		ac.ActorID = SystemActor
	}
	if ac.Timestamp.IsZero() {
		ac.Timestamp = t.now()
	}
	ac.Timestamp = ac.Timestamp.UTC()
	return ac
}
