package domain

import "context"

// AuditEntry is one security-relevant decision about a candidate script.
type AuditEntry struct {
	Action  string // candidate_allowed | candidate_rejected | candidate_blocked
	TaskID  string
	Pattern string // the pattern that decided the outcome, if any
	Snippet string // truncated candidate text
	Result  string // allowed | rejected | blocked
	Details string
}

// AuditLogger persists audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
