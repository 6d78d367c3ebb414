package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"scriptagent/internal/config"
	"scriptagent/internal/domain"
)

const snippetLimit = 200

// Pattern is a literal, case-sensitive substring, or a regular expression
// when written with a "re:" prefix.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// ParsePattern compiles s into a Pattern.
func ParsePattern(s string) (Pattern, error) {
	if s == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	if expr, ok := strings.CutPrefix(s, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
		}
		return Pattern{raw: s, re: re}, nil
	}
	return Pattern{raw: s}, nil
}

// CompilePatterns parses every entry of patterns.
func CompilePatterns(patterns []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		pat, err := ParsePattern(p)
		if err != nil {
			return nil, err
		}
		out = append(out, pat)
	}
	return out, nil
}

func (p Pattern) Match(s string) bool {
	if p.re != nil {
		return p.re.MatchString(s)
	}
	return strings.Contains(s, p.raw)
}

func (p Pattern) String() string { return p.raw }

// ToolPattern is the allow pattern for a tool: its call prefix, e.g. "calculate(".
func ToolPattern(name string) string { return name + "(" }

// Validate is the lexical gate. A candidate passes iff it matches no deny
// pattern and at least one allow pattern. Deny is checked first.
func Validate(candidate string, allow, deny []Pattern) error {
	pattern, kind := evaluate(candidate, allow, deny)
	return stageError(kind, pattern)
}

// evaluate returns the deciding pattern and the failure kind (nil on pass).
func evaluate(candidate string, allow, deny []Pattern) (string, error) {
	for _, p := range deny {
		if p.Match(candidate) {
			return p.String(), domain.ErrUnsafeConstruct
		}
	}
	for _, p := range allow {
		if p.Match(candidate) {
			return p.String(), nil
		}
	}
	return "", domain.ErrNoRecognizedAction
}

func stageError(kind error, pattern string) error {
	switch kind {
	case nil:
		return nil
	case domain.ErrUnsafeConstruct:
		return domain.NewStageError(domain.StageValidate, kind, nil, "matched %q", pattern)
	default:
		return domain.NewStageError(domain.StageValidate, kind, nil, "no allowed tool call found")
	}
}

// Engine applies Validate with the configured policy and records the
// decision in the audit log.
type Engine struct {
	allow       []Pattern
	deny        []Pattern
	auditLog    bool
	auditLogger domain.AuditLogger
	logger      *slog.Logger
}

// NewEngine builds the gate. Allow patterns are one call prefix per tool
// name plus cfg.AllowPatterns.
func NewEngine(cfg config.SecurityConfig, toolNames []string, auditLogger domain.AuditLogger, logger *slog.Logger) (*Engine, error) {
	allowRaw := make([]string, 0, len(toolNames)+len(cfg.AllowPatterns))
	for _, name := range toolNames {
		allowRaw = append(allowRaw, ToolPattern(name))
	}
	allowRaw = append(allowRaw, cfg.AllowPatterns...)

	allow, err := CompilePatterns(allowRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid allow pattern: %w", err)
	}
	deny, err := CompilePatterns(cfg.DenyPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid deny pattern: %w", err)
	}

	return &Engine{
		allow:       allow,
		deny:        deny,
		auditLog:    cfg.AuditLog,
		auditLogger: auditLogger,
		logger:      logger,
	}, nil
}

// Check validates candidate for task taskID. Unsafe candidates are logged
// at WARN with security=true.
func (e *Engine) Check(ctx context.Context, taskID, candidate string) error {
	pattern, kind := evaluate(candidate, e.allow, e.deny)
	err := stageError(kind, pattern)
	snippet := truncate(candidate, snippetLimit)

	switch kind {
	case nil:
		e.logger.Debug("candidate allowed", "task_id", taskID, "pattern", pattern)
		e.logAction(ctx, domain.AuditEntry{
			Action: "candidate_allowed", TaskID: taskID, Pattern: pattern, Snippet: snippet, Result: "allowed",
		})
	case domain.ErrUnsafeConstruct:
		e.logger.Warn("candidate BLOCKED by deny pattern",
			"security", true,
			"task_id", taskID,
			"pattern", pattern,
			"candidate", snippet,
		)
		e.logAction(ctx, domain.AuditEntry{
			Action: "candidate_blocked", TaskID: taskID, Pattern: pattern, Snippet: snippet,
			Result: "blocked", Details: err.Error(),
		})
	default:
		e.logger.Info("candidate rejected", "task_id", taskID, "kind", "no_recognized_action")
		e.logAction(ctx, domain.AuditEntry{
			Action: "candidate_rejected", TaskID: taskID, Snippet: snippet,
			Result: "rejected", Details: err.Error(),
		})
	}
	return err
}

// AllowPatterns returns the effective allow list.
func (e *Engine) AllowPatterns() []string { return patternStrings(e.allow) }

// DenyPatterns returns the effective deny list.
func (e *Engine) DenyPatterns() []string { return patternStrings(e.deny) }

func patternStrings(ps []Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}

func (e *Engine) logAction(ctx context.Context, entry domain.AuditEntry) {
	if !e.auditLog || e.auditLogger == nil {
		return
	}
	if err := e.auditLogger.LogAudit(ctx, entry); err != nil {
		e.logger.Error("audit log write failed", "action", entry.Action, "err", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
