package security

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptagent/internal/config"
	"scriptagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingAudit keeps audit entries in memory.
type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (r *recordingAudit) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func defaultTestCfg() config.SecurityConfig {
	return config.SecurityConfig{
		DenyPatterns: []string{"exec", "eval", "__", "import"},
		AuditLog:     true,
	}
}

func mustEngine(t *testing.T, cfg config.SecurityConfig, audit domain.AuditLogger) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, []string{"calculate", "save_note"}, audit, testLogger())
	require.NoError(t, err)
	return e
}

func mustPatterns(t *testing.T, ps ...string) []Pattern {
	t.Helper()
	out, err := CompilePatterns(ps)
	require.NoError(t, err)
	return out
}

// --- Validate ---

func TestValidate_AllowedCall(t *testing.T) {
	allow := mustPatterns(t, "calculate(", "save_note(")
	deny := mustPatterns(t, "exec", "eval", "__", "import")

	assert.NoError(t, Validate(`save_note("done")`, allow, deny))
	assert.NoError(t, Validate(`x = calculate("2+2")`, allow, deny))
}

func TestValidate_NoRecognizedAction(t *testing.T) {
	allow := mustPatterns(t, "calculate(", "save_note(")
	err := Validate(`print("hi")`, allow, nil)
	assert.ErrorIs(t, err, domain.ErrNoRecognizedAction)
	assert.Equal(t, domain.StageValidate, domain.StageOf(err))
}

func TestValidate_DenyOverridesAllow(t *testing.T) {
	allow := mustPatterns(t, "calculate(", "save_note(")
	deny := mustPatterns(t, "exec", "eval", "__", "import")

	err := Validate(`calculate("2+2"); __import__("os")`, allow, deny)
	assert.ErrorIs(t, err, domain.ErrUnsafeConstruct)
}

func TestValidate_DenyReportedEvenWithoutAllowMatch(t *testing.T) {
	allow := mustPatterns(t, "calculate(")
	deny := mustPatterns(t, "import")

	err := Validate(`import os`, allow, deny)
	assert.ErrorIs(t, err, domain.ErrUnsafeConstruct)
}

func TestValidate_CaseSensitiveLiteral(t *testing.T) {
	allow := mustPatterns(t, "calculate(")
	deny := mustPatterns(t, "exec")

	assert.NoError(t, Validate(`calculate("1"); EXEC`, allow, deny))
	assert.ErrorIs(t, Validate(`Calculate("1")`, allow, deny), domain.ErrNoRecognizedAction)
}

func TestValidate_IsPure(t *testing.T) {
	allow := mustPatterns(t, "save_note(")
	deny := mustPatterns(t, "eval")
	candidate := `save_note("twice")`

	first := Validate(candidate, allow, deny)
	second := Validate(candidate, allow, deny)
	assert.Equal(t, first, second)
}

// --- Patterns ---

func TestParsePattern_LiteralWithParens(t *testing.T) {
	p, err := ParsePattern("calculate(")
	require.NoError(t, err)
	assert.True(t, p.Match(`calculate("2")`))
	assert.False(t, p.Match(`calculate`))
}

func TestParsePattern_Regexp(t *testing.T) {
	p, err := ParsePattern(`re:\bopen\s*\(`)
	require.NoError(t, err)
	assert.True(t, p.Match(`open ("f")`))
	assert.False(t, p.Match(`reopen_file`))
	assert.Equal(t, `re:\bopen\s*\(`, p.String())
}

func TestParsePattern_Invalid(t *testing.T) {
	_, err := ParsePattern("re:([")
	assert.Error(t, err)

	_, err = ParsePattern("")
	assert.Error(t, err)
}

// --- Engine ---

func TestEngine_AllowPatternsFromTools(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.AllowPatterns = []string{"re:^noop\\("}
	e := mustEngine(t, cfg, nil)

	assert.Equal(t, []string{"calculate(", "save_note(", "re:^noop\\("}, e.AllowPatterns())
	assert.Equal(t, []string{"exec", "eval", "__", "import"}, e.DenyPatterns())
	assert.NoError(t, e.Check(context.Background(), "t1", "noop()"))
}

func TestEngine_AuditsDecisions(t *testing.T) {
	audit := &recordingAudit{}
	e := mustEngine(t, defaultTestCfg(), audit)
	ctx := context.Background()

	require.NoError(t, e.Check(ctx, "t1", `save_note("ok")`))
	assert.ErrorIs(t, e.Check(ctx, "t2", `eval("1")`), domain.ErrUnsafeConstruct)
	assert.ErrorIs(t, e.Check(ctx, "t3", `print(1)`), domain.ErrNoRecognizedAction)

	require.Len(t, audit.entries, 3)
	assert.Equal(t, "candidate_allowed", audit.entries[0].Action)
	assert.Equal(t, "save_note(", audit.entries[0].Pattern)

	assert.Equal(t, "candidate_blocked", audit.entries[1].Action)
	assert.Equal(t, "eval", audit.entries[1].Pattern)
	assert.Equal(t, "t2", audit.entries[1].TaskID)
	assert.Equal(t, "blocked", audit.entries[1].Result)

	assert.Equal(t, "candidate_rejected", audit.entries[2].Action)
}

func TestEngine_AuditDisabled(t *testing.T) {
	audit := &recordingAudit{}
	cfg := defaultTestCfg()
	cfg.AuditLog = false
	e := mustEngine(t, cfg, audit)

	_ = e.Check(context.Background(), "t1", `eval("1")`)
	assert.Empty(t, audit.entries)
}

func TestEngine_SnippetTruncated(t *testing.T) {
	audit := &recordingAudit{}
	e := mustEngine(t, defaultTestCfg(), audit)

	long := `save_note("` + string(make([]byte, 500)) + `")`
	require.NoError(t, e.Check(context.Background(), "t1", long))
	assert.LessOrEqual(t, len([]rune(audit.entries[0].Snippet)), snippetLimit+3)
}

func TestNewEngine_InvalidDenyPattern(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.DenyPatterns = []string{"re:(unclosed"}
	_, err := NewEngine(cfg, nil, nil, testLogger())
	assert.Error(t, err)
}
