package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scriptagent/internal/config"
	"scriptagent/internal/domain"
	"scriptagent/internal/security"
	"scriptagent/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockProvider replays canned responses in order; the last one repeats.
type mockProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []domain.ChatRequest
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	idx := min(len(m.requests)-1, len(m.responses)-1)
	return &domain.ChatResponse{Content: m.responses[idx], FinishReason: "stop"}, nil
}
func (m *mockProvider) Name() string                     { return "mock" }
func (m *mockProvider) Mode() domain.ProviderMode        { return domain.ModeAPI }
func (m *mockProvider) Models() []string                 { return []string{"mock-model"} }
func (m *mockProvider) Healthy(ctx context.Context) error { return nil }

// funcTool is a tool whose behaviour is a closure.
type funcTool struct {
	name   string
	params []domain.Param
	fn     func(ctx context.Context, args map[string]any) (any, error)
}

func (f *funcTool) Name() string           { return f.name }
func (f *funcTool) Description() string    { return "test tool " + f.name }
func (f *funcTool) Params() []domain.Param { return f.params }
func (f *funcTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.fn(ctx, args)
}

func sleepyTool(d time.Duration) *funcTool {
	return &funcTool{name: "sleepy", fn: func(ctx context.Context, _ map[string]any) (any, error) {
		time.Sleep(d)
		return "woke", nil
	}}
}

func politeTool() *funcTool {
	return &funcTool{name: "polite", fn: func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func panicTool() *funcTool {
	return &funcTool{name: "boom", fn: func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	}}
}

func failingTool() *funcTool {
	return &funcTool{name: "fail", fn: func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("tool failed")
	}}
}

// fixture is an agent wired with the built-in tools.
type fixture struct {
	agent    *Agent
	state    *State
	registry *tool.Registry
	notes    *tool.NoteTaker
	provider *mockProvider
	store    *memStore
	observer *recordingObserver
}

type fixtureOption func(*Config)

func withTransaction(mode TransactionMode) fixtureOption {
	return func(c *Config) { c.Transaction = mode }
}

func withExtraTools(tools ...domain.Tool) fixtureOption {
	return func(c *Config) {
		for _, t := range tools {
			_ = c.Registry.Register(t)
		}
	}
}

func withExecutor(timeout time.Duration, maxCalls int) fixtureOption {
	return func(c *Config) {
		c.Executor = NewExecutor(ExecutorConfig{
			Registry: c.Registry, ToolTimeout: timeout, MaxCalls: maxCalls, Logger: c.Logger,
		})
	}
}

func newFixture(t *testing.T, responses []string, opts ...fixtureOption) *fixture {
	t.Helper()
	state := NewState()
	reg := tool.NewRegistry(testLogger())
	tools, err := tool.RegisterManifest(reg, []string{"calculate", "save_note"}, tool.Deps{State: state})
	require.NoError(t, err)

	f := &fixture{
		state:    state,
		registry: reg,
		notes:    tools[1].(*tool.NoteTaker),
		provider: &mockProvider{responses: responses},
		store:    &memStore{},
		observer: &recordingObserver{},
	}

	cfg := Config{
		Provider:    f.provider,
		Model:       "mock-model",
		MaxTokens:   500,
		Temperature: 0.7,
		Registry:    reg,
		State:       state,
		Store:       f.store,
		Observer:    f.observer,
		Logger:      testLogger(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	gate, err := security.NewEngine(config.Defaults().Security, reg.Names(), nil, testLogger())
	require.NoError(t, err)
	cfg.Validator = gate

	f.agent = New(cfg)
	return f
}

type memStore struct {
	mu    sync.Mutex
	runs  []domain.TaskRecord
	notes []domain.NoteRecord
}

func (s *memStore) SaveTaskRun(ctx context.Context, rec domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, rec)
	return nil
}

func (s *memStore) SaveNotes(ctx context.Context, notes []domain.NoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, notes...)
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	tasks  []string
	stages []string
	tools  []string
	models []string
}

func (o *recordingObserver) TaskFinished(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks = append(o.tasks, outcome)
}

func (o *recordingObserver) StageFailed(stage domain.Stage, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, string(stage)+"/"+kind)
}

func (o *recordingObserver) ToolCalled(name, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, name+"/"+outcome)
}

func (o *recordingObserver) ModelCalled(provider, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.models = append(o.models, provider+"/"+outcome)
}
