package channel

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"scriptagent/internal/agent"
	"scriptagent/internal/config"
	"scriptagent/internal/domain"
	"scriptagent/internal/security"
	"scriptagent/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider returns its responses in order; the last one repeats.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (p *scriptedProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := min(p.calls, len(p.responses)-1)
	p.calls++
	return &domain.ChatResponse{Content: p.responses[idx]}, nil
}
func (p *scriptedProvider) Name() string                   { return "scripted" }
func (p *scriptedProvider) Mode() domain.ProviderMode      { return domain.ModeAPI }
func (p *scriptedProvider) Models() []string               { return nil }
func (p *scriptedProvider) Healthy(context.Context) error { return nil }

func newTestAgent(t *testing.T, responses ...string) *agent.Agent {
	t.Helper()
	state := agent.NewState()
	reg := tool.NewRegistry(testLogger())
	_, err := tool.RegisterManifest(reg, []string{"calculate", "save_note"}, tool.Deps{State: state})
	require.NoError(t, err)
	gate, err := security.NewEngine(config.Defaults().Security, reg.Names(), nil, testLogger())
	require.NoError(t, err)

	var p domain.Provider
	if len(responses) > 0 {
		p = &scriptedProvider{responses: responses}
	}
	return agent.New(agent.Config{
		Provider:  p,
		Registry:  reg,
		Validator: gate,
		State:     state,
		Logger:    testLogger(),
	})
}
