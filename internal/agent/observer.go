package agent

import (
	"time"

	"scriptagent/internal/domain"
)

const tracerName = "scriptagent/agent"

// Observer receives pipeline measurements. Outcomes are short labels such
// as "ok", "error", "timeout" or an error kind name.
type Observer interface {
	TaskFinished(outcome string, d time.Duration)
	StageFailed(stage domain.Stage, kind string)
	ToolCalled(tool, outcome string, d time.Duration)
	ModelCalled(provider, outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) TaskFinished(string, time.Duration)        {}
func (nopObserver) StageFailed(domain.Stage, string)          {}
func (nopObserver) ToolCalled(string, string, time.Duration)  {}
func (nopObserver) ModelCalled(string, string, time.Duration) {}
