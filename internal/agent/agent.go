package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scriptagent/internal/domain"
	"scriptagent/internal/tool"
)

// ErrorPrefix starts every failed task result returned by Run.
const ErrorPrefix = "Error during execution: "

const defaultModelTimeout = 120 * time.Second

// TransactionMode decides what happens to effects of a script that fails
// part way through.
type TransactionMode string

const (
	// TransactionPartial keeps effects of statements that ran before the
	// failure and merges tool results as usual.
	TransactionPartial TransactionMode = "partial"
	// TransactionAtomic restores state and tool bookkeeping to where they
	// were before the script started. A timed-out tool that ignores its
	// context can still write after the restore; see Executor.invoke.
	TransactionAtomic TransactionMode = "atomic"
)

// Validator is the candidate gate.
type Validator interface {
	Check(ctx context.Context, taskID, candidate string) error
}

// TaskStore persists task runs and saved notes.
type TaskStore interface {
	SaveTaskRun(ctx context.Context, rec domain.TaskRecord) error
	SaveNotes(ctx context.Context, notes []domain.NoteRecord) error
}

// noteSource is implemented by tools that keep an ordered note list.
type noteSource interface {
	Len() int
	Notes() []tool.Note
}

// Config holds the agent's collaborators and tuning.
type Config struct {
	Provider     domain.Provider // may be nil when only Process is used
	Model        string
	MaxTokens    int
	Temperature  float64
	Role         string
	ModelTimeout time.Duration

	Registry    *tool.Registry
	Validator   Validator
	State       *State
	Executor    *Executor
	Transaction TransactionMode

	Store    TaskStore // optional
	Observer Observer  // optional
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// TaskResult is the structured outcome of one task.
type TaskResult struct {
	ID        string          `json:"id"`
	Task      string          `json:"task,omitempty"`
	Raw       string          `json:"-"`
	Candidate string          `json:"candidate,omitempty"`
	Calls     []CallRecord    `json:"calls,omitempty"`
	Snapshot  json.RawMessage `json:"state,omitempty"`
	Duration  time.Duration   `json:"duration_ns"`
}

// Agent runs tasks through model → extract → validate → execute → merge.
// Tasks are processed one at a time.
type Agent struct {
	mu sync.Mutex

	provider     domain.Provider
	model        string
	maxTokens    int
	temperature  float64
	modelTimeout time.Duration
	prompt       *PromptBuilder

	registry    *tool.Registry
	validator   Validator
	state       *State
	executor    *Executor
	transaction TransactionMode

	store    TaskStore
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

func New(cfg Config) *Agent {
	if cfg.State == nil {
		cfg.State = NewState()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Executor == nil {
		cfg.Executor = NewExecutor(ExecutorConfig{
			Registry: cfg.Registry,
			Observer: cfg.Observer,
			Tracer:   cfg.Tracer,
			Logger:   cfg.Logger,
		})
	}
	if cfg.Transaction == "" {
		cfg.Transaction = TransactionPartial
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaultModelTimeout
	}
	return &Agent{
		provider:     cfg.Provider,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		modelTimeout: cfg.ModelTimeout,
		prompt:       NewPromptBuilder(cfg.Role, cfg.Registry.Tools()),
		registry:     cfg.Registry,
		validator:    cfg.Validator,
		state:        cfg.State,
		executor:     cfg.Executor,
		transaction:  cfg.Transaction,
		store:        cfg.Store,
		observer:     cfg.Observer,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger,
	}
}

// State returns the shared state.
func (a *Agent) State() *State { return a.state }

// Tools returns the registered tools sorted by name.
func (a *Agent) Tools() []domain.Tool { return a.registry.Tools() }

// Definitions returns the advertised form of every tool, including the
// JSON Schema its arguments are validated against.
func (a *Agent) Definitions() []domain.ToolDefinition { return a.registry.Definitions() }

// Prompt returns the prompt builder.
func (a *Agent) Prompt() *PromptBuilder { return a.prompt }

// Run executes task and returns the JSON state snapshot, or ErrorPrefix
// followed by the failure. It never returns an error.
func (a *Agent) Run(ctx context.Context, task string) string {
	res, err := a.RunTask(ctx, task)
	return Output(res, err)
}

// Output renders a task outcome the way Run does.
func Output(res *TaskResult, err error) string {
	if err != nil {
		return ErrorPrefix + err.Error()
	}
	return string(res.Snapshot)
}

// RunTask asks the model for a script that solves task and runs it.
func (a *Agent) RunTask(ctx context.Context, task string) (*TaskResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := &TaskResult{ID: uuid.NewString(), Task: task}
	ctx, span := a.tracer.Start(ctx, "agent.task", trace.WithAttributes(
		attribute.String("task.id", res.ID),
	))
	defer span.End()

	start := time.Now()
	raw, err := a.generate(ctx, task)
	if err == nil {
		res.Raw = raw
		err = a.process(ctx, res)
	}
	return a.finish(ctx, span, res, start, err)
}

// Process runs the pipeline on a raw model response without calling the model.
func (a *Agent) Process(ctx context.Context, raw string) (*TaskResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := &TaskResult{ID: uuid.NewString(), Raw: raw}
	ctx, span := a.tracer.Start(ctx, "agent.process", trace.WithAttributes(
		attribute.String("task.id", res.ID),
	))
	defer span.End()

	start := time.Now()
	err := a.process(ctx, res)
	return a.finish(ctx, span, res, start, err)
}

func (a *Agent) generate(ctx context.Context, task string) (string, error) {
	if a.provider == nil {
		return "", domain.NewStageError(domain.StageModel, domain.ErrModelCall, ErrNoProvider, "")
	}
	return a.chat(ctx, a.prompt.BuildMessages(task))
}

// chat performs one model call. Failures are ModelCall stage errors.
func (a *Agent) chat(ctx context.Context, messages []domain.Message) (string, error) {
	ctx, span := a.tracer.Start(ctx, "model.chat", trace.WithAttributes(
		attribute.String("provider", a.provider.Name()),
		attribute.String("model", a.model),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.modelTimeout)
	defer cancel()

	start := time.Now()
	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Messages:    messages,
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		a.observer.ModelCalled(a.provider.Name(), "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", domain.NewStageError(domain.StageModel, domain.ErrModelCall, err, "provider %s", a.provider.Name())
	}
	a.observer.ModelCalled(a.provider.Name(), "ok", time.Since(start))
	span.SetAttributes(attribute.Int("tokens.total", resp.Usage.TotalTokens))
	a.logger.Debug("model response received", "provider", a.provider.Name(), "len", len(resp.Content), "latency_ms", resp.LatencyMs)
	return resp.Content, nil
}

// process runs extract → validate → execute → merge on res.Raw. Callers hold a.mu.
func (a *Agent) process(ctx context.Context, res *TaskResult) error {
	candidate, err := ExtractCandidate(NormalizeResponse(res.Raw))
	if err != nil {
		return err
	}
	res.Candidate = candidate

	if a.validator != nil {
		if err := a.validator.Check(ctx, res.ID, candidate); err != nil {
			return err
		}
	}

	tools := a.registry.Tools()
	notesBefore := a.noteCounts(tools)

	rollback := a.checkpoint(tools)

	ctx, span := a.tracer.Start(ctx, "script.execute")
	exec, execErr := a.executor.Execute(ctx, candidate)
	span.End()
	if exec != nil {
		res.Calls = exec.Calls
	}

	if execErr != nil && a.transaction == TransactionAtomic {
		rollback()
		a.logger.Info("task rolled back", "task_id", res.ID, "calls", len(res.Calls))
	} else {
		MergeResults(a.state, tools)
	}

	// Shared state must stay serializable for every later task, so a
	// value JSON cannot encode undoes the whole script.
	snap, err := json.Marshal(a.state)
	if err != nil {
		rollback()
		a.logger.Error("task rolled back, state is not serializable", "task_id", res.ID, "err", err)
		return domain.NewStageError(domain.StageExecute, domain.ErrExecutionFailure, errors.Join(execErr, err), "state is not serializable")
	}

	a.persistNotes(ctx, res.ID, tools, notesBefore)
	res.Snapshot = snap
	return execErr
}

// checkpoint captures state and every tool that supports it and returns
// a function that restores them all.
func (a *Agent) checkpoint(tools []domain.Tool) func() {
	snap := a.state.Snapshot()
	var restores []func()
	for _, t := range tools {
		if cp, ok := t.(domain.Checkpointer); ok {
			restores = append(restores, cp.Checkpoint())
		}
	}
	return func() {
		for _, r := range restores {
			r()
		}
		a.state.Restore(snap)
	}
}

func (a *Agent) noteCounts(tools []domain.Tool) map[string]int {
	counts := make(map[string]int)
	for _, t := range tools {
		if ns, ok := t.(noteSource); ok {
			counts[t.Name()] = ns.Len()
		}
	}
	return counts
}

func (a *Agent) persistNotes(ctx context.Context, taskID string, tools []domain.Tool, before map[string]int) {
	if a.store == nil {
		return
	}
	var records []domain.NoteRecord
	now := time.Now().UTC()
	for _, t := range tools {
		ns, ok := t.(noteSource)
		if !ok {
			continue
		}
		notes := ns.Notes()
		for _, n := range notes[min(before[t.Name()], len(notes)):] {
			records = append(records, domain.NoteRecord{TaskID: taskID, Content: n.Content, Label: n.Label, CreatedAt: now})
		}
	}
	if len(records) == 0 {
		return
	}
	if err := a.store.SaveNotes(ctx, records); err != nil {
		a.logger.Error("failed to persist notes", "task_id", taskID, "err", err)
	}
}

// finish logs, measures and persists the outcome of one task.
func (a *Agent) finish(ctx context.Context, span trace.Span, res *TaskResult, start time.Time, err error) (*TaskResult, error) {
	res.Duration = time.Since(start)

	rec := domain.TaskRecord{
		ID:        res.ID,
		Task:      res.Task,
		Candidate: res.Candidate,
		Status:    domain.TaskSucceeded,
		Snapshot:  res.Snapshot,
		Duration:  res.Duration,
		CreatedAt: start.UTC(),
	}

	outcome := "ok"
	if err != nil {
		kind := domain.KindName(err)
		stage := domain.StageOf(err)
		outcome = kind
		rec.Status = domain.TaskFailed
		rec.Stage = stage
		rec.ErrorKind = kind
		rec.Error = err.Error()

		a.observer.StageFailed(stage, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		span.SetAttributes(attribute.String("task.stage", string(stage)), attribute.String("task.error_kind", kind))

		if domain.KindOf(err) == domain.ErrUnsafeConstruct {
			a.logger.Warn("task rejected: unsafe construct", "security", true, "task_id", res.ID, "err", err)
		} else {
			a.logger.Info("task failed", "task_id", res.ID, "stage", stage, "kind", kind, "err", err)
		}
	} else {
		a.logger.Info("task completed", "task_id", res.ID, "calls", len(res.Calls), "duration", res.Duration)
	}
	a.observer.TaskFinished(outcome, res.Duration)

	if a.store != nil {
		if serr := a.store.SaveTaskRun(ctx, rec); serr != nil {
			a.logger.Error("failed to persist task run", "task_id", res.ID, "err", serr)
		}
	}

	return res, err
}
