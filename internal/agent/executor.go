package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scriptagent/internal/domain"
	"scriptagent/internal/script"
	"scriptagent/internal/tool"
)

const (
	defaultToolTimeout = 30 * time.Second
	defaultMaxCalls    = 32
)

// CallRecord is the outcome of one statement.
type CallRecord struct {
	Line     int            `json:"line"`
	Tool     string         `json:"tool"`
	Target   string         `json:"target,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Value    any            `json:"value,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// ExecResult collects every call that ran and the locals it left behind.
type ExecResult struct {
	Calls  []CallRecord
	Locals map[string]any
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Registry    *tool.Registry
	ToolTimeout time.Duration
	MaxCalls    int
	Observer    Observer
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// Executor runs parsed scripts against the tool registry. The only names a
// script can reach are registered tools and locals assigned by earlier
// statements of the same script.
type Executor struct {
	registry *tool.Registry
	timeout  time.Duration
	maxCalls int
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = defaultMaxCalls
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Executor{
		registry: cfg.Registry,
		timeout:  cfg.ToolTimeout,
		maxCalls: cfg.MaxCalls,
		observer: cfg.Observer,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
	}
}

// Execute parses candidate and runs its statements in order. It stops at
// the first failing statement; effects of statements that already ran are
// kept. Every failure is an ExecutionFailure stage error.
func (e *Executor) Execute(ctx context.Context, candidate string) (*ExecResult, error) {
	res := &ExecResult{Locals: make(map[string]any)}

	prog, err := script.Parse(candidate)
	if err != nil {
		return res, failure(err, "parse")
	}
	if n := len(prog.Statements); n > e.maxCalls {
		return res, failure(ErrTooManyCalls, "%d statements, limit %d", n, e.maxCalls)
	}

	for _, st := range prog.Statements {
		rec, err := e.statement(ctx, st, res.Locals)
		if rec != nil {
			res.Calls = append(res.Calls, *rec)
		}
		if err != nil {
			return res, failure(err, "line %d: %s", st.Line, st.Tool)
		}
		if st.Target != "" {
			res.Locals[st.Target] = rec.Value
		}
	}
	return res, nil
}

func failure(cause error, detail string, args ...any) error {
	return domain.NewStageError(domain.StageExecute, domain.ErrExecutionFailure, cause, detail, args...)
}

// statement resolves and runs one call. The returned record is nil when
// the call never started.
func (e *Executor) statement(ctx context.Context, st script.Statement, locals map[string]any) (*CallRecord, error) {
	if e.registry.Get(st.Tool) == nil {
		return nil, fmt.Errorf("%w: %s", tool.ErrToolNotFound, st.Tool)
	}

	positional := make([]any, len(st.Args))
	for i, a := range st.Args {
		v, err := resolve(a, locals)
		if err != nil {
			return nil, err
		}
		positional[i] = v
	}
	var named map[string]any
	if len(st.Keywords) > 0 {
		named = make(map[string]any, len(st.Keywords))
		for _, k := range st.Keywords {
			v, err := resolve(k.Arg, locals)
			if err != nil {
				return nil, err
			}
			named[k.Name] = v
		}
	}

	args, err := e.registry.Bind(st.Tool, positional, named)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "tool."+st.Tool, trace.WithAttributes(
		attribute.String("tool.name", st.Tool),
		attribute.Int("script.line", st.Line),
	))
	defer span.End()

	start := time.Now()
	value, err := e.invoke(ctx, st.Tool, args)
	rec := &CallRecord{
		Line:     st.Line,
		Tool:     st.Tool,
		Target:   st.Target,
		Args:     args,
		Value:    value,
		Duration: time.Since(start),
	}

	outcome := "ok"
	if err != nil {
		rec.Error = err.Error()
		outcome = "error"
		if errors.Is(err, domain.ErrTimeout) {
			outcome = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.observer.ToolCalled(st.Tool, outcome, rec.Duration)
	e.logger.Debug("tool call", "tool", st.Tool, "line", st.Line, "outcome", outcome, "duration", rec.Duration)
	return rec, err
}

func resolve(a script.Arg, locals map[string]any) (any, error) {
	if !a.IsRef() {
		return a.Value, nil
	}
	v, ok := locals[a.Ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndefinedName, a.Ref)
	}
	return v, nil
}

// invoke runs one tool call with a bounded wait. A tool that ignores
// cancellation keeps running in its goroutine after the timeout fires,
// and whatever it does from then on is not covered by any rollback: an
// atomic task restores tool bookkeeping when it returns, but a late write
// by the abandoned goroutine lands afterwards and shows up in the next
// task's merge. Tools must honour ctx to stay inside the transaction.
func (e *Executor) invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		var pc panics.Catcher
		pc.Try(func() {
			o.value, o.err = e.registry.Execute(callCtx, name, args)
		})
		if r := pc.Recovered(); r != nil {
			o.value, o.err = nil, fmt.Errorf("%w: %v", ErrToolPanic, r.Value)
		}
		done <- o
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", domain.ErrTimeout, e.timeout, o.err)
		}
		return o.value, o.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", domain.ErrTimeout, e.timeout)
	}
}
