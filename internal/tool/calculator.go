package tool

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/expr-lang/expr"

	"scriptagent/internal/domain"
)

// Calculator evaluates arithmetic expressions. Expressions are compiled
// without an environment, so only literals and operators resolve.
type Calculator struct {
	mu      sync.Mutex
	last    any
	hasLast bool
}

var (
	_ domain.Tool           = (*Calculator)(nil)
	_ domain.ResultRecorder = (*Calculator)(nil)
	_ domain.Checkpointer   = (*Calculator)(nil)
)

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string        { return "calculate" }
func (c *Calculator) Description() string { return "Performs mathematical calculations" }

func (c *Calculator) Params() []domain.Param {
	return []domain.Param{
		{Name: "expression", Type: "string", Description: `Arithmetic expression, e.g. "2 + 2"`, Required: true},
	}
}

func (c *Calculator) Execute(ctx context.Context, args map[string]any) (any, error) {
	expression := strings.TrimSpace(ArgString(args, "expression"))
	if expression == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCalculation)
	}

	program, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalculation, err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalculation, err)
	}
	switch v := out.(type) {
	case int, int64:
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: %q is not a finite number", ErrInvalidCalculation, expression)
		}
	default:
		return nil, fmt.Errorf("%w: %q is not numeric (got %T)", ErrInvalidCalculation, expression, out)
	}

	c.mu.Lock()
	c.last, c.hasLast = out, true
	c.mu.Unlock()
	return out, nil
}

func (c *Calculator) LastResult() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

func (c *Calculator) Checkpoint() func() {
	c.mu.Lock()
	last, hasLast := c.last, c.hasLast
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.last, c.hasLast = last, hasLast
		c.mu.Unlock()
	}
}
