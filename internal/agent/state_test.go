package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptagent/internal/domain"
	"scriptagent/internal/tool"
)

func TestState_SetGetKeys(t *testing.T) {
	s := NewState()
	s.Set("b", 2)
	s.Set("a", "one")

	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "one", v)

	_, ok = s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, s.Keys())
}

func TestState_SnapshotIsIndependent(t *testing.T) {
	s := NewState()
	s.Set("k", 1)

	snap := s.Snapshot()
	s.Set("k", 2)
	s.Set("new", true)

	assert.Equal(t, map[string]any{"k": 1}, snap)

	s.Restore(snap)
	assert.Equal(t, []string{"k"}, s.Keys())
	v, _ := s.Get("k")
	assert.Equal(t, 1, v)
}

func TestState_MarshalJSON(t *testing.T) {
	s := NewState()
	s.Set("last_calculate_result", 4)
	s.Set("notes", []tool.Note{{Content: "hello", Label: "greeting"}})

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_calculate_result":4,"notes":[{"content":"hello","label":"greeting"}]}`, string(data))
}

func TestMergeResults(t *testing.T) {
	s := NewState()
	calc := tool.NewCalculator()
	notes := tool.NewNoteTaker(s, 0, 0)
	plain := &funcTool{name: "plain", fn: func(context.Context, map[string]any) (any, error) { return nil, nil }}

	MergeResults(s, []domain.Tool{calc, notes, plain})
	assert.Empty(t, s.Keys(), "tools without a result add nothing")

	_, err := calc.Execute(context.Background(), map[string]any{"expression": "2+2"})
	require.NoError(t, err)
	MergeResults(s, []domain.Tool{calc, notes, plain})

	v, ok := s.Get("last_calculate_result")
	require.True(t, ok)
	assert.EqualValues(t, 4, v)
	_, ok = s.Get("last_plain_result")
	assert.False(t, ok)

	_, err = calc.Execute(context.Background(), map[string]any{"expression": "3*3"})
	require.NoError(t, err)
	MergeResults(s, []domain.Tool{calc})
	v, _ = s.Get(ResultKey("calculate"))
	assert.EqualValues(t, 9, v, "merge overwrites")
}
