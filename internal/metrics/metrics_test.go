package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptagent/internal/domain"
)

func TestCollector_Counts(t *testing.T) {
	c := New()

	c.TaskFinished("ok", 20*time.Millisecond)
	c.TaskFinished("ok", 30*time.Millisecond)
	c.TaskFinished("unsafe_construct", time.Millisecond)
	c.StageFailed(domain.StageValidate, "unsafe_construct")
	c.ToolCalled("calculate", "ok", time.Millisecond)
	c.ToolCalled("sleepy", "timeout", time.Second)
	c.ModelCalled("huggingface", "ok", 800*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasks.WithLabelValues("unsafe_construct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageErrors.WithLabelValues("validate", "unsafe_construct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCalls.WithLabelValues("sleepy", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.modelCalls.WithLabelValues("huggingface", "ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.toolDuration))
}

func TestCollector_Lint(t *testing.T) {
	c := New()
	c.TaskFinished("ok", time.Millisecond)

	problems, err := testutil.GatherAndLint(c.Registry())
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.TaskFinished("ok", time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	assert.True(t, strings.Contains(text, `scriptagent_tasks_total{outcome="ok"} 1`), text)
	assert.Contains(t, text, "scriptagent_uptime_seconds")
	assert.Contains(t, text, "go_goroutines")
}
