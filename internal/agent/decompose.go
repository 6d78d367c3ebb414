package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"scriptagent/internal/domain"
)

const (
	taskListStart = "##"
	taskListEnd   = "__"
)

var taskPrefix = regexp.MustCompile(`^(?i:task\s*\d+\s*[:.)-])\s*|^(?:\d+[.)]|[-*•])\s+`)

// DecomposePrompt asks the model to split paragraph into a task list
// framed by "##" and "__".
func DecomposePrompt(paragraph string) string {
	return fmt.Sprintf(`Decompose the following task, which is a paragraph, into a list of clear, concise tasks so that they can be fed to a list for further processing.
Mark the start of the task listing with '%s' and the end of the task listing with '%s'.
Ensure no extra text is generated outside of this structure.
Paragraph: %q
Tasks:
%s
Task 1: Perform the first task here.
Task 2: Perform the second task here.
%s`, taskListStart, taskListEnd, strings.TrimSpace(paragraph), taskListStart, taskListEnd)
}

// ParseTaskList extracts the tasks between the first "##" and the "__"
// that follows it, one per non-empty line, with "Task N:" and list
// markers removed. Without the frame every line is considered.
func ParseTaskList(resp string) []string {
	body := resp
	if start := strings.Index(resp, taskListStart); start != -1 {
		body = resp[start+len(taskListStart):]
		if end := strings.Index(body, taskListEnd); end != -1 {
			body = body[:end]
		}
	}

	var tasks []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "#"))
		line = strings.TrimSpace(taskPrefix.ReplaceAllString(line, ""))
		if line != "" {
			tasks = append(tasks, line)
		}
	}
	return tasks
}

// Decompose splits paragraph into tasks with one model call.
func (a *Agent) Decompose(ctx context.Context, paragraph string) ([]string, error) {
	if a.provider == nil {
		return nil, domain.NewStageError(domain.StageModel, domain.ErrModelCall, ErrNoProvider, "")
	}
	resp, err := a.chat(ctx, []domain.Message{{Role: "user", Content: DecomposePrompt(paragraph)}})
	if err != nil {
		return nil, err
	}
	tasks := ParseTaskList(NormalizeResponse(resp))
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	a.logger.Info("paragraph decomposed", "tasks", len(tasks))
	return tasks, nil
}

// BatchItem is the result of one task of a batch.
type BatchItem struct {
	Task   string `json:"task"`
	Result string `json:"result"`
}

// RunBatch decomposes paragraph and runs each task in order. A failing
// task does not stop the batch; its Result is the uniform error string.
func (a *Agent) RunBatch(ctx context.Context, paragraph string) ([]BatchItem, error) {
	tasks, err := a.Decompose(ctx, paragraph)
	if err != nil {
		return nil, err
	}
	items := make([]BatchItem, 0, len(tasks))
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		items = append(items, BatchItem{Task: task, Result: a.Run(ctx, task)})
	}
	return items, nil
}
