package agent

import (
	"fmt"
	"strings"

	"scriptagent/internal/domain"
)

const defaultRole = "Task Agent"

// PromptBuilder renders the system prompt that advertises the tools and
// the output contract the extractor relies on.
type PromptBuilder struct {
	role  string
	tools []domain.Tool
}

func NewPromptBuilder(role string, tools []domain.Tool) *PromptBuilder {
	if strings.TrimSpace(role) == "" {
		role = defaultRole
	}
	return &PromptBuilder{role: role, tools: tools}
}

// Signature renders a tool call shape, e.g. "save_note(content, label?)".
func Signature(t domain.Tool) string {
	params := t.Params()
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
		if !p.Required {
			names[i] += "?"
		}
	}
	return t.Name() + "(" + strings.Join(names, ", ") + ")"
}

func (p *PromptBuilder) SystemPrompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.\n", p.role)
	sb.WriteString("Available tools:\n")
	for _, t := range p.tools {
		fmt.Fprintf(&sb, "- %s: %s\n", Signature(t), t.Description())
	}

	sb.WriteString(`
RULES:
1. Output ONLY tool calls, one per line.
2. Your answer MUST start with '` + StartMarker + `' and end with '` + EndMarker + `'.
3. NO explanations or comments.
4. NO markdown formatting.
5. Each line is either tool(args) or name = tool(args).
6. Arguments are double-quoted strings, numbers, true/false, or a name assigned on an earlier line.
7. Never nest calls or use operators outside a quoted expression.`)

	if p.has("calculate") && p.has("save_note") {
		sb.WriteString("\n\nExample:\n" + StartMarker + "\nresult = calculate(\"10 * 5\")\nsave_note(result, \"product\")\n" + EndMarker)
	}
	return sb.String()
}

func (p *PromptBuilder) has(name string) bool {
	for _, t := range p.tools {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// BuildMessages returns the chat messages for one task.
func (p *PromptBuilder) BuildMessages(task string) []domain.Message {
	return []domain.Message{
		{Role: "system", Content: p.SystemPrompt()},
		{Role: "user", Content: "Task: " + strings.TrimSpace(task) + "\nGenerate the tool calls that solve this task using the available tools."},
	}
}
