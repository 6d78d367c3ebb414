package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChatCommand is a slash command sent through a channel.
type ChatCommand struct {
	Name string // command name without "/"
	Arg  string // everything after the command name, trimmed
}

// ParseCommand parses text starting with "/" into a ChatCommand. It
// returns nil for anything else.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return nil
	}
	name, arg, _ := strings.Cut(text[1:], " ")
	if name == "" {
		return nil
	}
	return &ChatCommand{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}
}

// handleCommand answers a slash command. ok is false for unknown commands.
func (r *Runner) handleCommand(ctx context.Context, cmd *ChatCommand) (reply string, ok bool) {
	switch cmd.Name {
	case "help", "start":
		return helpText(), true

	case "state":
		data, err := json.MarshalIndent(r.agent.State(), "", "  ")
		if err != nil {
			return ErrorPrefix + err.Error(), true
		}
		return string(data), true

	case "tools":
		var sb strings.Builder
		for _, t := range r.agent.Tools() {
			fmt.Fprintf(&sb, "%s: %s\n", Signature(t), t.Description())
		}
		return strings.TrimSpace(sb.String()), true

	case "exec":
		if cmd.Arg == "" {
			return "Usage: /exec <raw model response>", true
		}
		res, err := r.agent.Process(ctx, cmd.Arg)
		return Output(res, err), true

	case "batch":
		if cmd.Arg == "" {
			return "Usage: /batch <paragraph>", true
		}
		items, err := r.agent.RunBatch(ctx, cmd.Arg)
		if err != nil {
			return ErrorPrefix + err.Error(), true
		}
		var sb strings.Builder
		for i, it := range items {
			fmt.Fprintf(&sb, "%d. %s\n%s\n\n", i+1, it.Task, it.Result)
		}
		return strings.TrimSpace(sb.String()), true

	case "uptime":
		return fmt.Sprintf("Uptime: %s", time.Since(r.started).Round(time.Second)), true
	}
	return "", false
}

func helpText() string {
	return `Send a task in plain words, e.g. "Calculate 2 + 2 and save the result as a note".

Commands:
/state - show the shared state
/tools - list available tools
/exec <response> - run a raw model response without calling the model
/batch <paragraph> - split a paragraph into tasks and run each
/uptime - time since start
/help - this message`
}
