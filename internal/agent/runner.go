package agent

import (
	"context"
	"log/slog"
	"time"

	"scriptagent/internal/domain"
)

// Runner consumes task requests from the message bus and replies on the
// channel that sent them. Messages are handled one at a time.
type Runner struct {
	agent   *Agent
	bus     domain.MessageBus
	logger  *slog.Logger
	started time.Time
}

func NewRunner(a *Agent, bus domain.MessageBus, logger *slog.Logger) *Runner {
	return &Runner{agent: a, bus: bus, logger: logger, started: time.Now()}
}

// Run blocks until ctx is done or the bus is closed.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("task runner started")
	inbound := r.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("task runner stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Info("inbound channel closed, task runner stopping")
				return
			}
			r.handle(ctx, msg)
		}
	}
}

// Handle processes one message synchronously and returns the reply. Used
// by callers that need a blocking answer.
func (r *Runner) Handle(ctx context.Context, content string) string {
	if cmd := ParseCommand(content); cmd != nil {
		if reply, ok := r.handleCommand(ctx, cmd); ok {
			return reply
		}
		return "Unknown command /" + cmd.Name + ". Try /help."
	}
	return r.agent.Run(ctx, content)
}

func (r *Runner) handle(ctx context.Context, msg domain.InboundMessage) {
	r.logger.Info("processing task",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	reply := r.Handle(ctx, msg.Content)

	if err := r.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		Format:  "text",
	}); err != nil {
		r.logger.Error("reply not delivered", "channel", msg.Channel, "err", err)
	}
}
