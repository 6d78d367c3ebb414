package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"scriptagent/internal/domain"
)

// CLI implements domain.Channel for an interactive terminal session. Each
// line is one task; the prompt returns once the reply arrives.
type CLI struct {
	bus       domain.MessageBus
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	spinner   bool
	replies   chan struct{}
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
	outMu     sync.Mutex
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	// Spinner shows a progress indicator while a task runs.
	Spinner bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
		replies: make(chan struct{}, 1),
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the read loop and blocks until EOF, /quit or ctx is done.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound(c.Name(), func(msg domain.OutboundMessage) {
		c.stopThinking()
		c.print(msg.Content + "\n")
		select {
		case c.replies <- struct{}{}:
		default:
		}
	})

	c.print("Task agent. Type a task and press Enter, /help for commands, /quit to exit.\n")

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		c.print("task> ")
		if ctx.Err() != nil {
			return nil
		}
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startThinking()
		if err := c.bus.Publish(ctx, domain.InboundMessage{
			Channel:  c.Name(),
			ChatID:   "direct",
			SenderID: "user",
			Content:  line,
		}); err != nil {
			c.stopThinking()
			c.print("could not submit task: " + err.Error() + "\n")
			continue
		}

		select {
		case <-c.replies:
		case <-ctx.Done():
			c.stopThinking()
			return nil
		}
	}
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				c.print("\r\033[K")
				return
			case <-ticker.C:
				c.print(fmt.Sprintf("\r%s Working...", frames[i%len(frames)]))
			}
		}
	}(c.thinkStop, c.thinkDone)
}

// stopThinking stops the spinner and waits until its line is cleared.
func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	if !c.thinking {
		c.thinkMu.Unlock()
		return
	}
	c.thinking = false
	close(c.thinkStop)
	done := c.thinkDone
	c.thinkMu.Unlock()
	<-done
}

// Stop is a no-op; the CLI exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.print(content + "\n")
	return nil
}
