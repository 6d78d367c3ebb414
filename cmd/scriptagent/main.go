package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"scriptagent/internal/agent"
	"scriptagent/internal/bus"
	"scriptagent/internal/channel"
	"scriptagent/internal/config"
	"scriptagent/internal/provider"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	logCloser  = func() error { return nil }
	configPath string // overridable via --config flag
)

// errTaskFailed makes the process exit non-zero after a failed task; the
// uniform error text has already been printed.
var errTaskFailed = errors.New("task failed")

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "scriptagent",
		Short:        "Run tasks through a model that answers with tool-call scripts",
		Long:         "scriptagent asks a model for a short script of tool calls, checks it against allow/deny rules, runs it against a fixed set of tools and keeps the results in shared state.",
		Version:      version,
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logCloser()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.scriptagent/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(execCmd())
	root.AddCommand(batchCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(notesCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and switches the logger to its
// settings. When strict is false a missing or invalid file falls back to
// the defaults.
func loadConfig(strict bool) (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if strict {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not loaded, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		config.Resolve(cfg)
	}

	l, closer, err := setupLogger(cfg.General, os.Stderr)
	if err != nil {
		return nil, err
	}
	logger, logCloser = l, closer
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "data_dir", dataDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task through the model and print the resulting state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, requireProvider)
			if err != nil {
				return err
			}
			defer a.Close()

			out := a.agent.Run(ctx, strings.Join(args, " "))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			if strings.HasPrefix(out, agent.ErrorPrefix) {
				return errTaskFailed
			}
			return nil
		},
	}
}

func execCmd() *cobra.Command {
	var response string
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Process a raw model response without calling a model",
		Long:  "Reads a raw model response from --response or stdin, extracts the script between \"Answer:\" and \"###\", checks it and runs it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			if response == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				response = string(data)
			}

			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx, cfg, noProvider)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.agent.Process(ctx, response)
			fmt.Fprintln(cmd.OutOrStdout(), agent.Output(res, err))
			if err != nil {
				return errTaskFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&response, "response", "r", "", "raw model response (default: read stdin)")
	return cmd
}

func batchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <paragraph>",
		Short: "Split a paragraph into tasks and run them in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, requireProvider)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.agent.RunBatch(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for i, it := range items {
				fmt.Fprintf(out, "%d. %s\n%s\n\n", i+1, it.Task, it.Result)
				if strings.HasPrefix(it.Result, agent.ErrorPrefix) {
					failed++
				}
			}
			fmt.Fprintf(out, "%d tasks, %d failed\n", len(items), failed)
			fmt.Fprintln(out, jsonString(a.agent.State()))
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var spinner bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session: one task per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, optionalProvider)
			if err != nil {
				return err
			}
			defer a.Close()

			messageBus := bus.New(100, logger)
			defer messageBus.Close()
			go agent.NewRunner(a.agent, messageBus, logger).Run(ctx)

			cli := channel.NewCLI(channel.CLIConfig{Logger: logger, Spinner: spinner})
			return cli.Start(ctx, messageBus)
		},
	}
	cmd.Flags().BoolVar(&spinner, "spinner", true, "show a progress indicator while a task runs")
	return cmd
}

func notesCmd() *cobra.Command {
	var label string
	var limit int
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List saved notes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore()
			if err != nil {
				return err
			}
			defer a.Close()

			notes, err := a.store.ListNotes(cmd.Context(), label, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSAVED\tLABEL\tTASK\tCONTENT")
			for _, n := range notes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", n.ID, n.CreatedAt.Format("2006-01-02 15:04"), n.Label, shortID(n.TaskID), jsonString(n.Content))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "only notes with this label")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of notes")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent task runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore()
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.store.ListTaskRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tKIND\tDURATION\tTASK")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", shortID(r.ID), r.CreatedAt.Format("2006-01-02 15:04:05"),
					r.Status, r.ErrorKind, r.Duration.Round(time.Millisecond), truncate(r.Task, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	return cmd
}

// openStore wires an app for the read-only store commands.
func openStore() (*app, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	if !cfg.Memory.Enabled {
		return nil, errors.New("memory is disabled (set memory.enabled to true)")
	}
	return newApp(context.Background(), cfg, noProvider)
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the enabled tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			a, err := newApp(context.Background(), cfg, noProvider)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range a.agent.Tools() {
				fmt.Fprintf(w, "%s\t%s\n", agent.Signature(t), t.Description())
			}
			return w.Flush()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig(true)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
				config.Resolve(cfg)
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx := cmd.Context()
			prov := provider.NewFactory(cfg, logger).HealthyProvider(ctx)
			if prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}

			if !cfg.Memory.Enabled {
				logger.Info("memory", "enabled", false)
				return nil
			}
			a, err := newApp(ctx, cfg, noProvider)
			if err != nil {
				return err
			}
			defer a.Close()
			runs, err := a.store.ListTaskRuns(ctx, 1)
			if err != nil {
				return err
			}
			audit, err := a.store.CountAudit(ctx)
			if err != nil {
				return err
			}
			attrs := []any{"db", cfg.Memory.DBPath, "audit", audit}
			if len(runs) > 0 {
				attrs = append(attrs, "last_run", runs[0].CreatedAt, "last_status", runs[0].Status)
			}
			logger.Info("memory", attrs...)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. agent.transaction)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. agent.transaction atomic)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
