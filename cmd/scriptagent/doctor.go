package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"scriptagent/internal/config"
	"scriptagent/internal/memory"
	"scriptagent/internal/provider"
	"scriptagent/internal/schedule"
	"scriptagent/internal/security"
	"scriptagent/internal/tool"

	"github.com/spf13/cobra"
)

// report counts check outcomes and prints one line per check.
type report struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-22s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-22s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-22s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	var skipNetwork bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, providers, tools, gate patterns,
schedules and database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scriptagent doctor v%s\n\n", version)

			r := &report{out: out}
			cfg := checkConfig(r, resolveConfigPath())
			if cfg == nil {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			checkTools(r, cfg)
			checkGate(r, cfg)
			checkSchedules(r, cfg)
			checkMemory(r, cfg)
			if !skipNetwork {
				checkProviders(cmd.Context(), r, cfg)
			}
			checkHTTPPort(r, cfg)
			checkLogFile(r, cfg)

			fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipNetwork, "offline", false, "skip provider health checks")
	return cmd
}

func checkConfig(r *report, cfgPath string) *config.Config {
	if _, err := os.Stat(cfgPath); err != nil {
		r.fail("Config file", fmt.Sprintf("not found at %s (run 'scriptagent init')", cfgPath))
		return nil
	}
	r.pass("Config file", cfgPath)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		r.fail("Config validation", err.Error())
		return nil
	}
	r.pass("Config validation", "valid")
	return cfg
}

func checkTools(r *report, cfg *config.Config) {
	reg := tool.NewRegistry(logger)
	tools, err := tool.RegisterManifest(reg, cfg.Tools.Enabled, tool.Deps{State: noopState{}})
	switch {
	case err != nil:
		r.fail("Tools", err.Error())
	case len(tools) == 0:
		r.warn("Tools", "no tools enabled; every task will fail")
	default:
		r.pass("Tools", fmt.Sprintf("%v", reg.Names()))
	}
}

type noopState struct{}

func (noopState) Set(string, any) {}

func checkGate(r *report, cfg *config.Config) {
	if _, err := security.CompilePatterns(cfg.Security.AllowPatterns); err != nil {
		r.fail("Allow patterns", err.Error())
	}
	deny, err := security.CompilePatterns(cfg.Security.DenyPatterns)
	if err != nil {
		r.fail("Deny patterns", err.Error())
		return
	}
	if len(deny) == 0 {
		r.warn("Deny patterns", "empty; only the grammar restricts candidates")
		return
	}
	r.pass("Gate patterns", fmt.Sprintf("%d allow, %d deny", len(cfg.Security.AllowPatterns), len(deny)))
}

func checkSchedules(r *report, cfg *config.Config) {
	for _, sc := range cfg.Schedules {
		if !sc.Enabled {
			continue
		}
		if err := schedule.ValidateSpec(sc.Spec); err != nil {
			r.fail("Schedule: "+sc.Name, err.Error())
			continue
		}
		r.pass("Schedule: "+sc.Name, sc.Spec)
	}
}

func checkMemory(r *report, cfg *config.Config) {
	if !cfg.Memory.Enabled {
		r.warn("Database", "memory disabled; task runs and notes are not persisted")
		return
	}
	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		r.fail("Database", err.Error())
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.ListTaskRuns(ctx, 1); err != nil {
		r.fail("Database", fmt.Sprintf("not readable: %v", err))
		return
	}
	r.pass("Database", cfg.Memory.DBPath)
}

func checkProviders(ctx context.Context, r *report, cfg *config.Config) {
	factory := provider.NewFactory(cfg, logger)
	count := 0
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		count++
		p, err := factory.Get(name)
		if err != nil {
			r.fail("Provider: "+name, err.Error())
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = p.Healthy(hctx)
		cancel()
		if err != nil {
			r.warn("Provider: "+name, fmt.Sprintf("unhealthy: %v", err))
			continue
		}
		r.pass("Provider: "+name, "healthy")
	}
	if count == 0 {
		r.fail("Providers", "no providers enabled")
	}
}

func checkHTTPPort(r *report, cfg *config.Config) {
	if !cfg.Channels.HTTP.Enabled {
		return
	}
	addr := net.JoinHostPort(cfg.Channels.HTTP.Host, strconv.Itoa(cfg.Channels.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.warn("HTTP port", fmt.Sprintf("%s may be in use: %v", addr, err))
		return
	}
	ln.Close()
	r.pass("HTTP port", addr+" available")
}

func checkLogFile(r *report, cfg *config.Config) {
	if cfg.General.LogFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
		r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		return
	}
	r.pass("Log file", cfg.General.LogFile)
}
