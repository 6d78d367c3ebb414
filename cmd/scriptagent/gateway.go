package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scriptagent/internal/agent"
	"scriptagent/internal/bus"
	"scriptagent/internal/channel"
	"scriptagent/internal/domain"
	"scriptagent/internal/schedule"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (Telegram + HTTP API + scheduled tasks)",
		Long:  "Starts all enabled channels and scheduled tasks around one shared agent. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
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

	// Message bus (closed during graceful shutdown below)
	messageBus := bus.New(100, logger)
	go agent.NewRunner(a.agent, messageBus, logger).Run(ctx)

	var channels []domain.Channel
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		}))
	} else {
		logger.Info("telegram channel disabled")
	}

	if cfg.Channels.HTTP.Enabled {
		hc := channel.HTTPConfig{
			Host:   cfg.Channels.HTTP.Host,
			Port:   cfg.Channels.HTTP.Port,
			APIKey: cfg.Channels.HTTP.APIKey,
			Tasks:  a.agent,
			Logger: logger,
		}
		if a.store != nil {
			hc.Notes = a.store
		}
		if cfg.Metrics.Enabled {
			hc.Metrics = a.metrics.Handler()
			hc.MetricsPath = cfg.Metrics.Endpoint
		}
		channels = append(channels, channel.NewHTTP(hc))
	} else if cfg.Metrics.Enabled {
		logger.Warn("metrics are served by the http channel, which is disabled")
	}

	sched, err := schedule.FromConfig(cfg.Schedules, a.agent, logger)
	if err != nil {
		return err
	}
	if len(channels) == 0 && len(sched.Jobs()) == 0 {
		return errors.New("nothing to run: enable channels.telegram, channels.http or a schedule")
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	var wg conc.WaitGroup
	for _, ch := range channels {
		wg.Go(func() {
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel stopped with error", "channel", ch.Name(), "err", err)
			}
		})
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("gateway started. Press Ctrl+C to stop.")

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler did not stop cleanly", "err", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
			}
		}
		wg.Wait()
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
}
