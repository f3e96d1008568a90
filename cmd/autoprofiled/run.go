package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/journal"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"codeberg.org/mutker/autoprofiled/internal/notify"
	"codeberg.org/mutker/autoprofiled/internal/pid"
	"codeberg.org/mutker/autoprofiled/internal/ppd"
	"codeberg.org/mutker/autoprofiled/internal/procwatch"
	"codeberg.org/mutker/autoprofiled/internal/session"
	"codeberg.org/mutker/autoprofiled/internal/upower"
	"github.com/spf13/cobra"
)

func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon (default)",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if err := pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	cfg := store.Config()

	rec, err := journal.NewService(journal.Config{
		DBPath:       cfg.Journal.Path,
		BatchSize:    cfg.Journal.BatchSize,
		BatchTimeout: cfg.Journal.BatchTimeout,
		Enabled:      cfg.Journal.Enabled,
	})
	if err != nil {
		return err
	}

	src, closePower := newPowerSource(ctx, cfg)
	defer closePower()

	controller := ppd.New()
	defer controller.Close()

	notifier := notify.New()
	defer notifier.Close()

	thresholds := upower.NewConf(upower.DefaultConfPath)
	go func() {
		if err := thresholds.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("Not following UPower configuration changes")
		}
	}()

	watcher := procwatch.New(procwatch.WithInterval(time.Duration(cfg.Procwatch.Interval) * time.Second))
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn().Err(err).Msg("Process watcher stopped")
		}
	}()

	go func() {
		if err := store.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("Not following configuration changes")
		}
	}()

	s, err := session.New(session.Deps{
		Power:      src,
		Controller: controller,
		Config:     store,
		Windows:    watcher,
		Thresholds: thresholds,
		Notifier:   notifier,
		Journal:    rec,
	})
	if err != nil {
		rec.Close()
		return err
	}

	logger.Info().
		Str("config", store.ConfigFile()).
		Str("power_source", string(cfg.PowerSource)).
		Bool("journal", cfg.Journal.Enabled).
		Msg("Starting autoprofiled")

	// Run stops the session, which restores the balanced profile and closes
	// the journal, before returning.
	if err := s.Run(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Exiting...")
	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
