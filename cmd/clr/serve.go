package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vthunder/clr/internal/activity"
	"github.com/vthunder/clr/internal/api"
	"github.com/vthunder/clr/internal/engine"
	"github.com/vthunder/clr/internal/health"
	"github.com/vthunder/clr/internal/logging"
	"github.com/vthunder/clr/internal/policy"
	"github.com/vthunder/clr/internal/settings"
	"github.com/vthunder/clr/internal/stream"
	"github.com/vthunder/clr/internal/timeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inference loop and the HTTP API (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Info("main", "clr %s - cognitive load router", version)

	if err := os.MkdirAll(cfg.StatePath, 0755); err != nil {
		return err
	}

	store, err := timeline.Open(cfg.TimelinePath())
	if err != nil {
		return err
	}
	defer store.Close()
	writer := timeline.NewBatchWriter(store, 1024, 50, time.Second)
	defer func() {
		writer.Close()
		written, dropped, failed := writer.Stats()
		logging.Info("main", "Timeline: %d written, %d dropped, %d failed", written, dropped, failed)
	}()

	prefs := settings.NewStore(cfg.SettingsPath())
	if err := prefs.Load(); err != nil {
		logging.Warn("main", "Settings: %v (using defaults)", err)
	}

	rules := policy.New()
	if cfg.PolicyFile != "" {
		if err := rules.LoadFile(cfg.PolicyFile); err != nil {
			return err
		}
	}

	hub := stream.NewHub()
	defer hub.Close()
	journal := activity.New(cfg.StatePath)

	eng := engine.New(engine.Options{
		Interval:         cfg.InferenceInterval,
		WindowSeconds:    cfg.WindowSeconds,
		MaxWindowEvents:  cfg.MaxWindowEvents,
		LowLoadThreshold: cfg.LowLoadThreshold,
		StatePath:        cfg.StatePath,
	}, engine.Deps{
		Settings: prefs,
		Policy:   rules,
		Hub:      hub,
		Recorder: writer,
		Activity: journal,
	})

	sampler, err := health.NewSampler(10 * time.Second)
	if err != nil {
		logging.Warn("main", "Process sampling unavailable: %v", err)
	} else {
		sampler.Start()
		defer sampler.Stop()
	}

	srv := api.NewServer(api.Config{
		Addr:     cfg.Addr(),
		Version:  version,
		Engine:   eng,
		Hub:      hub,
		Timeline: store,
		Activity: journal,
		Sampler:  sampler,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logging.Info("main", "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if rules.Path() != "" {
		g.Go(func() error {
			return rules.Watch(ctx, func(err error) {
				if err != nil {
					return
				}
				if jerr := journal.Record(activity.TypePolicyReload, "engine",
					"Policy rules reloaded from "+rules.Path(), nil); jerr != nil {
					logging.Warn("main", "Failed to record reload: %v", jerr)
				}
			})
		})
	}

	logging.Info("main", "All subsystems started. Press Ctrl+C to stop.")
	err = g.Wait()
	logging.Info("main", "Goodbye!")
	return err
}
