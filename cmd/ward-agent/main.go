package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/wardn/wardn/adapters/audio"
	"github.com/wardn/wardn/adapters/backend"
	"github.com/wardn/wardn/adapters/location"
	"github.com/wardn/wardn/adapters/voicetrigger"
	"github.com/wardn/wardn/internal/config"
	"github.com/wardn/wardn/internal/controlapi"
	"github.com/wardn/wardn/internal/journal"
	"github.com/wardn/wardn/internal/logging"
	"github.com/wardn/wardn/internal/sos"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("configuration error", zap.Error(err))
	}

	logger := logging.New(cfg.Paths.LogPath, os.Getenv("WARDN_DEBUG") == "true")
	defer logger.Sync()

	store, err := journal.Open(cfg.Paths.JournalPath, logger)
	if err != nil {
		logger.Fatal("failed to open submission journal", zap.Error(err))
	}
	defer store.Close()

	// Report intents whose outcome was lost to a crash.
	if unresolved, err := store.Unresolved(context.Background()); err == nil && len(unresolved) > 0 {
		logger.Warn("found unresolved alert submissions from a previous run",
			zap.Int("count", len(unresolved)))
	}

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create backend client", zap.Error(err))
	}

	clk := clock.New()
	provider := location.NewGpsdProvider(cfg.Location.GpsdAddr, logger)
	recorder := audio.NewCapture(&audio.CommandSource{}, cfg.Paths.RecordingDir, clk, logger)

	controller := sos.NewController(sos.Config{
		CountdownSeconds: cfg.SOS.CountdownSeconds,
		MaxRecordSeconds: cfg.SOS.MaxRecordSeconds,
		LocationTimeout:  cfg.SOS.LocationTimeout,
		EventType:        cfg.SOS.EventType,
		AppState:         cfg.SOS.AppState,
	}, client, provider, recorder, store, clk, logger)
	defer controller.Close()

	go drainEvents(controller, logger)

	rootCtx, stopVoice := context.WithCancel(context.Background())
	defer stopVoice()
	if cfg.VoiceTrigger.Enabled {
		detector := voicetrigger.NewDetector(voicetrigger.Config{
			Phrases: cfg.VoiceTrigger.Phrases,
		}, &audio.CommandSource{}, logger)
		go func() {
			if err := detector.Run(rootCtx, controller.ActivateVoiceDetected); err != nil {
				logger.Error("voice trigger stopped", zap.Error(err))
			}
		}()
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	controlapi.InitRoutes(e, controller, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(cfg.Control.Addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the agent", zap.Error(err))
		}
	}()

	logger.Info("ward agent started", zap.String("controlAddr", cfg.Control.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("ward agent is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("control API forced to shutdown", zap.Error(err))
	}
}

// drainEvents turns controller events into log lines. On a device build
// these drive the LED/buzzer feedback instead.
func drainEvents(controller *sos.Controller, logger *zap.Logger) {
	for event := range controller.Events() {
		switch event.Kind {
		case sos.EventConfirmRequired:
			logger.Info("SOS armed, confirm or cancel")
		case sos.EventCountdownTick:
			logger.Info("countdown", zap.Int("remaining", event.Remaining))
		case sos.EventRecordingProgress:
			logger.Info("recording", zap.Int("elapsedSeconds", event.Elapsed))
		case sos.EventSent:
			logger.Info("SOS sent", zap.Int64("alertID", event.AlertID))
		case sos.EventCancelled:
			logger.Info("SOS cancelled")
		case sos.EventFailed:
			logger.Warn("SOS failed, re-trigger to retry", zap.Error(event.Err))
		}
	}
}
