package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wardn/wardn/adapters/audio"
	"github.com/wardn/wardn/adapters/backend"
	"github.com/wardn/wardn/internal/config"
	"github.com/wardn/wardn/internal/logging"
	"github.com/wardn/wardn/internal/push"
	"github.com/wardn/wardn/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("configuration error", zap.Error(err))
	}
	if cfg.Push.URL == "" {
		zap.NewExample().Fatal("WARDN_PUSH_URL is required for the guardian console")
	}

	logger := logging.New(cfg.Paths.LogPath, os.Getenv("WARDN_DEBUG") == "true")
	defer logger.Sync()

	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create backend client", zap.Error(err))
	}

	clk := clock.New()
	listener := push.NewListener(push.Config{
		URL:   cfg.Push.URL,
		Token: cfg.API.Token,
	}, clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("push listener stopped", zap.Error(err))
		}
	}()

	logger.Info("guardian console started, waiting for alerts")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// One tracking session at a time; a newer alert replaces the current
	// screen the way the phone app would.
	var session *tracking.Controller
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	for {
		select {
		case <-quit:
			logger.Info("guardian console is shutting down...")
			return
		case notification, ok := <-listener.Notifications():
			if !ok {
				return
			}
			logger.Info("alert received",
				zap.String("type", notification.Type),
				zap.Int64("alertID", notification.AlertID))

			if session != nil {
				session.Close()
			}
			session = openSession(ctx, cfg, client, clk, notification, logger)
		}
	}
}

func openSession(
	ctx context.Context,
	cfg config.Config,
	client *backend.Client,
	clk clock.Clock,
	notification push.Notification,
	logger *zap.Logger,
) *tracking.Controller {
	player := audio.NewPlayback(&audio.CommandSink{}, clk, logger)
	session := tracking.NewController(tracking.Config{
		PollInterval: cfg.Tracking.PollInterval,
	}, client, player, clk, logger)

	record, err := session.Load(ctx, notification.AlertID, notification.Seed)
	if err != nil {
		logger.Error("could not load alert, keeping notification data only",
			zap.Int64("alertID", notification.AlertID), zap.Error(err))
		session.Close()
		return nil
	}

	if record.TriggerLocation != nil {
		logger.Info("trigger location",
			zap.Float64("lat", record.TriggerLocation.Latitude),
			zap.Float64("lng", record.TriggerLocation.Longitude))
	}
	if record.HasVoiceMessage() {
		if err := session.Play(ctx); err != nil {
			logger.Warn("voice message playback failed", zap.Error(err))
		}
	}

	go func() {
		for position := range session.Updates() {
			logger.Info("dependent position",
				zap.Float64("lat", position.Latitude),
				zap.Float64("lng", position.Longitude),
				zap.Time("updatedAt", position.UpdatedAt))
		}
	}()
	return session
}
