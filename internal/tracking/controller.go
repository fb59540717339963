// Package tracking owns the guardian-side view of one received alert: the
// record fetch, the bounded live-position polling loop and playback of the
// attached voice message.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wardn/wardn/domain/entities"
	"github.com/wardn/wardn/domain/repositories"
	"github.com/wardn/wardn/internal/sched"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateLoadFailed State = "load_failed"
)

// Config tunes the tracking controller.
type Config struct {
	// PollInterval is the fixed live-position refresh period, default 5s.
	PollInterval time.Duration
	// FailureWarnEvery raises a poll-failure log from Debug to Warn once
	// this many consecutive polls have failed, default 6. Failures are never
	// surfaced to the guardian; the loop keeps retrying.
	FailureWarnEvery int
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.FailureWarnEvery == 0 {
		c.FailureWarnEvery = 6
	}
}

// Controller drives one alert screen's tracking session. Instances are not
// shared; each owns its own state, timers and playback engine.
type Controller struct {
	cfg    Config
	alerts repositories.AlertService
	player repositories.Player
	timers *sched.Registry
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pollWG sync.WaitGroup

	mu           sync.Mutex
	state        State
	record       *entities.AlertRecord
	position     *entities.LivePosition
	pollFailures int
	acknowledged bool
	voiceLoaded  bool
	closed       bool

	updates chan entities.LivePosition
}

// NewController creates a tracking controller for a single alert screen.
func NewController(
	cfg Config,
	alerts repositories.AlertService,
	player repositories.Player,
	clk clock.Clock,
	logger *zap.Logger,
) *Controller {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:     cfg,
		alerts:  alerts,
		player:  player,
		timers:  sched.NewRegistry(clk),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateLoading,
		updates: make(chan entities.LivePosition, 16),
	}
}

// Load fetches the alert record and, when the dependent is known, starts the
// polling loop. The seed record from a notification payload fills in display
// fields the fetch left empty; it never overrides fetched data.
func (c *Controller) Load(ctx context.Context, alertID int64, seed *entities.AlertRecord) (*entities.AlertRecord, error) {
	c.mu.Lock()
	if c.state != StateLoading || c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("controller already loaded")
	}
	c.mu.Unlock()

	record, err := c.alerts.GetAlertByID(ctx, alertID)
	if err != nil {
		c.mu.Lock()
		c.state = StateLoadFailed
		c.mu.Unlock()
		c.logger.Error("alert fetch failed", zap.Int64("alertID", alertID), zap.Error(err))
		return nil, err
	}
	mergeSeed(record, seed)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return record, nil
	}
	c.state = StateReady
	c.record = record
	dependentID := record.DependentUserID
	c.mu.Unlock()

	c.logger.Info("alert loaded",
		zap.Int64("alertID", record.ID),
		zap.Int64("dependentID", dependentID),
		zap.String("trigger", string(record.TriggerKind)),
		zap.Bool("voice", record.HasVoiceMessage()))

	if dependentID != 0 {
		ticker, handle := c.timers.Ticker(c.cfg.PollInterval)
		c.pollWG.Add(1)
		go c.runPolling(ticker, handle, dependentID)
	}
	return record, nil
}

func mergeSeed(record, seed *entities.AlertRecord) {
	if seed == nil {
		return
	}
	if record.DependentName == "" {
		record.DependentName = seed.DependentName
	}
	if record.DependentAvatarURL == "" {
		record.DependentAvatarURL = seed.DependentAvatarURL
	}
	if record.DependentUserID == 0 {
		record.DependentUserID = seed.DependentUserID
	}
}

// runPolling fires an immediate poll, then repeats on the fixed interval
// until teardown. Polling never transitions the controller back to Loading.
// Close waits on pollWG, so the goroutine must exit promptly once the
// handle signals Done.
func (c *Controller) runPolling(ticker *clock.Ticker, handle *sched.Handle, dependentID int64) {
	defer c.pollWG.Done()
	c.pollOnce(dependentID)
	for {
		select {
		case <-handle.Done():
			return
		case <-ticker.C:
			c.pollOnce(dependentID)
		}
	}
}

// pollOnce performs one independent refresh. A failed poll is logged and
// skipped: it neither cancels the timer nor clears the previously known
// position.
func (c *Controller) pollOnce(dependentID int64) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.PollInterval)
	pos, err := c.alerts.GetLivePosition(ctx, dependentID)
	cancel()

	// Teardown cancelled the parent context while the fetch was in flight.
	// Close has or will tear the logger's sinks down, so stay silent.
	if c.ctx.Err() != nil {
		return
	}

	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// No fix stored yet. Valid empty result, not a failure.
			c.logger.Debug("no live position yet", zap.Int64("dependentID", dependentID))
			return
		}
		c.mu.Lock()
		c.pollFailures++
		failures := c.pollFailures
		c.mu.Unlock()
		if failures%c.cfg.FailureWarnEvery == 0 {
			c.logger.Warn("live position still unavailable",
				zap.Int64("dependentID", dependentID),
				zap.Int("consecutiveFailures", failures),
				zap.Error(err))
		} else {
			c.logger.Debug("live position poll failed", zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pollFailures = 0
	c.position = pos
	select {
	case c.updates <- *pos:
	default:
	}
	c.mu.Unlock()
}

// Updates delivers each successful position refresh. The channel closes on
// teardown.
func (c *Controller) Updates() <-chan entities.LivePosition {
	return c.updates
}

// Position returns the most recent successful fix, or nil when no poll has
// succeeded yet.
func (c *Controller) Position() *entities.LivePosition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Record returns the loaded alert record, or nil before Load succeeds.
func (c *Controller) Record() *entities.AlertRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

// State returns the lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoadVoiceMessage lazily prepares the attached clip for playback. A no-op
// when the alert carries no voice message or the clip is already loaded.
func (c *Controller) LoadVoiceMessage(ctx context.Context) error {
	c.mu.Lock()
	record := c.record
	loaded := c.voiceLoaded
	c.mu.Unlock()

	if record == nil || !record.HasVoiceMessage() || loaded {
		return nil
	}
	if err := c.player.Load(ctx, record.VoiceMessageURL); err != nil {
		return fmt.Errorf("load voice message: %w", err)
	}
	c.mu.Lock()
	c.voiceLoaded = true
	c.mu.Unlock()
	return nil
}

// Play starts or resumes voice playback, loading the clip first if needed.
func (c *Controller) Play(ctx context.Context) error {
	if err := c.LoadVoiceMessage(ctx); err != nil {
		return err
	}
	return c.player.Play()
}

// Pause pauses voice playback.
func (c *Controller) Pause() error {
	return c.player.Pause()
}

// Seek scrubs voice playback to the given position.
func (c *Controller) Seek(position time.Duration) error {
	return c.player.Seek(position)
}

// PlaybackStatus returns the current playback snapshot.
func (c *Controller) PlaybackStatus() repositories.PlayerStatus {
	return c.player.Status()
}

// Acknowledge marks the alert as reviewed. One-shot: the first call returns
// true, every later call false. Acknowledging does not stop polling; closing
// the screen does, through Close.
func (c *Controller) Acknowledge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acknowledged {
		return false
	}
	c.acknowledged = true
	return true
}

// ActiveTimers reports how many timers the controller currently holds.
func (c *Controller) ActiveTimers() int {
	return c.timers.Active()
}

// Close tears the session down: polling stops, the player is released and
// in-flight fetches are abandoned without further updates. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.timers.StopAll()
	c.pollWG.Wait()
	c.player.Release()
	close(c.updates)
}
