// Package sos owns the dependent-side alert lifecycle: the state machine
// that turns a trigger gesture into at most one submitted alert, optionally
// carrying a voice recording and a best-effort location fix.
package sos

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wardn/wardn/domain/entities"
	"github.com/wardn/wardn/domain/repositories"
	"github.com/wardn/wardn/internal/sched"
)

// State is the controller's current lifecycle phase. Sent, Cancelled and
// Failed are reported as events; the controller itself returns to StateIdle.
type State string

const (
	StateIdle           State = "idle"
	StateConfirmPending State = "confirm_pending"
	StateCountdown      State = "countdown"
	StateRecording      State = "recording"
	StateSending        State = "sending"
)

// EventKind identifies a controller event.
type EventKind string

const (
	EventConfirmRequired   EventKind = "confirm_required"
	EventCountdownTick     EventKind = "countdown_tick"
	EventRecordingProgress EventKind = "recording_progress"
	EventSent              EventKind = "sent"
	EventCancelled         EventKind = "cancelled"
	EventFailed            EventKind = "failed"
)

// Event is one observable state change, published to the controller's owner.
type Event struct {
	Kind      EventKind
	Remaining int   // EventCountdownTick: seconds left
	Elapsed   int   // EventRecordingProgress: seconds recorded
	AlertID   int64 // EventSent: backend-assigned id
	Err       error // EventFailed
}

// SubmissionJournal records submission intents and outcomes for the local
// at-most-once audit trail. Journal failures never block a submission.
type SubmissionJournal interface {
	RecordIntent(ctx context.Context, draft *entities.AlertDraft) (string, error)
	MarkSent(ctx context.Context, intentID string, alertID int64) error
	MarkFailed(ctx context.Context, intentID string, reason string) error
}

// Config tunes the trigger controller.
type Config struct {
	CountdownSeconds int           // confirm-to-send countdown, default 3
	MaxRecordSeconds int           // voice recording ceiling, default 20
	LocationTimeout  time.Duration // best-effort fix bound, default 5s
	EventType        string        // classification tag, default "panic_button"
	AppState         entities.AppState
}

func (c *Config) applyDefaults() {
	if c.CountdownSeconds == 0 {
		c.CountdownSeconds = 3
	}
	if c.MaxRecordSeconds == 0 {
		c.MaxRecordSeconds = 20
	}
	if c.LocationTimeout == 0 {
		c.LocationTimeout = 5 * time.Second
	}
	if c.EventType == "" {
		c.EventType = "panic_button"
	}
	if c.AppState == "" {
		c.AppState = entities.AppStateForeground
	}
}

// Controller drives the SOS trigger state machine. One instance owns its
// mutable state exclusively; collaborators come in through the constructor
// so tests can drive the machine with a fake clock and mock services.
type Controller struct {
	cfg      Config
	alerts   repositories.AlertService
	location repositories.LocationProvider
	recorder repositories.Recorder
	journal  SubmissionJournal
	timers   *sched.Registry
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	pendingKind entities.TriggerKind
	remaining   int
	countdown   *sched.Handle
	elapsedTick *sched.Handle
	closed      bool

	events chan Event
}

// NewController creates a trigger controller. The journal may be nil when no
// local persistence is wanted.
func NewController(
	cfg Config,
	alerts repositories.AlertService,
	location repositories.LocationProvider,
	recorder repositories.Recorder,
	journal SubmissionJournal,
	clk clock.Clock,
	logger *zap.Logger,
) *Controller {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		alerts:   alerts,
		location: location,
		recorder: recorder,
		journal:  journal,
		timers:   sched.NewRegistry(clk),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		events:   make(chan Event, 16),
	}
}

// Events returns the controller's event stream.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Activate begins the tap path for a manual trigger: precondition check,
// then confirmation. Calling Activate while a trigger is already in progress
// is a no-op, which keeps rapid repeated taps down to a single alert.
func (c *Controller) Activate(ctx context.Context) error {
	return c.activate(ctx, entities.TriggerManual)
}

// ActivateVoiceDetected begins the same confirm/countdown flow for an alert
// raised by the voice keyword detector.
func (c *Controller) ActivateVoiceDetected(ctx context.Context) error {
	return c.activate(ctx, entities.TriggerVoice)
}

func (c *Controller) activate(ctx context.Context, kind entities.TriggerKind) error {
	c.mu.Lock()
	if c.state != StateIdle || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ok, err := c.alerts.HasEmergencyContacts(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return repositories.ErrNoContacts
	}

	c.mu.Lock()
	if c.state != StateIdle || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConfirmPending
	c.pendingKind = kind
	c.mu.Unlock()

	c.emit(Event{Kind: EventConfirmRequired})
	return nil
}

// Confirm accepts the confirmation and starts the countdown. A no-op unless
// a confirmation is pending.
func (c *Controller) Confirm() {
	c.mu.Lock()
	if c.state != StateConfirmPending {
		c.mu.Unlock()
		return
	}
	c.state = StateCountdown
	c.remaining = c.cfg.CountdownSeconds
	ticker, handle := c.timers.Ticker(time.Second)
	c.countdown = handle
	c.mu.Unlock()

	c.emit(Event{Kind: EventCountdownTick, Remaining: c.cfg.CountdownSeconds})
	go c.runCountdown(ticker, handle)
}

// runCountdown decrements once per tick. The decrement and the zero check
// happen under the state mutex, so a cancel issued between two ticks always
// wins over the next tick. The handle's Done signal is the goroutine's exit
// path; waiting on the ticker alone would park it forever after a stop.
func (c *Controller) runCountdown(ticker *clock.Ticker, handle *sched.Handle) {
	defer handle.Stop()
	for {
		select {
		case <-handle.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.state != StateCountdown {
			c.mu.Unlock()
			return
		}
		c.remaining--
		remaining := c.remaining
		if remaining > 0 {
			c.mu.Unlock()
			c.emit(Event{Kind: EventCountdownTick, Remaining: remaining})
			continue
		}
		c.state = StateSending
		kind := c.pendingKind
		c.mu.Unlock()

		c.emit(Event{Kind: EventCountdownTick, Remaining: 0})
		c.submit(kind, "")
		return
	}
}

// Cancel aborts a pending confirmation or a running countdown. Once the
// countdown has reached zero the submission is already underway and can no
// longer be cancelled.
func (c *Controller) Cancel() {
	c.mu.Lock()
	switch c.state {
	case StateConfirmPending, StateCountdown:
		c.state = StateIdle
		handle := c.countdown
		c.countdown = nil
		c.mu.Unlock()
		if handle != nil {
			handle.Stop()
		}
		c.emit(Event{Kind: EventCancelled})
	default:
		c.mu.Unlock()
	}
}

// HoldStart begins the press-and-hold voice path: the recorder starts with
// the configured ceiling and finalizes on its own if the hold outlives it.
func (c *Controller) HoldStart(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ok, err := c.alerts.HasEmergencyContacts(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return repositories.ErrNoContacts
	}

	c.mu.Lock()
	if c.state != StateIdle || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateRecording
	c.pendingKind = entities.TriggerManual
	c.mu.Unlock()

	results, err := c.recorder.Start(c.ctx, c.cfg.MaxRecordSeconds)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.logger.Warn("recorder failed to start", zap.Error(err))
		return err
	}

	ticker, handle := c.timers.Ticker(time.Second)
	c.mu.Lock()
	c.elapsedTick = handle
	c.mu.Unlock()
	go c.runElapsed(ticker, handle)
	go c.awaitCapture(results)
	return nil
}

// HoldRelease stops the active recording early. The recorder finalizes the
// file and delivers its completion through the same channel as an automatic
// stop, so both paths converge on one submission entry point.
func (c *Controller) HoldRelease() {
	c.mu.Lock()
	recording := c.state == StateRecording
	c.mu.Unlock()
	if recording {
		c.recorder.Stop()
	}
}

// runElapsed publishes elapsed seconds while recording. UI feedback only;
// the recorder enforces the ceiling itself.
func (c *Controller) runElapsed(ticker *clock.Ticker, handle *sched.Handle) {
	elapsed := 0
	for {
		select {
		case <-handle.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.state != StateRecording {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		elapsed++
		c.emit(Event{Kind: EventRecordingProgress, Elapsed: elapsed})
	}
}

func (c *Controller) awaitCapture(results <-chan repositories.CaptureResult) {
	result, ok := <-results

	c.mu.Lock()
	if c.elapsedTick != nil {
		c.elapsedTick.Stop()
		c.elapsedTick = nil
	}
	if c.state != StateRecording || c.closed {
		c.mu.Unlock()
		return
	}
	if !ok || result.Err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		err := result.Err
		if err == nil {
			err = context.Canceled
		}
		c.logger.Warn("voice capture aborted", zap.Error(err))
		c.emit(Event{Kind: EventFailed, Err: err})
		return
	}
	c.state = StateSending
	kind := c.pendingKind
	c.mu.Unlock()

	c.logger.Info("voice capture finished",
		zap.String("file", result.FilePath),
		zap.String("reason", string(result.Reason)))
	c.submit(kind, result.FilePath)
}

// submit is the single submission entry point for the voice and no-voice
// paths; the two differ only in whether audioPath is set.
func (c *Controller) submit(kind entities.TriggerKind, audioPath string) {
	draft := entities.NewAlertDraft(kind, c.cfg.EventType, c.cfg.AppState, c.timers.Clock().Now())
	draft.AudioFilePath = audioPath

	// Best-effort fix. Absence is missing data, never a reason to hold the
	// submission back.
	locCtx, cancelLoc := context.WithTimeout(c.ctx, c.cfg.LocationTimeout)
	if pos, err := c.location.CurrentPosition(locCtx); err != nil {
		c.logger.Debug("location unavailable, submitting without fix", zap.Error(err))
	} else {
		draft.Location = pos
	}
	cancelLoc()

	var intentID string
	if c.journal != nil {
		var err error
		if intentID, err = c.journal.RecordIntent(c.ctx, draft); err != nil {
			c.logger.Warn("journal intent write failed", zap.Error(err))
		}
	}

	alertID, err := c.alerts.CreateAlert(c.ctx, draft)

	c.mu.Lock()
	c.state = StateIdle
	closed := c.closed
	c.mu.Unlock()

	if err != nil {
		if c.journal != nil && intentID != "" {
			if jerr := c.journal.MarkFailed(c.ctx, intentID, err.Error()); jerr != nil {
				c.logger.Warn("journal update failed", zap.Error(jerr))
			}
		}
		if !closed {
			c.logger.Error("alert submission failed", zap.Error(err))
			c.emit(Event{Kind: EventFailed, Err: err})
		}
		return
	}

	if c.journal != nil && intentID != "" {
		if jerr := c.journal.MarkSent(c.ctx, intentID, alertID); jerr != nil {
			c.logger.Warn("journal update failed", zap.Error(jerr))
		}
	}
	if !closed {
		c.logger.Info("alert submitted", zap.Int64("alertID", alertID),
			zap.String("trigger", string(kind)), zap.Bool("voice", audioPath != ""))
		c.emit(Event{Kind: EventSent, AlertID: alertID})
	}
}

// ActiveTimers reports how many timers the controller currently holds.
func (c *Controller) ActiveTimers() int {
	return c.timers.Active()
}

// Close tears the controller down: all timers are cancelled, the recorder is
// released and any in-flight network call is abandoned without further
// events. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateIdle
	c.mu.Unlock()

	c.cancel()
	c.timers.StopAll()
	c.recorder.Release()
}

func (c *Controller) emit(event Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.events <- event:
	default:
		c.logger.Warn("event channel full, dropping event", zap.String("kind", string(event.Kind)))
	}
}
