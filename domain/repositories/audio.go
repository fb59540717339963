package repositories

import (
	"context"
	"time"

	"github.com/wardn/wardn/domain/entities"
)

// CaptureResult is the single completion value of one recording session.
// Exactly one of Err or FilePath is meaningful: a failed capture carries Err
// and no usable file, a finished capture carries the finalized file path and
// the reason the session stopped.
type CaptureResult struct {
	FilePath string
	Reason   entities.StopReason
	Err      error
}

// Recorder captures microphone audio to a file. Engines are exclusive-use:
// one controller instance owns one recorder, and at most one session is
// active at a time.
type Recorder interface {
	// Start begins a capture session bounded by maxSeconds. The engine
	// enforces the ceiling itself and delivers exactly one CaptureResult on
	// the returned channel, whether the session ends by ceiling, by Stop, or
	// by device error.
	Start(ctx context.Context, maxSeconds int) (<-chan CaptureResult, error)

	// Stop finalizes the active session early (hold released). Calling Stop
	// with no active session is a no-op.
	Stop()

	// Release frees the underlying device. Safe to call at any time; release
	// failures are swallowed.
	Release()
}

// PlayerState represents the playback engine's state.
type PlayerState string

const (
	PlayerStateIdle      PlayerState = "idle"
	PlayerStatePlaying   PlayerState = "playing"
	PlayerStatePaused    PlayerState = "paused"
	PlayerStateCompleted PlayerState = "completed"
)

// PlayerStatus is a point-in-time snapshot of playback progress.
type PlayerStatus struct {
	State    PlayerState
	Position time.Duration
	Duration time.Duration
}

// Player decodes and plays a recorded or remote clip. Play and Pause are
// idempotent with respect to the current state.
type Player interface {
	// Load prepares the clip at source, which is either a remote URL or a
	// local file path (distinguished by scheme).
	Load(ctx context.Context, source string) error

	Play() error
	Pause() error
	Seek(position time.Duration) error

	// Status returns the current snapshot.
	Status() PlayerStatus

	// Updates delivers status snapshots as position and duration become
	// known from the decoder. The channel closes on Release.
	Updates() <-chan PlayerStatus

	// Release stops playback and frees the output device. Safe to call at
	// any time; release failures are swallowed.
	Release()
}
