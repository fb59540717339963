package entities

import (
	"errors"
	"time"
)

// RecordingState represents the state of a recording session.
type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStateRecording RecordingState = "recording"
	RecordingStateCompleted RecordingState = "completed"
	RecordingStateFailed    RecordingState = "failed"
)

// StopReason says why a recording session finished.
type StopReason string

const (
	// StopReasonCeiling means the engine hit MaxSeconds and finalized on its
	// own, without waiting for the user to release the hold.
	StopReasonCeiling StopReason = "auto"
	// StopReasonManual means the user released the hold before the ceiling.
	StopReasonManual StopReason = "manual"
)

// RecordingSession tracks one press-and-hold voice capture. The MaxSeconds
// ceiling is fixed at creation; elapsed time is advanced by the capture
// engine's clock, never by wall time directly.
type RecordingSession struct {
	FilePath       string
	StartedAt      time.Time
	ElapsedSeconds int
	MaxSeconds     int
	State          RecordingState
}

// NewRecordingSession creates a session in the idle state.
func NewRecordingSession(filePath string, maxSeconds int) *RecordingSession {
	return &RecordingSession{
		FilePath:   filePath,
		MaxSeconds: maxSeconds,
		State:      RecordingStateIdle,
	}
}

// Start marks the session recording.
func (s *RecordingSession) Start(now time.Time) error {
	if s.State != RecordingStateIdle {
		return errors.New("recording session already started")
	}
	s.StartedAt = now
	s.State = RecordingStateRecording
	return nil
}

// Tick advances elapsed time by one second and reports whether the ceiling
// has been reached.
func (s *RecordingSession) Tick() bool {
	if s.State != RecordingStateRecording {
		return false
	}
	s.ElapsedSeconds++
	return s.ElapsedSeconds >= s.MaxSeconds
}

// Complete marks the session finished.
func (s *RecordingSession) Complete() {
	s.State = RecordingStateCompleted
}

// Fail marks the session failed.
func (s *RecordingSession) Fail() {
	s.State = RecordingStateFailed
}

// Active reports whether the session is currently capturing.
func (s *RecordingSession) Active() bool {
	return s.State == RecordingStateRecording
}
