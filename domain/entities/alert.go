package entities

import (
	"time"
)

// TriggerKind identifies how an SOS alert was initiated.
type TriggerKind string

const (
	TriggerManual TriggerKind = "manual"
	TriggerMotion TriggerKind = "motion"
	TriggerVoice  TriggerKind = "voice"
)

// ParseTriggerKind maps a wire tag to a TriggerKind. Unknown tags fall back
// to TriggerManual so that a new server-side tag never breaks an open alert.
func ParseTriggerKind(tag string) TriggerKind {
	switch TriggerKind(tag) {
	case TriggerManual, TriggerMotion, TriggerVoice:
		return TriggerKind(tag)
	default:
		return TriggerManual
	}
}

// AppState records whether the app was foregrounded at trigger time.
// Debugging/analytics data only.
type AppState string

const (
	AppStateForeground AppState = "foreground"
	AppStateBackground AppState = "background"
)

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// AlertDraft is the client-side alert in flight. It is created at gesture
// start, mutated as location and audio resolve, and consumed exactly once by
// a single submission call.
type AlertDraft struct {
	TriggerKind   TriggerKind
	EventType     string
	AppState      AppState
	Timestamp     time.Time
	Location      *GeoPoint // nil when acquisition failed or timed out
	AudioFilePath string    // empty on the no-voice path
}

// NewAlertDraft creates a draft for the given trigger with the client
// timestamp taken now.
func NewAlertDraft(kind TriggerKind, eventType string, appState AppState, now time.Time) *AlertDraft {
	return &AlertDraft{
		TriggerKind: kind,
		EventType:   eventType,
		AppState:    appState,
		Timestamp:   now,
	}
}

// HasAudio reports whether a voice recording is attached to the draft.
func (d *AlertDraft) HasAudio() bool {
	return d.AudioFilePath != ""
}

// AlertRecord is the read-only projection of a backend-stored alert.
// TriggerLocation is the fix captured at submission time and never changes;
// the dependent's live position is tracked separately (LivePosition).
type AlertRecord struct {
	ID                 int64
	DependentUserID    int64
	DependentName      string
	DependentAvatarURL string
	TriggerKind        TriggerKind
	EventType          string
	TriggerLocation    *GeoPoint
	VoiceMessageURL    string
	CreatedAt          time.Time
}

// HasVoiceMessage reports whether a voice clip was attached to the alert.
func (r *AlertRecord) HasVoiceMessage() bool {
	return r.VoiceMessageURL != ""
}

// LivePosition is the dependent's most recently polled fix.
type LivePosition struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	UpdatedAt time.Time
}

// ParseTimestamp parses an RFC 3339 timestamp defensively. Trigger time is
// advisory display data, so a malformed value resolves to fallback rather
// than an error.
func ParseTimestamp(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return t
}
