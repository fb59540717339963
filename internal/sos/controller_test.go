package sos

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/wardn/wardn/adapters/backend"
	"github.com/wardn/wardn/adapters/location"
	"github.com/wardn/wardn/domain/entities"
	"github.com/wardn/wardn/domain/repositories"
)

// fakeRecorder is a scriptable Recorder. Stop delivers a manual-stop result;
// deliver injects an arbitrary result, standing in for the ceiling or a
// device failure.
type fakeRecorder struct {
	mu       sync.Mutex
	results  chan repositories.CaptureResult
	startErr error
	started  int
	stopped  int
	released bool
}

func (f *fakeRecorder) Start(ctx context.Context, maxSeconds int) (<-chan repositories.CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started++
	f.results = make(chan repositories.CaptureResult, 1)
	return f.results, nil
}

func (f *fakeRecorder) Stop() {
	f.deliver(repositories.CaptureResult{
		FilePath: "/tmp/voice_test.wav",
		Reason:   entities.StopReasonManual,
	})
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeRecorder) deliver(result repositories.CaptureResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		return
	}
	f.results <- result
	close(f.results)
	f.results = nil
}

func (f *fakeRecorder) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

// fakeJournal records journal calls in order.
type fakeJournal struct {
	mu      sync.Mutex
	intents int
	sent    []int64
	failed  []string
}

func (j *fakeJournal) RecordIntent(ctx context.Context, draft *entities.AlertDraft) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.intents++
	return fmt.Sprintf("intent-%d", j.intents), nil
}

func (j *fakeJournal) MarkSent(ctx context.Context, intentID string, alertID int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sent = append(j.sent, alertID)
	return nil
}

func (j *fakeJournal) MarkFailed(ctx context.Context, intentID string, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failed = append(j.failed, reason)
	return nil
}

type testRig struct {
	controller *Controller
	service    *backend.MockService
	recorder   *fakeRecorder
	clock      *clock.Mock
}

func newTestRig(t *testing.T, cfg Config, loc repositories.LocationProvider) *testRig {
	t.Helper()
	if loc == nil {
		loc = &location.MockProvider{Fix: &entities.GeoPoint{Latitude: -6.2, Longitude: 106.8}}
	}
	service := backend.NewMockService()
	recorder := &fakeRecorder{}
	mock := clock.NewMock()
	controller := NewController(cfg, service, loc, recorder, nil, mock, zaptest.NewLogger(t))
	t.Cleanup(controller.Close)
	return &testRig{controller: controller, service: service, recorder: recorder, clock: mock}
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", kind)
		}
	}
}

func TestCountdownExpirySubmitsOnce(t *testing.T) {
	rig := newTestRig(t, Config{CountdownSeconds: 3}, nil)
	c := rig.controller

	if err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	waitEvent(t, c.Events(), EventConfirmRequired)

	c.Confirm()
	if ev := waitEvent(t, c.Events(), EventCountdownTick); ev.Remaining != 3 {
		t.Errorf("initial tick remaining = %d, want 3", ev.Remaining)
	}

	for want := 2; want >= 0; want-- {
		rig.clock.Add(time.Second)
		if ev := waitEvent(t, c.Events(), EventCountdownTick); ev.Remaining != want {
			t.Errorf("tick remaining = %d, want %d", ev.Remaining, want)
		}
	}

	sent := waitEvent(t, c.Events(), EventSent)
	if sent.AlertID == 0 {
		t.Error("sent event carries no alert id")
	}

	drafts := rig.service.Submitted()
	if len(drafts) != 1 {
		t.Fatalf("submitted %d alerts, want 1", len(drafts))
	}
	draft := drafts[0]
	if draft.TriggerKind != entities.TriggerManual {
		t.Errorf("trigger kind = %q, want manual", draft.TriggerKind)
	}
	if draft.HasAudio() {
		t.Error("tap path draft should carry no audio")
	}
	if draft.Location == nil {
		t.Error("draft should carry the mock fix")
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("state after send = %q, want idle", got)
	}
}

func TestCancelAtEveryTickPreventsSubmission(t *testing.T) {
	const countdown = 3
	for cancelAt := 0; cancelAt < countdown; cancelAt++ {
		rig := newTestRig(t, Config{CountdownSeconds: countdown}, nil)
		c := rig.controller

		if err := c.Activate(context.Background()); err != nil {
			t.Fatalf("cancelAt=%d: Activate returned error: %v", cancelAt, err)
		}
		waitEvent(t, c.Events(), EventConfirmRequired)
		c.Confirm()
		waitEvent(t, c.Events(), EventCountdownTick)

		for i := 0; i < cancelAt; i++ {
			rig.clock.Add(time.Second)
			waitEvent(t, c.Events(), EventCountdownTick)
		}

		c.Cancel()
		waitEvent(t, c.Events(), EventCancelled)

		// Even a long march of further ticks must not revive the countdown.
		rig.clock.Add(10 * time.Second)
		time.Sleep(10 * time.Millisecond)

		if got := len(rig.service.Submitted()); got != 0 {
			t.Errorf("cancelAt=%d: submitted %d alerts, want 0", cancelAt, got)
		}
		if got := c.State(); got != StateIdle {
			t.Errorf("cancelAt=%d: state = %q, want idle", cancelAt, got)
		}
		if got := c.ActiveTimers(); got != 0 {
			t.Errorf("cancelAt=%d: %d timers still active", cancelAt, got)
		}
		c.Close()
	}
}

func TestCancelDuringConfirmPending(t *testing.T) {
	rig := newTestRig(t, Config{}, nil)
	c := rig.controller

	if err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	waitEvent(t, c.Events(), EventConfirmRequired)

	c.Cancel()
	waitEvent(t, c.Events(), EventCancelled)

	if got := c.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
	if got := len(rig.service.Submitted()); got != 0 {
		t.Errorf("submitted %d alerts, want 0", got)
	}
}

func TestRepeatedActivationIsSingleFlight(t *testing.T) {
	rig := newTestRig(t, Config{CountdownSeconds: 2}, nil)
	c := rig.controller

	for i := 0; i < 5; i++ {
		if err := c.Activate(context.Background()); err != nil {
			t.Fatalf("Activate #%d returned error: %v", i, err)
		}
	}
	waitEvent(t, c.Events(), EventConfirmRequired)

	c.Confirm()
	waitEvent(t, c.Events(), EventCountdownTick)
	rig.clock.Add(time.Second)
	waitEvent(t, c.Events(), EventCountdownTick)
	rig.clock.Add(time.Second)
	waitEvent(t, c.Events(), EventSent)

	if got := len(rig.service.Submitted()); got != 1 {
		t.Errorf("submitted %d alerts, want exactly 1", got)
	}
}

func TestActivateWithoutContacts(t *testing.T) {
	rig := newTestRig(t, Config{}, nil)
	rig.service.HasEmergencyContactsFunc = func(ctx context.Context) (bool, error) {
		return false, nil
	}
	c := rig.controller

	if err := c.Activate(context.Background()); !errors.Is(err, repositories.ErrNoContacts) {
		t.Errorf("Activate error = %v, want ErrNoContacts", err)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestVoiceDetectedTriggerKind(t *testing.T) {
	rig := newTestRig(t, Config{CountdownSeconds: 1}, nil)
	c := rig.controller

	if err := c.ActivateVoiceDetected(context.Background()); err != nil {
		t.Fatalf("ActivateVoiceDetected returned error: %v", err)
	}
	waitEvent(t, c.Events(), EventConfirmRequired)
	c.Confirm()
	waitEvent(t, c.Events(), EventCountdownTick)
	rig.clock.Add(time.Second)
	waitEvent(t, c.Events(), EventSent)

	drafts := rig.service.Submitted()
	if len(drafts) != 1 {
		t.Fatalf("submitted %d alerts, want 1", len(drafts))
	}
	if drafts[0].TriggerKind != entities.TriggerVoice {
		t.Errorf("trigger kind = %q, want voice", drafts[0].TriggerKind)
	}
}

func TestSubmissionProceedsWithoutLocation(t *testing.T) {
	loc := &location.MockProvider{Err: errors.New("gpsd unreachable")}
	rig := newTestRig(t, Config{CountdownSeconds: 1}, loc)
	c := rig.controller

	if err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	waitEvent(t, c.Events(), EventConfirmRequired)
	c.Confirm()
	waitEvent(t, c.Events(), EventCountdownTick)
	rig.clock.Add(time.Second)
	waitEvent(t, c.Events(), EventSent)

	drafts := rig.service.Submitted()
	if len(drafts) != 1 {
		t.Fatalf("submitted %d alerts, want 1", len(drafts))
	}
	if drafts[0].Location != nil {
		t.Error("draft should carry no location when acquisition fails")
	}
}

func TestHoldReleaseSubmitsWithAudio(t *testing.T) {
	rig := newTestRig(t, Config{MaxRecordSeconds: 20}, nil)
	c := rig.controller

	if err := c.HoldStart(context.Background()); err != nil {
		t.Fatalf("HoldStart returned error: %v", err)
	}
	if got := c.State(); got != StateRecording {
		t.Fatalf("state = %q, want recording", got)
	}

	rig.clock.Add(time.Second)
	if ev := waitEvent(t, c.Events(), EventRecordingProgress); ev.Elapsed != 1 {
		t.Errorf("elapsed = %d, want 1", ev.Elapsed)
	}

	c.HoldRelease()
	waitEvent(t, c.Events(), EventSent)

	drafts := rig.service.Submitted()
	if len(drafts) != 1 {
		t.Fatalf("submitted %d alerts, want 1", len(drafts))
	}
	if !drafts[0].HasAudio() {
		t.Error("hold path draft should carry audio")
	}
	if got := c.ActiveTimers(); got != 0 {
		t.Errorf("%d timers still active after send", got)
	}
}

func TestRecorderCeilingSubmits(t *testing.T) {
	rig := newTestRig(t, Config{MaxRecordSeconds: 20}, nil)
	c := rig.controller

	if err := c.HoldStart(context.Background()); err != nil {
		t.Fatalf("HoldStart returned error: %v", err)
	}

	// The recorder hits its ceiling on its own; no release ever arrives.
	rig.recorder.deliver(repositories.CaptureResult{
		FilePath: "/tmp/voice_ceiling.wav",
		Reason:   entities.StopReasonCeiling,
	})
	waitEvent(t, c.Events(), EventSent)

	drafts := rig.service.Submitted()
	if len(drafts) != 1 {
		t.Fatalf("submitted %d alerts, want 1", len(drafts))
	}
	if drafts[0].AudioFilePath != "/tmp/voice_ceiling.wav" {
		t.Errorf("audio path = %q", drafts[0].AudioFilePath)
	}
}

func TestCaptureFailureAbortsWithoutSubmission(t *testing.T) {
	rig := newTestRig(t, Config{}, nil)
	c := rig.controller

	if err := c.HoldStart(context.Background()); err != nil {
		t.Fatalf("HoldStart returned error: %v", err)
	}
	rig.recorder.deliver(repositories.CaptureResult{Err: errors.New("microphone lost")})

	if ev := waitEvent(t, c.Events(), EventFailed); ev.Err == nil {
		t.Error("failed event carries no error")
	}
	if got := len(rig.service.Submitted()); got != 0 {
		t.Errorf("submitted %d alerts, want 0", got)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestHoldStartRecorderError(t *testing.T) {
	rig := newTestRig(t, Config{}, nil)
	rig.recorder.startErr = errors.New("device busy")
	c := rig.controller

	if err := c.HoldStart(context.Background()); err == nil {
		t.Fatal("HoldStart should surface the recorder error")
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestActivateIsNoOpWhileRecording(t *testing.T) {
	rig := newTestRig(t, Config{}, nil)
	c := rig.controller

	if err := c.HoldStart(context.Background()); err != nil {
		t.Fatalf("HoldStart returned error: %v", err)
	}
	if err := c.Activate(context.Background()); err != nil {
		t.Errorf("Activate during recording returned error: %v", err)
	}
	if got := c.State(); got != StateRecording {
		t.Errorf("state = %q, want recording", got)
	}
}

func TestSubmissionFailureReportsAndResets(t *testing.T) {
	rig := newTestRig(t, Config{CountdownSeconds: 1}, nil)
	rig.service.CreateAlertFunc = func(ctx context.Context, draft *entities.AlertDraft) (int64, error) {
		return 0, errors.New("backend unavailable")
	}
	c := rig.controller

	if err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	waitEvent(t, c.Events(), EventConfirmRequired)
	c.Confirm()
	waitEvent(t, c.Events(), EventCountdownTick)
	rig.clock.Add(time.Second)

	if ev := waitEvent(t, c.Events(), EventFailed); ev.Err == nil {
		t.Error("failed event carries no error")
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestJournalRecordsOutcome(t *testing.T) {
	journal := &fakeJournal{}
	service := backend.NewMockService()
	mock := clock.NewMock()
	c := NewController(
		Config{CountdownSeconds: 1},
		service,
		&location.MockProvider{Fix: &entities.GeoPoint{Latitude: 1, Longitude: 2}},
		&fakeRecorder{},
		journal,
		mock,
		zaptest.NewLogger(t),
	)
	defer c.Close()

	if err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	waitEvent(t, c.Events(), EventConfirmRequired)
	c.Confirm()
	waitEvent(t, c.Events(), EventCountdownTick)
	mock.Add(time.Second)
	sent := waitEvent(t, c.Events(), EventSent)

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if journal.intents != 1 {
		t.Errorf("recorded %d intents, want 1", journal.intents)
	}
	if len(journal.sent) != 1 || journal.sent[0] != sent.AlertID {
		t.Errorf("journal sent = %v, want [%d]", journal.sent, sent.AlertID)
	}
	if len(journal.failed) != 0 {
		t.Errorf("journal failed = %v, want empty", journal.failed)
	}
}

func TestCancelledCountdownsLeakNoGoroutines(t *testing.T) {
	rig := newTestRig(t, Config{CountdownSeconds: 30, MaxRecordSeconds: 20}, nil)
	c := rig.controller
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		if err := c.Activate(context.Background()); err != nil {
			t.Fatalf("cycle %d: Activate returned error: %v", i, err)
		}
		waitEvent(t, c.Events(), EventConfirmRequired)
		c.Confirm()
		waitEvent(t, c.Events(), EventCountdownTick)
		c.Cancel()
		waitEvent(t, c.Events(), EventCancelled)
	}
	for i := 0; i < 10; i++ {
		if err := c.HoldStart(context.Background()); err != nil {
			t.Fatalf("hold cycle %d: HoldStart returned error: %v", i, err)
		}
		c.HoldRelease()
		waitEvent(t, c.Events(), EventSent)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n := runtime.NumGoroutine(); n <= before+2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutines grew from %d to %d across cancelled sessions",
				before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	rig := newTestRig(t, Config{CountdownSeconds: 30}, nil)
	c := rig.controller

	if err := c.Activate(context.Background()); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	waitEvent(t, c.Events(), EventConfirmRequired)
	c.Confirm()
	waitEvent(t, c.Events(), EventCountdownTick)

	c.Close()
	c.Close() // idempotent

	if got := c.ActiveTimers(); got != 0 {
		t.Errorf("%d timers active after Close, want 0", got)
	}
	rig.recorder.mu.Lock()
	released := rig.recorder.released
	rig.recorder.mu.Unlock()
	if !released {
		t.Error("recorder not released on Close")
	}
	if got := len(rig.service.Submitted()); got != 0 {
		t.Errorf("submitted %d alerts after Close, want 0", got)
	}
}
