package sched

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestRegistryTickerFires(t *testing.T) {
	mock := clock.NewMock()
	registry := NewRegistry(mock)

	ticker, handle := registry.Ticker(time.Second)
	defer handle.Stop()

	if registry.Active() != 1 {
		t.Fatalf("expected 1 active timer, got %d", registry.Active())
	}

	mock.Add(time.Second)
	select {
	case <-ticker.C:
	case <-time.After(2 * time.Second):
		t.Fatal("expected ticker to fire after one second")
	}
}

func TestRegistryHandleStopIsIdempotent(t *testing.T) {
	mock := clock.NewMock()
	registry := NewRegistry(mock)

	_, handle := registry.Ticker(time.Second)
	handle.Stop()
	handle.Stop()

	if registry.Active() != 0 {
		t.Errorf("expected 0 active timers after stop, got %d", registry.Active())
	}
}

func TestRegistryHandleDoneSignalsStop(t *testing.T) {
	mock := clock.NewMock()
	registry := NewRegistry(mock)

	_, handle := registry.Ticker(time.Second)
	select {
	case <-handle.Done():
		t.Fatal("Done closed before Stop")
	default:
	}

	handle.Stop()
	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Stop")
	}
}

func TestRegistryStopAllSignalsEveryHandle(t *testing.T) {
	mock := clock.NewMock()
	registry := NewRegistry(mock)

	_, first := registry.Ticker(time.Second)
	_, second := registry.Ticker(time.Minute)
	registry.StopAll()

	for i, handle := range []*Handle{first, second} {
		select {
		case <-handle.Done():
		case <-time.After(time.Second):
			t.Fatalf("handle %d not signalled by StopAll", i)
		}
	}
}

func TestRegistryStopAll(t *testing.T) {
	mock := clock.NewMock()
	registry := NewRegistry(mock)

	registry.Ticker(time.Second)
	registry.Ticker(time.Minute)
	registry.Ticker(5 * time.Second)

	if registry.Active() != 3 {
		t.Fatalf("expected 3 active timers, got %d", registry.Active())
	}

	registry.StopAll()
	registry.StopAll() // idempotent

	if registry.Active() != 0 {
		t.Errorf("expected 0 active timers after StopAll, got %d", registry.Active())
	}
}

func TestRegistryRejectsTimersAfterStopAll(t *testing.T) {
	mock := clock.NewMock()
	registry := NewRegistry(mock)
	registry.StopAll()

	ticker, handle := registry.Ticker(time.Second)
	defer handle.Stop()

	if registry.Active() != 0 {
		t.Errorf("expected registration after StopAll to be rejected, got %d active", registry.Active())
	}

	// The ticker itself was stopped at registration time.
	mock.Add(2 * time.Second)
	select {
	case <-ticker.C:
		t.Error("ticker registered after StopAll should not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryHandleStopAfterStopAll(t *testing.T) {
	mock := clock.NewMock()
	registry := NewRegistry(mock)

	_, handle := registry.Ticker(time.Second)
	registry.StopAll()
	handle.Stop() // must not panic or underflow

	if registry.Active() != 0 {
		t.Errorf("expected 0 active timers, got %d", registry.Active())
	}
}
