package audio

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/wardn/wardn/domain/repositories"
)

// syncBuffer is a mutex-guarded sink target; the stream goroutine writes to
// it while the test reads its length.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// testClip builds a PCM WAV clip with pcmBytes of audio data. At the capture
// format's 32000 B/s byte rate, 3200 bytes is 100ms.
func testClip(t *testing.T, pcmBytes int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := writeWAVHeader(&buf, uint32(pcmBytes)); err != nil {
		t.Fatalf("write clip header: %v", err)
	}
	buf.Write(make([]byte, pcmBytes))
	return buf.Bytes()
}

func writeClipFile(t *testing.T, pcmBytes int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice_test.wav")
	if err := os.WriteFile(path, testClip(t, pcmBytes), 0o644); err != nil {
		t.Fatalf("write clip file: %v", err)
	}
	return path
}

// play starts playback and gives the stream goroutine time to register its
// ticker before the test advances the mock clock.
func play(t *testing.T, p *Playback) {
	t.Helper()
	if err := p.Play(); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
}

func waitPlayerState(t *testing.T, p *Playback, want repositories.PlayerState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Status().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("player state = %q, want %q", p.Status().State, want)
}

func waitPlayerPosition(t *testing.T, p *Playback, want time.Duration) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Status().Position >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("player position = %v, want at least %v", p.Status().Position, want)
}

func TestPlaybackLoadReportsDuration(t *testing.T) {
	p := NewPlayback(&WriterSink{Writer: &syncBuffer{}}, clock.NewMock(), zaptest.NewLogger(t))
	defer p.Release()

	if err := p.Load(context.Background(), writeClipFile(t, 6400)); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	status := p.Status()
	if status.State != repositories.PlayerStateIdle {
		t.Errorf("state = %q, want idle", status.State)
	}
	if status.Duration != 200*time.Millisecond {
		t.Errorf("duration = %v, want 200ms", status.Duration)
	}
}

func TestPlaybackPlaysToCompletion(t *testing.T) {
	sink := &syncBuffer{}
	mock := clock.NewMock()
	p := NewPlayback(&WriterSink{Writer: sink}, mock, zaptest.NewLogger(t))
	defer p.Release()

	if err := p.Load(context.Background(), writeClipFile(t, 6400)); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	play(t, p)
	if err := p.Play(); err != nil { // idempotent while playing
		t.Fatalf("second Play returned error: %v", err)
	}

	mock.Add(playTick)
	waitPlayerPosition(t, p, 100*time.Millisecond)
	mock.Add(playTick)
	waitPlayerState(t, p, repositories.PlayerStateCompleted)

	if got := sink.Len(); got != 6400 {
		t.Errorf("sink received %d bytes, want 6400", got)
	}
}

func TestPlaybackPauseAndResume(t *testing.T) {
	sink := &syncBuffer{}
	mock := clock.NewMock()
	p := NewPlayback(&WriterSink{Writer: sink}, mock, zaptest.NewLogger(t))
	defer p.Release()

	if err := p.Pause(); err != nil { // pause with nothing loaded is a no-op
		t.Fatalf("Pause on idle engine returned error: %v", err)
	}

	if err := p.Load(context.Background(), writeClipFile(t, 6400)); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	play(t, p)
	mock.Add(playTick)
	waitPlayerPosition(t, p, 100*time.Millisecond)

	if err := p.Pause(); err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}
	waitPlayerState(t, p, repositories.PlayerStatePaused)
	if err := p.Pause(); err != nil { // idempotent while paused
		t.Fatalf("second Pause returned error: %v", err)
	}

	play(t, p)
	mock.Add(playTick)
	waitPlayerState(t, p, repositories.PlayerStateCompleted)
	if got := sink.Len(); got != 6400 {
		t.Errorf("sink received %d bytes, want 6400", got)
	}
}

func TestPlaybackRestartAfterCompletion(t *testing.T) {
	sink := &syncBuffer{}
	mock := clock.NewMock()
	p := NewPlayback(&WriterSink{Writer: sink}, mock, zaptest.NewLogger(t))
	defer p.Release()

	if err := p.Load(context.Background(), writeClipFile(t, 3200)); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	play(t, p)
	mock.Add(playTick)
	waitPlayerState(t, p, repositories.PlayerStateCompleted)

	// Playing a completed clip restarts from the beginning.
	play(t, p)
	if got := p.Status().Position; got != 0 {
		t.Errorf("replay position = %v, want 0", got)
	}
	mock.Add(playTick)
	waitPlayerState(t, p, repositories.PlayerStateCompleted)
	if got := sink.Len(); got != 6400 {
		t.Errorf("sink received %d bytes over two plays, want 6400", got)
	}
}

func TestPlaybackSeek(t *testing.T) {
	p := NewPlayback(&WriterSink{Writer: &syncBuffer{}}, clock.NewMock(), zaptest.NewLogger(t))
	defer p.Release()

	if err := p.Seek(time.Second); err == nil {
		t.Error("Seek with no clip loaded should fail")
	}

	if err := p.Load(context.Background(), writeClipFile(t, 6400)); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if err := p.Seek(100 * time.Millisecond); err != nil {
		t.Fatalf("Seek returned error: %v", err)
	}
	if got := p.Status().Position; got != 100*time.Millisecond {
		t.Errorf("position = %v, want 100ms", got)
	}

	if err := p.Seek(time.Hour); err != nil {
		t.Fatalf("Seek past the end returned error: %v", err)
	}
	if got := p.Status().Position; got != 200*time.Millisecond {
		t.Errorf("clamped position = %v, want duration", got)
	}

	if err := p.Seek(-time.Second); err != nil {
		t.Fatalf("negative Seek returned error: %v", err)
	}
	if got := p.Status().Position; got != 0 {
		t.Errorf("position = %v, want 0", got)
	}
}

func TestPlaybackLoadsRemoteClip(t *testing.T) {
	clip := testClip(t, 3200)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(clip)
	}))
	defer server.Close()

	p := NewPlayback(&WriterSink{Writer: &syncBuffer{}}, clock.NewMock(), zaptest.NewLogger(t))
	defer p.Release()

	if err := p.Load(context.Background(), server.URL+"/voice_test.wav"); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := p.Status().Duration; got != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", got)
	}
}

func TestPlaybackRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_audio.wav")
	if err := os.WriteFile(path, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	p := NewPlayback(&WriterSink{Writer: &syncBuffer{}}, clock.NewMock(), zaptest.NewLogger(t))
	defer p.Release()

	if err := p.Load(context.Background(), path); err == nil {
		t.Error("Load should reject a non-WAV clip")
	}
	if err := p.Play(); err == nil {
		t.Error("Play with no clip loaded should fail")
	}
}

func TestPlaybackReleaseClosesUpdates(t *testing.T) {
	p := NewPlayback(&WriterSink{Writer: &syncBuffer{}}, clock.NewMock(), zaptest.NewLogger(t))
	if err := p.Load(context.Background(), writeClipFile(t, 3200)); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	p.Release()
	p.Release() // idempotent

	// Drain any buffered snapshots; the channel must end up closed.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-p.Updates():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("updates channel not closed after Release")
		}
	}
}
