// Package audio implements the capture and playback engines on top of raw
// PCM sources and sinks. Engines are exclusive-use per controller instance.
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wardn/wardn/domain/entities"
	"github.com/wardn/wardn/domain/repositories"
)

const (
	captureSampleRate    = 16000
	captureChannels      = 1
	captureBitsPerSample = 16
)

// Source provides raw PCM audio, typically a microphone. Open blocks until
// the device is ready; the returned reader delivers a continuous sample
// stream until closed.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Capture records from a Source to a WAV file, enforcing a fixed duration
// ceiling on its own so a submission is never blocked on the user releasing
// the hold.
type Capture struct {
	source Source
	dir    string
	clk    clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	active   bool
	stop     chan struct{}
	released bool
}

// Ensure Capture implements the Recorder interface
var _ repositories.Recorder = (*Capture)(nil)

// NewCapture creates a capture engine writing recordings under dir.
func NewCapture(source Source, dir string, clk clock.Clock, logger *zap.Logger) *Capture {
	return &Capture{
		source: source,
		dir:    dir,
		clk:    clk,
		logger: logger,
	}
}

// recordingFileName mirrors the backend's voice_<hex16> naming.
func recordingFileName() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("voice_%s.wav", hex[:16])
}

// Start implements repositories.Recorder. Exactly one CaptureResult is
// delivered on the returned channel.
func (c *Capture) Start(ctx context.Context, maxSeconds int) (<-chan repositories.CaptureResult, error) {
	if maxSeconds <= 0 {
		return nil, fmt.Errorf("recording ceiling must be positive, got %d", maxSeconds)
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, fmt.Errorf("capture engine released")
	}
	if c.active {
		c.mu.Unlock()
		return nil, fmt.Errorf("capture already in progress")
	}
	c.active = true
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	fail := func(err error) (<-chan repositories.CaptureResult, error) {
		c.mu.Lock()
		c.active = false
		c.stop = nil
		c.mu.Unlock()
		return nil, err
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fail(fmt.Errorf("create recording dir: %w", err))
	}

	reader, err := c.source.Open(ctx)
	if err != nil {
		return fail(fmt.Errorf("open audio source: %w", err))
	}

	path := filepath.Join(c.dir, recordingFileName())
	file, err := os.Create(path)
	if err != nil {
		reader.Close()
		return fail(fmt.Errorf("create recording file: %w", err))
	}
	if err := writeWAVHeader(file, 0); err != nil {
		reader.Close()
		file.Close()
		os.Remove(path)
		return fail(fmt.Errorf("write recording header: %w", err))
	}

	session := entities.NewRecordingSession(path, maxSeconds)
	if err := session.Start(c.clk.Now()); err != nil {
		reader.Close()
		file.Close()
		os.Remove(path)
		return fail(err)
	}

	results := make(chan repositories.CaptureResult, 1)
	ceiling := c.clk.Timer(time.Duration(maxSeconds) * time.Second)
	go c.run(ctx, session, reader, file, ceiling, stop, results)

	c.logger.Info("recording started",
		zap.String("file", path), zap.Int("maxSeconds", maxSeconds))
	return results, nil
}

func (c *Capture) run(
	ctx context.Context,
	session *entities.RecordingSession,
	reader io.ReadCloser,
	file *os.File,
	ceiling *clock.Timer,
	stop chan struct{},
	results chan repositories.CaptureResult,
) {
	written := &countingWriter{w: file}
	copyDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(written, reader)
		copyDone <- err
	}()

	var reason entities.StopReason
	var failure error
	drained := false

	select {
	case <-ceiling.C:
		reason = entities.StopReasonCeiling
	case <-stop:
		reason = entities.StopReasonManual
	case <-ctx.Done():
		failure = ctx.Err()
	case err := <-copyDone:
		drained = true
		if err != nil {
			failure = fmt.Errorf("audio source: %w", err)
		} else {
			failure = fmt.Errorf("audio source closed mid-recording")
		}
	}

	ceiling.Stop()
	reader.Close()
	if !drained {
		// The reader is closed, so the copy loop ends promptly. A read
		// error after a deliberate stop is expected, not a failure.
		<-copyDone
	}

	elapsed := int(c.clk.Now().Sub(session.StartedAt) / time.Second)
	session.ElapsedSeconds = elapsed

	if failure == nil {
		failure = finalizeWAV(file, written.n)
	}
	file.Close()

	c.mu.Lock()
	c.active = false
	c.stop = nil
	c.mu.Unlock()

	if failure != nil {
		session.Fail()
		os.Remove(session.FilePath)
		c.logger.Warn("recording aborted", zap.Error(failure))
		results <- repositories.CaptureResult{Err: failure}
		close(results)
		return
	}

	session.Complete()
	c.logger.Info("recording finalized",
		zap.String("file", session.FilePath),
		zap.Int("elapsedSeconds", elapsed),
		zap.String("reason", string(reason)),
		zap.Int64("bytes", written.n))
	results <- repositories.CaptureResult{FilePath: session.FilePath, Reason: reason}
	close(results)
}

// Stop implements repositories.Recorder: finalize the active session early.
func (c *Capture) Stop() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// Release implements repositories.Recorder.
func (c *Capture) Release() {
	c.mu.Lock()
	c.released = true
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
