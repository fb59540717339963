package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// CommandSource captures PCM by running a recorder command (arecord by
// default) and reading its stdout. This is the microphone path on a Linux
// agent; tests use StreamSource instead.
type CommandSource struct {
	// Command and args override the default arecord invocation.
	Command string
	Args    []string
}

// Open implements Source.
func (s *CommandSource) Open(ctx context.Context) (io.ReadCloser, error) {
	command := s.Command
	args := s.Args
	if command == "" {
		command = "arecord"
		args = []string{
			"-q",
			"-f", "S16_LE",
			"-r", strconv.Itoa(captureSampleRate),
			"-c", strconv.Itoa(captureChannels),
			"-t", "raw",
		}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture command: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture command: %w", err)
	}
	return &processReader{ReadCloser: stdout, cmd: cmd}, nil
}

type processReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (r *processReader) Close() error {
	r.ReadCloser.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	// Reap the process; the kill above makes the error uninteresting.
	r.cmd.Wait()
	return nil
}

// CommandSink plays PCM by piping it into a player command (aplay by
// default).
type CommandSink struct {
	Command string
	Args    []string
}

// Open implements Sink.
func (s *CommandSink) Open(ctx context.Context) (io.WriteCloser, error) {
	command := s.Command
	args := s.Args
	if command == "" {
		command = "aplay"
		args = []string{
			"-q",
			"-f", "S16_LE",
			"-r", strconv.Itoa(captureSampleRate),
			"-c", strconv.Itoa(captureChannels),
			"-t", "raw",
		}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("playback command: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("playback command: %w", err)
	}
	return &processWriter{WriteCloser: stdin, cmd: cmd}, nil
}

type processWriter struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (w *processWriter) Close() error {
	w.WriteCloser.Close()
	w.cmd.Wait()
	return nil
}

// StreamSource adapts a ready io.ReadCloser as a Source. Used by tests and
// by integrations that already own the device stream.
type StreamSource struct {
	Reader io.ReadCloser
}

// Open implements Source.
func (s *StreamSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.Reader == nil {
		return nil, fmt.Errorf("no stream attached")
	}
	return s.Reader, nil
}

// WriterSink adapts an io.Writer as a Sink.
type WriterSink struct {
	Writer io.Writer
}

// Open implements Sink.
func (s *WriterSink) Open(ctx context.Context) (io.WriteCloser, error) {
	return nopWriteCloser{s.Writer}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
