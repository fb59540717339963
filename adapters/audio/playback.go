package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wardn/wardn/domain/repositories"
)

const (
	// playTick paces the PCM stream into the sink; one tick pushes one
	// tick's worth of bytes at the clip's byte rate.
	playTick = 100 * time.Millisecond

	fetchTimeout = 30 * time.Second
)

// Sink consumes raw PCM audio, typically a speaker device.
type Sink interface {
	Open(ctx context.Context) (io.WriteCloser, error)
}

// Playback decodes a WAV clip and streams it into a Sink, reporting position
// and duration as they become known. Clips are ceiling-bounded recordings,
// so the whole clip is held in memory.
type Playback struct {
	sink       Sink
	clk        clock.Clock
	logger     *zap.Logger
	httpClient *http.Client

	mu       sync.Mutex
	data     []byte
	info     wavInfo
	offset   int
	state    repositories.PlayerState
	out      io.WriteCloser
	quit     chan struct{}
	released bool

	updates chan repositories.PlayerStatus
}

// Ensure Playback implements the Player interface
var _ repositories.Player = (*Playback)(nil)

// NewPlayback creates a playback engine.
func NewPlayback(sink Sink, clk clock.Clock, logger *zap.Logger) *Playback {
	return &Playback{
		sink:       sink,
		clk:        clk,
		logger:     logger,
		httpClient: &http.Client{Timeout: fetchTimeout},
		state:      repositories.PlayerStateIdle,
		updates:    make(chan repositories.PlayerStatus, 16),
	}
}

// Load implements repositories.Player. Remote URLs are fetched over HTTP;
// anything without an http scheme is treated as a local file path.
func (p *Playback) Load(ctx context.Context, source string) error {
	raw, err := p.readClip(ctx, source)
	if err != nil {
		return err
	}
	info, err := parseWAV(raw)
	if err != nil {
		return fmt.Errorf("decode clip %s: %w", source, err)
	}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return fmt.Errorf("playback engine released")
	}
	p.stopLocked()
	p.data = raw
	p.info = info
	p.offset = 0
	p.state = repositories.PlayerStateIdle
	p.emitLocked()
	p.mu.Unlock()

	p.logger.Info("clip loaded",
		zap.String("source", source),
		zap.Duration("duration", info.duration()))
	return nil
}

func (p *Playback) readClip(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch clip: %w", err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch clip: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch clip: server returned %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("fetch clip: %w", err)
		}
		return raw, nil
	}

	raw, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	return raw, nil
}

// Play implements repositories.Player. Calling Play while already playing is
// a no-op; playing a completed clip restarts it from the beginning.
func (p *Playback) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return fmt.Errorf("playback engine released")
	}
	if p.data == nil {
		return fmt.Errorf("no clip loaded")
	}
	if p.state == repositories.PlayerStatePlaying {
		return nil
	}
	if p.state == repositories.PlayerStateCompleted {
		p.offset = 0
	}

	if p.out == nil {
		out, err := p.sink.Open(context.Background())
		if err != nil {
			return fmt.Errorf("open audio sink: %w", err)
		}
		p.out = out
	}

	p.state = repositories.PlayerStatePlaying
	quit := make(chan struct{})
	p.quit = quit
	go p.stream(quit)
	p.emitLocked()
	return nil
}

func (p *Playback) stream(quit chan struct{}) {
	ticker := p.clk.Ticker(playTick)
	defer ticker.Stop()

	bytesPerTick := int(p.info.byteRate / 10)
	if bytesPerTick < 2 {
		bytesPerTick = 2
	}

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.state != repositories.PlayerStatePlaying {
				p.mu.Unlock()
				return
			}
			start := p.info.dataOffset + p.offset
			end := start + bytesPerTick
			if end > p.info.dataOffset+p.info.dataSize {
				end = p.info.dataOffset + p.info.dataSize
			}
			chunk := p.data[start:end]
			out := p.out
			p.offset += len(chunk)
			done := p.offset >= p.info.dataSize
			if done {
				p.state = repositories.PlayerStateCompleted
				p.quit = nil
			}
			p.emitLocked()
			p.mu.Unlock()

			if len(chunk) > 0 {
				if _, err := out.Write(chunk); err != nil {
					p.mu.Lock()
					if p.state == repositories.PlayerStatePlaying {
						p.state = repositories.PlayerStatePaused
						p.quit = nil
					}
					p.emitLocked()
					p.mu.Unlock()
					p.logger.Warn("audio sink write failed", zap.Error(err))
					return
				}
			}
			if done {
				return
			}
		}
	}
}

// Pause implements repositories.Player. A no-op unless currently playing.
func (p *Playback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != repositories.PlayerStatePlaying {
		return nil
	}
	p.state = repositories.PlayerStatePaused
	p.stopLocked()
	p.emitLocked()
	return nil
}

// Seek implements repositories.Player.
func (p *Playback) Seek(position time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		return fmt.Errorf("no clip loaded")
	}

	if position < 0 {
		position = 0
	}
	if d := p.info.duration(); position > d {
		position = d
	}
	offset := int(position.Seconds() * float64(p.info.byteRate))
	offset -= offset % 2 // sample alignment
	if offset > p.info.dataSize {
		offset = p.info.dataSize
	}
	p.offset = offset
	if p.state == repositories.PlayerStateCompleted && offset < p.info.dataSize {
		p.state = repositories.PlayerStatePaused
	}
	p.emitLocked()
	return nil
}

// Status implements repositories.Player.
func (p *Playback) Status() repositories.PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Playback) statusLocked() repositories.PlayerStatus {
	status := repositories.PlayerStatus{State: p.state}
	if p.data != nil {
		status.Duration = p.info.duration()
		if p.info.byteRate > 0 {
			status.Position = time.Duration(float64(p.offset) / float64(p.info.byteRate) * float64(time.Second))
		}
	}
	return status
}

// Updates implements repositories.Player.
func (p *Playback) Updates() <-chan repositories.PlayerStatus {
	return p.updates
}

// Release implements repositories.Player.
func (p *Playback) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.stopLocked()
	if p.out != nil {
		p.out.Close()
		p.out = nil
	}
	p.mu.Unlock()
	close(p.updates)
}

// stopLocked halts the streaming goroutine. Callers hold p.mu.
func (p *Playback) stopLocked() {
	if p.quit != nil {
		close(p.quit)
		p.quit = nil
	}
}

func (p *Playback) emitLocked() {
	if p.released {
		return
	}
	select {
	case p.updates <- p.statusLocked():
	default:
	}
}
