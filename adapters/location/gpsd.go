// Package location implements best-effort position acquisition. Failure or
// timeout here is normal operation; callers submit without a fix.
package location

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/wardn/wardn/domain/entities"
	"github.com/wardn/wardn/domain/repositories"
)

const defaultGpsdAddr = "localhost:2947"

// GpsdProvider reads a single fix from a gpsd daemon. gpsd speaks
// line-delimited JSON over TCP; a TPV report with a 2D or better mode
// carries the current position.
type GpsdProvider struct {
	Addr   string
	Logger *zap.Logger
}

// Ensure GpsdProvider implements the LocationProvider interface
var _ repositories.LocationProvider = (*GpsdProvider)(nil)

// NewGpsdProvider creates a provider against addr, defaulting to the local
// gpsd socket.
func NewGpsdProvider(addr string, logger *zap.Logger) *GpsdProvider {
	if addr == "" {
		addr = defaultGpsdAddr
	}
	return &GpsdProvider{Addr: addr, Logger: logger}
}

// tpvReport is the subset of gpsd's TPV class the provider cares about.
type tpvReport struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
}

// CurrentPosition implements repositories.LocationProvider. The call is
// bounded by ctx; it dials gpsd, enables the JSON watch and returns the
// first usable TPV report.
func (g *GpsdProvider) CurrentPosition(ctx context.Context) (*entities.GeoPoint, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", g.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial gpsd: %w", err)
	}
	defer conn.Close()

	// Closing the connection is the only way to unblock the read loop when
	// the caller's deadline expires.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprint(conn, "?WATCH={\"enable\":true,\"json\":true};\n"); err != nil {
		return nil, fmt.Errorf("enable gpsd watch: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if report.Class != "TPV" || report.Mode < 2 || report.Lat == nil || report.Lon == nil {
			continue
		}
		g.Logger.Debug("gpsd fix acquired",
			zap.Float64("lat", *report.Lat), zap.Float64("lng", *report.Lon))
		return &entities.GeoPoint{Latitude: *report.Lat, Longitude: *report.Lon}, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read gpsd stream: %w", err)
	}
	return nil, fmt.Errorf("gpsd stream ended without a fix")
}
