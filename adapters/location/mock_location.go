package location

import (
	"context"
	"fmt"

	"github.com/wardn/wardn/domain/entities"
	"github.com/wardn/wardn/domain/repositories"
)

// MockProvider is a canned-fix provider for tests and local development.
type MockProvider struct {
	// Fix is returned when set; otherwise the provider reports no fix.
	Fix *entities.GeoPoint
	// Err overrides Fix when set.
	Err error
	// CurrentPositionFunc overrides everything when set.
	CurrentPositionFunc func(ctx context.Context) (*entities.GeoPoint, error)
}

// Ensure MockProvider implements the LocationProvider interface
var _ repositories.LocationProvider = (*MockProvider)(nil)

// CurrentPosition implements repositories.LocationProvider.
func (m *MockProvider) CurrentPosition(ctx context.Context) (*entities.GeoPoint, error) {
	if m.CurrentPositionFunc != nil {
		return m.CurrentPositionFunc(ctx)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Fix == nil {
		return nil, fmt.Errorf("no fix available")
	}
	point := *m.Fix
	return &point, nil
}
