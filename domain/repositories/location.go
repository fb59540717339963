package repositories

import (
	"context"

	"github.com/wardn/wardn/domain/entities"
)

// LocationProvider answers best-effort single-shot position queries.
// A fix request is bounded by the caller's context; timeout or failure is
// normal operation and callers degrade to "no location".
type LocationProvider interface {
	CurrentPosition(ctx context.Context) (*entities.GeoPoint, error)
}
