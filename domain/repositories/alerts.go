package repositories

import (
	"context"
	"errors"

	"github.com/wardn/wardn/domain/entities"
)

// ErrNotFound is returned when the backend has no record for the requested
// id. For live positions this means "no fix stored yet", which callers treat
// as missing data rather than a failure.
var ErrNotFound = errors.New("not found")

// ErrNoContacts is returned when a trigger path is attempted while the user
// has no active emergency contact configured.
var ErrNoContacts = errors.New("no emergency contacts configured")

// AlertService is the client contract against the safety backend.
// Implementations are stateless and safe to share across controllers.
type AlertService interface {
	// CreateAlert submits a draft, uploading the attached voice clip when
	// present. Either the alert plus audio is fully recorded server-side or
	// nothing is; a failure is retryable by re-triggering.
	CreateAlert(ctx context.Context, draft *entities.AlertDraft) (int64, error)

	// GetAlertByID fetches the full record for a received alert.
	GetAlertByID(ctx context.Context, id int64) (*entities.AlertRecord, error)

	// GetLivePosition fetches the dependent's current best-known fix.
	// Returns ErrNotFound when no fix has ever been stored.
	GetLivePosition(ctx context.Context, dependentUserID int64) (*entities.LivePosition, error)

	// HasEmergencyContacts reports whether at least one active emergency
	// contact is configured for the authenticated user.
	HasEmergencyContacts(ctx context.Context) (bool, error)
}
