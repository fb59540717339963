package backend

import (
	"context"
	"sync"

	"github.com/wardn/wardn/domain/entities"
	"github.com/wardn/wardn/domain/repositories"
)

// MockService is a scriptable in-memory AlertService for tests and local
// development. Behavior is overridden per call through the function fields;
// unset fields fall back to permissive defaults.
type MockService struct {
	CreateAlertFunc          func(ctx context.Context, draft *entities.AlertDraft) (int64, error)
	GetAlertByIDFunc         func(ctx context.Context, id int64) (*entities.AlertRecord, error)
	GetLivePositionFunc      func(ctx context.Context, dependentUserID int64) (*entities.LivePosition, error)
	HasEmergencyContactsFunc func(ctx context.Context) (bool, error)

	mu        sync.Mutex
	submitted []*entities.AlertDraft
	nextID    int64
}

// Ensure MockService implements the AlertService interface
var _ repositories.AlertService = (*MockService)(nil)

// NewMockService creates a mock that accepts every alert and knows one
// dependent with no live position yet.
func NewMockService() *MockService {
	return &MockService{}
}

// CreateAlert implements repositories.AlertService.
func (m *MockService) CreateAlert(ctx context.Context, draft *entities.AlertDraft) (int64, error) {
	if m.CreateAlertFunc != nil {
		id, err := m.CreateAlertFunc(ctx, draft)
		if err != nil {
			return 0, err
		}
		m.recordSubmission(draft)
		return id, nil
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	m.recordSubmission(draft)
	return id, nil
}

func (m *MockService) recordSubmission(draft *entities.AlertDraft) {
	m.mu.Lock()
	m.submitted = append(m.submitted, draft)
	m.mu.Unlock()
}

// Submitted returns every draft that was accepted, in order.
func (m *MockService) Submitted() []*entities.AlertDraft {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entities.AlertDraft, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// GetAlertByID implements repositories.AlertService.
func (m *MockService) GetAlertByID(ctx context.Context, id int64) (*entities.AlertRecord, error) {
	if m.GetAlertByIDFunc != nil {
		return m.GetAlertByIDFunc(ctx, id)
	}
	return nil, repositories.ErrNotFound
}

// GetLivePosition implements repositories.AlertService.
func (m *MockService) GetLivePosition(ctx context.Context, dependentUserID int64) (*entities.LivePosition, error) {
	if m.GetLivePositionFunc != nil {
		return m.GetLivePositionFunc(ctx, dependentUserID)
	}
	return nil, repositories.ErrNotFound
}

// HasEmergencyContacts implements repositories.AlertService.
func (m *MockService) HasEmergencyContacts(ctx context.Context) (bool, error) {
	if m.HasEmergencyContactsFunc != nil {
		return m.HasEmergencyContactsFunc(ctx)
	}
	return true, nil
}
