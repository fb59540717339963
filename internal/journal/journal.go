// Package journal keeps a local, durable record of alert submissions: an
// intent row is written before the network call and resolved to sent or
// failed afterwards. A pending row that survives a restart is evidence of a
// submission whose outcome was never observed.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wardn/wardn/domain/entities"
)

// Submission statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Entry is one journalled submission attempt.
type Entry struct {
	ID          string `gorm:"primaryKey"`
	TriggerType string
	EventType   string
	HasAudio    bool
	Latitude    *float64
	Longitude   *float64
	Status      string `gorm:"index"`
	AlertID     int64
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (Entry) TableName() string { return "submission_journal" }

// Store is a sqlite-backed journal.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the journal database at path. An empty
// path opens an in-memory journal, which tests use.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		path = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// RecordIntent writes a pending row for a draft about to be submitted and
// returns the intent id.
func (s *Store) RecordIntent(ctx context.Context, draft *entities.AlertDraft) (string, error) {
	entry := Entry{
		ID:          uuid.NewString(),
		TriggerType: string(draft.TriggerKind),
		EventType:   draft.EventType,
		HasAudio:    draft.HasAudio(),
		Status:      StatusPending,
	}
	if draft.Location != nil {
		entry.Latitude = &draft.Location.Latitude
		entry.Longitude = &draft.Location.Longitude
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return "", fmt.Errorf("journal intent: %w", err)
	}
	return entry.ID, nil
}

// MarkSent resolves an intent with the backend-assigned alert id.
func (s *Store) MarkSent(ctx context.Context, intentID string, alertID int64) error {
	return s.resolve(ctx, intentID, map[string]interface{}{
		"status":   StatusSent,
		"alert_id": alertID,
	})
}

// MarkFailed resolves an intent as failed.
func (s *Store) MarkFailed(ctx context.Context, intentID string, reason string) error {
	return s.resolve(ctx, intentID, map[string]interface{}{
		"status": StatusFailed,
		"reason": reason,
	})
}

func (s *Store) resolve(ctx context.Context, intentID string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&Entry{}).Where("id = ?", intentID).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("journal update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("journal update: unknown intent %s", intentID)
	}
	return nil
}

// Unresolved returns intents still pending, oldest first. Called at startup
// to log submissions whose outcome was lost to a crash.
func (s *Store) Unresolved(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
