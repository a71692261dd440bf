package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/repo"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
)

// Repository persists audit trail rows. The table is append-only; the only
// mutation besides insert is the retention sweep.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create inserts an entry, joining the caller's transaction when one is
// supplied so diagnostics commit atomically with the state change they record.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, entry *models.AuditLogEntry) error {
	return r.Conn(ctx, tx).Create(entry).Error
}

// ErrorTypeCount is one row of the per-session error histogram, keyed by the
// error taxonomy category recorded in error_type.
type ErrorTypeCount struct {
	ErrorType string
	Count     int64
}

// ErrorCountsBySession aggregates error-level entries for a session, grouped
// by error taxonomy category, most frequent first.
func (r *Repository) ErrorCountsBySession(ctx context.Context, sessionID uuid.UUID) ([]ErrorTypeCount, error) {
	var counts []ErrorTypeCount
	err := r.DB(ctx).
		Model(&models.AuditLogEntry{}).
		Select("error_type, COUNT(*) AS count").
		Where("session_id = ? AND level = ? AND error_type IS NOT NULL", sessionID, enums.AuditLevelError).
		Group("error_type").
		Order("count DESC, error_type ASC").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// RecentErrorsBySession returns the newest error-level entries for a session.
func (r *Repository) RecentErrorsBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := r.DB(ctx).
		Where("session_id = ? AND level = ?", sessionID, enums.AuditLevelError).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteOlderThan removes entries whose timestamp precedes the cutoff and
// reports how many rows were swept.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.DB(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.AuditLogEntry{})
	return result.RowsAffected, result.Error
}
