package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/repo"
	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
)

// ErrSessionNotFound is returned when a session id resolves to no row.
var ErrSessionNotFound = errors.New("import session not found")

// Repository owns import_sessions persistence.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create inserts a new session.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, session *models.ImportSession) error {
	return r.Conn(ctx, tx).Create(session).Error
}

// GetByID loads one session.
func (r *Repository) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.ImportSession, error) {
	var session models.ImportSession
	err := r.Conn(ctx, tx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateStatus persists a validated status change, compare-and-set on the
// previous status so concurrent transitions cannot clobber each other.
func (r *Repository) UpdateStatus(ctx context.Context, tx *gorm.DB, session *models.ImportSession, target enums.SessionStatus, now time.Time) error {
	result := r.Conn(ctx, tx).
		Model(&models.ImportSession{}).
		Where("id = ? AND status = ?", session.ID, session.Status).
		Updates(map[string]any{
			"status":     target,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("session %s moved out of %s before transition to %s", session.ID, session.Status, target)
	}
	return nil
}

// TouchProgress bumps last_progress_at. Item transitions call this in their
// own transaction so staleness tracks real activity.
func (r *Repository) TouchProgress(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, now time.Time) error {
	return r.Conn(ctx, tx).
		Model(&models.ImportSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"last_progress_at": now,
			"updated_at":       now,
		}).Error
}

// UpdateStats writes the recomputed stats snapshot.
func (r *Repository) UpdateStats(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, counts statemachine.ItemStateCounts, now time.Time) error {
	return r.Conn(ctx, tx).
		Model(&models.ImportSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"item_count":       counts.Total(),
			"imported_count":   counts.Imported,
			"duplicate_count":  counts.Duplicate,
			"failed_count":     counts.Failed,
			"processing_count": counts.Pending + counts.Enqueued + counts.Running,
			"updated_at":       now,
		}).Error
}

// ListReady returns confirmed sessions awaiting expansion, oldest first.
func (r *Repository) ListReady(ctx context.Context, limit int) ([]models.ImportSession, error) {
	var sessions []models.ImportSession
	err := r.DB(ctx).
		Where("status = ?", enums.SessionStatusReady).
		Order("created_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListRunnable returns sessions with claimable work, oldest first. Workers
// poll this to decide where to spend their next claim.
func (r *Repository) ListRunnable(ctx context.Context, limit int) ([]models.ImportSession, error) {
	var sessions []models.ImportSession
	err := r.DB(ctx).
		Where("status IN ?", []enums.SessionStatus{
			enums.SessionStatusEnqueued,
			enums.SessionStatusImporting,
		}).
		Order("created_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListStale returns sessions of one origin in an active phase whose progress
// stalled before the cutoff. Sessions that never progressed fall back to
// their creation time.
func (r *Repository) ListStale(ctx context.Context, origin enums.ImportOrigin, cutoff time.Time) ([]models.ImportSession, error) {
	var sessions []models.ImportSession
	err := r.DB(ctx).
		Where("origin = ?", origin).
		Where("status IN ?", []enums.SessionStatus{
			enums.SessionStatusProcessing,
			enums.SessionStatusImporting,
		}).
		Where("(last_progress_at IS NOT NULL AND last_progress_at < ?) OR (last_progress_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Order("created_at ASC").
		Find(&sessions).Error
	return sessions, err
}
