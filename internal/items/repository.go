package items

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/repo"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
)

// ErrItemNotFound is returned when an item id resolves to no row.
var ErrItemNotFound = errors.New("selection item not found")

// Repository owns selection_items persistence. Claiming is a single
// conditional UPDATE so concurrent workers are serialized by the store,
// never by read-then-write in application code.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// CreateBatch inserts expanded items inside the caller's transaction.
func (r *Repository) CreateBatch(ctx context.Context, tx *gorm.DB, items []*models.SelectionItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.Conn(ctx, tx).Create(items).Error
}

// GetByID loads one item.
func (r *Repository) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.SelectionItem, error) {
	var item models.SelectionItem
	err := r.Conn(ctx, tx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListBySession returns every item owned by a session.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.SelectionItem, error) {
	var items []models.SelectionItem
	err := r.DB(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// FindClaimable returns items a worker may attempt to claim: queued and
// unlocked, or any live claim whose heartbeat passed the timeout. Stale
// running items count; a crashed worker's lock must stay reclaimable.
// Candidates only; the claim itself is still decided by TryClaim.
func (r *Repository) FindClaimable(ctx context.Context, sessionID uuid.UUID, limit int, now time.Time, lockTimeout time.Duration) ([]models.SelectionItem, error) {
	var items []models.SelectionItem
	err := r.DB(ctx).
		Where("session_id = ?", sessionID).
		Where(claimableClause, claimableStatuses(), reclaimableStatuses(), now.Add(-lockTimeout)).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// EnqueuePending moves a session's pending items to enqueued in one UPDATE.
// Used at the end of expansion, before workers start claiming.
func (r *Repository) EnqueuePending(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, now time.Time) (int64, error) {
	result := r.Conn(ctx, tx).
		Model(&models.SelectionItem{}).
		Where("session_id = ? AND status = ?", sessionID, enums.ItemStatusPending).
		Updates(map[string]any{
			"status":     enums.ItemStatusEnqueued,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

// TryClaim attempts the atomic claim. The WHERE clause carries the whole
// protocol: queued and unlocked, or a lock whose heartbeat is older than the
// timeout. The second branch includes running, so an item a crashed worker
// left mid-flight is taken over once its heartbeat goes stale. RowsAffected
// decides the winner, so two concurrent claims can never both succeed.
func (r *Repository) TryClaim(ctx context.Context, itemID uuid.UUID, workerID string, now time.Time, lockTimeout time.Duration) (bool, error) {
	if workerID == "" {
		return false, fmt.Errorf("worker id is required")
	}

	result := r.DB(ctx).
		Model(&models.SelectionItem{}).
		Where("id = ?", itemID).
		Where(claimableClause, claimableStatuses(), reclaimableStatuses(), now.Add(-lockTimeout)).
		Updates(map[string]any{
			"status":            enums.ItemStatusRunning,
			"lock_owner":        workerID,
			"lock_heartbeat_at": now,
			"started_at":        now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Heartbeat renews the lock while the worker still owns it. Returns false
// without error when the lock was reclaimed; the caller must stop working on
// the item.
func (r *Repository) Heartbeat(ctx context.Context, itemID uuid.UUID, workerID string, now time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.SelectionItem{}).
		Where("id = ? AND lock_owner = ? AND status = ?", itemID, workerID, enums.ItemStatusRunning).
		Updates(map[string]any{
			"lock_heartbeat_at": now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ApplyTransition persists a validated status change. Terminal states release
// the lock in the same UPDATE; the requeue edge increments attempt_count
// atomically in SQL.
func (r *Repository) ApplyTransition(ctx context.Context, tx *gorm.DB, item *models.SelectionItem, target enums.ItemStatus, reason string, now time.Time) error {
	updates := map[string]any{
		"status":     target,
		"updated_at": now,
	}
	if target.IsTerminal() {
		updates["lock_owner"] = nil
		updates["lock_heartbeat_at"] = nil
		updates["completed_at"] = now
	}
	if target == enums.ItemStatusEnqueued {
		// Requeue: release the lock and count the attempt.
		updates["lock_owner"] = nil
		updates["lock_heartbeat_at"] = nil
		updates["attempt_count"] = gorm.Expr("attempt_count + 1")
	}
	if reason != "" && (target == enums.ItemStatusFailed || target == enums.ItemStatusExpired || target == enums.ItemStatusSkipped) {
		updates["error_message"] = reason
	}

	result := r.Conn(ctx, tx).
		Model(&models.SelectionItem{}).
		Where("id = ? AND status = ?", item.ID, item.Status).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("item %s moved out of %s before transition to %s", item.ID, item.Status, target)
	}
	return nil
}

// CountByStatus recomputes the per-status distribution for a session.
func (r *Repository) CountByStatus(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (map[enums.ItemStatus]int64, error) {
	type row struct {
		Status enums.ItemStatus
		Count  int64
	}
	var rows []row
	err := r.Conn(ctx, tx).
		Model(&models.SelectionItem{}).
		Select("status, COUNT(*) AS count").
		Where("session_id = ?", sessionID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[enums.ItemStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// claimableClause gates both candidate listing and the claim itself. Args:
// queued statuses, reclaimable statuses, heartbeat cutoff.
const claimableClause = "(status IN ? AND lock_owner IS NULL) OR (status IN ? AND lock_heartbeat_at < ?)"

func claimableStatuses() []enums.ItemStatus {
	return []enums.ItemStatus{enums.ItemStatusPending, enums.ItemStatusEnqueued}
}

// reclaimableStatuses adds running: a stale heartbeat makes even an in-flight
// claim takeable, otherwise a crashed worker's lock would be permanent.
func reclaimableStatuses() []enums.ItemStatus {
	return []enums.ItemStatus{enums.ItemStatusPending, enums.ItemStatusEnqueued, enums.ItemStatusRunning}
}
