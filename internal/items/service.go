package items

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	"github.com/photark/photark-backend/pkg/logger"
	"github.com/photark/photark-backend/pkg/metrics"
)

// progressToucher bumps the owning session's last_progress_at inside the
// item's transaction, so recovery staleness tracks real item activity.
type progressToucher interface {
	TouchProgress(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, now time.Time) error
}

// Service is the claim/lock/heartbeat coordinator. Every state mutation and
// lock change commits in a single transaction.
type Service struct {
	db       *db.Client
	repo     *Repository
	recorder *audit.Recorder
	progress progressToucher
	metrics  *metrics.ImportMetrics
	cfg      config.ImportConfig
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(
	dbClient *db.Client,
	repository *Repository,
	recorder *audit.Recorder,
	progress progressToucher,
	importMetrics *metrics.ImportMetrics,
	cfg config.ImportConfig,
	logg *logger.Logger,
) (*Service, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("items service: db client is required")
	}
	if repository == nil {
		return nil, fmt.Errorf("items service: repository is required")
	}
	if cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("items service: lock timeout must be positive")
	}
	return &Service{
		db:       dbClient,
		repo:     repository,
		recorder: recorder,
		progress: progress,
		metrics:  importMetrics,
		cfg:      cfg,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Claim attempts to acquire the item for a worker. A false return with nil
// error means another worker holds a live lock; the caller moves on.
func (s *Service) Claim(ctx context.Context, item *models.SelectionItem, workerID string) (bool, error) {
	now := s.now().UTC()
	won, err := s.repo.TryClaim(ctx, item.ID, workerID, now, s.cfg.LockTimeout)
	if err != nil {
		return false, fmt.Errorf("claiming item %s: %w", item.ID, err)
	}

	if won {
		s.metrics.IncClaim("won")
		s.recorder.Log(ctx, nil, audit.Entry{
			Level:     enums.AuditLevelInfo,
			Category:  enums.AuditCategoryClaim,
			SessionID: &item.SessionID,
			ItemID:    &item.ID,
			Message:   "item claimed",
			Details:   map[string]any{"worker_id": workerID},
			FromState: item.Status.String(),
			ToState:   enums.ItemStatusRunning.String(),
		})
	} else {
		s.metrics.IncClaim("lost")
	}
	return won, nil
}

// Heartbeat renews the worker's lock. A false return means the lock was
// reclaimed; the worker must abandon the item without touching its state.
func (s *Service) Heartbeat(ctx context.Context, itemID uuid.UUID, workerID string) (bool, error) {
	alive, err := s.repo.Heartbeat(ctx, itemID, workerID, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("heartbeat for item %s: %w", itemID, err)
	}
	if !alive && s.logg != nil {
		s.logg.Warn(ctx, "heartbeat no-op, lock was reclaimed for item "+itemID.String())
	}
	return alive, nil
}

// Transition moves the item along a validated edge. Validation happens before
// any mutation; an illegal edge leaves the row untouched. The status change,
// lock release, session progress bump and audit entry commit atomically.
func (s *Service) Transition(ctx context.Context, itemID uuid.UUID, target enums.ItemStatus, reason string) error {
	now := s.now().UTC()

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		item, err := s.repo.GetByID(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := statemachine.ValidateItemTransition(item.Status, target); err != nil {
			return err
		}
		if err := s.repo.ApplyTransition(ctx, tx, item, target, reason, now); err != nil {
			return err
		}
		if s.progress != nil {
			if err := s.progress.TouchProgress(ctx, tx, item.SessionID, now); err != nil {
				return fmt.Errorf("touching session progress: %w", err)
			}
		}

		s.recorder.Log(ctx, tx, audit.Entry{
			Level:     transitionLevel(target),
			Category:  enums.AuditCategoryTransition,
			SessionID: &item.SessionID,
			ItemID:    &item.ID,
			Message:   transitionMessage(target, reason),
			FromState: item.Status.String(),
			ToState:   target.String(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	if target.IsTerminal() {
		s.metrics.IncOutcome(target.String())
	}
	return nil
}

// Guard returns the processing guard for a freshly claimed item: exactly one
// terminal transition fires however the processing scope exits. Use with
// defer guard.Ensure(ctx) right after a successful claim.
func (s *Service) Guard(itemID uuid.UUID) *statemachine.Guard {
	return statemachine.NewGuard(func(ctx context.Context, status enums.ItemStatus, reason string) error {
		return s.Transition(ctx, itemID, status, reason)
	})
}

func transitionLevel(target enums.ItemStatus) enums.AuditLevel {
	if target == enums.ItemStatusFailed {
		return enums.AuditLevelError
	}
	return enums.AuditLevelInfo
}

func transitionMessage(target enums.ItemStatus, reason string) string {
	if reason == "" {
		return "item " + target.String()
	}
	return "item " + target.String() + ": " + reason
}
