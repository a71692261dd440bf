package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	"github.com/photark/photark-backend/pkg/logger"
)

// itemCounter recomputes the per-status distribution of a session's items.
// Implemented by the items repository.
type itemCounter interface {
	CountByStatus(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (map[enums.ItemStatus]int64, error)
}

// Service owns session lifecycle transitions and the stats snapshot. The
// snapshot is always recomputed from the items table, never incremented in
// place, so re-running it is idempotent.
type Service struct {
	db       *db.Client
	repo     *Repository
	items    itemCounter
	recorder *audit.Recorder
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(
	dbClient *db.Client,
	repository *Repository,
	items itemCounter,
	recorder *audit.Recorder,
	logg *logger.Logger,
) (*Service, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("sessions service: db client is required")
	}
	if repository == nil {
		return nil, fmt.Errorf("sessions service: repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("sessions service: item counter is required")
	}
	return &Service{
		db:       dbClient,
		repo:     repository,
		items:    items,
		recorder: recorder,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Create registers a new session in pending.
func (s *Service) Create(ctx context.Context, origin enums.ImportOrigin, externalToken *string, expiresAt *time.Time) (*models.ImportSession, error) {
	if !origin.IsValid() {
		return nil, fmt.Errorf("sessions service: invalid origin %q", origin)
	}
	session := &models.ImportSession{
		ID:            uuid.New(),
		Origin:        origin,
		Status:        enums.SessionStatusPending,
		ExternalToken: externalToken,
		ExpiresAt:     expiresAt,
	}
	if err := s.repo.Create(ctx, nil, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session, nil
}

// Transition moves the session along a validated edge and records it in the
// audit trail within the same transaction.
func (s *Service) Transition(ctx context.Context, sessionID uuid.UUID, target enums.SessionStatus, reason string) error {
	now := s.now().UTC()

	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		session, err := s.repo.GetByID(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := statemachine.ValidateSessionTransition(session.Status, target); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, session, target, now); err != nil {
			return err
		}

		level := enums.AuditLevelInfo
		if target == enums.SessionStatusError || target == enums.SessionStatusFailed {
			level = enums.AuditLevelError
		}
		message := "session " + target.String()
		if reason != "" {
			message += ": " + reason
		}
		s.recorder.Log(ctx, tx, audit.Entry{
			Level:     level,
			Category:  enums.AuditCategoryTransition,
			SessionID: &session.ID,
			Message:   message,
			FromState: session.Status.String(),
			ToState:   target.String(),
		})
		return nil
	})
}

// Stats recomputes the item distribution for a session from the items table.
func (s *Service) Stats(ctx context.Context, sessionID uuid.UUID) (statemachine.ItemStateCounts, error) {
	counts, err := s.items.CountByStatus(ctx, nil, sessionID)
	if err != nil {
		return statemachine.ItemStateCounts{}, fmt.Errorf("counting session items: %w", err)
	}
	return countsFromMap(counts), nil
}

// RefreshStats recomputes the distribution and persists the snapshot.
func (s *Service) RefreshStats(ctx context.Context, sessionID uuid.UUID) (statemachine.ItemStateCounts, error) {
	now := s.now().UTC()
	var counts statemachine.ItemStateCounts

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		raw, err := s.items.CountByStatus(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		counts = countsFromMap(raw)
		return s.repo.UpdateStats(ctx, tx, sessionID, counts, now)
	})
	if err != nil {
		return statemachine.ItemStateCounts{}, fmt.Errorf("refreshing session stats: %w", err)
	}
	return counts, nil
}

func countsFromMap(raw map[enums.ItemStatus]int64) statemachine.ItemStateCounts {
	return statemachine.ItemStateCounts{
		Pending:   int(raw[enums.ItemStatusPending]),
		Enqueued:  int(raw[enums.ItemStatusEnqueued]),
		Running:   int(raw[enums.ItemStatusRunning]),
		Imported:  int(raw[enums.ItemStatusImported]),
		Duplicate: int(raw[enums.ItemStatusDuplicate]),
		Failed:    int(raw[enums.ItemStatusFailed]),
		Expired:   int(raw[enums.ItemStatusExpired]),
		Skipped:   int(raw[enums.ItemStatusSkipped]),
	}
}
