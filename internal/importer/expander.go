package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	"github.com/photark/photark-backend/pkg/logger"
)

const (
	expandBatchSize = 500
	fetchTokenTTL   = time.Hour
)

// sessionStepper moves a session along its lifecycle chain. Implemented by
// the sessions service.
type sessionStepper interface {
	Transition(ctx context.Context, sessionID uuid.UUID, target enums.SessionStatus, reason string) error
}

// itemBatcher creates and enqueues expanded items. Implemented by the items
// repository.
type itemBatcher interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, items []*models.SelectionItem) error
	EnqueuePending(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, now time.Time) (int64, error)
}

// Expander materializes a ready session into selection items and walks the
// session through expanding, processing and enqueued. Candidates stream in
// batches so a large library never has to fit in memory.
type Expander struct {
	db       *db.Client
	sessions sessionStepper
	items    itemBatcher
	recorder *audit.Recorder
	logg     *logger.Logger
	now      func() time.Time
}

func NewExpander(
	dbClient *db.Client,
	sessions sessionStepper,
	items itemBatcher,
	recorder *audit.Recorder,
	logg *logger.Logger,
) (*Expander, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("expander: db client is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("expander: session stepper is required")
	}
	if items == nil {
		return nil, fmt.Errorf("expander: item batcher is required")
	}
	return &Expander{
		db:       dbClient,
		sessions: sessions,
		items:    items,
		recorder: recorder,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// readyLister finds confirmed sessions awaiting expansion.
type readyLister interface {
	ListReady(ctx context.Context, limit int) ([]models.ImportSession, error)
}

// Run polls for ready sessions and expands them until the context ends. One
// expansion failure never stops the loop; the session is already parked in
// error by Expand.
func (e *Expander) Run(ctx context.Context, interval time.Duration, lister readyLister, sources map[enums.ImportOrigin]Source) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ready, err := lister.ListReady(ctx, runnableBatchSize)
		if err != nil {
			if e.logg != nil {
				e.logg.Error(ctx, "listing ready sessions", err)
			}
			continue
		}
		for i := range ready {
			source, ok := sources[ready[i].Origin]
			if !ok {
				if e.logg != nil {
					e.logg.Warn(ctx, "no source for origin "+ready[i].Origin.String())
				}
				continue
			}
			if _, err := e.Expand(ctx, &ready[i], source); err != nil && e.logg != nil {
				e.logg.Error(ctx, "expanding session "+ready[i].ID.String(), err)
			}
		}
	}
}

// Expand enumerates the session's source and creates one item per candidate.
// On success the session sits in enqueued with every item claimable; an
// enumeration failure parks the session in error with the cause recorded.
func (e *Expander) Expand(ctx context.Context, session *models.ImportSession, source Source) (int, error) {
	if err := e.sessions.Transition(ctx, session.ID, enums.SessionStatusExpanding, ""); err != nil {
		return 0, err
	}

	total, err := e.createItems(ctx, session, source)
	if err != nil {
		if terr := e.sessions.Transition(ctx, session.ID, enums.SessionStatusError, err.Error()); terr != nil && e.logg != nil {
			e.logg.Error(ctx, "parking session "+session.ID.String()+" after expansion failure", terr)
		}
		return 0, fmt.Errorf("expanding session %s: %w", session.ID, err)
	}

	if err := e.sessions.Transition(ctx, session.ID, enums.SessionStatusProcessing, ""); err != nil {
		return total, err
	}

	now := e.now().UTC()
	if total > 0 {
		err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
			moved, err := e.items.EnqueuePending(ctx, tx, session.ID, now)
			if err != nil {
				return err
			}
			e.recorder.Log(ctx, tx, audit.Entry{
				Level:     enums.AuditLevelInfo,
				Category:  enums.AuditCategoryTransition,
				SessionID: &session.ID,
				Message:   fmt.Sprintf("expansion enqueued %d of %d items", moved, total),
			})
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("enqueueing items for session %s: %w", session.ID, err)
		}
	}

	if err := e.sessions.Transition(ctx, session.ID, enums.SessionStatusEnqueued, ""); err != nil {
		return total, err
	}

	// A session with nothing to import completes immediately.
	if total == 0 {
		if err := e.sessions.Transition(ctx, session.ID, enums.SessionStatusImporting, ""); err != nil {
			return 0, err
		}
		if err := e.sessions.Transition(ctx, session.ID, enums.SessionStatusImported, "no candidates found"); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (e *Expander) createItems(ctx context.Context, session *models.ImportSession, source Source) (int, error) {
	now := e.now().UTC()
	tokenExpiry := now.Add(fetchTokenTTL)

	var batch []*models.SelectionItem
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		pending := batch
		batch = nil
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			return e.items.CreateBatch(ctx, tx, pending)
		})
	}

	err := source.Enumerate(ctx, session, func(c Candidate) error {
		item := &models.SelectionItem{
			ID:        uuid.New(),
			SessionID: session.ID,
			Status:    enums.ItemStatusPending,
		}
		if c.ExternalID != "" {
			id := c.ExternalID
			item.ExternalItemID = &id
		}
		if c.LocalPath != "" {
			path := c.LocalPath
			item.LocalPath = &path
		}
		if c.FetchToken != "" {
			token := c.FetchToken
			expiry := tokenExpiry
			item.FetchToken = &token
			item.FetchTokenExpiresAt = &expiry
		}

		batch = append(batch, item)
		total++
		if len(batch) >= expandBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return total, nil
}
