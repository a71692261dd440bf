package importer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	"github.com/photark/photark-backend/pkg/logger"
	"github.com/photark/photark-backend/pkg/outbox"
)

const runnableBatchSize = 5

// itemClaimer is the claim/lock surface of the items service.
type itemClaimer interface {
	Claim(ctx context.Context, item *models.SelectionItem, workerID string) (bool, error)
	Heartbeat(ctx context.Context, itemID uuid.UUID, workerID string) (bool, error)
	Guard(itemID uuid.UUID) *statemachine.Guard
}

// claimableLister finds items a worker may try to claim.
type claimableLister interface {
	FindClaimable(ctx context.Context, sessionID uuid.UUID, limit int, now time.Time, lockTimeout time.Duration) ([]models.SelectionItem, error)
}

// itemProcessor runs one claimed item to a terminal state.
type itemProcessor interface {
	Process(ctx context.Context, session *models.ImportSession, item *models.SelectionItem, fetcher Fetcher, guard *statemachine.Guard) error
}

// runnableLister finds sessions with claimable work.
type runnableLister interface {
	ListRunnable(ctx context.Context, limit int) ([]models.ImportSession, error)
}

// sessionFinisher moves sessions along the chain and refreshes their stats.
type sessionFinisher interface {
	Transition(ctx context.Context, sessionID uuid.UUID, target enums.SessionStatus, reason string) error
	RefreshStats(ctx context.Context, sessionID uuid.UUID) (statemachine.ItemStateCounts, error)
}

// activityRegistry marks live worker activity so the recovery scanner never
// recovers a session that is actually being worked.
type activityRegistry interface {
	Register(ctx context.Context, sessionID uuid.UUID, workerID string) error
	Renew(ctx context.Context, sessionID uuid.UUID, workerID string) error
	Deregister(ctx context.Context, sessionID uuid.UUID) error
}

// Pool runs the import workers. Each worker polls for runnable sessions,
// claims items one at a time and keeps its locks alive while processing.
type Pool struct {
	db        *db.Client
	sessions  sessionFinisher
	runnable  runnableLister
	items     itemClaimer
	claimable claimableLister
	processor itemProcessor
	fetchers  map[enums.ImportOrigin]Fetcher
	tasks     activityRegistry
	throttle  *Throttle
	outbox    *outbox.Service
	cfg       config.ImportConfig
	logg      *logger.Logger
	now       func() time.Time
	baseID    string
}

func NewPool(
	dbClient *db.Client,
	sessions sessionFinisher,
	runnable runnableLister,
	items itemClaimer,
	claimable claimableLister,
	processor itemProcessor,
	fetchers map[enums.ImportOrigin]Fetcher,
	tasks activityRegistry,
	throttle *Throttle,
	outboxSvc *outbox.Service,
	cfg config.ImportConfig,
	logg *logger.Logger,
) (*Pool, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("pool: db client is required")
	}
	if sessions == nil || runnable == nil {
		return nil, fmt.Errorf("pool: session collaborators are required")
	}
	if items == nil || claimable == nil {
		return nil, fmt.Errorf("pool: item collaborators are required")
	}
	if processor == nil {
		return nil, fmt.Errorf("pool: processor is required")
	}
	if len(fetchers) == 0 {
		return nil, fmt.Errorf("pool: at least one fetcher is required")
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("pool: worker count must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("pool: poll interval must be positive")
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &Pool{
		db:        dbClient,
		sessions:  sessions,
		runnable:  runnable,
		items:     items,
		claimable: claimable,
		processor: processor,
		fetchers:  fetchers,
		tasks:     tasks,
		throttle:  throttle,
		outbox:    outboxSvc,
		cfg:       cfg,
		logg:      logg,
		now:       time.Now,
		baseID:    fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}, nil
}

// Run blocks until the context is canceled, keeping WorkerCount workers
// polling for claimable items.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-%d", p.baseID, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	logCtx := ctx
	if p.logg != nil {
		logCtx = p.logg.WithWorkerID(ctx, workerID)
		p.logg.Info(logCtx, "import worker started")
	}

	for {
		if err := p.throttle.Wait(logCtx); err != nil {
			return
		}

		worked, err := p.pollOnce(logCtx, workerID)
		if err != nil {
			if p.logg != nil {
				p.logg.Error(logCtx, "worker poll failed", err)
			}
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			if p.logg != nil {
				p.logg.Info(logCtx, "import worker stopped")
			}
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// pollOnce works through every runnable session once. Returns true when at
// least one item was claimed, so a busy worker skips the poll backoff.
func (p *Pool) pollOnce(ctx context.Context, workerID string) (bool, error) {
	sessions, err := p.runnable.ListRunnable(ctx, runnableBatchSize)
	if err != nil {
		return false, fmt.Errorf("listing runnable sessions: %w", err)
	}

	worked := false
	for i := range sessions {
		if ctx.Err() != nil {
			return worked, nil
		}
		claimed, err := p.workSession(ctx, &sessions[i], workerID)
		if err != nil && p.logg != nil {
			p.logg.Error(ctx, "session work failed: "+sessions[i].ID.String(), err)
		}
		worked = worked || claimed
	}
	return worked, nil
}

func (p *Pool) workSession(ctx context.Context, session *models.ImportSession, workerID string) (bool, error) {
	fetcher, ok := p.fetchers[session.Origin]
	if !ok {
		return false, fmt.Errorf("no fetcher for origin %s", session.Origin)
	}

	if session.Status == enums.SessionStatusEnqueued {
		// Racing workers are fine: exactly one wins the CAS, the rest see
		// the session already importing.
		if err := p.sessions.Transition(ctx, session.ID, enums.SessionStatusImporting, ""); err == nil {
			session.Status = enums.SessionStatusImporting
		}
	}

	if p.tasks != nil {
		if err := p.tasks.Register(ctx, session.ID, workerID); err != nil && p.logg != nil {
			p.logg.Warn(ctx, "registering session activity failed: "+err.Error())
		}
	}

	candidates, err := p.claimable.FindClaimable(ctx, session.ID, p.cfg.WorkerCount, p.now().UTC(), p.cfg.LockTimeout)
	if err != nil {
		return false, fmt.Errorf("finding claimable items: %w", err)
	}

	claimedAny := false
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		won, err := p.items.Claim(ctx, &candidates[i], workerID)
		if err != nil {
			return claimedAny, err
		}
		if !won {
			continue
		}
		claimedAny = true
		p.runItem(ctx, session, &candidates[i], fetcher, workerID)
	}

	if err := p.finalizeSession(ctx, session); err != nil {
		return claimedAny, err
	}
	return claimedAny, nil
}

// runItem processes one claimed item under a heartbeat. Losing the lock
// cancels the item's context; the guard still resolves the claim.
func (p *Pool) runItem(ctx context.Context, session *models.ImportSession, item *models.SelectionItem, fetcher Fetcher, workerID string) {
	itemCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	guard := p.items.Guard(item.ID)
	defer guard.Ensure(ctx)

	stopBeat := p.startHeartbeat(itemCtx, cancel, session.ID, item.ID, workerID)
	defer stopBeat()

	if err := p.processor.Process(itemCtx, session, item, fetcher, guard); err != nil && p.logg != nil {
		p.logg.Error(itemCtx, "processing item "+item.ID.String(), err)
	}
}

// startHeartbeat renews the item lock and the session activity marker until
// stopped. A lost lock cancels the item context so the worker abandons it.
func (p *Pool) startHeartbeat(ctx context.Context, cancel context.CancelFunc, sessionID, itemID uuid.UUID, workerID string) func() {
	interval := p.cfg.HeartbeatInterval
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				alive, err := p.items.Heartbeat(ctx, itemID, workerID)
				if err == nil && !alive {
					cancel()
					return
				}
				if p.tasks != nil {
					if err := p.tasks.Renew(ctx, sessionID, workerID); err != nil && p.logg != nil {
						p.logg.Warn(ctx, "renewing session activity failed: "+err.Error())
					}
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// finalizeSession refreshes the stats snapshot and, once every item is
// terminal, completes the session and emits its summary event.
func (p *Pool) finalizeSession(ctx context.Context, session *models.ImportSession) error {
	counts, err := p.sessions.RefreshStats(ctx, session.ID)
	if err != nil {
		return err
	}
	if counts.Total() == 0 || counts.Terminal() != counts.Total() {
		return nil
	}

	target := statemachine.ExpectedSessionStatus(enums.SessionStatusImporting, counts)
	if target != enums.SessionStatusImported && target != enums.SessionStatusFailed {
		return nil
	}
	if err := p.sessions.Transition(ctx, session.ID, target, ""); err != nil {
		// Another worker finished it first.
		return nil
	}

	if p.tasks != nil {
		if err := p.tasks.Deregister(ctx, session.ID); err != nil && p.logg != nil {
			p.logg.Warn(ctx, "deregistering session activity failed: "+err.Error())
		}
	}

	if p.outbox != nil && target == enums.SessionStatusImported {
		err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
			return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSessionImported,
				AggregateType: outbox.AggregateImportSession,
				AggregateID:   session.ID,
				Data: map[string]any{
					"imported":  counts.Imported,
					"duplicate": counts.Duplicate,
					"failed":    counts.Failed,
					"total":     counts.Total(),
				},
			})
		})
		if err != nil {
			return fmt.Errorf("emitting session summary: %w", err)
		}
	}
	return nil
}
