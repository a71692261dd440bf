package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/internal/dedup"
	"github.com/photark/photark-backend/internal/signature"
	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/internal/troubleshoot"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	apperrors "github.com/photark/photark-backend/pkg/errors"
	"github.com/photark/photark-backend/pkg/logger"
	"github.com/photark/photark-backend/pkg/metrics"
	"github.com/photark/photark-backend/pkg/outbox"
)

// Processor runs one claimed item end to end: fetch, signature, dedup, store,
// commit. Every exit path resolves through the caller's guard, so a claimed
// item always lands in exactly one terminal state.
type Processor struct {
	db       *db.Client
	media    *MediaRepository
	engine   *dedup.Engine
	storage  Storage
	outbox   *outbox.Service
	recorder *audit.Recorder
	metrics  *metrics.ImportMetrics
	cfg      config.ImportConfig
	logg     *logger.Logger
	now      func() time.Time
}

func NewProcessor(
	dbClient *db.Client,
	media *MediaRepository,
	engine *dedup.Engine,
	storage Storage,
	outboxSvc *outbox.Service,
	recorder *audit.Recorder,
	importMetrics *metrics.ImportMetrics,
	cfg config.ImportConfig,
	logg *logger.Logger,
) (*Processor, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("processor: db client is required")
	}
	if media == nil {
		return nil, fmt.Errorf("processor: media repository is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("processor: dedup engine is required")
	}
	if storage == nil {
		return nil, fmt.Errorf("processor: storage is required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("processor: outbox is required")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("processor: max attempts must be positive")
	}
	return &Processor{
		db:       dbClient,
		media:    media,
		engine:   engine,
		storage:  storage,
		outbox:   outboxSvc,
		recorder: recorder,
		metrics:  importMetrics,
		cfg:      cfg,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Process handles one claimed item. The guard must belong to the same item;
// Process resolves it on every path and never leaves it unfinished.
func (p *Processor) Process(ctx context.Context, session *models.ImportSession, item *models.SelectionItem, fetcher Fetcher, guard *statemachine.Guard) error {
	started := p.now().UTC()

	if item.FetchTokenExpiresAt != nil && item.FetchTokenExpiresAt.Before(started) {
		return guard.Complete(ctx, enums.ItemStatusExpired, "fetch token expired")
	}

	data, meta, err := fetcher.Fetch(ctx, item)
	if err != nil {
		return p.resolveFailure(ctx, item, guard, enums.AuditCategoryFetch, err)
	}

	sig, err := signature.Compute(data, meta)
	if err != nil {
		return p.resolveFailure(ctx, item, guard, enums.AuditCategoryError, err)
	}

	candidates, err := p.media.FindCandidates(ctx, sig)
	if err != nil {
		return p.resolveFailure(ctx, item, guard, enums.AuditCategoryDedup,
			apperrors.Wrap(apperrors.CategoryStorage, err, "loading dedup candidates"))
	}

	if match, rule := p.engine.Match(sig, candidates); match != nil {
		return p.resolveDuplicate(ctx, session, item, guard, match, rule)
	}

	relPath, err := p.buildStoragePath(ctx, session, item, sig, meta, started)
	if err != nil {
		return p.resolveFailure(ctx, item, guard, enums.AuditCategoryError, err)
	}
	if err := p.storage.Store(ctx, relPath, data); err != nil {
		return p.resolveFailure(ctx, item, guard, enums.AuditCategoryError, err)
	}

	if err := p.commitImport(ctx, session, item, sig, relPath); err != nil {
		return p.resolveFailure(ctx, item, guard, enums.AuditCategoryError, err)
	}

	if err := guard.Complete(ctx, enums.ItemStatusImported, ""); err != nil {
		return err
	}
	p.metrics.ObserveItemDuration(session.Origin.String(), p.now().UTC().Sub(started))
	return nil
}

// commitImport writes the catalog record and the outbox event in one
// transaction. A failed commit is rolled back, the mutation rebuilt from the
// in-memory signature and retried exactly once; a second failure escalates.
func (p *Processor) commitImport(ctx context.Context, session *models.ImportSession, item *models.SelectionItem, sig signature.Signature, relPath string) error {
	commit := func() error {
		record := p.buildRecord(sig, relPath)
		return p.db.WithTx(ctx, func(tx *gorm.DB) error {
			if err := p.media.Create(ctx, tx, record); err != nil {
				return err
			}
			return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventItemImported,
				AggregateType: outbox.AggregateSelectionItem,
				AggregateID:   item.ID,
				Data: map[string]any{
					"session_id":   session.ID.String(),
					"media_id":     record.ID.String(),
					"storage_path": relPath,
					"content_hash": sig.ContentHash,
				},
			})
		})
	}

	err := commit()
	if err == nil {
		return nil
	}
	if p.logg != nil {
		p.logg.Warn(ctx, "import commit failed for item "+item.ID.String()+", rebuilding and retrying once: "+err.Error())
	}
	if retryErr := commit(); retryErr != nil {
		return apperrors.Wrap(apperrors.CategoryInternal, retryErr,
			fmt.Sprintf("import commit failed twice for item %s (first: %v)", item.ID, err))
	}
	return nil
}

func (p *Processor) buildRecord(sig signature.Signature, relPath string) *models.MediaRecord {
	record := &models.MediaRecord{
		ID:             uuid.New(),
		ContentHash:    sig.ContentHash,
		PerceptualHash: sig.PerceptualHash,
		ByteSize:       sig.ByteSize,
		Width:          sig.Width,
		Height:         sig.Height,
		CaptureTime:    sig.CaptureTime,
		StoragePath:    relPath,
	}
	if sig.Duration != nil {
		ms := sig.Duration.Milliseconds()
		record.DurationMS = &ms
	}
	return record
}

func (p *Processor) buildStoragePath(ctx context.Context, session *models.ImportSession, item *models.SelectionItem, sig signature.Signature, meta signature.FileMeta, importedAt time.Time) (string, error) {
	ext := fileExtension(item, meta)

	var probeErr error
	relPath := signature.BuildPath(sig, session.Origin.String(), ext, importedAt, func(candidate string) bool {
		taken, err := p.media.PathExists(ctx, candidate)
		if err != nil {
			probeErr = err
			return false
		}
		return taken
	})
	if probeErr != nil {
		return "", apperrors.Wrap(apperrors.CategoryStorage, probeErr, "probing storage path")
	}
	return relPath, nil
}

// resolveDuplicate finishes the item as a duplicate and records which rule
// matched. The event and the audit entry commit together.
func (p *Processor) resolveDuplicate(ctx context.Context, session *models.ImportSession, item *models.SelectionItem, guard *statemachine.Guard, match *models.MediaRecord, rule dedup.Rule) error {
	if err := guard.Complete(ctx, enums.ItemStatusDuplicate, rule.String()); err != nil {
		return err
	}

	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := p.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventItemDuplicate,
			AggregateType: outbox.AggregateSelectionItem,
			AggregateID:   item.ID,
			Data: map[string]any{
				"session_id": session.ID.String(),
				"matched_id": match.ID.String(),
				"rule":       rule.String(),
			},
		}); err != nil {
			return err
		}
		p.recorder.Log(ctx, tx, audit.Entry{
			Level:     enums.AuditLevelInfo,
			Category:  enums.AuditCategoryDedup,
			SessionID: &session.ID,
			ItemID:    &item.ID,
			Message:   "duplicate of " + match.ID.String(),
			Details: map[string]any{
				"rule":         rule.String(),
				"matched_path": match.StoragePath,
			},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording duplicate for item %s: %w", item.ID, err)
	}
	return nil
}

// resolveFailure applies the retry policy: retryable categories requeue until
// the attempt budget runs out, everything else fails immediately. The audit
// entry carries the troubleshooting guidance for the failure category.
func (p *Processor) resolveFailure(ctx context.Context, item *models.SelectionItem, guard *statemachine.Guard, category enums.AuditCategory, cause error) error {
	advice := troubleshoot.Advise(cause)
	p.recorder.Log(ctx, nil, audit.Entry{
		Level:              enums.AuditLevelError,
		Category:           category,
		SessionID:          &item.SessionID,
		ItemID:             &item.ID,
		Message:            "item processing failed",
		Err:                cause,
		RecommendedActions: advice.RecommendedActions,
		Details:            map[string]any{"attempt": item.AttemptCount + 1},
	})

	if apperrors.IsRetryable(cause) && item.AttemptCount+1 < p.cfg.MaxAttempts {
		return guard.Complete(ctx, enums.ItemStatusEnqueued, cause.Error())
	}

	if err := guard.Complete(ctx, enums.ItemStatusFailed, cause.Error()); err != nil {
		return err
	}
	if err := p.emitFailed(ctx, item, cause); err != nil {
		return fmt.Errorf("recording failure for item %s: %w", item.ID, err)
	}
	return nil
}

// emitFailed queues the item.failed event once the terminal transition stuck.
func (p *Processor) emitFailed(ctx context.Context, item *models.SelectionItem, cause error) error {
	return p.db.WithTx(ctx, func(tx *gorm.DB) error {
		return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventItemFailed,
			AggregateType: outbox.AggregateSelectionItem,
			AggregateID:   item.ID,
			Data: map[string]any{
				"session_id":     item.SessionID.String(),
				"error_category": string(apperrors.CategoryOf(cause)),
				"reason":         cause.Error(),
			},
		})
	})
}

func fileExtension(item *models.SelectionItem, meta signature.FileMeta) string {
	if item.LocalPath != nil {
		if ext := strings.TrimPrefix(filepath.Ext(*item.LocalPath), "."); ext != "" {
			return ext
		}
	}
	switch strings.ToLower(meta.MimeType) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/heic":
		return "heic"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	case "video/quicktime":
		return "mov"
	default:
		return "bin"
	}
}
