package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/internal/troubleshoot"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	"github.com/photark/photark-backend/pkg/logger"
	"github.com/photark/photark-backend/pkg/metrics"
	"github.com/photark/photark-backend/pkg/outbox"
)

type staleLister interface {
	ListStale(ctx context.Context, origin enums.ImportOrigin, cutoff time.Time) ([]models.ImportSession, error)
}

type sessionTransitioner interface {
	Transition(ctx context.Context, sessionID uuid.UUID, target enums.SessionStatus, reason string) error
}

type activityChecker interface {
	IsActive(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

type sessionDiagnoser interface {
	Report(ctx context.Context, sessionID uuid.UUID) (*troubleshoot.Report, error)
}

// ScannerParams bundles the scanner's collaborators. Sessions, States and
// Tasks are required; the rest degrade gracefully when absent.
type ScannerParams struct {
	Sessions    staleLister
	States      sessionTransitioner
	Tasks       activityChecker
	Recorder    *audit.Recorder
	Diagnostics sessionDiagnoser
	DB          *db.Client
	Events      *outbox.Service
	Metrics     *metrics.ImportMetrics
	Config      config.RecoveryConfig
	Logger      *logger.Logger
}

// Scanner forces abandoned sessions to error. Two conditions gate every
// recovery: the session must be idle past its origin's threshold AND no
// worker may hold a live task marker. Either one alone is not enough; a
// single long-running item keeps its session alive indefinitely.
type Scanner struct {
	sessions staleLister
	states   sessionTransitioner
	tasks    activityChecker
	recorder *audit.Recorder
	diag     sessionDiagnoser
	db       *db.Client
	events   *outbox.Service
	metrics  *metrics.ImportMetrics
	cfg      config.RecoveryConfig
	logg     *logger.Logger
}

func NewScanner(params ScannerParams) (*Scanner, error) {
	if params.Sessions == nil {
		return nil, fmt.Errorf("scanner: session lister is required")
	}
	if params.States == nil {
		return nil, fmt.Errorf("scanner: session transitioner is required")
	}
	if params.Tasks == nil {
		return nil, fmt.Errorf("scanner: task registry is required")
	}
	return &Scanner{
		sessions: params.Sessions,
		states:   params.States,
		tasks:    params.Tasks,
		recorder: params.Recorder,
		diag:     params.Diagnostics,
		db:       params.DB,
		events:   params.Events,
		metrics:  params.Metrics,
		cfg:      params.Config,
		logg:     params.Logger,
	}, nil
}

// Name identifies the job in logs and metrics.
func (s *Scanner) Name() string { return "stale_session_recovery" }

// Run executes one scan cycle.
func (s *Scanner) Run(ctx context.Context) error {
	_, err := s.ScanAndRecover(ctx, time.Now().UTC())
	return err
}

// ScanAndRecover inspects both origins and returns the ids of every session
// it forced to error.
func (s *Scanner) ScanAndRecover(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var recovered []uuid.UUID

	for _, origin := range []enums.ImportOrigin{enums.ImportOriginRemote, enums.ImportOriginLocal} {
		threshold := s.cfg.StaleAfter(origin.String())
		stale, err := s.sessions.ListStale(ctx, origin, now.Add(-threshold))
		if err != nil {
			return recovered, fmt.Errorf("listing stale %s sessions: %w", origin, err)
		}

		for i := range stale {
			session := &stale[i]
			sessionCtx := ctx
			if s.logg != nil {
				sessionCtx = s.logg.WithSessionID(ctx, session.ID.String())
			}

			active, err := s.tasks.IsActive(sessionCtx, session.ID)
			if err != nil {
				// Unknown worker state means hands off: recovering a session a
				// live worker still holds is worse than scanning it again next
				// cycle.
				if s.logg != nil {
					s.logg.Error(sessionCtx, "task registry check failed, skipping session", err)
				}
				continue
			}
			if active {
				if s.logg != nil {
					s.logg.Info(sessionCtx, "session idle but worker still active, leaving it alone")
				}
				continue
			}

			reason := fmt.Sprintf("no progress for more than %s and no active worker", threshold)
			if err := s.states.Transition(sessionCtx, session.ID, enums.SessionStatusError, reason); err != nil {
				if s.logg != nil {
					s.logg.Error(sessionCtx, "failed to recover stale session", err)
				}
				continue
			}

			entry := audit.Entry{
				Level:     enums.AuditLevelWarn,
				Category:  enums.AuditCategoryRecovery,
				SessionID: &session.ID,
				Message:   "stale session forced to error",
				Details: map[string]any{
					"origin":         session.Origin.String(),
					"threshold":      threshold.String(),
					"last_progress":  session.LastProgressAt,
					"previous_state": session.Status.String(),
				},
			}
			if report := s.diagnose(sessionCtx, session.ID); report != nil {
				entry.Details["total_errors"] = report.TotalErrors
				if report.TopCategory != "" {
					entry.Details["top_error_category"] = string(report.TopCategory)
				}
				if len(report.Inconsistencies) > 0 {
					entry.Details["inconsistencies"] = report.Inconsistencies
				}
				for _, row := range report.Breakdown {
					if row.Category == report.TopCategory {
						entry.RecommendedActions = row.RecommendedActions
						break
					}
				}
			}
			s.recorder.Log(sessionCtx, nil, entry)
			s.emitRecovered(sessionCtx, session, reason)
			s.metrics.IncRecovered()
			recovered = append(recovered, session.ID)
		}
	}

	return recovered, nil
}

// emitRecovered queues the session.recovered event for downstream consumers.
// The recovery already committed; a lost event is logged, not retried.
func (s *Scanner) emitRecovered(ctx context.Context, session *models.ImportSession, reason string) {
	if s.db == nil || s.events == nil {
		return
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSessionRecovered,
			AggregateType: outbox.AggregateImportSession,
			AggregateID:   session.ID,
			Data: map[string]any{
				"origin":         session.Origin.String(),
				"previous_state": session.Status.String(),
				"reason":         reason,
			},
		})
	})
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, "failed to queue session.recovered event", err)
	}
}

// diagnose builds the troubleshooting report for a recovered session. A
// failed diagnosis never blocks the recovery itself.
func (s *Scanner) diagnose(ctx context.Context, sessionID uuid.UUID) *troubleshoot.Report {
	if s.diag == nil {
		return nil
	}
	report, err := s.diag.Report(ctx, sessionID)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(ctx, "troubleshooting report failed: "+err.Error())
		}
		return nil
	}
	return report
}
