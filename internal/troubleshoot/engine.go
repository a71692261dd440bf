package troubleshoot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/pkg/db/models"
	apperrors "github.com/photark/photark-backend/pkg/errors"
	"github.com/photark/photark-backend/pkg/logger"
)

// recentErrorLimit caps the excerpt list so reports stay readable.
const recentErrorLimit = 5

// Inconsistency is one detected mismatch between a session's recorded state
// and what its items imply. Reported, never auto-corrected.
type Inconsistency struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// CategoryBreakdown is one row of the session error report.
type CategoryBreakdown struct {
	Category           apperrors.Category `json:"category"`
	Count              int64              `json:"count"`
	Severity           apperrors.Severity `json:"severity"`
	RecommendedActions []string           `json:"recommended_actions"`
}

// ErrorExcerpt is one recent error entry quoted in the report.
type ErrorExcerpt struct {
	Timestamp time.Time  `json:"timestamp"`
	Category  string     `json:"category,omitempty"`
	Message   string     `json:"message"`
	ItemID    *uuid.UUID `json:"item_id,omitempty"`
}

// Report is the aggregated diagnosis for one session.
type Report struct {
	SessionID       uuid.UUID           `json:"session_id"`
	GeneratedAt     time.Time           `json:"generated_at"`
	TotalErrors     int64               `json:"total_errors"`
	Breakdown       []CategoryBreakdown `json:"breakdown"`
	TopCategory     apperrors.Category  `json:"top_category,omitempty"`
	OverallSeverity apperrors.Severity  `json:"overall_severity"`
	RecentErrors    []ErrorExcerpt      `json:"recent_errors,omitempty"`
	Inconsistencies []Inconsistency     `json:"inconsistencies,omitempty"`
}

type errorAggregator interface {
	ErrorCountsBySession(ctx context.Context, sessionID uuid.UUID) ([]audit.ErrorTypeCount, error)
	RecentErrorsBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.AuditLogEntry, error)
}

type consistencyChecker interface {
	CheckSession(ctx context.Context, sessionID uuid.UUID) ([]Inconsistency, error)
}

// Engine builds troubleshooting reports from the audit trail and the
// consistency validator.
type Engine struct {
	errors      errorAggregator
	consistency consistencyChecker
	logg        *logger.Logger
	now         func() time.Time
}

func NewEngine(errors errorAggregator, consistency consistencyChecker, logg *logger.Logger) (*Engine, error) {
	if errors == nil {
		return nil, fmt.Errorf("troubleshoot: error aggregator is required")
	}
	return &Engine{
		errors:      errors,
		consistency: consistency,
		logg:        logg,
		now:         time.Now,
	}, nil
}

// Report aggregates a session's error-level audit entries by taxonomy
// category, attaches the fixed guidance per category, and appends the
// consistency diagnostics. Severity is the worst tier present; with no
// errors and no inconsistencies it stays at info.
func (e *Engine) Report(ctx context.Context, sessionID uuid.UUID) (*Report, error) {
	counts, err := e.errors.ErrorCountsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("aggregating session errors: %w", err)
	}

	report := &Report{
		SessionID:       sessionID,
		GeneratedAt:     e.now().UTC(),
		OverallSeverity: apperrors.SeverityInfo,
	}

	for _, row := range counts {
		category := apperrors.Category(row.ErrorType)
		advice := AdviseCategory(category)
		report.Breakdown = append(report.Breakdown, CategoryBreakdown{
			Category:           category,
			Count:              row.Count,
			Severity:           advice.Severity,
			RecommendedActions: advice.RecommendedActions,
		})
		report.TotalErrors += row.Count
		report.OverallSeverity = maxSeverity(report.OverallSeverity, advice.Severity)
	}
	if len(report.Breakdown) > 0 {
		// The aggregator orders rows by count; the first row is the offender.
		report.TopCategory = report.Breakdown[0].Category
	}

	if report.TotalErrors > 0 {
		recent, err := e.errors.RecentErrorsBySession(ctx, sessionID, recentErrorLimit)
		if err != nil {
			// Excerpts are garnish; the breakdown alone is still a report.
			if e.logg != nil {
				e.logg.Warn(ctx, "recent error lookup failed: "+err.Error())
			}
		}
		for _, entry := range recent {
			excerpt := ErrorExcerpt{
				Timestamp: entry.Timestamp,
				Message:   entry.Message,
				ItemID:    entry.ItemID,
			}
			if entry.ErrorType != nil {
				excerpt.Category = *entry.ErrorType
			}
			report.RecentErrors = append(report.RecentErrors, excerpt)
		}
	}

	if e.consistency != nil {
		inconsistencies, err := e.consistency.CheckSession(ctx, sessionID)
		if err != nil {
			// A broken validator must not block the error report.
			if e.logg != nil {
				e.logg.Warn(ctx, "consistency check failed: "+err.Error())
			}
		} else if len(inconsistencies) > 0 {
			report.Inconsistencies = inconsistencies
			report.OverallSeverity = maxSeverity(report.OverallSeverity, apperrors.SeverityWarning)
		}
	}

	return report, nil
}
