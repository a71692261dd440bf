package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/pkg/config"
	apperrors "github.com/photark/photark-backend/pkg/errors"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	"github.com/photark/photark-backend/pkg/logger"
)

// Entry is the write-side shape of an audit record, before bounding.
type Entry struct {
	Level              enums.AuditLevel
	Category           enums.AuditCategory
	SessionID          *uuid.UUID
	ItemID             *uuid.UUID
	Message            string
	Details            map[string]any
	Err                error
	RecommendedActions []string
	Duration           *time.Duration
	FromState          string
	ToState            string
}

type entryWriter interface {
	Create(ctx context.Context, tx *gorm.DB, entry *models.AuditLogEntry) error
}

// Recorder writes bounded audit entries. Recording is diagnostics, not
// control flow: Log never returns an error, and a failed insert degrades to
// a minimal fallback row rather than surfacing to the pipeline.
type Recorder struct {
	writer entryWriter
	cfg    config.AuditConfig
	logg   *logger.Logger
	now    func() time.Time
}

func NewRecorder(writer entryWriter, cfg config.AuditConfig, logg *logger.Logger) *Recorder {
	return &Recorder{
		writer: writer,
		cfg:    cfg,
		logg:   logg,
		now:    time.Now,
	}
}

// Log persists the entry inside the caller's transaction when one is given.
// Payload bounding happens here so no call site can blow up a row.
func (r *Recorder) Log(ctx context.Context, tx *gorm.DB, entry Entry) {
	if r == nil || r.writer == nil {
		return
	}

	row := r.buildRow(entry)
	if err := r.writer.Create(ctx, tx, row); err == nil {
		return
	} else if r.logg != nil {
		r.logg.Warn(ctx, "audit write failed, degrading to fallback entry: "+err.Error())
	}

	// The bounded payload itself may be the reason the insert failed
	// (encoding, column limits). The fallback drops everything optional.
	fallback := &models.AuditLogEntry{
		Timestamp: row.Timestamp,
		Level:     row.Level,
		Category:  row.Category,
		SessionID: row.SessionID,
		ItemID:    row.ItemID,
		Message:   row.Message,
	}
	if err := r.writer.Create(ctx, tx, fallback); err != nil && r.logg != nil {
		r.logg.Error(ctx, "audit fallback write failed", err)
	}
}

func (r *Recorder) buildRow(entry Entry) *models.AuditLogEntry {
	row := &models.AuditLogEntry{
		Timestamp: r.now().UTC(),
		Level:     entry.Level,
		Category:  entry.Category,
		SessionID: entry.SessionID,
		ItemID:    entry.ItemID,
		Message:   entry.Message,
		Details:   BoundDetails(entry.Details, r.cfg),
	}
	if row.Level == "" {
		row.Level = enums.AuditLevelInfo
	}

	if entry.Err != nil {
		errType := errorType(entry.Err)
		errMsg := entry.Err.Error()
		row.ErrorType = &errType
		row.ErrorMessage = &errMsg
	}
	if actions := BoundActions(entry.RecommendedActions, r.cfg); len(actions) > 0 {
		if raw, err := json.Marshal(actions); err == nil {
			row.RecommendedActions = raw
		}
	}
	if entry.Duration != nil {
		ms := entry.Duration.Milliseconds()
		row.DurationMS = &ms
	}
	if entry.FromState != "" {
		from := entry.FromState
		row.FromState = &from
	}
	if entry.ToState != "" {
		to := entry.ToState
		row.ToState = &to
	}
	return row
}

func errorType(err error) string {
	return string(apperrors.CategoryOf(err))
}
