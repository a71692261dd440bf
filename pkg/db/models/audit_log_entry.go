package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/pkg/enums"
)

// AuditLogEntry is an append-only diagnostic record. Details and
// recommended_actions are size-bounded before the row is written.
type AuditLogEntry struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Timestamp          time.Time           `gorm:"column:timestamp;not null;index"`
	Level              enums.AuditLevel    `gorm:"column:level;not null"`
	Category           enums.AuditCategory `gorm:"column:category;not null;index"`
	SessionID          *uuid.UUID          `gorm:"column:session_id;type:uuid;index"`
	ItemID             *uuid.UUID          `gorm:"column:item_id;type:uuid"`
	Message            string              `gorm:"column:message;not null"`
	Details            json.RawMessage     `gorm:"column:details;type:jsonb"`
	ErrorType          *string             `gorm:"column:error_type"`
	ErrorMessage       *string             `gorm:"column:error_message"`
	RecommendedActions json.RawMessage     `gorm:"column:recommended_actions;type:jsonb"`
	DurationMS         *int64              `gorm:"column:duration_ms"`
	FromState          *string             `gorm:"column:from_state"`
	ToState            *string             `gorm:"column:to_state"`
}

// TableName overrides GORM's pluralization.
func (AuditLogEntry) TableName() string { return "audit_log_entries" }
