package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/pkg/enums"
)

// SelectionItem is one candidate media unit within a session. Items are never
// physically deleted while the owning session exists; completion is a terminal
// status.
type SelectionItem struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID uuid.UUID        `gorm:"column:session_id;type:uuid;not null;index"`
	Status    enums.ItemStatus `gorm:"column:status;type:item_status;not null;default:pending"`

	// Exactly one of these identifies the source.
	ExternalItemID *string `gorm:"column:external_item_id"`
	LocalPath      *string `gorm:"column:local_path"`

	AttemptCount int `gorm:"column:attempt_count;not null;default:0"`

	// Advisory, time-based lock. At most one non-expired holder.
	LockOwner       *string    `gorm:"column:lock_owner"`
	LockHeartbeatAt *time.Time `gorm:"column:lock_heartbeat_at"`

	// Remote items carry a short-lived fetch token.
	FetchToken          *string    `gorm:"column:fetch_token"`
	FetchTokenExpiresAt *time.Time `gorm:"column:fetch_token_expires_at"`

	ErrorMessage *string    `gorm:"column:error_message"`
	StartedAt    *time.Time `gorm:"column:started_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides GORM's pluralization.
func (SelectionItem) TableName() string { return "selection_items" }
