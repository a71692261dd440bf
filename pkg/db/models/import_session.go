package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/pkg/enums"
)

// ImportSession is a bounded unit of import work from one origin.
type ImportSession struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Origin        enums.ImportOrigin  `gorm:"column:origin;type:import_origin;not null"`
	Status        enums.SessionStatus `gorm:"column:status;type:session_status;not null;default:pending"`
	ExternalToken *string             `gorm:"column:external_token"`
	ExpiresAt     *time.Time          `gorm:"column:expires_at"`
	ItemCount     int                 `gorm:"column:item_count;not null;default:0"`

	// Stats snapshot; must equal the aggregate of owned items' terminal
	// states. The consistency validator flags any drift.
	ImportedCount   int `gorm:"column:imported_count;not null;default:0"`
	DuplicateCount  int `gorm:"column:duplicate_count;not null;default:0"`
	FailedCount     int `gorm:"column:failed_count;not null;default:0"`
	ProcessingCount int `gorm:"column:processing_count;not null;default:0"`

	LastProgressAt *time.Time `gorm:"column:last_progress_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides GORM's pluralization.
func (ImportSession) TableName() string { return "import_sessions" }
