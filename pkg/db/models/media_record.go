package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaRecord is an already-imported catalog entry. The import core treats
// these rows as read-only dedup candidates.
type MediaRecord struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ContentHash    string     `gorm:"column:content_hash;not null;index"`
	PerceptualHash *uint64    `gorm:"column:perceptual_hash;index"`
	ByteSize       int64      `gorm:"column:byte_size;not null"`
	Width          int        `gorm:"column:width;not null;default:0"`
	Height         int        `gorm:"column:height;not null;default:0"`
	DurationMS     *int64     `gorm:"column:duration_ms"`
	CaptureTime    *time.Time `gorm:"column:capture_time"`
	StoragePath    string     `gorm:"column:storage_path;not null;unique"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides GORM's pluralization.
func (MediaRecord) TableName() string { return "media_records" }
