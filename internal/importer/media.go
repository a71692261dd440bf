package importer

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/repo"
	"github.com/photark/photark-backend/internal/signature"
	"github.com/photark/photark-backend/pkg/db/models"
)

// candidateCaptureWindow is the coarse pre-filter around the capture time.
// The dedup rules apply their own, much tighter tolerance afterwards.
const candidateCaptureWindow = 24 * time.Hour

// MediaRepository reads the catalog for dedup candidates and appends newly
// imported records. Existing rows are never mutated here.
type MediaRepository struct {
	repo.Base
}

func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{Base: repo.NewBase(db)}
}

// FindCandidates applies the coarse filter: exact content hash, equal
// perceptual hash, or a capture time within a day. The dedup engine makes
// the actual call on whatever comes back.
func (r *MediaRepository) FindCandidates(ctx context.Context, sig signature.Signature) ([]models.MediaRecord, error) {
	conn := r.DB(ctx).Model(&models.MediaRecord{})

	query := conn.Where("content_hash = ?", sig.ContentHash)
	if sig.PerceptualHash != nil {
		query = query.Or("perceptual_hash = ?", *sig.PerceptualHash)
	}
	if sig.CaptureTime != nil {
		query = query.Or(
			"capture_time BETWEEN ? AND ?",
			sig.CaptureTime.Add(-candidateCaptureWindow),
			sig.CaptureTime.Add(candidateCaptureWindow),
		)
	}

	var candidates []models.MediaRecord
	if err := query.Order("created_at ASC").Find(&candidates).Error; err != nil {
		return nil, err
	}
	return candidates, nil
}

// Create appends a catalog record inside the caller's transaction.
func (r *MediaRepository) Create(ctx context.Context, tx *gorm.DB, record *models.MediaRecord) error {
	return r.Conn(ctx, tx).Create(record).Error
}

// PathExists reports whether the storage path is already taken. Used as the
// collision probe when building canonical paths.
func (r *MediaRepository) PathExists(ctx context.Context, path string) (bool, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.MediaRecord{}).
		Where("storage_path = ?", path).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
