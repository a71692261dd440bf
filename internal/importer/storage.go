package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/photark/photark-backend/pkg/errors"
)

// DiskStorage writes imported media under a library root, preserving the
// canonical relative path. Writes go through a temp file plus rename so a
// crashed worker never leaves a half-written catalog file.
type DiskStorage struct {
	root string
}

func NewDiskStorage(root string) (*DiskStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("disk storage: library root is required")
	}
	return &DiskStorage{root: root}, nil
}

func (s *DiskStorage) Store(ctx context.Context, relPath string, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	target := filepath.Join(s.root, filepath.FromSlash(relPath))
	if !underRoot(s.root, target) {
		return apperrors.New(apperrors.CategoryValidation, "storage path escapes the library root")
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, err, "creating library directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".import-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, err, "creating temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return apperrors.Wrap(apperrors.CategoryStorage, err, "writing media bytes")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return apperrors.Wrap(apperrors.CategoryStorage, err, "closing temp file")
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return apperrors.Wrap(apperrors.CategoryStorage, err, "moving media into the library")
	}
	return nil
}
