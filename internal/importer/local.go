package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/photark/photark-backend/internal/signature"
	"github.com/photark/photark-backend/pkg/db/models"
	apperrors "github.com/photark/photark-backend/pkg/errors"
)

var mediaExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".heic": true,
	".webp": true,
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
}

// LocalSource walks a directory under the configured import root. For local
// sessions the external token carries the relative source directory.
type LocalSource struct {
	root string
}

func NewLocalSource(root string) (*LocalSource, error) {
	if root == "" {
		return nil, fmt.Errorf("local source: import root is required")
	}
	return &LocalSource{root: root}, nil
}

// Enumerate yields every media file below the session's directory, in walk
// order. Paths are reported relative to the import root.
func (s *LocalSource) Enumerate(ctx context.Context, session *models.ImportSession, fn func(Candidate) error) error {
	dir := s.root
	if session.ExternalToken != nil && *session.ExternalToken != "" {
		dir = filepath.Join(s.root, filepath.Clean(*session.ExternalToken))
	}
	if !underRoot(s.root, dir) {
		return apperrors.New(apperrors.CategoryValidation, "session directory escapes the import root")
	}

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !mediaExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		return fn(Candidate{LocalPath: rel})
	})
	if err != nil {
		return localPathError(err)
	}
	return nil
}

// Fetch reads the item's file and derives what metadata the filesystem has.
// Dimensions and capture time come from decoding during signature
// computation; mtime is deliberately not trusted as capture time.
func (s *LocalSource) Fetch(ctx context.Context, item *models.SelectionItem) ([]byte, signature.FileMeta, error) {
	if item.LocalPath == nil || *item.LocalPath == "" {
		return nil, signature.FileMeta{}, apperrors.New(apperrors.CategoryValidation, "local item has no path")
	}
	if ctx.Err() != nil {
		return nil, signature.FileMeta{}, ctx.Err()
	}

	path := filepath.Join(s.root, filepath.Clean(*item.LocalPath))
	if !underRoot(s.root, path) {
		return nil, signature.FileMeta{}, apperrors.New(apperrors.CategoryValidation, "item path escapes the import root")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, signature.FileMeta{}, localPathError(err)
	}

	meta := signature.FileMeta{
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
	}
	return data, meta, nil
}

// underRoot reports whether path stays inside root. A plain prefix check is
// not enough: /srv/media-secrets shares /srv/media as a string prefix without
// being inside it.
func underRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func localPathError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return apperrors.Wrap(apperrors.CategoryNotFound, err, "source file missing")
	case errors.Is(err, fs.ErrPermission):
		return apperrors.Wrap(apperrors.CategoryPermission, err, "source file not readable")
	default:
		return apperrors.Wrap(apperrors.CategoryStorage, err, "reading source file")
	}
}
