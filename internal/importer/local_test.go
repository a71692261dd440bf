package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	apperrors "github.com/photark/photark-backend/pkg/errors"
)

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestLocalSourceEnumerate_yieldsMediaFilesOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "trip/beach.jpg", []byte("jpg"))
	writeFile(t, root, "trip/video.mp4", []byte("mp4"))
	writeFile(t, root, "trip/notes.txt", []byte("not media"))
	writeFile(t, root, "trip/nested/sunset.png", []byte("png"))

	source, err := NewLocalSource(root)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}

	token := "trip"
	session := &models.ImportSession{ID: uuid.New(), Origin: enums.ImportOriginLocal, ExternalToken: &token}

	var paths []string
	err = source.Enumerate(context.Background(), session, func(c Candidate) error {
		paths = append(paths, c.LocalPath)
		return nil
	})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("found %d candidates, want 3: %v", len(paths), paths)
	}
	for _, p := range paths {
		if filepath.IsAbs(p) {
			t.Fatalf("path %q must be relative to the import root", p)
		}
	}
}

func TestLocalSourceEnumerate_missingDirectoryIsNotFound(t *testing.T) {
	source, err := NewLocalSource(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}
	token := "does-not-exist"
	session := &models.ImportSession{ID: uuid.New(), ExternalToken: &token}

	err = source.Enumerate(context.Background(), session, func(Candidate) error { return nil })
	if err == nil {
		t.Fatal("expected enumeration error")
	}
	if apperrors.CategoryOf(err) != apperrors.CategoryNotFound {
		t.Fatalf("category = %s, want not found", apperrors.CategoryOf(err))
	}
}

func TestLocalSourceFetch_readsBytesAndMime(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "trip/beach.jpg", []byte("jpeg payload"))

	source, err := NewLocalSource(root)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}

	rel := "trip/beach.jpg"
	item := &models.SelectionItem{ID: uuid.New(), LocalPath: &rel}
	data, meta, err := source.Fetch(context.Background(), item)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "jpeg payload" {
		t.Fatalf("data = %q", data)
	}
	if meta.MimeType != "image/jpeg" {
		t.Fatalf("mime = %q, want image/jpeg", meta.MimeType)
	}
}

func TestLocalSourceEnumerate_rejectsSiblingWithRootPrefix(t *testing.T) {
	// A sibling directory sharing the root's name as a string prefix must not
	// be reachable through a dot-dot token.
	parent := t.TempDir()
	root := filepath.Join(parent, "media")
	sibling := filepath.Join(parent, "media-secrets")
	writeFile(t, sibling, "leak.jpg", []byte("jpg"))
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	source, err := NewLocalSource(root)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}

	token := "../media-secrets"
	session := &models.ImportSession{ID: uuid.New(), Origin: enums.ImportOriginLocal, ExternalToken: &token}

	err = source.Enumerate(context.Background(), session, func(c Candidate) error {
		t.Fatalf("enumerated %q from outside the import root", c.LocalPath)
		return nil
	})
	if err == nil {
		t.Fatal("expected root escape rejection")
	}
	if apperrors.CategoryOf(err) != apperrors.CategoryValidation {
		t.Fatalf("category = %s, want validation", apperrors.CategoryOf(err))
	}
}

func TestLocalSourceFetch_rejectsSiblingWithRootPrefix(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "media")
	sibling := filepath.Join(parent, "media-secrets")
	writeFile(t, sibling, "leak.jpg", []byte("jpg"))
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	source, err := NewLocalSource(root)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}

	escape := "../media-secrets/leak.jpg"
	item := &models.SelectionItem{ID: uuid.New(), LocalPath: &escape}
	if _, _, err := source.Fetch(context.Background(), item); err == nil {
		t.Fatal("expected path escape rejection")
	}
}

func TestLocalSourceFetch_rejectsEscapingPath(t *testing.T) {
	source, err := NewLocalSource(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}

	escape := "../../etc/passwd"
	item := &models.SelectionItem{ID: uuid.New(), LocalPath: &escape}
	if _, _, err := source.Fetch(context.Background(), item); err == nil {
		t.Fatal("expected path escape rejection")
	}
}

func TestDiskStorage_storesAtRelativePath(t *testing.T) {
	root := t.TempDir()
	storage, err := NewDiskStorage(root)
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}

	if err := storage.Store(context.Background(), "2024/06/01/photo.jpg", []byte("bytes")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "2024", "06", "01", "photo.jpg"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "bytes" {
		t.Fatalf("data = %q", data)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(root, "2024", "06", "01"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want 1", len(entries))
	}
}

func TestDiskStorage_rejectsEscapingPath(t *testing.T) {
	storage, err := NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}
	err = storage.Store(context.Background(), "../outside.jpg", []byte("bytes"))
	if err == nil {
		t.Fatal("expected path escape rejection")
	}
	if apperrors.CategoryOf(err) != apperrors.CategoryValidation {
		t.Fatalf("category = %s, want validation", apperrors.CategoryOf(err))
	}
}

func TestDiskStorage_rejectsSiblingWithRootPrefix(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "library")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	storage, err := NewDiskStorage(root)
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}

	err = storage.Store(context.Background(), "../library-evil/photo.jpg", []byte("bytes"))
	if err == nil {
		t.Fatal("expected path escape rejection")
	}
	if apperrors.CategoryOf(err) != apperrors.CategoryValidation {
		t.Fatalf("category = %s, want validation", apperrors.CategoryOf(err))
	}
	if _, statErr := os.Stat(filepath.Join(parent, "library-evil")); !os.IsNotExist(statErr) {
		t.Fatal("nothing may be created outside the library root")
	}
}
