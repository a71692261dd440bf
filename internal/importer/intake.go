package importer

import (
	"context"

	"github.com/photark/photark-backend/internal/signature"
	"github.com/photark/photark-backend/pkg/db/models"
)

// Candidate is one media unit discovered during session expansion. Exactly
// one of ExternalID/LocalPath is set, matching the session's origin.
type Candidate struct {
	ExternalID string
	LocalPath  string
	FetchToken string
}

// Source enumerates the candidates of a session lazily. Implementations are
// the remote picker client and the local filesystem walker.
type Source interface {
	Enumerate(ctx context.Context, session *models.ImportSession, fn func(Candidate) error) error
}

// Fetcher retrieves the raw bytes and probe metadata for one claimed item.
type Fetcher interface {
	Fetch(ctx context.Context, item *models.SelectionItem) ([]byte, signature.FileMeta, error)
}

// Storage persists imported media at its canonical relative path.
type Storage interface {
	Store(ctx context.Context, relPath string, data []byte) error
}
