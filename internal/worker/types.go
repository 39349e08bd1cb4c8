package worker

import (
	"context"

	"github.com/jabraham1/dok-tok/internal/indexing"
)

type Indexer interface {
	Index(ctx context.Context, sourceID, body string, meta map[string]string) (*indexing.Result, error)
}

// Source is the stored extraction of a document awaiting indexing.
type Source struct {
	SourceID  string
	Filename  string
	MediaType string
	Text      string
}

// DocumentStore reads queued documents and records their indexing
// lifecycle. LoadSource returns sql.ErrNoRows for a deleted document.
type DocumentStore interface {
	LoadSource(ctx context.Context, id string) (*Source, error)
	IsLive(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	MarkIndexed(ctx context.Context, id string, chunks int) error
}

type ChunkRemover interface {
	DeleteBySource(ctx context.Context, source string) (int64, error)
}
