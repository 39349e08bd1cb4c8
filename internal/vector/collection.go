package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chunk is one embedded window of a document as persisted in the collection.
type Chunk struct {
	ID       string
	SourceID string
	Index    int
	Content  string
	Metadata map[string]string
	Vector   []float32
}

// Match is a chunk returned by similarity search, nearest first.
type Match struct {
	ID       string            `json:"id"`
	SourceID string            `json:"source"`
	Index    int               `json:"chunk_index"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Distance float32           `json:"distance"`
}

// Filter restricts a query. The zero value matches everything.
type Filter struct {
	Source string
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Backend persists vectors and answers nearest-neighbour queries.
type Backend interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	NearVector(ctx context.Context, vec []float32, limit int, filter Filter) ([]Match, error)
}

var ErrEmbeddingMismatch = errors.New("embedding count does not match chunk count")

// Collection embeds text with an Embedder and stores it in a Backend.
type Collection struct {
	embedder Embedder
	backend  Backend
}

func NewCollection(embedder Embedder, backend Backend) *Collection {
	return &Collection{embedder: embedder, backend: backend}
}

// Add embeds and upserts chunks as one batch.
func (c *Collection) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("%w: got %d, want %d", ErrEmbeddingMismatch, len(vecs), len(chunks))
	}

	batch := make([]Chunk, len(chunks))
	for i, ch := range chunks {
		ch.Vector = vecs[i]
		batch[i] = ch
	}

	if err := c.backend.Upsert(ctx, batch); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	slog.DebugContext(ctx, "chunks upserted", "count", len(batch))
	return nil
}

// Query embeds text and returns up to limit matches in backend order.
func (c *Collection) Query(ctx context.Context, text string, limit int, filter Filter) ([]Match, error) {
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := c.backend.NearVector(ctx, vec, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("near vector: %w", err)
	}
	return matches, nil
}
