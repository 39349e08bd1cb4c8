package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/text"
	"github.com/jabraham1/dok-tok/internal/vector"
)

const DefaultBatchSize = 50

// Adder stores one batch of chunks. A batch either commits or fails whole.
type Adder interface {
	Add(ctx context.Context, chunks []vector.Chunk) error
}

type Options struct {
	WindowSize int
	Overlap    int
	BatchSize  int
}

func DefaultOptions() Options {
	return Options{
		WindowSize: text.DefaultWindowSize,
		Overlap:    text.DefaultOverlap,
		BatchSize:  DefaultBatchSize,
	}
}

type Result struct {
	SourceID string `json:"source_id"`
	Indexed  int    `json:"indexed"`
	Batches  int    `json:"batches"`
}

type Indexer struct {
	store Adder
	opts  Options
}

func NewIndexer(store Adder, opts Options) (*Indexer, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if err := text.Validate(opts.WindowSize, opts.Overlap); err != nil {
		return nil, err
	}
	return &Indexer{store: store, opts: opts}, nil
}

// ChunkID names chunk i of sourceID.
func ChunkID(sourceID string, i int) string {
	return sourceID + "__" + strconv.Itoa(i)
}

// Index chunks body and submits the chunks in batches. The first failing
// batch stops the run; the returned Result still counts what earlier batches
// committed.
func (ix *Indexer) Index(ctx context.Context, sourceID, body string, meta map[string]string) (*Result, error) {
	res := &Result{SourceID: sourceID}
	if sourceID == "" {
		return res, apperr.New(apperr.ErrInvalidParameters, "source id must not be empty")
	}
	if strings.TrimSpace(body) == "" {
		return res, apperr.New(apperr.ErrExtractionFailed, "no extractable text")
	}

	windows, err := text.Windows(body, ix.opts.WindowSize, ix.opts.Overlap)
	if err != nil {
		return res, err
	}

	batch := make([]vector.Chunk, 0, ix.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.store.Add(ctx, batch); err != nil {
			return apperr.Wrap(apperr.ErrIndexingFailed,
				fmt.Sprintf("batch %d rejected after %d chunks indexed", res.Batches+1, res.Indexed), err)
		}
		res.Indexed += len(batch)
		res.Batches++
		slog.DebugContext(ctx, "batch indexed", "source", sourceID, "batch", res.Batches, "size", len(batch))
		batch = make([]vector.Chunk, 0, ix.opts.BatchSize)
		return nil
	}

	for i, content := range windows {
		if err := ctx.Err(); err != nil {
			return res, apperr.Wrap(apperr.ErrIndexingFailed, "indexing cancelled", err)
		}
		batch = append(batch, vector.Chunk{
			ID:       ChunkID(sourceID, i),
			SourceID: sourceID,
			Index:    i,
			Content:  content,
			Metadata: chunkMeta(sourceID, meta),
		})
		if len(batch) == ix.opts.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	slog.InfoContext(ctx, "document indexed", "source", sourceID, "chunks", res.Indexed, "batches", res.Batches)
	return res, nil
}

func chunkMeta(sourceID string, meta map[string]string) map[string]string {
	m := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		m[k] = v
	}
	m["source"] = sourceID
	return m
}
