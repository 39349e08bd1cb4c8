package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/config"
	"github.com/jabraham1/dok-tok/internal/extract"
	"github.com/jabraham1/dok-tok/internal/middleware"
	"github.com/jabraham1/dok-tok/internal/vector"
	"github.com/jabraham1/dok-tok/internal/worker"
)

const (
	StatusPending  = "pending"
	StatusIndexing = "indexing"
	StatusIndexed  = "indexed"
	StatusFailed   = "failed"
)

type Document struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Filename    string    `json:"filename"`
	MediaType   string    `json:"media_type"`
	Path        string    `json:"-"`
	ContentHash string    `json:"-"`
	SizeBytes   int64     `json:"size_bytes"`
	Status      string    `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Text is the extracted body. It is written on save and read back only by
	// the indexing worker.
	Text string `json:"-"`
}

type Repository interface {
	Save(ctx context.Context, doc *Document) error
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Get(ctx context.Context, id string) (*Document, error)
	GetBySourceID(ctx context.Context, sourceID string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	Requeue(ctx context.Context, id, text string) error
	MarkIndexed(ctx context.Context, id string, chunks int) error
	SoftDelete(ctx context.Context, id string) error
}

type ChunkStore interface {
	GetChunks(ctx context.Context, source string) ([]vector.Match, error)
	DeleteBySource(ctx context.Context, source string) (int64, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Extractor interface {
	Extract(ctx context.Context, doc extract.Document) (string, error)
}

type Service struct {
	repo       Repository
	pub        EventPublisher
	chunkStore ChunkStore
	extractor  Extractor
}

func NewService(repo Repository, pub EventPublisher, chunkStore ChunkStore, extractor Extractor) *Service {
	return &Service{repo: repo, pub: pub, chunkStore: chunkStore, extractor: extractor}
}

// UploadRequest describes a file already persisted under the upload directory.
type UploadRequest struct {
	Filename   string
	StoredName string
	Path       string
	Hash       string
	Size       int64
	MediaType  extract.MediaType
	MIME       string
}

// Upload extracts the stored file, records it and queues it for indexing.
// The returned document is nil when nothing was recorded, in which case the
// caller owns the file on disk.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Document, error) {
	exists, err := s.repo.ExistsByHash(ctx, req.Hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.New(apperr.ErrConflict, "this document has already been uploaded")
	}

	text, err := s.extractFile(ctx, req.Path, req.Filename, req.MediaType, req.MIME)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		SourceID:    req.StoredName,
		Filename:    req.Filename,
		MediaType:   string(req.MediaType),
		Path:        req.Path,
		ContentHash: req.Hash,
		SizeBytes:   req.Size,
		Status:      StatusPending,
		Text:        text,
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.publish(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func (s *Service) extractFile(ctx context.Context, path, filename string, mt extract.MediaType, mime string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from a generated token
	if err != nil {
		return "", fmt.Errorf("read stored file: %w", err)
	}
	if mime == "" {
		_, mime, _ = extract.DetectMediaType(filename, data)
	}
	return s.extractor.Extract(ctx, extract.Document{
		Name:      filename,
		MediaType: mt,
		MIME:      mime,
		Data:      data,
	})
}

func (s *Service) publish(ctx context.Context, doc *Document) error {
	payload, err := json.Marshal(worker.IndexTask{
		DocumentID:    doc.ID,
		SourceID:      doc.SourceID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}

	if err := s.pub.Publish(config.TopicIndexDocument, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish index task", "error", err, "document_id", doc.ID)
		if uerr := s.repo.UpdateStatus(ctx, doc.ID, StatusFailed, "could not queue for indexing"); uerr != nil {
			slog.WarnContext(ctx, "failed to mark document failed", "error", uerr, "document_id", doc.ID)
		}
		return apperr.Wrap(apperr.ErrUpstreamFailure, "could not queue document for indexing", err)
	}
	slog.InfoContext(ctx, "published index task", "document_id", doc.ID, "source_id", doc.SourceID, "text_len", len(doc.Text))
	return nil
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

type Detail struct {
	Document
	Chunks      []vector.Match `json:"chunks"`
	TotalChunks int            `json:"total_chunks"`
}

func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}

	chunks, err := s.chunkStore.GetChunks(ctx, doc.SourceID)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch chunks", "error", err, "source_id", doc.SourceID)
		chunks = []vector.Match{}
	}
	if chunks == nil {
		chunks = []vector.Match{}
	}

	return &Detail{Document: *doc, Chunks: chunks, TotalChunks: len(chunks)}, nil
}

// Lookup resolves a stored name to its document.
func (s *Service) Lookup(ctx context.Context, sourceID string) (*Document, error) {
	doc, err := s.repo.GetBySourceID(ctx, sourceID)
	if err != nil {
		return nil, notFound(err)
	}
	return doc, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFound(err)
	}

	n, err := s.chunkStore.DeleteBySource(ctx, doc.SourceID)
	if err != nil {
		return apperr.Wrap(apperr.ErrUpstreamFailure, "could not remove indexed chunks", err)
	}
	slog.InfoContext(ctx, "deleted chunks", "source_id", doc.SourceID, "count", n)

	if err := os.Remove(doc.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "failed to remove stored file", "error", err, "source_id", doc.SourceID)
	}
	return s.repo.SoftDelete(ctx, id)
}

// Reindex re-extracts the stored file and queues it again. Old chunks are
// dropped first so a shorter text leaves no stale tail.
func (s *Service) Reindex(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFound(err)
	}

	text, err := s.extractFile(ctx, doc.Path, doc.Filename, extract.MediaType(doc.MediaType), "")
	if err != nil {
		return err
	}

	if _, err := s.chunkStore.DeleteBySource(ctx, doc.SourceID); err != nil {
		return apperr.Wrap(apperr.ErrUpstreamFailure, "could not remove indexed chunks", err)
	}
	if err := s.repo.Requeue(ctx, doc.ID, text); err != nil {
		return err
	}
	doc.Text = text
	return s.publish(ctx, doc)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(apperr.ErrNotFound, "document not found", err)
	}
	return err
}
