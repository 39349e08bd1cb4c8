package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"github.com/jabraham1/dok-tok/features/job"
	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/indexing"
	"github.com/jabraham1/dok-tok/internal/middleware"
)

const (
	statusIndexing = "indexing"
	statusFailed   = "failed"
)

// IndexConsumer drains labs.index. Every outcome acks the message: failures
// are recorded on the document and as a failed job for manual retry.
type IndexConsumer struct {
	indexer Indexer
	docs    DocumentStore
	chunks  ChunkRemover
	jobRepo job.Repository
	timeout time.Duration
}

func NewIndexConsumer(ix Indexer, docs DocumentStore, chunks ChunkRemover, j job.Repository, timeout time.Duration) *IndexConsumer {
	return &IndexConsumer{indexer: ix, docs: docs, chunks: chunks, jobRepo: j, timeout: timeout}
}

func (h *IndexConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task IndexTask
	err := json.Unmarshal(m.Body, &task)

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid json", "error", err)
		return nil
	}
	if task.DocumentID == "" || task.SourceID == "" {
		slog.ErrorContext(ctx, "missing document_id or source_id, dropping", "document_id", task.DocumentID, "source_id", task.SourceID)
		return nil
	}
	ctx = middleware.WithDocumentID(ctx, task.DocumentID)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	src, err := h.docs.LoadSource(ctx, task.DocumentID)
	if errors.Is(err, sql.ErrNoRows) {
		slog.InfoContext(ctx, "document deleted before indexing, dropping", "source_id", task.SourceID)
		return nil
	}
	if err != nil {
		h.fail(ctx, m.Body, task, nil, apperr.Wrap(apperr.ErrIndexingFailed, "could not load document text", err))
		return nil
	}
	// The stored row is authoritative over the queued copy.
	task.SourceID = src.SourceID

	h.setStatus(ctx, task.DocumentID, statusIndexing, "")

	meta := map[string]string{
		"filename":   src.Filename,
		"media_type": src.MediaType,
	}
	res, err := h.indexer.Index(ctx, src.SourceID, src.Text, meta)
	if err != nil {
		h.fail(ctx, m.Body, task, res, err)
		return nil
	}

	if !h.stillLive(ctx, task.DocumentID, src.SourceID) {
		return nil
	}
	if err := h.docs.MarkIndexed(context.WithoutCancel(ctx), task.DocumentID, res.Indexed); err != nil {
		slog.WarnContext(ctx, "failed to mark document indexed", "error", err)
	}
	h.clearFailures(ctx, src.SourceID)
	slog.InfoContext(ctx, "index task completed", "source_id", src.SourceID, "chunks", res.Indexed, "batches", res.Batches)
	return nil
}

// stillLive reports whether the document survived the indexing run. Chunks
// written for a document deleted mid-run are removed again.
func (h *IndexConsumer) stillLive(ctx context.Context, id, sourceID string) bool {
	ctx = context.WithoutCancel(ctx)
	live, err := h.docs.IsLive(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "failed to re-check document, assuming live", "error", err)
		return true
	}
	if live {
		return true
	}
	n, err := h.chunks.DeleteBySource(ctx, sourceID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to remove chunks of deleted document", "source_id", sourceID, "error", err)
		return false
	}
	slog.InfoContext(ctx, "document deleted during indexing, removed chunks", "source_id", sourceID, "count", n)
	return false
}

func (h *IndexConsumer) fail(ctx context.Context, body []byte, task IndexTask, res *indexing.Result, err error) {
	// Bookkeeping must survive an expired index deadline.
	ctx = context.WithoutCancel(ctx)

	committed := 0
	if res != nil {
		committed = res.Indexed
	}
	slog.ErrorContext(ctx, "indexing failed", "source_id", task.SourceID, "committed", committed, "error", err)
	h.setStatus(ctx, task.DocumentID, statusFailed, apperr.Message(err))

	if !retryable(err) {
		return
	}
	failed := &job.Job{
		SourceID: task.SourceID,
		Handler:  job.HandlerIndexer,
		Payload:  body,
		Error:    err.Error(),
	}
	if err := h.jobRepo.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		return
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
}

// clearFailures drops stale failed jobs once a source indexes cleanly.
func (h *IndexConsumer) clearFailures(ctx context.Context, sourceID string) {
	n, err := h.jobRepo.DeleteBySource(context.WithoutCancel(ctx), sourceID)
	if err != nil {
		slog.WarnContext(ctx, "failed to clear failed jobs", "source_id", sourceID, "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "cleared failed jobs", "source_id", sourceID, "count", n)
	}
}

func (h *IndexConsumer) setStatus(ctx context.Context, id, status, msg string) {
	if err := h.docs.UpdateStatus(ctx, id, status, msg); err != nil {
		slog.WarnContext(ctx, "failed to update document status", "status", status, "error", err)
	}
}

// retryable reports whether running the same task again could succeed.
func retryable(err error) bool {
	return !errors.Is(err, apperr.ErrExtractionFailed) && !errors.Is(err, apperr.ErrInvalidParameters)
}
