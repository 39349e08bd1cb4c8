package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/jabraham1/dok-tok/internal/middleware"
)

type DocumentRepo interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

// VectorStore counts indexed chunks. An empty source counts the whole collection.
type VectorStore interface {
	CountChunks(ctx context.Context, source string) (int, error)
}

type Handler struct {
	documentRepo DocumentRepo
	jobRepo      JobRepo
	vectorStore  VectorStore
}

func NewHandler(d DocumentRepo, j JobRepo, v VectorStore) *Handler {
	return &Handler{documentRepo: d, jobRepo: j, vectorStore: v}
}

// StatsResponse reports Chunks as nil when the vector store cannot be
// reached; the Postgres counts are still returned.
type StatsResponse struct {
	Documents   int            `json:"documents"`
	ByStatus    map[string]int `json:"by_status"`
	Chunks      *int           `json:"chunks"`
	FailedJobs  int            `json:"failed_jobs"`
	VectorStore string         `json:"vector_store"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.DebugContext(ctx, "getting stats")

	var (
		byStatus map[string]int
		jobs     int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byStatus, err = h.documentRepo.CountByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		jobs, err = h.jobRepo.Count(gctx)
		return err
	})

	// Chunks are counted outside the group so a Weaviate outage degrades the
	// response instead of failing it.
	chunks, chunkErr := h.vectorStore.CountChunks(ctx, "")

	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "failed to count documents or jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to collect stats", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{ByStatus: byStatus, FailedJobs: jobs, VectorStore: "ok"}
	if resp.ByStatus == nil {
		resp.ByStatus = map[string]int{}
	}
	for _, n := range resp.ByStatus {
		resp.Documents += n
	}
	if chunkErr != nil {
		slog.WarnContext(ctx, "failed to count chunks", "error", chunkErr)
		resp.VectorStore = "unavailable"
	} else {
		resp.Chunks = &chunks
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
