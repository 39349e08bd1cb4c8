package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jabraham1/dok-tok/features/document"
	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/extract"
	"github.com/jabraham1/dok-tok/internal/middleware"
	"github.com/jabraham1/dok-tok/internal/retrieval"
	"github.com/jabraham1/dok-tok/internal/vector"
)

type Retriever interface {
	Answer(ctx context.Context, question string, opts *retrieval.AnswerOptions) (*retrieval.Answer, error)
	Interpret(ctx context.Context, sourceID, name string) (*retrieval.Answer, error)
	InterpretText(ctx context.Context, filename, text string) (*retrieval.Answer, error)
	Search(ctx context.Context, query string, k int) ([]vector.Match, error)
}

type Extractor interface {
	Extract(ctx context.Context, doc extract.Document) (string, error)
}

type DocumentLookup interface {
	Lookup(ctx context.Context, sourceID string) (*document.Document, error)
}

type Handler struct {
	retriever Retriever
	extractor Extractor
	documents DocumentLookup
	timeout   time.Duration
	maxBytes  int64
}

func NewHandler(r Retriever, e Extractor, d DocumentLookup, timeout time.Duration, maxUploadMB int64) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Handler{retriever: r, extractor: e, documents: d, timeout: timeout, maxBytes: maxUploadMB << 20}
}

type Request struct {
	Question string `json:"question"`
	Filename string `json:"filename"`
	TopK     int    `json:"top_k"`
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

// Interpret answers a free-form question, or interprets a stored document
// when only a filename is given. A question with a filename is answered from
// that document alone.
func (h *Handler) Interpret(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(r.Context(), w, "VALIDATION_ERROR", "Invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Question == "" && req.Filename == "" {
		h.writeFailure(r.Context(), w, "VALIDATION_ERROR", "Provide a question or a filename", http.StatusBadRequest)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	var (
		answer *retrieval.Answer
		err    error
	)
	switch {
	case req.Question != "":
		answer, err = h.retriever.Answer(ctx, req.Question, &retrieval.AnswerOptions{TopK: req.TopK, Source: req.Filename})
	default:
		answer, err = h.retriever.Interpret(ctx, req.Filename, h.displayName(ctx, req.Filename))
	}
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"interpretation": answer.Text,
		"sources":        answer.Sources,
	})
}

// displayName prefers the name the file was uploaded under.
func (h *Handler) displayName(ctx context.Context, sourceID string) string {
	if h.documents == nil {
		return sourceID
	}
	doc, err := h.documents.Lookup(ctx, sourceID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			slog.WarnContext(ctx, "document lookup failed", "error", err, "source_id", sourceID)
		}
		return sourceID
	}
	return doc.Filename
}

// Analyze extracts and interprets an upload in one request. The file is
// held in memory only.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		h.writeFailure(r.Context(), w, "VALIDATION_ERROR", "File too large or malformed form", http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeFailure(r.Context(), w, "VALIDATION_ERROR", "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeFailure(r.Context(), w, "VALIDATION_ERROR", "Unable to read file", http.StatusBadRequest)
		return
	}

	mediaType, mime, err := extract.DetectMediaType(header.Filename, data)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	text, err := h.extractor.Extract(ctx, extract.Document{
		Name:      header.Filename,
		MediaType: mediaType,
		MIME:      mime,
		Data:      data,
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	answer, err := h.retriever.InterpretText(ctx, header.Filename, text)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"filename":       header.Filename,
		"size_bytes":     len(data),
		"interpretation": answer.Text,
	})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "k must be a positive integer", http.StatusBadRequest)
			return
		}
		k = parsed
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	matches, err := h.retriever.Search(ctx, q, k)
	if err != nil {
		status := apperr.Status(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "search failed", "error", err)
		}
		h.writeError(ctx, w, apperr.Code(err), apperr.Message(err), status)
		return
	}
	if matches == nil {
		matches = []vector.Match{}
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": matches,
		"meta": map[string]int{"count": len(matches)},
	})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperr.ErrUpstreamFailure) {
		err = apperr.Wrap(apperr.ErrUpstreamFailure, "the request timed out", err)
	}
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "interpretation failed", "error", err)
	} else {
		slog.InfoContext(ctx, "interpretation rejected", "error", err)
	}
	h.writeFailure(ctx, w, apperr.Code(err), apperr.Message(err), status)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"ok":    false,
		"error": message,
		"code":  code,
	})
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
