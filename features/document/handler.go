package document

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/extract"
	"github.com/jabraham1/dok-tok/internal/middleware"
)

// sniffLen matches the prefix mimetype inspects.
const sniffLen = 3072

type Handler struct {
	service   *Service
	uploadDir string
	maxBytes  int64
}

func NewHandler(service *Service, uploadDir string, maxUploadMB int64) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Handler{service: service, uploadDir: uploadDir, maxBytes: maxUploadMB << 20}
}

// StoredName is the on-disk name of an upload: a dashless UUID token and the
// base of the client filename.
func StoredName(filename string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%s", token, filepath.Base(filename))
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		h.writeFailure(ctx, w, "VALIDATION_ERROR", "File too large or malformed form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeFailure(ctx, w, "VALIDATION_ERROR", "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.writeFailure(ctx, w, "VALIDATION_ERROR", "Unable to read file", http.StatusBadRequest)
		return
	}
	head = head[:n]

	mediaType, mime, err := extract.DetectMediaType(header.Filename, head)
	if err != nil {
		slog.InfoContext(ctx, "rejected upload", "filename", header.Filename, "error", err)
		h.writeFailure(ctx, w, apperr.Code(err), apperr.Message(err), apperr.Status(err))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		h.writeFailure(ctx, w, "INTERNAL_ERROR", "Unable to read file", http.StatusInternalServerError)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		slog.ErrorContext(ctx, "failed to create upload directory", "error", err, "path", filepath.Clean(h.uploadDir))
		h.writeFailure(ctx, w, "INTERNAL_ERROR", "Failed to create upload directory", http.StatusInternalServerError)
		return
	}

	storedName := StoredName(header.Filename)
	path := filepath.Clean(filepath.Join(h.uploadDir, storedName))

	dst, err := os.Create(path) // #nosec G304 -- path is a generated token plus a basename
	if err != nil {
		slog.ErrorContext(ctx, "failed to create file", "error", err, "path", path)
		h.writeFailure(ctx, w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hash), file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		h.removeFile(ctx, path)
		h.writeFailure(ctx, w, "INTERNAL_ERROR", "Failed to write file", http.StatusInternalServerError)
		return
	}

	doc, err := h.service.Upload(ctx, UploadRequest{
		Filename:   header.Filename,
		StoredName: storedName,
		Path:       path,
		Hash:       fmt.Sprintf("%x", hash.Sum(nil)),
		Size:       size,
		MediaType:  mediaType,
		MIME:       mime,
	})
	if err != nil {
		if doc == nil {
			h.removeFile(ctx, path)
		}
		slog.ErrorContext(ctx, "upload failed", "error", err, "filename", header.Filename)
		h.writeFailure(ctx, w, apperr.Code(err), apperr.Message(err), apperr.Status(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	resp := map[string]interface{}{
		"ok":          true,
		"file":        doc.SourceID,
		"document_id": doc.ID,
		"message":     "File uploaded and will be indexed shortly.",
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) removeFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil { // #nosec G304 -- generated path
		slog.WarnContext(ctx, "failed to clean up uploaded file", "error", err, "path", filepath.Clean(path))
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.service.List(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list documents", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "failed to list documents", http.StatusInternalServerError)
		return
	}

	if docs == nil {
		docs = []Document{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": detail}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Reindex(r.Context(), id); err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": "document queued for indexing"}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "document operation failed", "error", err)
	}
	h.writeError(ctx, w, apperr.Code(err), apperr.Message(err), status)
}

// writeFailure renders the upload envelope used by the web client.
func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"ok":    false,
		"error": message,
		"code":  code,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
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
