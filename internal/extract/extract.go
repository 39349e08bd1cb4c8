// Package extract turns uploaded documents into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jabraham1/dok-tok/internal/apperr"
)

type MediaType string

const (
	MediaPDF   MediaType = "pdf"
	MediaDOCX  MediaType = "docx"
	MediaText  MediaType = "txt"
	MediaImage MediaType = "image"
)

const mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
	".gif": true, ".heic": true, ".heif": true,
}

// Document is an uploaded file awaiting extraction.
type Document struct {
	Name      string
	MediaType MediaType
	MIME      string
	Data      []byte
}

type Extractor interface {
	Extract(ctx context.Context, doc Document) (string, error)
}

// DetectMediaType classifies a file by its extension and checks that the
// leading bytes agree. head may be the first few KB of the file.
func DetectMediaType(filename string, head []byte) (MediaType, string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	sniffed := mimetype.Detect(head)

	unsupported := func(reason string) (MediaType, string, error) {
		return "", sniffed.String(), apperr.Wrap(apperr.ErrUnsupportedFileType,
			"unsupported file type: only PDF, DOCX, TXT and images are accepted",
			fmt.Errorf("%s: ext=%q sniffed=%q", reason, ext, sniffed.String()))
	}

	switch {
	case ext == ".pdf":
		if len(head) > 0 && !sniffed.Is("application/pdf") {
			return unsupported("content is not a pdf")
		}
		return MediaPDF, "application/pdf", nil
	case ext == ".docx":
		if len(head) > 0 && !sniffed.Is(mimeDOCX) && !sniffed.Is("application/zip") {
			return unsupported("content is not a docx")
		}
		return MediaDOCX, mimeDOCX, nil
	case ext == ".txt":
		if !looksLikeText(head) {
			return unsupported("content is not text")
		}
		return MediaText, "text/plain", nil
	case imageExtensions[ext], ext == "" && len(head) > 0:
		if !strings.HasPrefix(sniffed.String(), "image/") {
			return unsupported("content is not an image")
		}
		mime, _, _ := strings.Cut(sniffed.String(), ";")
		return MediaImage, mime, nil
	default:
		return unsupported("extension not accepted")
	}
}

var (
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// looksLikeText accepts UTF-16 with a byte order mark, or NUL-free valid
// UTF-8 whatever the sniffer makes of it. An incomplete rune at the end of
// head is ignored.
func looksLikeText(head []byte) bool {
	if bytes.HasPrefix(head, utf16LEBOM) || bytes.HasPrefix(head, utf16BEBOM) {
		return true
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	for n := 1; n <= utf8.UTFMax && n <= len(head); n++ {
		if utf8.RuneStart(head[len(head)-n]) {
			if !utf8.FullRune(head[len(head)-n:]) {
				head = head[:len(head)-n]
			}
			break
		}
	}
	return utf8.Valid(head)
}

// Registry dispatches documents to the extractor for their media type.
type Registry struct {
	backends map[MediaType]Extractor
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[MediaType]Extractor)}
}

func (r *Registry) Register(mt MediaType, e Extractor) *Registry {
	r.backends[mt] = e
	return r
}

// Extract returns the document text with NUL bytes removed, since Postgres
// TEXT rejects them. Empty output and backend errors that do not already
// carry a kind become ErrExtractionFailed.
func (r *Registry) Extract(ctx context.Context, doc Document) (string, error) {
	backend, ok := r.backends[doc.MediaType]
	if !ok {
		return "", apperr.New(apperr.ErrUnsupportedFileType,
			fmt.Sprintf("no extractor for %q documents", doc.MediaType))
	}

	text, err := backend.Extract(ctx, doc)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return "", err
		}
		slog.WarnContext(ctx, "extraction failed", "file", doc.Name, "media_type", doc.MediaType, "error", err)
		return "", apperr.Wrap(apperr.ErrExtractionFailed, "could not read document", err)
	}
	text = strings.ReplaceAll(text, "\x00", "")
	if strings.TrimSpace(text) == "" {
		return "", apperr.New(apperr.ErrExtractionFailed, "no extractable text")
	}
	return text, nil
}
