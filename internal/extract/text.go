package extract

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/jabraham1/dok-tok/internal/apperr"
)

type Text struct{}

func NewText() *Text {
	return &Text{}
}

// Extract decodes UTF-8, or UTF-16 when a byte order mark says so. Any BOM
// is dropped and line endings are normalised to LF.
func (Text) Extract(_ context.Context, doc Document) (string, error) {
	data, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), doc.Data)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	s := strings.ToValidUTF8(string(data), "\uFFFD")
	return strings.ReplaceAll(s, "\r\n", "\n"), nil
}

// Describer turns an image into text with a vision-capable model.
type Describer interface {
	Describe(ctx context.Context, mimeType string, data []byte) (string, error)
}

// Image extracts text by asking a vision model to transcribe the image.
type Image struct {
	describer Describer
}

func NewImage(d Describer) *Image {
	return &Image{describer: d}
}

func (i *Image) Extract(ctx context.Context, doc Document) (string, error) {
	mime := doc.MIME
	if mime == "" {
		mime = "image/png"
	}
	out, err := i.describer.Describe(ctx, mime, doc.Data)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrUpstreamFailure, "image transcription failed", err)
	}
	return out, nil
}
