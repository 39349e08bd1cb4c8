package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultEmbeddingModel = "gemini-embedding-001"
	maxBatchEmbed         = 100
)

var ErrEmptyEmbedding = errors.New("empty embedding received")

type Embedder struct {
	clients *clients
	limiter *Limiter
	model   string
}

func NewEmbedder(keys KeyProvider, model string, limiter *Limiter, opts ...option.ClientOption) *Embedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{clients: newClients(keys, opts), limiter: limiter, model: model}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, release, err := e.clients.get(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds texts in order, splitting into API-sized requests.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, release, err := e.clients.get(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	em := client.EmbeddingModel(e.model)

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchEmbed {
		end := min(start+maxBatchEmbed, len(texts))
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		b := em.NewBatch()
		for _, t := range texts[start:end] {
			b.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			return nil, err
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("batch embed returned %d embeddings for %d texts", len(res.Embeddings), end-start)
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, ErrEmptyEmbedding
			}
			out = append(out, emb.Values)
		}
	}
	slog.DebugContext(ctx, "batch embedded", "model", e.model, "count", len(out))
	return out, nil
}

func (e *Embedder) Close() error {
	return e.clients.close()
}
