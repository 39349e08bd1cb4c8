package app

import (
	"context"

	"github.com/jabraham1/dok-tok/internal/retrieval"
	"github.com/jabraham1/dok-tok/internal/vector"
)

// MockVectorStore is an in-memory VectorStore for wiring tests.
type MockVectorStore struct {
	EnsureSchemaErr error
	Chunks          []vector.Chunk
}

func (m *MockVectorStore) EnsureSchema(ctx context.Context) error { return m.EnsureSchemaErr }

func (m *MockVectorStore) Upsert(ctx context.Context, chunks []vector.Chunk) error {
	m.Chunks = append(m.Chunks, chunks...)
	return nil
}

func (m *MockVectorStore) NearVector(ctx context.Context, vec []float32, limit int, filter vector.Filter) ([]vector.Match, error) {
	var out []vector.Match
	for _, c := range m.Chunks {
		if filter.Source != "" && c.SourceID != filter.Source {
			continue
		}
		out = append(out, vector.Match{ID: c.ID, SourceID: c.SourceID, Content: c.Content})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockVectorStore) GetChunks(ctx context.Context, source string) ([]vector.Match, error) {
	return m.NearVector(ctx, nil, len(m.Chunks)+1, vector.Filter{Source: source})
}

func (m *MockVectorStore) DeleteBySource(ctx context.Context, source string) (int64, error) {
	return 0, nil
}

func (m *MockVectorStore) CountChunks(ctx context.Context, source string) (int, error) {
	return len(m.Chunks), nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type stubGenerator struct {
	calls   int
	lastCtx string
}

func (g *stubGenerator) Generate(ctx context.Context, req retrieval.GenerateRequest) (string, error) {
	g.calls++
	g.lastCtx = req.Context
	return "interpreted", nil
}

func (g *stubGenerator) Describe(ctx context.Context, mimeType string, data []byte) (string, error) {
	return "image text", nil
}

type stubPublisher struct {
	topics []string
}

func (p *stubPublisher) Publish(topic string, body []byte) error {
	p.topics = append(p.topics, topic)
	return nil
}
