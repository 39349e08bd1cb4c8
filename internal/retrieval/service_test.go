package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/indexing"
	"github.com/jabraham1/dok-tok/internal/retrieval"
	"github.com/jabraham1/dok-tok/internal/settings"
	"github.com/jabraham1/dok-tok/internal/vector"
)

type MockSearcher struct{ mock.Mock }

func (m *MockSearcher) Query(ctx context.Context, text string, limit int, filter vector.Filter) ([]vector.Match, error) {
	args := m.Called(ctx, text, limit, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Match), args.Error(1)
}

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) Generate(ctx context.Context, req retrieval.GenerateRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func ptr[T any](v T) *T { return &v }

type MockSettingsRepo struct{ mock.Mock }

func (m *MockSettingsRepo) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockSettingsRepo) Update(ctx context.Context, s *settings.Settings) error {
	return m.Called(ctx, s).Error(0)
}

func matches(texts ...string) []vector.Match {
	out := make([]vector.Match, len(texts))
	for i, t := range texts {
		out[i] = vector.Match{Content: t, SourceID: "abc_labs.pdf"}
	}
	return out
}

func TestComposeContext(t *testing.T) {
	assert.Equal(t, "", retrieval.ComposeContext(nil, 6))
	assert.Equal(t, "a", retrieval.ComposeContext([]string{"a"}, 6))
	assert.Equal(t, "a\n\nb", retrieval.ComposeContext([]string{"a", "b"}, 6))

	eight := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	assert.Equal(t, "1\n\n2\n\n3\n\n4\n\n5\n\n6", retrieval.ComposeContext(eight, 6))
}

func TestGenerateRequest_Prompt(t *testing.T) {
	req := retrieval.GenerateRequest{Question: "What does high TSH mean?", Context: "TSH 5.1"}
	assert.Equal(t, "Question: What does high TSH mean?\n\nRelevant Lab Notes:\nTSH 5.1", req.Prompt())
}

func TestService_Answer(t *testing.T) {
	ctx := context.Background()

	t.Run("TSH context passed verbatim", func(t *testing.T) {
		store, gen := new(MockSearcher), new(MockGenerator)
		svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())

		store.On("Query", ctx, "What does high TSH mean?", 3, vector.Filter{}).Return(matches(
			"TSH is 5.1 mIU/L, above normal range.",
			"Elevated TSH can indicate hypothyroidism.",
		), nil)
		gen.On("Generate", ctx, retrieval.GenerateRequest{
			SystemInstruction: retrieval.SystemInstruction,
			Question:          "What does high TSH mean?",
			Context:           "TSH is 5.1 mIU/L, above normal range.\n\nElevated TSH can indicate hypothyroidism.",
			Temperature:       0.2,
			MaxOutputTokens:   800,
		}).Return("Your thyroid may be underactive.", nil).Once()

		ans, err := svc.Answer(ctx, "What does high TSH mean?", nil)
		require.NoError(t, err)
		assert.Equal(t, "Your thyroid may be underactive.", ans.Text)
		assert.Equal(t, []string{"abc_labs.pdf"}, ans.Sources)
		gen.AssertExpectations(t)
	})

	t.Run("Empty store never reaches the generator", func(t *testing.T) {
		store, gen := new(MockSearcher), new(MockGenerator)
		svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())
		store.On("Query", ctx, "anything", 3, vector.Filter{}).Return([]vector.Match{}, nil)

		ans, err := svc.Answer(ctx, "anything", nil)
		assert.Nil(t, ans)
		assert.ErrorIs(t, err, apperr.ErrNoContext)
		gen.AssertNumberOfCalls(t, "Generate", 0)
	})

	t.Run("Store failure is upstream", func(t *testing.T) {
		store, gen := new(MockSearcher), new(MockGenerator)
		svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())
		store.On("Query", ctx, "q", 3, vector.Filter{}).Return(nil, errors.New("dial tcp: refused"))

		_, err := svc.Answer(ctx, "q", nil)
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
		assert.Equal(t, "similarity search failed", apperr.Message(err))
		gen.AssertNumberOfCalls(t, "Generate", 0)
	})

	t.Run("Generator failure is upstream", func(t *testing.T) {
		store, gen := new(MockSearcher), new(MockGenerator)
		svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())
		store.On("Query", ctx, "q", 3, vector.Filter{}).Return(matches("x"), nil)
		gen.On("Generate", ctx, mock.Anything).Return("", context.DeadlineExceeded)

		_, err := svc.Answer(ctx, "q", nil)
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Blank question", func(t *testing.T) {
		store, gen := new(MockSearcher), new(MockGenerator)
		_, err := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions()).Answer(ctx, "   ", nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidParameters)
		store.AssertNumberOfCalls(t, "Query", 0)
	})

	t.Run("Top k clamps to the context cap", func(t *testing.T) {
		store, gen := new(MockSearcher), new(MockGenerator)
		svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())
		store.On("Query", ctx, "q", 6, vector.Filter{}).Return(matches("a"), nil)
		gen.On("Generate", ctx, mock.Anything).Return("ok", nil)

		_, err := svc.Answer(ctx, "q", &retrieval.AnswerOptions{TopK: 40})
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("Context capped at six chunks", func(t *testing.T) {
		store, gen := new(MockSearcher), new(MockGenerator)
		svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())
		store.On("Query", ctx, "q", 6, vector.Filter{}).Return(matches("1", "2", "3", "4", "5", "6", "7"), nil)
		gen.On("Generate", ctx, mock.MatchedBy(func(r retrieval.GenerateRequest) bool {
			return r.Context == "1\n\n2\n\n3\n\n4\n\n5\n\n6"
		})).Return("ok", nil)

		_, err := svc.Answer(ctx, "q", &retrieval.AnswerOptions{TopK: 6})
		require.NoError(t, err)
		gen.AssertExpectations(t)
	})

	t.Run("Stored settings override defaults", func(t *testing.T) {
		store, gen, repo := new(MockSearcher), new(MockGenerator), new(MockSettingsRepo)
		svc := retrieval.NewService(store, gen, settings.NewService(repo), nil, retrieval.DefaultOptions())

		repo.On("Get", ctx).Return(&settings.Settings{RetrievalTopK: ptr(5), Temperature: ptr(float32(0.4)), MaxOutputTokens: ptr(int32(300))}, nil)
		store.On("Query", ctx, "q", 5, vector.Filter{}).Return(matches("a"), nil)
		gen.On("Generate", ctx, mock.MatchedBy(func(r retrieval.GenerateRequest) bool {
			return r.Temperature == 0.4 && r.MaxOutputTokens == 300
		})).Return("ok", nil)

		_, err := svc.Answer(ctx, "q", nil)
		require.NoError(t, err)
		gen.AssertExpectations(t)
	})

	t.Run("Unset settings keep configured options", func(t *testing.T) {
		store, gen, repo := new(MockSearcher), new(MockGenerator), new(MockSettingsRepo)
		opts := retrieval.Options{TopK: 5, MaxContextChunks: 6, Temperature: 0.1, MaxOutputTokens: 400}
		svc := retrieval.NewService(store, gen, settings.NewService(repo), nil, opts)

		d := settings.Defaults()
		repo.On("Get", ctx).Return(&d, nil)
		store.On("Query", ctx, "q", 5, vector.Filter{}).Return(matches("a"), nil)
		gen.On("Generate", ctx, mock.MatchedBy(func(r retrieval.GenerateRequest) bool {
			return r.Temperature == 0.1 && r.MaxOutputTokens == 400
		})).Return("ok", nil)

		_, err := svc.Answer(ctx, "q", nil)
		require.NoError(t, err)
		store.AssertExpectations(t)
		gen.AssertExpectations(t)
	})

	t.Run("Stored zero temperature is honoured", func(t *testing.T) {
		store, gen, repo := new(MockSearcher), new(MockGenerator), new(MockSettingsRepo)
		opts := retrieval.Options{TopK: 5, MaxContextChunks: 6, Temperature: 0.7, MaxOutputTokens: 400}
		svc := retrieval.NewService(store, gen, settings.NewService(repo), nil, opts)

		repo.On("Get", ctx).Return(&settings.Settings{Temperature: ptr(float32(0))}, nil)
		store.On("Query", ctx, "q", 5, vector.Filter{}).Return(matches("a"), nil)
		gen.On("Generate", ctx, mock.MatchedBy(func(r retrieval.GenerateRequest) bool {
			return r.Temperature == 0 && r.MaxOutputTokens == 400
		})).Return("ok", nil)

		_, err := svc.Answer(ctx, "q", nil)
		require.NoError(t, err)
		gen.AssertExpectations(t)
	})

	t.Run("Settings failure falls back to defaults", func(t *testing.T) {
		store, gen, repo := new(MockSearcher), new(MockGenerator), new(MockSettingsRepo)
		svc := retrieval.NewService(store, gen, settings.NewService(repo), nil, retrieval.DefaultOptions())

		repo.On("Get", ctx).Return(nil, errors.New("db down"))
		store.On("Query", ctx, "q", 3, vector.Filter{}).Return(matches("a"), nil)
		gen.On("Generate", ctx, mock.Anything).Return("ok", nil)

		_, err := svc.Answer(ctx, "q", nil)
		require.NoError(t, err)
	})
}

func TestService_Interpret(t *testing.T) {
	ctx := context.Background()
	store, gen := new(MockSearcher), new(MockGenerator)
	svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())

	question := retrieval.InterpretQuestion("labs.pdf")
	assert.Equal(t, "Interpret the lab data from file labs.pdf. Provide a patient-friendly summary, likely causes, and recommended next steps.", question)

	store.On("Query", ctx, question, retrieval.InterpretTopK, vector.Filter{Source: "abc_labs.pdf"}).Return(matches("Hb 10.2 g/dL"), nil)
	gen.On("Generate", ctx, mock.MatchedBy(func(r retrieval.GenerateRequest) bool {
		return r.Question == question && r.Context == "Hb 10.2 g/dL"
	})).Return("Mild anaemia.", nil)

	ans, err := svc.Interpret(ctx, "abc_labs.pdf", "labs.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Mild anaemia.", ans.Text)

	_, err = svc.Interpret(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)
}

func TestService_InterpretText(t *testing.T) {
	ctx := context.Background()
	store, gen := new(MockSearcher), new(MockGenerator)
	svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())

	gen.On("Generate", ctx, mock.MatchedBy(func(r retrieval.GenerateRequest) bool {
		return r.Context == "Glucose 130 mg/dL" && strings.Contains(r.Question, "scan.png")
	})).Return("Slightly high sugar.", nil)

	ans, err := svc.InterpretText(ctx, "scan.png", "Glucose 130 mg/dL")
	require.NoError(t, err)
	assert.Equal(t, "Slightly high sugar.", ans.Text)
	store.AssertNumberOfCalls(t, "Query", 0)

	_, err = svc.InterpretText(ctx, "blank.txt", "\n ")
	assert.ErrorIs(t, err, apperr.ErrExtractionFailed)
}

func TestService_Search(t *testing.T) {
	ctx := context.Background()
	store, gen := new(MockSearcher), new(MockGenerator)
	svc := retrieval.NewService(store, gen, nil, nil, retrieval.DefaultOptions())

	store.On("Query", ctx, "ferritin", retrieval.MaxSearchResults, vector.Filter{}).Return(matches("Ferritin 8"), nil)
	got, err := svc.Search(ctx, "ferritin", 500)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	store.On("Query", ctx, "ldl", retrieval.DefaultTopK, vector.Filter{}).Return(matches(), nil)
	got, err = svc.Search(ctx, "ldl", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = svc.Search(ctx, "", 3)
	assert.ErrorIs(t, err, apperr.ErrInvalidParameters)
	gen.AssertNumberOfCalls(t, "Generate", 0)
}

// memoryCollection ranks chunks by how many question words they contain.
type memoryCollection struct {
	chunks []vector.Chunk
}

func (m *memoryCollection) Add(_ context.Context, chunks []vector.Chunk) error {
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memoryCollection) Query(_ context.Context, text string, limit int, filter vector.Filter) ([]vector.Match, error) {
	words := strings.Fields(strings.ToLower(text))
	var out []vector.Match
	for _, c := range m.chunks {
		if filter.Source != "" && c.SourceID != filter.Source {
			continue
		}
		score := 0
		for _, w := range words {
			if strings.Contains(strings.ToLower(c.Content), w) {
				score++
			}
		}
		if score > 0 {
			out = append(out, vector.Match{ID: c.ID, SourceID: c.SourceID, Content: c.Content, Distance: 1 / float32(score)})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Distance < out[j-1].Distance; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestIndexThenAnswer(t *testing.T) {
	ctx := context.Background()
	coll := &memoryCollection{}

	ix, err := indexing.NewIndexer(coll, indexing.Options{WindowSize: 40, Overlap: 5, BatchSize: 2})
	require.NoError(t, err)

	doc := "Thyroid panel: TSH 5.1 mIU/L (high). Free T4 0.9 ng/dL within range. Vitamin D 18 ng/mL low."
	_, err = ix.Index(ctx, "tok_thyroid.txt", doc, nil)
	require.NoError(t, err)

	gen := new(MockGenerator)
	var seen retrieval.GenerateRequest
	gen.On("Generate", ctx, mock.Anything).Run(func(args mock.Arguments) {
		seen = args.Get(1).(retrieval.GenerateRequest)
	}).Return("answer", nil)

	svc := retrieval.NewService(coll, gen, nil, nil, retrieval.DefaultOptions())
	ans, err := svc.Answer(ctx, "TSH", nil)
	require.NoError(t, err)
	require.NotEmpty(t, ans.Matches)

	nearest := ans.Matches[0]
	assert.Equal(t, "tok_thyroid.txt", nearest.SourceID)
	assert.Contains(t, seen.Context, nearest.Content)
	assert.Contains(t, nearest.Content, "TSH")
}

func TestService_QueryLogRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	store, gen := new(MockSearcher), new(MockGenerator)
	var buf bytes.Buffer
	svc := retrieval.NewService(store, gen, nil, retrieval.NewQueryLogger(&buf), retrieval.DefaultOptions())

	store.On("Query", ctx, "ferritin?", 3, vector.Filter{}).Return([]vector.Match{}, nil).Once()
	store.On("Query", ctx, "tsh?", 3, vector.Filter{}).Return(matches("TSH 5.1"), nil).Once()
	gen.On("Generate", ctx, mock.Anything).Return("High TSH.", nil).Once()

	_, err := svc.Answer(ctx, "ferritin?", nil)
	require.ErrorIs(t, err, apperr.ErrNoContext)
	_, err = svc.Answer(ctx, "tsh?", nil)
	require.NoError(t, err)

	dec := json.NewDecoder(&buf)
	var first, second retrieval.QueryLogEntry
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, "ferritin?", first.Query)
	assert.Equal(t, "NO_CONTEXT", first.Outcome)
	assert.Zero(t, first.NumResults)
	assert.Equal(t, retrieval.OutcomeOK, second.Outcome)
	assert.Equal(t, 1, second.NumResults)
	assert.NotContains(t, buf.String(), "High TSH.", "answers stay out of the query log")
}
