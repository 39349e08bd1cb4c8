package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jabraham1/dok-tok/internal/apperr"
	"github.com/jabraham1/dok-tok/internal/middleware"
	"github.com/jabraham1/dok-tok/internal/settings"
	"github.com/jabraham1/dok-tok/internal/vector"
)

// SystemInstruction is the persona every generation runs under.
const SystemInstruction = "You are a caring health assistant who explains lab and medical test results to patients. " +
	"Use supportive, jargon-free language. For each notable result explain the likely root cause, " +
	"relevant nutrition and lifestyle factors, and when the patient should seek follow-up with a clinician. " +
	"Base your answer only on the lab notes provided and say so when they are insufficient."

const (
	DefaultTopK             = 3
	DefaultMaxContextChunks = 6
	InterpretTopK           = 4
	MaxSearchResults        = 50
)

type Searcher interface {
	Query(ctx context.Context, text string, limit int, filter vector.Filter) ([]vector.Match, error)
}

// GenerateRequest carries everything a Generator needs. Context is passed
// through exactly as composed.
type GenerateRequest struct {
	SystemInstruction string
	Question          string
	Context           string
	Temperature       float32
	MaxOutputTokens   int32
}

// Prompt renders the user turn sent alongside the system instruction.
func (r GenerateRequest) Prompt() string {
	return "Question: " + r.Question + "\n\nRelevant Lab Notes:\n" + r.Context
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Options are the process-level defaults. Values stored in settings win when set.
type Options struct {
	TopK             int
	MaxContextChunks int
	Temperature      float32
	MaxOutputTokens  int32
}

func DefaultOptions() Options {
	return Options{
		TopK:             DefaultTopK,
		MaxContextChunks: DefaultMaxContextChunks,
		Temperature:      0.2,
		MaxOutputTokens:  800,
	}
}

type AnswerOptions struct {
	TopK   int
	Source string
}

type Answer struct {
	Text    string         `json:"interpretation"`
	Sources []string       `json:"sources"`
	Matches []vector.Match `json:"-"`
	Context string         `json:"-"`
}

type Service struct {
	store     Searcher
	generator Generator
	settings  *settings.Service
	logger    *QueryLogger
	opts      Options
}

func NewService(store Searcher, gen Generator, set *settings.Service, l *QueryLogger, opts Options) *Service {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MaxContextChunks <= 0 {
		opts.MaxContextChunks = def.MaxContextChunks
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = def.MaxOutputTokens
	}
	return &Service{store: store, generator: gen, settings: set, logger: l, opts: opts}
}

// ComposeContext joins texts in the given order with a blank line, keeping at
// most max of them.
func ComposeContext(texts []string, max int) string {
	if max > 0 && len(texts) > max {
		texts = texts[:max]
	}
	return strings.Join(texts, "\n\n")
}

// InterpretQuestion is the question asked on behalf of a stored document.
func InterpretQuestion(filename string) string {
	return fmt.Sprintf("Interpret the lab data from file %s. Provide a patient-friendly summary, likely causes, and recommended next steps.", filename)
}

// resolve overlays the knobs stored in settings on the process options.
// Unset knobs keep the configured value.
func (s *Service) resolve(ctx context.Context) Options {
	o := s.opts
	if s.settings == nil {
		return o
	}
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "settings unavailable, using defaults", "error", err)
		return o
	}
	if cfg.RetrievalTopK != nil {
		o.TopK = *cfg.RetrievalTopK
	}
	if cfg.Temperature != nil {
		o.Temperature = *cfg.Temperature
	}
	if cfg.MaxOutputTokens != nil {
		o.MaxOutputTokens = *cfg.MaxOutputTokens
	}
	return o
}

// Answer retrieves the nearest chunks for question and asks the generator to
// answer from them. An empty retrieval ends with ErrNoContext before any
// generation happens.
func (s *Service) Answer(ctx context.Context, question string, opts *AnswerOptions) (*Answer, error) {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.New(apperr.ErrInvalidParameters, "question must not be empty")
	}

	o := s.resolve(ctx)
	topK := o.TopK
	var filter vector.Filter
	if opts != nil {
		if opts.TopK > 0 {
			topK = opts.TopK
		}
		filter.Source = opts.Source
	}
	topK = min(max(topK, 1), o.MaxContextChunks)

	matches, err := s.store.Query(ctx, question, topK, filter)
	if err != nil {
		err = apperr.Wrap(apperr.ErrUpstreamFailure, "similarity search failed", err)
		s.log(ctx, "answer", question, filter.Source, 0, start, err)
		return nil, err
	}
	if len(matches) == 0 {
		err = apperr.New(apperr.ErrNoContext, "no relevant lab notes found")
		s.log(ctx, "answer", question, filter.Source, 0, start, err)
		return nil, err
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Content
	}
	composed := ComposeContext(texts, o.MaxContextChunks)

	text, err := s.generator.Generate(ctx, GenerateRequest{
		SystemInstruction: SystemInstruction,
		Question:          question,
		Context:           composed,
		Temperature:       o.Temperature,
		MaxOutputTokens:   o.MaxOutputTokens,
	})
	if err != nil {
		err = apperr.Wrap(apperr.ErrUpstreamFailure, "generation failed", err)
		s.log(ctx, "answer", question, filter.Source, len(matches), start, err)
		return nil, err
	}

	s.log(ctx, "answer", question, filter.Source, len(matches), start, nil)
	return &Answer{
		Text:    text,
		Sources: sources(matches),
		Matches: matches,
		Context: composed,
	}, nil
}

// Interpret answers the standard interpretation question using only chunks of
// sourceID. name is the filename shown in the question.
func (s *Service) Interpret(ctx context.Context, sourceID, name string) (*Answer, error) {
	if sourceID == "" {
		return nil, apperr.New(apperr.ErrInvalidParameters, "filename must not be empty")
	}
	if name == "" {
		name = sourceID
	}
	return s.Answer(ctx, InterpretQuestion(name), &AnswerOptions{TopK: InterpretTopK, Source: sourceID})
}

// InterpretText interprets a document without touching the collection: the
// whole extracted text becomes the context.
func (s *Service) InterpretText(ctx context.Context, filename, text string) (*Answer, error) {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.ErrExtractionFailed, "no extractable text")
	}
	o := s.resolve(ctx)
	question := InterpretQuestion(filename)

	out, err := s.generator.Generate(ctx, GenerateRequest{
		SystemInstruction: SystemInstruction,
		Question:          question,
		Context:           text,
		Temperature:       o.Temperature,
		MaxOutputTokens:   o.MaxOutputTokens,
	})
	if err != nil {
		err = apperr.Wrap(apperr.ErrUpstreamFailure, "generation failed", err)
		s.log(ctx, "interpret_text", question, filename, 1, start, err)
		return nil, err
	}

	s.log(ctx, "interpret_text", question, filename, 1, start, nil)
	return &Answer{Text: out, Sources: []string{filename}, Context: text}, nil
}

// Search returns raw nearest matches with their distances.
func (s *Service) Search(ctx context.Context, query string, k int) ([]vector.Match, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.New(apperr.ErrInvalidParameters, "query must not be empty")
	}
	if k <= 0 {
		k = s.resolve(ctx).TopK
	}
	k = min(k, MaxSearchResults)

	matches, err := s.store.Query(ctx, query, k, vector.Filter{})
	if err != nil {
		err = apperr.Wrap(apperr.ErrUpstreamFailure, "similarity search failed", err)
		s.log(ctx, "search", query, "", 0, start, err)
		return nil, err
	}
	s.log(ctx, "search", query, "", len(matches), start, nil)
	return matches, nil
}

func (s *Service) log(ctx context.Context, kind, query, source string, n int, start time.Time, err error) {
	if s.logger == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = apperr.Code(err)
	}
	s.logger.Log(QueryLogEntry{
		Kind:          kind,
		Query:         query,
		Source:        source,
		NumResults:    n,
		Outcome:       outcome,
		Duration:      time.Since(start),
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}

func sources(matches []vector.Match) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 1)
	for _, m := range matches {
		if m.SourceID == "" || seen[m.SourceID] {
			continue
		}
		seen[m.SourceID] = true
		out = append(out, m.SourceID)
	}
	return out
}
