package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jabraham1/dok-tok/internal/apperr"
)

var ErrAPIKeyMissing = errors.New("gemini api key not configured")

// Settings are the runtime-tunable knobs of the interpretation pipeline. A
// single row backs them. A nil knob falls back to the process configuration,
// so a stored zero temperature is a real choice.
type Settings struct {
	ID              int      `json:"-"`
	GeminiAPIKey    string   `json:"gemini_api_key"`
	RetrievalTopK   *int     `json:"retrieval_top_k"`
	Temperature     *float32 `json:"temperature"`
	MaxOutputTokens *int32   `json:"max_output_tokens"`
}

// Redacted returns a copy safe to hand to clients.
func (s Settings) Redacted() Settings {
	if n := len(s.GeminiAPIKey); n > 4 {
		s.GeminiAPIKey = strings.Repeat("*", 8) + s.GeminiAPIKey[n-4:]
	} else if n > 0 {
		s.GeminiAPIKey = strings.Repeat("*", 8)
	}
	return s
}

func (s Settings) Validate() error {
	if k := s.RetrievalTopK; k != nil && (*k < 1 || *k > 50) {
		return apperr.New(apperr.ErrInvalidParameters, "retrieval_top_k must be between 1 and 50")
	}
	if t := s.Temperature; t != nil && (*t < 0 || *t > 2) {
		return apperr.New(apperr.ErrInvalidParameters, "temperature must be between 0 and 2")
	}
	if n := s.MaxOutputTokens; n != nil && *n < 1 {
		return apperr.New(apperr.ErrInvalidParameters, "max_output_tokens must be positive")
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

// Update validates and stores set. An empty or redacted API key keeps the
// stored one, so clients can round-trip the GET response.
func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if set.GeminiAPIKey == "" || strings.HasPrefix(set.GeminiAPIKey, "********") {
		current, err := s.repo.Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to load current settings: %w", err)
		}
		set.GeminiAPIKey = current.GeminiAPIKey
	}
	return s.repo.Update(ctx, set)
}

// APIKey returns the Gemini key currently configured.
func (s *Service) APIKey(ctx context.Context) (string, error) {
	set, err := s.repo.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get settings: %w", err)
	}
	if set.GeminiAPIKey == "" {
		return "", ErrAPIKeyMissing
	}
	return set.GeminiAPIKey, nil
}

// SeedAPIKey stores key when no key has been configured yet.
func (s *Service) SeedAPIKey(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	set, err := s.repo.Get(ctx)
	if err != nil {
		return false, err
	}
	if set.GeminiAPIKey != "" {
		return false, nil
	}
	set.GeminiAPIKey = key
	return true, s.repo.Update(ctx, set)
}
