package settings

import (
	"context"
	"database/sql"
	"errors"
)

// Defaults is the unconfigured row: no key, and every knob left to the
// process configuration.
func Defaults() Settings {
	return Settings{ID: 1}
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Get reads the settings row. A missing row reads as Defaults; the next
// Update recreates it.
func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	var (
		topK      sql.NullInt64
		temp      sql.NullFloat64
		maxTokens sql.NullInt32
	)
	query := `SELECT id, gemini_api_key, retrieval_top_k, temperature, max_output_tokens FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.GeminiAPIKey, &topK, &temp, &maxTokens)
	if errors.Is(err, sql.ErrNoRows) {
		d := Defaults()
		return &d, nil
	}
	if err != nil {
		return nil, err
	}
	if topK.Valid {
		v := int(topK.Int64)
		s.RetrievalTopK = &v
	}
	if temp.Valid {
		v := float32(temp.Float64)
		s.Temperature = &v
	}
	if maxTokens.Valid {
		s.MaxOutputTokens = &maxTokens.Int32
	}
	return s, nil
}

// Update writes s. Nil knobs are stored as NULL.
func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `INSERT INTO settings (id, gemini_api_key, retrieval_top_k, temperature, max_output_tokens) VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET gemini_api_key = EXCLUDED.gemini_api_key, retrieval_top_k = EXCLUDED.retrieval_top_k,
			temperature = EXCLUDED.temperature, max_output_tokens = EXCLUDED.max_output_tokens, updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, s.GeminiAPIKey, s.RetrievalTopK, s.Temperature, s.MaxOutputTokens)
	return err
}
