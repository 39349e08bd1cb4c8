package document

import (
	"context"
	"database/sql"

	"github.com/jabraham1/dok-tok/internal/worker"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const documentColumns = `id, source_id, filename, media_type, path, content_hash, size_bytes, status, chunk_count, error, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	d := &Document{}
	err := row.Scan(&d.ID, &d.SourceID, &d.Filename, &d.MediaType, &d.Path, &d.ContentHash,
		&d.SizeBytes, &d.Status, &d.ChunkCount, &d.Error, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM documents WHERE content_hash = $1 AND deleted_at IS NULL)`
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepo) Save(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (source_id, filename, media_type, path, content_hash, size_bytes, status, extracted_text) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, doc.SourceID, doc.Filename, doc.MediaType, doc.Path, doc.ContentHash, doc.SizeBytes, doc.Status, doc.Text).
		Scan(&doc.ID, &doc.CreatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND deleted_at IS NULL`
	return scanDocument(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) GetBySourceID(ctx context.Context, sourceID string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE source_id = $1 AND deleted_at IS NULL`
	return scanDocument(r.db.QueryRowContext(ctx, query, sourceID))
}

func (r *PostgresRepo) List(ctx context.Context) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	query := `UPDATE documents SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, errMsg, id)
	return err
}

// Requeue replaces the extracted text and resets the document to pending.
func (r *PostgresRepo) Requeue(ctx context.Context, id, text string) error {
	query := `UPDATE documents SET status = 'pending', error = '', extracted_text = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, text, id)
	return err
}

// LoadSource reads what the indexing worker needs for a live document.
// A deleted or unknown document yields sql.ErrNoRows.
func (r *PostgresRepo) LoadSource(ctx context.Context, id string) (*worker.Source, error) {
	query := `SELECT source_id, filename, media_type, extracted_text FROM documents WHERE id = $1 AND deleted_at IS NULL`
	src := &worker.Source{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&src.SourceID, &src.Filename, &src.MediaType, &src.Text)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (r *PostgresRepo) IsLive(ctx context.Context, id string) (bool, error) {
	var live bool
	query := `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1 AND deleted_at IS NULL)`
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&live); err != nil {
		return false, err
	}
	return live, nil
}

func (r *PostgresRepo) MarkIndexed(ctx context.Context, id string, chunks int) error {
	query := `UPDATE documents SET status = 'indexed', chunk_count = $1, error = '', updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, chunks, id)
	return err
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE documents SET deleted_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// CountByStatus groups live documents by status. Statuses with no documents
// are absent from the map.
func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM documents WHERE deleted_at IS NULL GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
