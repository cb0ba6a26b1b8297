package store

import (
	"context"
	"time"

	"github.com/vrsandeep/extract-go/internal/models"
)

// SaveFileResult records the outcome of one file. Saving the same file twice
// for a job overwrites the earlier result.
func (s *Store) SaveFileResult(ctx context.Context, r *models.FileExtractionResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO file_extraction_results (job_id, filename, status, output_ref, error_message, chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, filename) DO UPDATE SET
			status = excluded.status,
			output_ref = excluded.output_ref,
			error_message = excluded.error_message,
			chunks = excluded.chunks,
			created_at = excluded.created_at
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query, r.JobID, r.Filename, string(r.Status), r.OutputRef, r.ErrorMessage, r.Chunks, r.CreatedAt).
		Scan(&r.ID)
}

// ListFileResults returns the per-file outcomes of a job in processing order.
func (s *Store) ListFileResults(ctx context.Context, jobID int64) ([]*models.FileExtractionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, filename, status, output_ref, error_message, chunks, created_at
		FROM file_extraction_results WHERE job_id = ? ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*models.FileExtractionResult{}
	for rows.Next() {
		var r models.FileExtractionResult
		var status string
		if err := rows.Scan(&r.ID, &r.JobID, &r.Filename, &status, &r.OutputRef, &r.ErrorMessage, &r.Chunks, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = models.FileStatus(status)
		results = append(results, &r)
	}
	return results, rows.Err()
}
