package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vrsandeep/extract-go/internal/models"
)

const jobColumns = `id, source, dataset_name, status, files, total_files, processed_files,
	current_file, current_file_index, current_file_chunks, current_file_chunk,
	total_chunks, processed_chunks, merged_data, merged_confidence, merge_reasoning_history,
	message, start_time, end_time, duration, schema_snapshot, created_at, updated_at`

func scanJob(row rowScanner) (*models.ExtractionJob, error) {
	var (
		job                                      models.ExtractionJob
		status                                   string
		files, merged, confidence, history, snap string
		start, end                               sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.Source, &job.DatasetName, &status, &files, &job.TotalFiles, &job.ProcessedFiles,
		&job.CurrentFile, &job.CurrentFileIndex, &job.CurrentFileChunks, &job.CurrentFileChunk,
		&job.TotalChunks, &job.ProcessedChunks, &merged, &confidence, &history,
		&job.Message, &start, &end, &job.Duration, &snap, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	if start.Valid {
		t := start.Time
		job.StartTime = &t
	}
	if end.Valid {
		t := end.Time
		job.EndTime = &t
	}
	if err := decodeJSON(files, &job.Files); err != nil {
		return nil, err
	}
	if err := decodeJSON(merged, &job.MergedData); err != nil {
		return nil, err
	}
	if err := decodeJSON(confidence, &job.MergedConfidence); err != nil {
		return nil, err
	}
	if err := decodeJSON(history, &job.MergeReasoningHistory); err != nil {
		return nil, err
	}
	if job.Files == nil {
		job.Files = []string{}
	}
	if job.MergedData == nil {
		job.MergedData = map[string]any{}
	}
	if job.MergedConfidence == nil {
		job.MergedConfidence = map[string]float64{}
	}
	if job.MergeReasoningHistory == nil {
		job.MergeReasoningHistory = []models.ReasoningRecord{}
	}
	job.SchemaSnapshot = json.RawMessage(snap)
	return &job, nil
}

// jobArgs encodes the mutable columns in the order used by insert and update.
func jobArgs(job *models.ExtractionJob) ([]any, error) {
	files, err := encodeJSON(job.Files, "[]")
	if err != nil {
		return nil, err
	}
	merged, err := encodeJSON(job.MergedData, "{}")
	if err != nil {
		return nil, err
	}
	confidence, err := encodeJSON(job.MergedConfidence, "{}")
	if err != nil {
		return nil, err
	}
	history, err := encodeJSON(job.MergeReasoningHistory, "[]")
	if err != nil {
		return nil, err
	}
	snap := string(job.SchemaSnapshot)
	if snap == "" {
		snap = "{}"
	}
	var start, end sql.NullTime
	if job.StartTime != nil {
		start = sql.NullTime{Time: *job.StartTime, Valid: true}
	}
	if job.EndTime != nil {
		end = sql.NullTime{Time: *job.EndTime, Valid: true}
	}
	return []any{
		files, job.TotalFiles, job.ProcessedFiles,
		job.CurrentFile, job.CurrentFileIndex, job.CurrentFileChunks, job.CurrentFileChunk,
		job.TotalChunks, job.ProcessedChunks, merged, confidence, history,
		job.Message, start, end, job.Duration, snap,
	}, nil
}

func insertJob(ctx context.Context, tx *sql.Tx, job *models.ExtractionJob) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	query := `
		INSERT INTO extraction_jobs (source, dataset_name, status, files, total_files, processed_files,
			current_file, current_file_index, current_file_chunks, current_file_chunk,
			total_chunks, processed_chunks, merged_data, merged_confidence, merge_reasoning_history,
			message, start_time, end_time, duration, schema_snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	all := append([]any{job.Source, job.DatasetName, string(job.Status)}, args...)
	all = append(all, now, now)
	res, err := tx.ExecContext(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("insert extraction job %s/%s: %w", job.Source, job.DatasetName, err)
	}
	job.ID, err = res.LastInsertId()
	return err
}

// CreateJob inserts a new job. The (source, dataset) pair must be free.
func (s *Store) CreateJob(ctx context.Context, job *models.ExtractionJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertJob(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateOrGetActive creates the job unless an active job already exists for the
// same dataset, in which case the existing job is returned and created is false.
// A terminal job for the same dataset is replaced. The check and the insert run
// in one write transaction.
func (s *Store) CreateOrGetActive(ctx context.Context, job *models.ExtractionJob) (*models.ExtractionJob, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM extraction_jobs WHERE source = ? AND dataset_name = ?",
		job.Source, job.DatasetName)
	existing, err := scanJob(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, false, err
	case existing.Status.IsActive():
		return existing, false, nil
	default:
		if _, err := tx.ExecContext(ctx, "DELETE FROM extraction_jobs WHERE id = ?", existing.ID); err != nil {
			return nil, false, err
		}
	}

	if err := insertJob(ctx, tx, job); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// GetJob retrieves the job for a dataset.
func (s *Store) GetJob(ctx context.Context, source, dataset string) (*models.ExtractionJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM extraction_jobs WHERE source = ? AND dataset_name = ?",
		source, dataset)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// GetJobByID retrieves a job by its primary key.
func (s *Store) GetJobByID(ctx context.Context, id int64) (*models.ExtractionJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM extraction_jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// pauseKept is true when the stored job is paused and the written status is
// not reachable from paused through a write (in_progress, completed, failed,
// interrupted). The pause then stays, along with its message and end time.
const pauseKept = "status = 'paused' AND ? NOT IN ('paused', 'scheduled')"

// UpdateJob replaces the stored job with the given state (last writer wins).
// Two guards apply: a completed or failed job is never modified, and a paused
// job keeps its pause against progress, completion and failure writes. On
// return job.Status holds the status actually stored.
func (s *Store) UpdateJob(ctx context.Context, job *models.ExtractionJob) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	query := `
		UPDATE extraction_jobs SET
			status = CASE WHEN ` + pauseKept + ` THEN 'paused' ELSE ? END,
			files = ?, total_files = ?, processed_files = ?,
			current_file = ?, current_file_index = ?, current_file_chunks = ?, current_file_chunk = ?,
			total_chunks = ?, processed_chunks = ?, merged_data = ?, merged_confidence = ?, merge_reasoning_history = ?,
			message = CASE WHEN ` + pauseKept + ` THEN message ELSE ? END,
			start_time = ?,
			end_time = CASE WHEN ` + pauseKept + ` THEN end_time ELSE ? END,
			duration = CASE WHEN ` + pauseKept + ` THEN duration ELSE ? END,
			schema_snapshot = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')
		RETURNING status
	`
	// args: 12 progress columns, then message, start, end, duration, snapshot.
	st := string(job.Status)
	all := []any{st, st}
	all = append(all, args[:12]...)
	all = append(all, st, args[12], args[13], st, args[14], st, args[15], args[16], now, job.ID)

	var stored string
	err = s.db.QueryRowContext(ctx, query, all...).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetJobByID(ctx, job.ID); getErr != nil {
			return getErr
		}
		return ErrTerminal
	}
	if err != nil {
		return fmt.Errorf("update extraction job %d: %w", job.ID, err)
	}
	job.Status = models.JobStatus(stored)
	job.UpdatedAt = now
	return nil
}

// DeleteJob removes the job for a dataset, whatever its state.
func (s *Store) DeleteJob(ctx context.Context, source, dataset string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM extraction_jobs WHERE source = ? AND dataset_name = ?", source, dataset)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListJobsByStatus returns jobs in the given status, oldest update first.
func (s *Store) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.ExtractionJob, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM extraction_jobs WHERE status = ? ORDER BY updated_at ASC, id ASC", string(status))
}

// ListJobs returns every job ordered by dataset.
func (s *Store) ListJobs(ctx context.Context) ([]*models.ExtractionJob, error) {
	return s.queryJobs(ctx, "SELECT "+jobColumns+" FROM extraction_jobs ORDER BY source ASC, dataset_name ASC")
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*models.ExtractionJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*models.ExtractionJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically moves a scheduled job to in_progress. It returns false
// when another worker claimed it first or its status changed meanwhile.
func (s *Store) ClaimJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE extraction_jobs SET status = 'in_progress', updated_at = ? WHERE id = ? AND status = 'scheduled'",
		time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetJobStatus moves the dataset's job to a new status if its current status is
// one of from. ErrStatusConflict is returned when the job exists but did not match.
func (s *Store) SetJobStatus(ctx context.Context, source, dataset string, from []models.JobStatus, to models.JobStatus, message string) (*models.ExtractionJob, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("set job status: no source statuses given")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := fmt.Sprintf(`
		UPDATE extraction_jobs SET status = ?, message = ?, updated_at = ?
		WHERE source = ? AND dataset_name = ? AND status IN (%s)
	`, placeholders)
	args := []any{string(to), message, time.Now().UTC(), source, dataset}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	job, err := s.GetJob(ctx, source, dataset)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return job, ErrStatusConflict
	}
	return job, nil
}
