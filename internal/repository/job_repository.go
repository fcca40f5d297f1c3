package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"photorestore/internal/models"
)

const jobColumns = `
	id, user_id, image_path, status, prediction_id, result_url, error_message,
	created_at, started_at, completed_at, timeout_at, refunded_at, charged_credits
`

// JobTransition describes a move out of an active status.
type JobTransition struct {
	Status       models.JobStatus
	ResultURL    *string
	ErrorMessage *string
	At           time.Time
}

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const insertJobQuery = `
	INSERT INTO processing_jobs (
		id, user_id, image_path, status, prediction_id, created_at, started_at, timeout_at, charged_credits
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9
	)
`

// Create inserts a job without charging for it.
func (r *JobRepository) Create(ctx context.Context, job models.Job) error {
	_, err := r.pool.Exec(ctx, insertJobQuery, insertJobArgs(job)...)
	return err
}

// CreateCharged deducts job.ChargedCredits and inserts the job in one
// transaction. An insufficient balance inserts nothing and reports
// ErrInsufficientCredits.
func (r *JobRepository) CreateCharged(ctx context.Context, job models.Job) (int, error) {
	if job.ChargedCredits <= 0 {
		return 0, fmt.Errorf("charge for job %s must be positive", job.ID)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int
	if err := tx.QueryRow(ctx, deductCreditsQuery, job.UserID, job.ChargedCredits).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("charge: %w", err)
	}
	if _, err := tx.Exec(ctx, insertJobQuery, insertJobArgs(job)...); err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

func insertJobArgs(job models.Job) []any {
	return []any{
		job.ID,
		job.UserID,
		job.ImagePath,
		job.Status,
		job.PredictionID,
		job.CreatedAt,
		job.StartedAt,
		job.TimeoutAt,
		job.ChargedCredits,
	}
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`
	return scanJobRow(r.pool.QueryRow(ctx, query, id))
}

func (r *JobRepository) GetByPredictionID(ctx context.Context, predictionID string) (models.Job, error) {
	if predictionID == "" {
		return models.Job{}, ErrJobNotFound
	}
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE prediction_id = $1`
	return scanJobRow(r.pool.QueryRow(ctx, query, predictionID))
}

func (r *JobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *JobRepository) SetPredictionID(ctx context.Context, id string, predictionID string) error {
	const query = `
		UPDATE processing_jobs
		SET prediction_id = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	cmd, err := r.pool.Exec(ctx, query, id, predictionID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// Transition moves an active job to a terminal status. Jobs that are already
// terminal are left untouched and reported as ErrJobTerminal.
func (r *JobRepository) Transition(ctx context.Context, id string, t JobTransition) (models.Job, error) {
	query := `
		UPDATE processing_jobs
		SET status = $2,
		    result_url = COALESCE($3, result_url),
		    error_message = COALESCE($4, error_message),
		    completed_at = $5
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + jobColumns
	job, err := scanJobRow(r.pool.QueryRow(ctx, query, id, t.Status, t.ResultURL, t.ErrorMessage, t.At))
	if errors.Is(err, ErrJobNotFound) {
		return models.Job{}, r.explainMiss(ctx, id)
	}
	return job, err
}

// FailExpired force-fails every active job past its deadline in one statement.
func (r *JobRepository) FailExpired(ctx context.Context, now time.Time, staleBefore time.Time, message string) ([]models.Job, error) {
	query := `
		UPDATE processing_jobs
		SET status = 'failed',
		    error_message = $3,
		    completed_at = $1
		WHERE status IN ('pending', 'processing')
		  AND (
		        (timeout_at IS NOT NULL AND timeout_at < $1)
		     OR (timeout_at IS NULL AND started_at < $2)
		  )
		RETURNING ` + jobColumns
	rows, err := r.pool.Query(ctx, query, now, staleBefore, message)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// RefundCharge returns a job's charge to its owner: it stamps refunded_at on
// an owned, charged, cancelled or failed job and adds the charge back in the
// same transaction, so a refund is paid exactly once or not at all.
func (r *JobRepository) RefundCharge(ctx context.Context, id string, userID string, at time.Time) (models.Job, int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE processing_jobs
		SET refunded_at = $3
		WHERE id = $1 AND user_id = $2
		  AND status IN ('cancelled', 'failed')
		  AND charged_credits > 0
		  AND refunded_at IS NULL
		RETURNING ` + jobColumns
	job, err := scanJobRow(tx.QueryRow(ctx, query, id, userID, at))
	if errors.Is(err, ErrJobNotFound) {
		existing, getErr := scanJobRow(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id))
		if getErr != nil || existing.UserID != userID {
			return models.Job{}, 0, ErrJobNotFound
		}
		return models.Job{}, 0, ErrJobNotRefundable
	}
	if err != nil {
		return models.Job{}, 0, err
	}

	var balance int
	if err := tx.QueryRow(ctx, addCreditsQuery, userID, job.ChargedCredits).Scan(&balance); err != nil {
		return models.Job{}, 0, fmt.Errorf("credit refund: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, 0, err
	}
	return job, balance, nil
}

func (r *JobRepository) explainMiss(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrJobTerminal
}

func scanJobRow(row pgx.Row) (models.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrJobNotFound
	}
	return job, err
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.ImagePath,
		&job.Status,
		&job.PredictionID,
		&job.ResultURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.TimeoutAt,
		&job.RefundedAt,
		&job.ChargedCredits,
	)
	return job, err
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
