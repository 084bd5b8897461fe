package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knollbase/knoll/internal/knowledge"
)

// Job states. A job moves queued → processing → completed|failed;
// failed is terminal only once retries are exhausted or the error is
// not retryable.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrJobNotFound indicates an unknown job id for the tenant.
var ErrJobNotFound = errors.New("ingestion job not found")

// Job is the persisted audit record of one ingestion.
type Job struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	DocumentRef string
	Status      string
	Attempts    int
	ChunkCount  int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobStore persists ingestion job state transitions.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a JobStore.
func NewJobStore(pool *pgxpool.Pool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Create inserts a job in the queued state.
func (s *JobStore) Create(ctx context.Context, id, tenantID uuid.UUID, documentRef string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_jobs (id, tenant_id, document_ref, status)
		 VALUES ($1, $2, $3, $4)`,
		id, tenantID, documentRef, StatusQueued,
	)
	if err != nil {
		return fmt.Errorf("creating job: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	return nil
}

// MarkProcessing transitions a job to processing and bumps the attempt
// counter.
func (s *JobStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx,
		`UPDATE ingestion_jobs
		 SET status = $2, attempts = attempts + 1, updated_at = now()
		 WHERE id = $1`,
		id, StatusProcessing)
}

// MarkCompleted records a successful ingestion and its chunk count.
func (s *JobStore) MarkCompleted(ctx context.Context, id uuid.UUID, chunkCount int) error {
	return s.update(ctx,
		`UPDATE ingestion_jobs
		 SET status = $2, chunk_count = $3, error = '', updated_at = now()
		 WHERE id = $1`,
		id, StatusCompleted, chunkCount)
}

// MarkQueued returns a job to the queue for another attempt after a
// transient failure.
func (s *JobStore) MarkQueued(ctx context.Context, id uuid.UUID, cause string) error {
	return s.update(ctx,
		`UPDATE ingestion_jobs
		 SET status = $2, error = $3, updated_at = now()
		 WHERE id = $1`,
		id, StatusQueued, cause)
}

// MarkFailed records a terminal failure.
func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	return s.update(ctx,
		`UPDATE ingestion_jobs
		 SET status = $2, error = $3, updated_at = now()
		 WHERE id = $1`,
		id, StatusFailed, cause)
}

func (s *JobStore) update(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("updating job: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Get returns a tenant's job by id.
func (s *JobStore) Get(ctx context.Context, tenantID, id uuid.UUID) (Job, error) {
	var j Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, document_ref, status, attempts, chunk_count, error, created_at, updated_at
		 FROM ingestion_jobs
		 WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&j.ID, &j.TenantID, &j.DocumentRef, &j.Status, &j.Attempts, &j.ChunkCount, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("loading job: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	return j, nil
}
