//go:build integration

package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/knollbase/knoll/internal/testutil"
)

func createTenant(t *testing.T, db *testutil.TestDB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO tenants (id, name) VALUES ($1, $2)`, id, "tenant-"+id.String()[:8])
	if err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	return id
}

func TestJobStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	jobs, err := NewJobStore(db.Pool)
	if err != nil {
		t.Fatalf("NewJobStore: %v", err)
	}

	t.Run("Lifecycle", func(t *testing.T) {
		tenantID := createTenant(t, db)
		jobID := uuid.New()

		if err := jobs.Create(ctx, jobID, tenantID, "handbook.md"); err != nil {
			t.Fatalf("Create: %v", err)
		}

		job, err := jobs.Get(ctx, tenantID, jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status != StatusQueued || job.Attempts != 0 {
			t.Errorf("fresh job = %+v", job)
		}

		if err := jobs.MarkProcessing(ctx, jobID); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		job, _ = jobs.Get(ctx, tenantID, jobID)
		if job.Status != StatusProcessing || job.Attempts != 1 {
			t.Errorf("processing job = %+v", job)
		}

		if err := jobs.MarkCompleted(ctx, jobID, 12); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
		job, _ = jobs.Get(ctx, tenantID, jobID)
		if job.Status != StatusCompleted || job.ChunkCount != 12 || job.Error != "" {
			t.Errorf("completed job = %+v", job)
		}
	})

	t.Run("RetryThenFail", func(t *testing.T) {
		tenantID := createTenant(t, db)
		jobID := uuid.New()

		if err := jobs.Create(ctx, jobID, tenantID, "doc"); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := jobs.MarkProcessing(ctx, jobID); err != nil {
			t.Fatalf("MarkProcessing: %v", err)
		}
		if err := jobs.MarkQueued(ctx, jobID, "model timeout"); err != nil {
			t.Fatalf("MarkQueued: %v", err)
		}

		job, _ := jobs.Get(ctx, tenantID, jobID)
		if job.Status != StatusQueued || job.Error != "model timeout" {
			t.Errorf("requeued job = %+v", job)
		}

		if err := jobs.MarkFailed(ctx, jobID, "model timeout"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
		job, _ = jobs.Get(ctx, tenantID, jobID)
		if job.Status != StatusFailed || job.Error != "model timeout" {
			t.Errorf("failed job = %+v", job)
		}
	})

	t.Run("GetScopesToTenant", func(t *testing.T) {
		tenantA := createTenant(t, db)
		tenantB := createTenant(t, db)
		jobID := uuid.New()

		if err := jobs.Create(ctx, jobID, tenantA, "doc"); err != nil {
			t.Fatalf("Create: %v", err)
		}

		if _, err := jobs.Get(ctx, tenantB, jobID); !errors.Is(err, ErrJobNotFound) {
			t.Fatalf("cross-tenant Get error = %v, want ErrJobNotFound", err)
		}
	})

	t.Run("UpdateUnknownJob", func(t *testing.T) {
		if err := jobs.MarkProcessing(ctx, uuid.New()); !errors.Is(err, ErrJobNotFound) {
			t.Fatalf("MarkProcessing(unknown) error = %v, want ErrJobNotFound", err)
		}
	})
}
