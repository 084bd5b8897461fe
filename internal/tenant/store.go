// Package tenant manages the tenant registry. Deleting a tenant
// cascades to its documents, chunks, jobs, and chat logs through the
// schema's foreign keys.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knollbase/knoll/internal/knowledge"
	"github.com/knollbase/knoll/internal/log"
)

var (
	// ErrNotFound indicates an unknown tenant id.
	ErrNotFound = errors.New("tenant not found")

	// ErrInvalidName indicates an empty or oversized tenant name.
	ErrInvalidName = errors.New("invalid tenant name")
)

// maxNameLen bounds tenant names.
const maxNameLen = 200

// Tenant is one isolated customer of the knowledge base.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Store persists tenants.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a tenant Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create registers a tenant and returns it.
func (s *Store) Create(ctx context.Context, name string) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return Tenant{}, ErrInvalidName
	}

	t := Tenant{ID: uuid.New(), Name: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, name) VALUES ($1, $2) RETURNING created_at`,
		t.ID, t.Name,
	).Scan(&t.CreatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("creating tenant: %w: %w", knowledge.ErrStoreUnavailable, err)
	}

	s.logger.Info("tenant created", "tenant", t.ID, "name", t.Name)
	return t, nil
}

// Get returns a tenant by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	var t Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("loading tenant: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	return t, nil
}

// List returns all tenants, newest first.
func (s *Store) List(ctx context.Context) ([]Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w: %w", knowledge.ErrStoreUnavailable, err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tenants: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	return tenants, nil
}

// Delete removes a tenant and, via ON DELETE CASCADE, every row that
// references it.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Info("tenant deleted", "tenant", id)
	return nil
}
