package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/knollbase/knoll/internal/log"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StoreConfig tunes retrieval behavior.
type StoreConfig struct {
	// Probes is the ivfflat.probes value set per search transaction.
	// Higher values trade latency for recall.
	Probes int
}

// Store persists and retrieves document chunks for all tenants.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	cfg    StoreConfig
	logger log.Logger
}

// NewStore creates a chunk Store.
func NewStore(pool *pgxpool.Pool, cfg StoreConfig, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.Probes < 1 {
		cfg.Probes = 10
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, cfg: cfg, logger: logger}, nil
}

// NextVersion allocates the fence version for an upcoming write of
// (tenantID, ref). Each call bumps the stored version, so of two
// concurrent ingestions of the same document, only the one holding the
// higher version will be allowed to commit.
func (s *Store) NextVersion(ctx context.Context, tenantID uuid.UUID, ref string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (tenant_id, ref, version)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (tenant_id, ref)
		 DO UPDATE SET version = documents.version + 1, updated_at = now()
		 RETURNING version`,
		tenantID, ref,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("allocating document version: %w: %w", ErrStoreUnavailable, err)
	}
	return version, nil
}

// ReplaceDocument atomically replaces all chunks of (tenantID, ref)
// with chunks, provided version is still the current fence version.
// A stale version returns ErrSuperseded and leaves the stored chunks
// untouched. An empty chunk slice clears the document.
func (s *Store) ReplaceDocument(ctx context.Context, tenantID uuid.UUID, ref string, version int64, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w: %w", ErrStoreUnavailable, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	// Serializes writers of the same document. Released at commit/rollback.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		tenantID.String()+"/"+ref,
	); err != nil {
		return fmt.Errorf("acquiring advisory lock: %w: %w", ErrStoreUnavailable, err)
	}

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM documents WHERE tenant_id = $1 AND ref = $2 FOR UPDATE`,
		tenantID, ref,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Document row deleted between enqueue and commit.
			return fmt.Errorf("document %s: %w", ref, ErrSuperseded)
		}
		return fmt.Errorf("checking document version: %w: %w", ErrStoreUnavailable, err)
	}
	if current != version {
		return fmt.Errorf("document %s: version %d, current %d: %w", ref, version, current, ErrSuperseded)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE tenant_id = $1 AND document_ref = $2`,
		tenantID, ref,
	); err != nil {
		return fmt.Errorf("deleting old chunks: %w: %w", ErrStoreUnavailable, err)
	}

	for _, c := range chunks {
		if err := s.insertChunk(ctx, tx, c); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE documents SET chunk_count = $3, updated_at = now()
		 WHERE tenant_id = $1 AND ref = $2`,
		tenantID, ref, len(chunks),
	); err != nil {
		return fmt.Errorf("updating document summary: %w: %w", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing replace: %w: %w", ErrStoreUnavailable, err)
	}

	s.logger.Info("document replaced",
		"tenant", tenantID,
		"ref", ref,
		"version", version,
		"chunks", len(chunks),
	)
	return nil
}

func (*Store) insertChunk(ctx context.Context, q querier, c Chunk) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encoding chunk metadata: %w", err)
	}
	if _, err := q.Exec(ctx,
		`INSERT INTO document_chunks (tenant_id, document_ref, ordinal, content, embedding, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.TenantID, c.DocumentRef, c.Ordinal, c.Text, c.Embedding, meta,
	); err != nil {
		return fmt.Errorf("inserting chunk %d: %w: %w", c.Ordinal, ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteDocument removes a document and all its chunks. Returns the
// number of chunks removed; deleting an unknown document is not an
// error.
func (s *Store) DeleteDocument(ctx context.Context, tenantID uuid.UUID, ref string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning delete transaction: %w: %w", ErrStoreUnavailable, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		tenantID.String()+"/"+ref,
	); err != nil {
		return 0, fmt.Errorf("acquiring advisory lock: %w: %w", ErrStoreUnavailable, err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE tenant_id = $1 AND document_ref = $2`,
		tenantID, ref,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks: %w: %w", ErrStoreUnavailable, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM documents WHERE tenant_id = $1 AND ref = $2`,
		tenantID, ref,
	); err != nil {
		return 0, fmt.Errorf("deleting document: %w: %w", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing delete: %w: %w", ErrStoreUnavailable, err)
	}

	removed := tag.RowsAffected()
	s.logger.Info("document deleted", "tenant", tenantID, "ref", ref, "chunks", removed)
	return removed, nil
}

// Search returns up to k chunks of the tenant nearest to vec by cosine
// distance, ascending, dropping matches farther than maxDistance.
// Chunks of other tenants are never considered.
func (s *Store) Search(ctx context.Context, tenantID uuid.UUID, vec pgvector.Vector, k int, maxDistance float64) ([]Match, error) {
	if k < 1 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning search transaction: %w: %w", ErrStoreUnavailable, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	// SET LOCAL takes no bind parameters; Probes is validated at
	// construction so the Sprintf is integer-only.
	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL ivfflat.probes = %d`, s.cfg.Probes)); err != nil {
		return nil, fmt.Errorf("setting ivfflat probes: %w: %w", ErrStoreUnavailable, err)
	}

	rows, err := tx.Query(ctx,
		`SELECT document_ref, ordinal, content, metadata, embedding <=> $2 AS distance
		 FROM document_chunks
		 WHERE tenant_id = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		tenantID, vec, k,
	)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w: %w", ErrStoreUnavailable, err)
	}

	matches, err := scanMatches(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing search: %w: %w", ErrStoreUnavailable, err)
	}

	// maxDistance is a relevance cutoff, applied after the index scan
	// so the LIMIT stays index-friendly.
	filtered := matches[:0]
	for _, m := range matches {
		if m.Distance <= maxDistance {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func scanMatches(rows pgx.Rows) ([]Match, error) {
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta []byte
		)
		if err := rows.Scan(&m.DocumentRef, &m.Ordinal, &m.Text, &meta, &m.Distance); err != nil {
			return nil, fmt.Errorf("scanning match: %w: %w", ErrStoreUnavailable, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decoding chunk metadata: %w", err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches: %w: %w", ErrStoreUnavailable, err)
	}
	return matches, nil
}

// ListDocuments returns the tenant's documents newest-first.
func (s *Store) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]DocumentInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ref, version, chunk_count, updated_at
		 FROM documents
		 WHERE tenant_id = $1
		 ORDER BY updated_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var d DocumentInfo
		if err := rows.Scan(&d.Ref, &d.Version, &d.ChunkCount, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w: %w", ErrStoreUnavailable, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w: %w", ErrStoreUnavailable, err)
	}
	return docs, nil
}

// CountChunks returns the number of stored chunks for a document.
func (s *Store) CountChunks(ctx context.Context, tenantID uuid.UUID, ref string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM document_chunks WHERE tenant_id = $1 AND document_ref = $2`,
		tenantID, ref,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w: %w", ErrStoreUnavailable, err)
	}
	return count, nil
}
