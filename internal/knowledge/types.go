// Package knowledge implements the tenant-scoped vector store backed
// by PostgreSQL + pgvector.
//
// Every operation takes the tenant id as an explicit, non-optional
// argument and scopes its SQL with a tenant filter before any ordering
// or limiting. Document replacement is fenced by a per-document
// version so a stale ingestion can never overwrite a newer one.
package knowledge

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Metadata carries chunk provenance. Stored as JSONB next to the
// embedding.
type Metadata struct {
	Page      int    `json:"page,omitempty"`       // 1-based PDF page, 0 for non-paged sources
	Start     int    `json:"start,omitempty"`      // rune offset of the chunk in the extracted text
	End       int    `json:"end,omitempty"`        // exclusive rune offset
	SourceURL string `json:"source_url,omitempty"` // set for URL-ingested documents
}

// Chunk is one embedded segment of a document.
type Chunk struct {
	TenantID    uuid.UUID
	DocumentRef string
	Ordinal     int // position within the document, 0-based
	Text        string
	Embedding   pgvector.Vector
	Metadata    Metadata
	CreatedAt   time.Time
}

// Match is a retrieval hit ordered by ascending cosine distance.
type Match struct {
	DocumentRef string
	Ordinal     int
	Text        string
	Distance    float64
	Metadata    Metadata
}

// DocumentInfo summarizes one stored document for listings.
type DocumentInfo struct {
	Ref        string
	Version    int64
	ChunkCount int64
	UpdatedAt  time.Time
}
