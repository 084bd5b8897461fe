// Package chat answers tenant questions over their ingested documents:
// retrieve nearest chunks, assemble a grounded prompt with bounded
// session history, generate, and sanitize the result.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/knollbase/knoll/internal/knowledge"
	"github.com/knollbase/knoll/internal/log"
)

// QueryEmbedder embeds a search query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (pgvector.Vector, error)
}

// Searcher is the slice of the knowledge store retrieval needs.
type Searcher interface {
	Search(ctx context.Context, tenantID uuid.UUID, vec pgvector.Vector, k int, maxDistance float64) ([]knowledge.Match, error)
}

// Context is one retrieved snippet offered to the generator.
type Context struct {
	DocumentRef string
	Snippet     string
	Distance    float64
}

// RetrieverConfig bounds a retrieval.
type RetrieverConfig struct {
	TopK        int
	MaxDistance float64
}

// Retriever finds the chunks of a tenant's knowledge base nearest to a
// question.
type Retriever struct {
	embedder QueryEmbedder
	store    Searcher
	cfg      RetrieverConfig
	logger   log.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder QueryEmbedder, store Searcher, cfg RetrieverConfig, logger log.Logger) (*Retriever, error) {
	if embedder == nil || store == nil {
		return nil, fmt.Errorf("embedder and store are required")
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = 0.5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg, logger: logger}, nil
}

// Retrieve returns up to TopK contexts for the question, nearest
// first. Finding nothing is a valid empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, tenantID uuid.UUID, question string) ([]Context, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	vec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	matches, err := r.store.Search(ctx, tenantID, vec, r.cfg.TopK, r.cfg.MaxDistance)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	contexts := make([]Context, len(matches))
	for i, m := range matches {
		contexts[i] = Context{
			DocumentRef: m.DocumentRef,
			Snippet:     m.Text,
			Distance:    m.Distance,
		}
	}

	r.logger.Debug("context retrieved",
		"tenant", tenantID,
		"matches", len(contexts),
	)
	return contexts, nil
}
