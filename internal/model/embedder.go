// Package model wraps the Genkit Gemini bindings behind small batch
// embedding and text generation clients with rate limiting and retry.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/knollbase/knoll/internal/log"
)

// Embedding task types understood by the Gemini embedding models.
// Documents and queries are embedded asymmetrically.
const (
	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	taskTypeQuery    = "RETRIEVAL_QUERY"
)

// EmbedderConfig configures a batch embedding client.
type EmbedderConfig struct {
	Dimension int           // Output vector dimensionality
	BatchSize int           // Inputs per provider call
	Timeout   time.Duration // Per-call deadline, 0 disables
	Policy    RetryPolicy
	Limiter   *rate.Limiter // Optional, applied per attempt
}

// Embedder turns text into pgvector vectors via a Genkit embedder,
// batching inputs and retrying transient provider failures.
//
// Embedder is safe for concurrent use by multiple goroutines.
type Embedder struct {
	embedder ai.Embedder
	cfg      EmbedderConfig
	logger   log.Logger
}

// NewEmbedder creates an Embedder. The underlying ai.Embedder is
// required; logger falls back to a no-op logger.
func NewEmbedder(embedder ai.Embedder, cfg EmbedderConfig, logger log.Logger) (*Embedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Dimension < 1 {
		return nil, fmt.Errorf("dimension %d must be positive", cfg.Dimension)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Embedder{embedder: embedder, cfg: cfg, logger: logger}, nil
}

// EmbedDocuments embeds texts in order, batching them into provider
// calls of at most BatchSize inputs. The result has one vector per
// input text. A failed batch fails the whole call; no partial results
// are returned.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([]pgvector.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))

		batch, err := e.embedBatch(ctx, texts[start:end], taskTypeDocument)
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w: %w", start, end, ErrEmbeddingUnavailable, err)
		}
		vectors = append(vectors, batch...)
	}

	e.logger.Debug("embedded documents", "texts", len(texts), "dimension", e.cfg.Dimension)
	return vectors, nil
}

// EmbedQuery embeds a single search query.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) (pgvector.Vector, error) {
	batch, err := e.embedBatch(ctx, []string{text}, taskTypeQuery)
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding query: %w: %w", ErrEmbeddingUnavailable, err)
	}
	return batch[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string, taskType string) ([]pgvector.Vector, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	dim := int32(e.cfg.Dimension)
	req := &ai.EmbedRequest{
		Input: docs,
		Options: &genai.EmbedContentConfig{
			TaskType:             taskType,
			OutputDimensionality: &dim,
		},
	}

	var resp *ai.EmbedResponse
	err := e.cfg.Policy.Do(ctx, func(ctx context.Context) error {
		if e.cfg.Limiter != nil {
			if err := e.cfg.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}

		callCtx := ctx
		if e.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
		}

		var callErr error
		resp, callErr = e.embedder.Embed(callCtx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmptyResponse, len(resp.Embeddings), len(texts))
	}

	vectors := make([]pgvector.Vector, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: embedding %d is empty", ErrEmptyResponse, i)
		}
		vectors[i] = pgvector.NewVector(emb.Embedding)
	}
	return vectors, nil
}
