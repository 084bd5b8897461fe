package model

import "errors"

var (
	// ErrEmbeddingUnavailable indicates the embedding provider failed
	// after all retry attempts were exhausted.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrGenerationUnavailable indicates the generation provider failed
	// after all retry attempts were exhausted.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrEmptyResponse indicates the provider returned success with no
	// usable payload.
	ErrEmptyResponse = errors.New("empty model response")
)
