package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks every configuration value and returns the first
// violation, wrapped in the matching sentinel error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model_name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.Dimension < 1 || c.Dimension > 4096 {
		return fmt.Errorf("%w: embedding_dimension %d must be in [1, 4096]", ErrInvalidDimension, c.Dimension)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size %d must be positive", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must satisfy 0 <= overlap < chunk_size (%d)",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 256 {
		return fmt.Errorf("%w: embed_batch_size %d must be in [1, 256]", ErrInvalidChunking, c.EmbedBatchSize)
	}

	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: top_k %d must be in [1, 100]", ErrInvalidRetrieval, c.TopK)
	}
	if c.MaxDistance <= 0 || c.MaxDistance > 2 {
		return fmt.Errorf("%w: max_distance %v must be in (0, 2] for cosine distance", ErrInvalidRetrieval, c.MaxDistance)
	}
	if c.IVFFlatProbes < 1 || c.IVFFlatProbes > 1000 {
		return fmt.Errorf("%w: ivfflat_probes %d must be in [1, 1000]", ErrInvalidRetrieval, c.IVFFlatProbes)
	}

	if c.IngestWorkers < 1 || c.IngestWorkers > 64 {
		return fmt.Errorf("%w: ingest_workers %d must be in [1, 64]", ErrInvalidPipeline, c.IngestWorkers)
	}
	if c.IngestQueue < 1 {
		return fmt.Errorf("%w: ingest_queue %d must be positive", ErrInvalidPipeline, c.IngestQueue)
	}
	if c.MaxJobAttempts < 1 || c.MaxJobAttempts > 10 {
		return fmt.Errorf("%w: max_job_attempts %d must be in [1, 10]", ErrInvalidPipeline, c.MaxJobAttempts)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("%w: max_attempts %d must be in [1, 10]", ErrInvalidPipeline, c.MaxAttempts)
	}
	if c.MaxUploadBytes < 1 {
		return fmt.Errorf("%w: max_upload_bytes %d must be positive", ErrInvalidPipeline, c.MaxUploadBytes)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: postgres_host must not be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port %d must be in [1, 65535]", ErrInvalidPostgres, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: postgres_db_name must not be empty", ErrInvalidPostgres)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: postgres_ssl_mode %q is not a valid sslmode", ErrInvalidPostgres, c.PostgresSSLMode)
	}

	return nil
}
