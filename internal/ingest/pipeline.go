package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/knollbase/knoll/internal/chunker"
	"github.com/knollbase/knoll/internal/knowledge"
	"github.com/knollbase/knoll/internal/log"
)

// Store is the slice of the knowledge store the pipeline needs.
type Store interface {
	NextVersion(ctx context.Context, tenantID uuid.UUID, ref string) (int64, error)
	ReplaceDocument(ctx context.Context, tenantID uuid.UUID, ref string, version int64, chunks []knowledge.Chunk) error
}

// Embedder produces one vector per input text, order preserving.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([]pgvector.Vector, error)
}

// Jobs persists job state transitions.
type Jobs interface {
	Create(ctx context.Context, id, tenantID uuid.UUID, documentRef string) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, chunkCount int) error
	MarkQueued(ctx context.Context, id uuid.UUID, cause string) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
}

// Config tunes the pipeline.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	Workers        int
	QueueSize      int
	MaxJobAttempts int           // Attempts per job before a transient failure becomes terminal
	RetryDelay     time.Duration // Pause before requeueing after a transient failure
}

// Request describes one document to ingest. Exactly one of Raw or
// FilePath carries the content; a spooled file is removed when the job
// reaches a terminal state.
type Request struct {
	TenantID     uuid.UUID
	DocumentRef  string
	Raw          []byte
	FilePath     string
	DeclaredType string
	SourceURL    string // Set for URL-ingested documents
}

type task struct {
	jobID   uuid.UUID
	req     Request
	version int64
	attempt int
}

// Pipeline ingests documents through a bounded queue and a fixed
// worker pool. Enqueue never blocks on extraction or embedding.
type Pipeline struct {
	store    Store
	embedder Embedder
	jobs     Jobs
	cfg      Config
	client   *http.Client
	logger   log.Logger

	queue chan task
	wg    sync.WaitGroup
}

// NewPipeline creates a Pipeline. Call Run to start the workers.
func NewPipeline(store Store, embedder Embedder, jobs Jobs, cfg Config, logger log.Logger) (*Pipeline, error) {
	if store == nil || embedder == nil || jobs == nil {
		return nil, fmt.Errorf("store, embedder, and jobs are required")
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("invalid chunking parameters %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.MaxJobAttempts < 1 {
		cfg.MaxJobAttempts = 3
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		store:    store,
		embedder: embedder,
		jobs:     jobs,
		cfg:      cfg,
		client:   &http.Client{Timeout: fetchTimeout},
		logger:   logger,
		queue:    make(chan task, cfg.QueueSize),
	}, nil
}

// Run starts the worker pool and blocks until ctx is canceled and all
// workers have drained their current task.
func (p *Pipeline) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-p.queue:
					p.process(ctx, t)
				}
			}
		}()
	}
	<-ctx.Done()
	p.wg.Wait()
}

// Enqueue registers an ingestion job and returns its id immediately.
// The fence version is allocated here, so a later Enqueue of the same
// document supersedes this one even if this one is still queued.
func (p *Pipeline) Enqueue(ctx context.Context, req Request) (uuid.UUID, error) {
	if req.DocumentRef == "" {
		return uuid.Nil, fmt.Errorf("document ref is required")
	}
	if len(req.Raw) == 0 && req.FilePath == "" {
		return uuid.Nil, fmt.Errorf("request carries no content")
	}

	// Capacity is checked before the version bump so a rejected
	// enqueue cannot supersede a job already sitting in the queue.
	// The non-blocking send below catches a queue filled in between.
	if len(p.queue) == cap(p.queue) {
		p.removeSpool(req)
		return uuid.Nil, ErrQueueFull
	}

	version, err := p.store.NextVersion(ctx, req.TenantID, req.DocumentRef)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueueing %s: %w", req.DocumentRef, err)
	}

	jobID := uuid.New()
	if err := p.jobs.Create(ctx, jobID, req.TenantID, req.DocumentRef); err != nil {
		return uuid.Nil, fmt.Errorf("enqueueing %s: %w", req.DocumentRef, err)
	}

	t := task{jobID: jobID, req: req, version: version, attempt: 1}
	select {
	case p.queue <- t:
	default:
		p.finalizeFailure(ctx, t, ErrQueueFull.Error())
		return uuid.Nil, ErrQueueFull
	}

	p.logger.Info("ingestion enqueued",
		"job", jobID,
		"tenant", req.TenantID,
		"ref", req.DocumentRef,
		"version", version,
	)
	return jobID, nil
}

// IngestURL fetches a web page and enqueues its readable content as a
// document whose ref is the page URL itself.
func (p *Pipeline) IngestURL(ctx context.Context, tenantID uuid.UUID, pageURL string) (uuid.UUID, error) {
	raw, err := FetchPage(ctx, p.client, pageURL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ingesting url: %w", err)
	}
	return p.Enqueue(ctx, Request{
		TenantID:     tenantID,
		DocumentRef:  pageURL,
		Raw:          raw,
		DeclaredType: TypeHTML,
		SourceURL:    pageURL,
	})
}

func (p *Pipeline) process(ctx context.Context, t task) {
	if err := p.jobs.MarkProcessing(ctx, t.jobID); err != nil {
		p.logger.Warn("marking job processing failed", "job", t.jobID, "error", err)
	}

	chunkCount, err := p.ingest(ctx, t)
	if err == nil {
		if err := p.jobs.MarkCompleted(ctx, t.jobID, chunkCount); err != nil {
			p.logger.Warn("marking job completed failed", "job", t.jobID, "error", err)
		}
		p.removeSpool(t.req)
		p.logger.Info("ingestion completed", "job", t.jobID, "ref", t.req.DocumentRef, "chunks", chunkCount)
		return
	}

	if terminalError(err) || t.attempt >= p.cfg.MaxJobAttempts {
		p.finalizeFailure(ctx, t, err.Error())
		p.logger.Warn("ingestion failed",
			"job", t.jobID,
			"ref", t.req.DocumentRef,
			"attempt", t.attempt,
			"error", err,
		)
		return
	}

	// Transient failure with attempts left: pause, then requeue.
	if err := p.jobs.MarkQueued(ctx, t.jobID, err.Error()); err != nil {
		p.logger.Warn("requeueing job failed", "job", t.jobID, "error", err)
	}
	p.logger.Info("ingestion will retry",
		"job", t.jobID,
		"ref", t.req.DocumentRef,
		"attempt", t.attempt,
		"error", err,
	)

	select {
	case <-ctx.Done():
		return
	case <-time.After(p.cfg.RetryDelay):
	}

	t.attempt++
	select {
	case p.queue <- t:
	default:
		p.finalizeFailure(ctx, t, ErrQueueFull.Error())
	}
}

// ingest runs the extract → chunk → embed → replace sequence for one
// task. Embedding happens entirely before the storage transaction, so
// a failure anywhere leaves the previously stored chunks intact.
func (p *Pipeline) ingest(ctx context.Context, t task) (int, error) {
	raw := t.req.Raw
	if t.req.FilePath != "" {
		var err error
		raw, err = os.ReadFile(t.req.FilePath)
		if err != nil {
			return 0, fmt.Errorf("%w: reading spooled upload: %w", ErrCorruptDocument, err)
		}
	}

	extraction, err := Extract(raw, t.req.DeclaredType)
	if err != nil {
		return 0, err
	}

	chunks, texts, err := p.buildChunks(t, extraction)
	if err != nil {
		return 0, err
	}

	// Empty document: a successful ingestion of zero chunks still
	// clears out whatever an earlier version stored.
	if len(chunks) > 0 {
		vectors, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, err
		}
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
	}

	if err := p.store.ReplaceDocument(ctx, t.req.TenantID, t.req.DocumentRef, t.version, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (p *Pipeline) buildChunks(t task, extraction Extraction) ([]knowledge.Chunk, []string, error) {
	var (
		chunks []knowledge.Chunk
		texts  []string
	)
	ordinal := 0
	for _, page := range extraction.Pages {
		segments, err := chunker.Chunk(page.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if err != nil {
			return nil, nil, fmt.Errorf("chunking %s: %w", t.req.DocumentRef, err)
		}
		for _, seg := range segments {
			chunks = append(chunks, knowledge.Chunk{
				TenantID:    t.req.TenantID,
				DocumentRef: t.req.DocumentRef,
				Ordinal:     ordinal,
				Text:        seg.Text,
				Metadata: knowledge.Metadata{
					Page:      page.Number,
					Start:     seg.Start,
					End:       seg.End,
					SourceURL: t.req.SourceURL,
				},
			})
			texts = append(texts, seg.Text)
			ordinal++
		}
	}
	return chunks, texts, nil
}

func (p *Pipeline) finalizeFailure(ctx context.Context, t task, cause string) {
	if err := p.jobs.MarkFailed(ctx, t.jobID, cause); err != nil {
		p.logger.Warn("marking job failed failed", "job", t.jobID, "error", err)
	}
	p.removeSpool(t.req)
}

func (p *Pipeline) removeSpool(req Request) {
	if req.FilePath == "" {
		return
	}
	if err := os.Remove(req.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("removing spooled upload failed", "path", req.FilePath, "error", err)
	}
}

// terminalError reports whether err should never be retried.
func terminalError(err error) bool {
	return errors.Is(err, ErrUnsupportedFileType) ||
		errors.Is(err, ErrCorruptDocument) ||
		errors.Is(err, ErrSuperseded)
}
