package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/goleak"

	"github.com/knollbase/knoll/internal/knowledge"
)

type fakeStore struct {
	mu       sync.Mutex
	versions map[string]int64
	replaced map[string][]knowledge.Chunk

	// failReplaceWith, when set, is returned by every ReplaceDocument.
	failReplaceWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		versions: make(map[string]int64),
		replaced: make(map[string][]knowledge.Chunk),
	}
}

func (s *fakeStore) key(tenantID uuid.UUID, ref string) string {
	return tenantID.String() + "/" + ref
}

func (s *fakeStore) NextVersion(_ context.Context, tenantID uuid.UUID, ref string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[s.key(tenantID, ref)]++
	return s.versions[s.key(tenantID, ref)], nil
}

func (s *fakeStore) ReplaceDocument(_ context.Context, tenantID uuid.UUID, ref string, version int64, chunks []knowledge.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReplaceWith != nil {
		return s.failReplaceWith
	}
	if s.versions[s.key(tenantID, ref)] != version {
		return fmt.Errorf("document %s: %w", ref, knowledge.ErrSuperseded)
	}
	s.replaced[s.key(tenantID, ref)] = chunks
	return nil
}

func (s *fakeStore) chunksFor(tenantID uuid.UUID, ref string) []knowledge.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced[s.key(tenantID, ref)]
}

type pipelineEmbedder struct {
	mu        sync.Mutex
	calls     int
	failTimes int
}

func (e *pipelineEmbedder) EmbedDocuments(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failTimes {
		return nil, errors.New("503 embedding backend unavailable")
	}
	vectors := make([]pgvector.Vector, len(texts))
	for i := range vectors {
		vectors[i] = pgvector.NewVector([]float32{1, 0, 0})
	}
	return vectors, nil
}

func (e *pipelineEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[uuid.UUID]*Job)}
}

func (m *memJobs) Create(_ context.Context, id, tenantID uuid.UUID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id] = &Job{ID: id, TenantID: tenantID, DocumentRef: ref, Status: StatusQueued}
	return nil
}

func (m *memJobs) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return m.set(id, StatusProcessing, "", 0, true)
}

func (m *memJobs) MarkCompleted(_ context.Context, id uuid.UUID, chunkCount int) error {
	return m.set(id, StatusCompleted, "", chunkCount, false)
}

func (m *memJobs) MarkQueued(_ context.Context, id uuid.UUID, cause string) error {
	return m.set(id, StatusQueued, cause, 0, false)
}

func (m *memJobs) MarkFailed(_ context.Context, id uuid.UUID, cause string) error {
	return m.set(id, StatusFailed, cause, 0, false)
}

func (m *memJobs) set(id uuid.UUID, status, cause string, chunks int, bumpAttempt bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = status
	j.Error = cause
	if chunks > 0 {
		j.ChunkCount = chunks
	}
	if bumpAttempt {
		j.Attempts++
	}
	return nil
}

func (m *memJobs) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Status
	}
	return ""
}

func startPipeline(t *testing.T, store *fakeStore, embedder *pipelineEmbedder, jobs *memJobs, cfg Config) *Pipeline {
	t.Helper()
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 500
		cfg.ChunkOverlap = 50
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}

	p, err := NewPipeline(store, embedder, jobs, cfg, nil)
	if err != nil {
		t.Fatalf("NewPipeline() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func waitForStatus(t *testing.T, jobs *memJobs, id uuid.UUID, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if jobs.status(id) == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job %s status = %q, want %q", id, jobs.status(id), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPipelineIngestsDocument(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	store := newFakeStore()
	jobs := newMemJobs()
	p := startPipeline(t, store, &pipelineEmbedder{}, jobs, Config{})

	tenant := uuid.New()
	jobID, err := p.Enqueue(context.Background(), Request{
		TenantID:     tenant,
		DocumentRef:  "faq.txt",
		Raw:          []byte("Returns are accepted within thirty days of purchase with a valid receipt."),
		DeclaredType: TypeText,
	})
	if err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}

	waitForStatus(t, jobs, jobID, StatusCompleted)

	chunks := store.chunksFor(tenant, "faq.txt")
	if len(chunks) != 1 {
		t.Fatalf("stored %d chunks, want 1", len(chunks))
	}
	if chunks[0].Ordinal != 0 || chunks[0].TenantID != tenant {
		t.Errorf("chunk = %+v", chunks[0])
	}
	if len(chunks[0].Embedding.Slice()) == 0 {
		t.Error("chunk stored without embedding")
	}
}

func TestPipelineAtomicityOnEmbeddingFailure(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()
	embedder := &pipelineEmbedder{failTimes: 1000}
	p := startPipeline(t, store, embedder, jobs, Config{MaxJobAttempts: 2})

	tenant := uuid.New()
	jobID, err := p.Enqueue(context.Background(), Request{
		TenantID:     tenant,
		DocumentRef:  "doc.txt",
		Raw:          []byte("content that will never be embedded"),
		DeclaredType: TypeText,
	})
	if err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}

	waitForStatus(t, jobs, jobID, StatusFailed)

	if got := store.chunksFor(tenant, "doc.txt"); got != nil {
		t.Errorf("stored %d chunks after embedding failure, want none", len(got))
	}
}

func TestPipelineRetriesTransientFailure(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()
	embedder := &pipelineEmbedder{failTimes: 1}
	p := startPipeline(t, store, embedder, jobs, Config{MaxJobAttempts: 3})

	tenant := uuid.New()
	jobID, err := p.Enqueue(context.Background(), Request{
		TenantID:     tenant,
		DocumentRef:  "doc.txt",
		Raw:          []byte("content embedded on the second attempt"),
		DeclaredType: TypeText,
	})
	if err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}

	waitForStatus(t, jobs, jobID, StatusCompleted)

	if got := embedder.callCount(); got != 2 {
		t.Errorf("embedder called %d times, want 2", got)
	}
}

func TestPipelineTerminalFailureNotRetried(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()
	p := startPipeline(t, store, &pipelineEmbedder{}, jobs, Config{MaxJobAttempts: 5})

	jobID, err := p.Enqueue(context.Background(), Request{
		TenantID:     uuid.New(),
		DocumentRef:  "image.png",
		Raw:          []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a},
		DeclaredType: "png",
	})
	if err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}

	waitForStatus(t, jobs, jobID, StatusFailed)

	jobs.mu.Lock()
	attempts := jobs.jobs[jobID].Attempts
	jobs.mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for terminal failure", attempts)
	}
}

func TestPipelineSupersededJobFencedOut(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()

	// Workers are started only after the fence has moved, so the job
	// is guaranteed to commit with a stale version.
	p, err := NewPipeline(store, &pipelineEmbedder{}, jobs, Config{
		ChunkSize:    500,
		ChunkOverlap: 50,
		Workers:      1,
		RetryDelay:   time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewPipeline() = %v", err)
	}

	tenant := uuid.New()
	jobID, err := p.Enqueue(context.Background(), Request{
		TenantID:     tenant,
		DocumentRef:  "doc.txt",
		Raw:          []byte("stale content"),
		DeclaredType: TypeText,
	})
	if err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}

	// A newer writer claims the next version before the job commits.
	// The fake store rejects any version that is not current.
	if _, err := store.NextVersion(context.Background(), tenant, "doc.txt"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitForStatus(t, jobs, jobID, StatusFailed)

	if got := store.chunksFor(tenant, "doc.txt"); got != nil {
		t.Errorf("superseded job stored %d chunks, want none", len(got))
	}
}

func TestPipelineIdempotentReingestion(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()
	p := startPipeline(t, store, &pipelineEmbedder{}, jobs, Config{})

	tenant := uuid.New()
	content := []byte("identical bytes ingested twice must produce the identical chunk set")

	for i := 0; i < 2; i++ {
		jobID, err := p.Enqueue(context.Background(), Request{
			TenantID:     tenant,
			DocumentRef:  "doc.txt",
			Raw:          content,
			DeclaredType: TypeText,
		})
		if err != nil {
			t.Fatalf("Enqueue() #%d = %v", i+1, err)
		}
		waitForStatus(t, jobs, jobID, StatusCompleted)
	}

	chunks := store.chunksFor(tenant, "doc.txt")
	if len(chunks) != 1 {
		t.Fatalf("stored %d chunks, want 1", len(chunks))
	}
	want := NormalizeWhitespace(string(content))
	if chunks[0].Text != want {
		t.Errorf("chunk text = %q, want %q", chunks[0].Text, want)
	}
}

func TestPipelineEmptyDocumentCompletesWithZeroChunks(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()
	p := startPipeline(t, store, &pipelineEmbedder{}, jobs, Config{})

	tenant := uuid.New()
	jobID, err := p.Enqueue(context.Background(), Request{
		TenantID:     tenant,
		DocumentRef:  "empty.txt",
		Raw:          []byte("   \n  "),
		DeclaredType: TypeText,
	})
	if err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}

	waitForStatus(t, jobs, jobID, StatusCompleted)

	jobs.mu.Lock()
	chunkCount := jobs.jobs[jobID].ChunkCount
	jobs.mu.Unlock()
	if chunkCount != 0 {
		t.Errorf("chunk count = %d, want 0", chunkCount)
	}
}

func TestPipelineQueueFull(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()

	// No running workers: the queue fills immediately.
	p, err := NewPipeline(store, &pipelineEmbedder{}, jobs, Config{
		ChunkSize:    500,
		ChunkOverlap: 50,
		QueueSize:    1,
	}, nil)
	if err != nil {
		t.Fatalf("NewPipeline() = %v", err)
	}

	tenant := uuid.New()
	if _, err := p.Enqueue(context.Background(), Request{
		TenantID: tenant, DocumentRef: "a.txt", Raw: []byte("a"), DeclaredType: TypeText,
	}); err != nil {
		t.Fatalf("first Enqueue() = %v", err)
	}

	jobID2, err := p.Enqueue(context.Background(), Request{
		TenantID: tenant, DocumentRef: "b.txt", Raw: []byte("b"), DeclaredType: TypeText,
	})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Enqueue() = %v, want ErrQueueFull", err)
	}
	if jobID2 != uuid.Nil {
		t.Errorf("job id = %s, want nil uuid on rejection", jobID2)
	}

	// A rejected enqueue allocates no version and creates no job.
	store.mu.Lock()
	bVersion := store.versions[store.key(tenant, "b.txt")]
	store.mu.Unlock()
	if bVersion != 0 {
		t.Errorf("b.txt version = %d, want 0 after rejection", bVersion)
	}
	jobs.mu.Lock()
	jobCount := len(jobs.jobs)
	jobs.mu.Unlock()
	if jobCount != 1 {
		t.Errorf("job count = %d, want 1", jobCount)
	}
}

func TestPipelineQueueFullKeepsQueuedVersion(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()

	p, err := NewPipeline(store, &pipelineEmbedder{}, jobs, Config{
		ChunkSize:    500,
		ChunkOverlap: 50,
		QueueSize:    1,
	}, nil)
	if err != nil {
		t.Fatalf("NewPipeline() = %v", err)
	}

	tenant := uuid.New()
	if _, err := p.Enqueue(context.Background(), Request{
		TenantID: tenant, DocumentRef: "report.txt", Raw: []byte("v1"), DeclaredType: TypeText,
	}); err != nil {
		t.Fatalf("first Enqueue() = %v", err)
	}

	// A re-upload bounced off a full queue must not invalidate the
	// fence version of the job already waiting in it.
	_, err = p.Enqueue(context.Background(), Request{
		TenantID: tenant, DocumentRef: "report.txt", Raw: []byte("v2"), DeclaredType: TypeText,
	})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Enqueue() = %v, want ErrQueueFull", err)
	}

	store.mu.Lock()
	version := store.versions[store.key(tenant, "report.txt")]
	store.mu.Unlock()
	if version != 1 {
		t.Errorf("version = %d, want 1 after rejected re-upload", version)
	}
}

func TestPipelineQueueFullRemovesSpool(t *testing.T) {
	store := newFakeStore()
	jobs := newMemJobs()

	p, err := NewPipeline(store, &pipelineEmbedder{}, jobs, Config{
		ChunkSize:    500,
		ChunkOverlap: 50,
		QueueSize:    1,
	}, nil)
	if err != nil {
		t.Fatalf("NewPipeline() = %v", err)
	}

	tenant := uuid.New()
	if _, err := p.Enqueue(context.Background(), Request{
		TenantID: tenant, DocumentRef: "a.txt", Raw: []byte("a"), DeclaredType: TypeText,
	}); err != nil {
		t.Fatalf("first Enqueue() = %v", err)
	}

	spool := filepath.Join(t.TempDir(), "upload-b")
	if err := os.WriteFile(spool, []byte("b"), 0o600); err != nil {
		t.Fatalf("writing spool: %v", err)
	}
	_, err = p.Enqueue(context.Background(), Request{
		TenantID: tenant, DocumentRef: "b.txt", FilePath: spool, DeclaredType: TypeText,
	})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue() = %v, want ErrQueueFull", err)
	}
	if _, err := os.Stat(spool); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("spool still present after rejection: %v", err)
	}
}
