// Package api is the JSON HTTP surface of the knowledge base.
//
// Endpoints:
//
//	POST   /api/v1/tenants                                  create tenant
//	GET    /api/v1/tenants                                  list tenants
//	DELETE /api/v1/tenants/{tenant}                         delete tenant and its data
//	POST   /api/v1/tenants/{tenant}/documents               upload document (multipart)
//	POST   /api/v1/tenants/{tenant}/documents/url           ingest a web page
//	GET    /api/v1/tenants/{tenant}/documents               list documents
//	DELETE /api/v1/tenants/{tenant}/documents/{ref...}      delete document
//	GET    /api/v1/tenants/{tenant}/jobs/{id}               ingestion job status
//	POST   /api/v1/tenants/{tenant}/chat                    answer a question
//	GET    /api/v1/tenants/{tenant}/chat/history            session history
//	GET    /healthz                                         liveness probe
//	GET    /readyz                                          readiness probe (DB ping)
//
// Uploads return 202 with a job id; extraction and embedding run on
// the ingestion worker pool, never on the request path.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/knollbase/knoll/internal/chat"
	"github.com/knollbase/knoll/internal/chatlog"
	"github.com/knollbase/knoll/internal/ingest"
	"github.com/knollbase/knoll/internal/knowledge"
	"github.com/knollbase/knoll/internal/log"
	"github.com/knollbase/knoll/internal/tenant"
)

// Pinger is the readiness probe's view of the connection pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TenantRegistry is the handler's view of the tenant store.
type TenantRegistry interface {
	Create(ctx context.Context, name string) (tenant.Tenant, error)
	List(ctx context.Context) ([]tenant.Tenant, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Enqueuer is the handler's view of the ingestion pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, req ingest.Request) (uuid.UUID, error)
	IngestURL(ctx context.Context, tenantID uuid.UUID, pageURL string) (uuid.UUID, error)
}

// JobReader reads ingestion job state.
type JobReader interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (ingest.Job, error)
}

// DocumentCatalog lists and removes stored documents.
type DocumentCatalog interface {
	ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]knowledge.DocumentInfo, error)
	DeleteDocument(ctx context.Context, tenantID uuid.UUID, ref string) (int64, error)
}

// Answerer runs one chat turn.
type Answerer interface {
	Answer(ctx context.Context, req chat.Request) (chat.Response, error)
}

// ExchangeLog persists and serves chat exchanges.
type ExchangeLog interface {
	Append(ctx context.Context, e chatlog.Exchange) error
	History(ctx context.Context, tenantID uuid.UUID, sessionID string, limit int) ([]chatlog.Exchange, error)
}

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against Slowloris-style clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is generous because uploads stream the whole body.
	ReadTimeout = 2 * time.Minute

	// WriteTimeout covers generation latency on the chat endpoint.
	WriteTimeout = 2 * time.Minute

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second

	defaultMaxUpload = 20 << 20
	defaultRateBurst = 60
)

// ServerConfig wires the API server's dependencies.
type ServerConfig struct {
	Logger    log.Logger
	Pool      Pinger          // Required: readiness probe
	Tenants   TenantRegistry  // Required
	Pipeline  Enqueuer        // Required
	Jobs      JobReader       // Required
	Knowledge DocumentCatalog // Required
	Answerer  Answerer        // Required
	Recorder  ExchangeLog     // Required

	UploadDir      string // Spool directory for uploads; "" uses os.TempDir
	MaxUploadBytes int64  // 0 = 20 MiB
	RateBurst      int    // Per-IP burst; 0 = 60
}

// Server is the HTTP server for the knowledge base API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates the API server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Pool == nil:
		return nil, errors.New("pool is required")
	case cfg.Tenants == nil:
		return nil, errors.New("tenant store is required")
	case cfg.Pipeline == nil:
		return nil, errors.New("ingestion pipeline is required")
	case cfg.Jobs == nil:
		return nil, errors.New("job store is required")
	case cfg.Knowledge == nil:
		return nil, errors.New("knowledge store is required")
	case cfg.Answerer == nil:
		return nil, errors.New("answerer is required")
	case cfg.Recorder == nil:
		return nil, errors.New("chat log recorder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}

	th := &tenantHandler{store: cfg.Tenants, logger: logger}
	dh := &documentHandler{
		pipeline:  cfg.Pipeline,
		jobs:      cfg.Jobs,
		knowledge: cfg.Knowledge,
		uploadDir: cfg.UploadDir,
		maxUpload: maxUpload,
		logger:    logger,
	}
	ch := &chatHandler{answerer: cfg.Answerer, recorder: cfg.Recorder, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/tenants", th.create)
	mux.HandleFunc("GET /api/v1/tenants", th.list)
	mux.HandleFunc("DELETE /api/v1/tenants/{tenant}", th.delete)

	mux.HandleFunc("POST /api/v1/tenants/{tenant}/documents", dh.upload)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/documents/url", dh.uploadURL)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/documents", dh.list)
	mux.HandleFunc("DELETE /api/v1/tenants/{tenant}/documents/{ref...}", dh.delete)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/jobs/{id}", dh.jobStatus)

	mux.HandleFunc("POST /api/v1/tenants/{tenant}/chat", ch.send)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/chat/history", ch.history)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID sits before Logging so request_id is in log attributes.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack so orchestrator checks
	// never count against rate limits.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", health)
	topMux.Handle("GET /readyz", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// health is the liveness probe.
func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// readiness pings the database before reporting ready.
func readiness(pool Pinger, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			logger.Error("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready", "database not ready", logger)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}` + "\n"))
	})
}
