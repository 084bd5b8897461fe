package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/knollbase/knoll/db"
	"github.com/knollbase/knoll/internal/api"
	"github.com/knollbase/knoll/internal/chat"
	"github.com/knollbase/knoll/internal/chatlog"
	"github.com/knollbase/knoll/internal/config"
	"github.com/knollbase/knoll/internal/ingest"
	"github.com/knollbase/knoll/internal/knowledge"
	"github.com/knollbase/knoll/internal/model"
	"github.com/knollbase/knoll/internal/tenant"
)

// Provider rate limits, requests per second. Keeps a busy ingestion
// burst from starving interactive chat of embedding quota.
const (
	embedRatePerSec    = 5
	generateRatePerSec = 2
)

// runServe wires every component and runs the HTTP server until
// SIGINT or SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get an API key at: https://ai.google.dev/")
		return fmt.Errorf("GEMINI_API_KEY not set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting knoll", "version", AppVersion)

	pool, err := setupDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return errors.New("initializing genkit")
	}

	policy := model.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.RetryBaseDelay
	}

	embedder, err := model.NewEmbedder(
		googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel),
		model.EmbedderConfig{
			Dimension: cfg.Dimension,
			BatchSize: cfg.EmbedBatchSize,
			Timeout:   cfg.EmbedTimeout,
			Policy:    policy,
			Limiter:   rate.NewLimiter(embedRatePerSec, embedRatePerSec),
		}, logger)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	generator, err := model.NewGenerator(g, model.GeneratorConfig{
		ModelName:       "googleai/" + cfg.ModelName,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Timeout:         cfg.GenerateTimeout,
		Policy:          policy,
		Limiter:         rate.NewLimiter(generateRatePerSec, generateRatePerSec),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	store, err := knowledge.NewStore(pool, knowledge.StoreConfig{Probes: cfg.IVFFlatProbes}, logger)
	if err != nil {
		return fmt.Errorf("creating knowledge store: %w", err)
	}

	jobs, err := ingest.NewJobStore(pool)
	if err != nil {
		return fmt.Errorf("creating job store: %w", err)
	}

	pipeline, err := ingest.NewPipeline(store, embedder, jobs, ingest.Config{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		Workers:        cfg.IngestWorkers,
		QueueSize:      cfg.IngestQueue,
		MaxJobAttempts: cfg.MaxJobAttempts,
		RetryDelay:     cfg.JobRetryDelay,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	retriever, err := chat.NewRetriever(embedder, store, chat.RetrieverConfig{
		TopK:        cfg.TopK,
		MaxDistance: cfg.MaxDistance,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating retriever: %w", err)
	}

	recorder, err := chatlog.NewRecorder(pool, logger)
	if err != nil {
		return fmt.Errorf("creating chat log recorder: %w", err)
	}

	answerer, err := chat.NewAnswerer(retriever, generator, recorder, chat.HistoryBudget{
		MaxExchanges: cfg.MaxHistoryExchanges,
		MaxTokens:    cfg.MaxHistoryTokens,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating answerer: %w", err)
	}

	tenants, err := tenant.NewStore(pool, logger)
	if err != nil {
		return fmt.Errorf("creating tenant store: %w", err)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload dir: %w", err)
	}

	server, err := api.NewServer(api.ServerConfig{
		Logger:         logger,
		Pool:           pool,
		Tenants:        tenants,
		Pipeline:       pipeline,
		Jobs:           jobs,
		Knowledge:      store,
		Answerer:       answerer,
		Recorder:       recorder,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateBurst:      cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()

	err = server.Run(ctx, cfg.ListenAddr)
	cancel()
	wg.Wait()
	return err
}

// setupDBPool migrates the schema and opens a verified connection pool.
func setupDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
