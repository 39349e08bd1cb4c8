package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"golang.org/x/sync/errgroup"

	"github.com/jabraham1/dok-tok/features/document"
	"github.com/jabraham1/dok-tok/features/interpret"
	"github.com/jabraham1/dok-tok/features/job"
	"github.com/jabraham1/dok-tok/features/stats"
	"github.com/jabraham1/dok-tok/internal/adapter/gemini"
	"github.com/jabraham1/dok-tok/internal/config"
	"github.com/jabraham1/dok-tok/internal/extract"
	"github.com/jabraham1/dok-tok/internal/indexing"
	"github.com/jabraham1/dok-tok/internal/middleware"
	"github.com/jabraham1/dok-tok/internal/retrieval"
	"github.com/jabraham1/dok-tok/internal/settings"
	"github.com/jabraham1/dok-tok/internal/vector"
	"github.com/jabraham1/dok-tok/internal/worker"
)

// VectorStore is the chunk collection backing indexing, retrieval and admin.
type VectorStore interface {
	vector.Backend
	EnsureSchema(ctx context.Context) error
	GetChunks(ctx context.Context, source string) ([]vector.Match, error)
	DeleteBySource(ctx context.Context, source string) (int64, error)
	CountChunks(ctx context.Context, source string) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// Generator answers prompts and transcribes images.
type Generator interface {
	retrieval.Generator
	extract.Describer
}

// Options replaces the model clients, mainly for tests. Nil fields fall back
// to Gemini.
type Options struct {
	Embedder  vector.Embedder
	Generator Generator
}

type App struct {
	Handler         http.Handler
	DocumentService *document.Service
	Retrieval       *retrieval.Service
	IndexConsumer   *worker.IndexConsumer

	cfg     *config.Config
	closers []io.Closer
}

func New(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	a := &App{cfg: cfg}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	if seeded, err := settingsService.SeedAPIKey(ctx, cfg.GeminiAPIKey); err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
	} else if seeded {
		slog.Info("seeded gemini api key from environment")
	}
	settingsHandler := settings.NewHandler(settingsService)

	// Adapters: Gemini, keyed from settings so key changes apply without restart
	limiter := gemini.NewLimiter(cfg.GeminiRPS, cfg.GeminiBurst)
	embedder := opts.Embedder
	if embedder == nil {
		e := gemini.NewEmbedder(settingsService, cfg.GeminiEmbeddingModel, limiter)
		a.closers = append(a.closers, e)
		embedder = e
	}
	generator := opts.Generator
	if generator == nil {
		g := gemini.NewGenerator(settingsService, cfg.GeminiGenerationModel, limiter)
		a.closers = append(a.closers, g)
		generator = g
	}

	collection := vector.NewCollection(embedder, vecStore)

	// Extraction
	registry := extract.NewRegistry().
		Register(extract.MediaDOCX, extract.NewDOCX()).
		Register(extract.MediaText, extract.NewText()).
		Register(extract.MediaImage, extract.NewImage(generator))
	if pdf, err := extract.NewPDF(); err != nil {
		slog.Warn("pdf extraction disabled", "error", err, "install", extract.PDFInstallInstructions())
	} else {
		registry.Register(extract.MediaPDF, pdf)
	}

	// Feature: Retrieval
	queryLogger, closer, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	} else {
		a.closers = append(a.closers, closer)
	}
	a.Retrieval = retrieval.NewService(collection, generator, settingsService, queryLogger, retrieval.Options{
		TopK:             cfg.RetrievalTopK,
		MaxContextChunks: cfg.MaxContextChunks,
		Temperature:      cfg.GenerationTemperature,
		MaxOutputTokens:  cfg.MaxOutputTokens,
	})

	// Feature: Document
	documentRepo := document.NewPostgresRepo(db)
	a.DocumentService = document.NewService(documentRepo, taskPub, vecStore, registry)
	documentHandler := document.NewHandler(a.DocumentService, cfg.UploadDir, cfg.MaxUploadSizeMB)

	// Feature: Interpret
	interpretHandler := interpret.NewHandler(a.Retrieval, registry, a.DocumentService, cfg.RequestTimeout(), cfg.MaxUploadSizeMB)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(documentRepo, jobRepo, vecStore)

	// Worker
	indexer, err := indexing.NewIndexer(collection, indexing.Options{
		WindowSize: cfg.ChunkSize,
		Overlap:    cfg.ChunkOverlap,
		BatchSize:  cfg.IndexBatchSize,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("indexer config: %w", err)
	}
	a.IndexConsumer = worker.NewIndexConsumer(indexer, documentRepo, vecStore, jobRepo, cfg.IndexTimeout())

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /upload", middleware.CorrelationID(enableCORS(documentHandler.Upload)))
	mux.Handle("POST /interpret", middleware.CorrelationID(enableCORS(interpretHandler.Interpret)))
	mux.Handle("POST /analyze", middleware.CorrelationID(enableCORS(interpretHandler.Analyze)))
	mux.Handle("GET /search", middleware.CorrelationID(enableCORS(interpretHandler.Search)))

	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(documentHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Get)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Delete)))
	mux.Handle("POST /documents/{id}/reindex", middleware.CorrelationID(enableCORS(documentHandler.Reindex)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("GET /health", middleware.CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})))

	a.Handler = mux
	return a, nil
}

// Run serves HTTP and drains the index topic until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	consumer, err := a.newConsumer()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "port", a.cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}

		consumer.Stop()
		<-consumer.StopChan
		slog.Info("index consumer stopped")
		return nil
	})

	err = g.Wait()
	a.Close()
	return err
}

func (a *App) newConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = max(a.cfg.IndexConcurrency, 1)
	// Failures are recorded as failed jobs, so NSQ never redelivers.
	nsqCfg.MaxAttempts = 1
	if a.cfg.IndexTimeoutSecs > 0 {
		nsqCfg.MsgTimeout = a.cfg.IndexTimeout() + 30*time.Second
	}

	consumer, err := nsq.NewConsumer(config.TopicIndexDocument, config.ChannelIndexer, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ consumer: %w", err)
	}
	consumer.AddConcurrentHandlers(a.IndexConsumer, max(a.cfg.IndexConcurrency, 1))

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("failed to connect index consumer: %w", err)
	}
	slog.Info("NSQ index consumer connected", "topic", config.TopicIndexDocument, "concurrency", nsqCfg.MaxInFlight)
	return consumer, nil
}

// Close releases the model clients and the query log.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
