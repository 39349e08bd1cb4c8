package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/jabraham1/dok-tok/internal/adapter/gemini"
	wstore "github.com/jabraham1/dok-tok/internal/adapter/weaviate"
	"github.com/jabraham1/dok-tok/internal/config"
	"github.com/jabraham1/dok-tok/internal/extract"
	"github.com/jabraham1/dok-tok/internal/indexing"
	"github.com/jabraham1/dok-tok/internal/logger"
	"github.com/jabraham1/dok-tok/internal/retrieval"
	"github.com/jabraham1/dok-tok/internal/vector"
)

func main() {
	slog.SetDefault(logger.New(os.Stderr, slog.LevelWarn))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	svc, closeAll, err := wire(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer closeAll()

	if err := newRootCmd(svc).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		closeAll()
		os.Exit(1)
	}
}

// wire builds the CLI services against Weaviate and Gemini. Settings stored
// in Postgres are not consulted; the key comes from GEMINI_API_KEY.
func wire(ctx context.Context) (*services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
	if err != nil {
		return nil, nil, fmt.Errorf("weaviate client error: %w", err)
	}
	store := wstore.NewStore(client, cfg.WeaviateClass)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("weaviate schema error: %w", err)
	}

	keys := gemini.StaticKey(cfg.GeminiAPIKey)
	limiter := gemini.NewLimiter(cfg.GeminiRPS, cfg.GeminiBurst)
	embedder := gemini.NewEmbedder(keys, cfg.GeminiEmbeddingModel, limiter)
	generator := gemini.NewGenerator(keys, cfg.GeminiGenerationModel, limiter)
	collection := vector.NewCollection(embedder, store)

	indexer, err := indexing.NewIndexer(collection, indexing.Options{
		WindowSize: cfg.ChunkSize,
		Overlap:    cfg.ChunkOverlap,
		BatchSize:  cfg.IndexBatchSize,
	})
	if err != nil {
		return nil, nil, err
	}

	registry := extract.NewRegistry().
		Register(extract.MediaDOCX, extract.NewDOCX()).
		Register(extract.MediaText, extract.NewText()).
		Register(extract.MediaImage, extract.NewImage(generator))
	if pdf, err := extract.NewPDF(); err != nil {
		slog.Warn("pdf extraction disabled", "install", extract.PDFInstallInstructions())
	} else {
		registry.Register(extract.MediaPDF, pdf)
	}

	closers := []io.Closer{embedder, generator}
	queryLogger, logCloser, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		queryLogger = retrieval.NewQueryLogger(io.Discard)
	} else {
		closers = append(closers, logCloser)
	}

	retriever := retrieval.NewService(collection, generator, nil, queryLogger, retrieval.Options{
		TopK:             cfg.RetrievalTopK,
		MaxContextChunks: cfg.MaxContextChunks,
		Temperature:      cfg.GenerationTemperature,
		MaxOutputTokens:  cfg.MaxOutputTokens,
	})

	closed := false
	closeAll := func() {
		if closed {
			return
		}
		closed = true
		for _, c := range closers {
			_ = c.Close()
		}
	}

	return &services{indexer: indexer, chunks: store, extractor: registry, retriever: retriever}, closeAll, nil
}
