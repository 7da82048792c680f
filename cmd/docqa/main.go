// Docqa is a document question-answering backend.
//
// It ingests uploaded documents into a per-session vector index and answers
// questions against the indexed content through an OpenAI-compatible
// embedding and chat provider.
//
// Usage:
//
//	# Start server with defaults
//	docqa
//
//	# Configure via file and environment
//	docqa -config config.yaml
//	DOCQA_SERVER_PORT=9000 DOCQA_VECTORSTORE_BACKEND=chromem docqa
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/answer"
	"github.com/fyrsmithlabs/docqa/internal/cache"
	"github.com/fyrsmithlabs/docqa/internal/chunker"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/extract"
	docqahttp "github.com/fyrsmithlabs/docqa/internal/http"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  docqa           Start the docqa server\n")
			fmt.Fprintf(os.Stderr, "  docqa version   Show version information\n")
			os.Exit(1)
		}
	}

	// Load a local .env if present; real environment wins.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("docqa\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the full pipeline and blocks until ctx is canceled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting docqa",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vector_backend", cfg.VectorStore.Backend))

	store, err := vectorstore.New(cfg.VectorStore, logger)
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing vector store", zap.Error(err))
		}
	}()

	// The query-embedding and response caches are owned here so the cache
	// clear endpoint can reset both.
	queryCache := cache.New[[]float32](cache.DefaultCapacity)
	responseCache := cache.New[string](cache.DefaultCapacity)

	embedder, err := embeddings.NewService(cfg.Embeddings, queryCache, logger)
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}
	logger.Info("embedding service initialized",
		zap.String("base_url", cfg.Embeddings.BaseURL),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", cfg.Embeddings.Dimension))

	generator := answer.NewGenerator(cfg.Answer, logger)

	svc := retrieval.NewService(
		cfg.Retrieval,
		chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap, logger),
		embedder,
		store,
		generator,
		responseCache,
		logger,
	)

	clearAll := func() {
		svc.Reset()
		queryCache.Clear()
	}

	srv, err := docqahttp.NewServer(svc, extract.NewPlainText(), clearAll, logger, docqahttp.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
