package main

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/kiranahq/backoffice/internal/artifact"
	"github.com/kiranahq/backoffice/internal/config"
	"github.com/kiranahq/backoffice/internal/invoice"
	"github.com/kiranahq/backoffice/internal/scanning"
	"github.com/kiranahq/backoffice/internal/tenant"
	"github.com/kiranahq/backoffice/internal/worker"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// Local development drops credentials in a .env file; absence is fine.
	_ = godotenv.Load()

	logger := config.GetLogger()

	fs := ff.NewFlagSet("backoffice")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dsnTemplate   = fs.StringLong("mysql-dsn", "root:root@tcp(localhost:3306)/%s?parseTime=true&charset=utf8mb4&loc=UTC", "MySQL DSN template with one %s for the database name")
		dbPrefix      = fs.StringLong("db-prefix", "kirana_", "Per-store database name prefix")
		artifactPath  = fs.StringLong("artifacts", "backoffice-artifacts.db", "Artifact database file path")
		extractorType = fs.StringLong("extractor", "gemini", "Page extractor: 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		pacingMillis  = fs.IntLong("pacing-ms", 500, "Delay between extraction calls in milliseconds")
		poolSize      = fs.IntLong("workers", 4, "Background processing worker count")
		queueDepth    = fs.IntLong("queue", 64, "Background processing queue depth")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BACKOFFICE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize artifact storage for uploaded documents
	artifacts, err := artifact.NewBoltStore(*artifactPath)
	if err != nil {
		logger.WithField("error", err).Fatal("failed to open artifact store")
	}
	defer artifacts.Close()

	// Initialize page extractor based on type
	var extractor scanning.PageExtractor
	switch *extractorType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			logger.Fatal("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		logger.WithField("model", *geminiModel).Info("initializing Gemini extractor")
		extractor, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			logger.WithField("error", err).Fatal("failed to initialize Gemini")
		}
	case "ollama":
		logger.WithField("url", *ollamaURL).WithField("model", *ollamaModel).Info("initializing Ollama extractor")
		extractor, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			logger.WithField("error", err).Fatal("failed to initialize Ollama")
		}
	default:
		logger.WithField("type", *extractorType).Fatal("invalid extractor type, expected 'gemini' or 'ollama'")
	}
	defer extractor.Close()

	tenants := tenant.NewProvider(*dsnTemplate, *dbPrefix, logger)
	hub := invoice.NewProgressHub()
	service := invoice.NewService(extractor, artifacts, hub, logger,
		time.Duration(*pacingMillis)*time.Millisecond)
	pool := worker.NewPool(*poolSize, *queueDepth, logger)

	resolve := func(c *gin.Context) (invoice.Store, error) {
		storeID := c.GetHeader("X-Store-Id")
		if storeID == "" {
			return nil, invoice.ErrUnknownTenant
		}
		store, err := tenants.Store(storeID)
		if err != nil {
			if err == tenant.ErrInvalidStoreID {
				return nil, invoice.ErrUnknownTenant
			}
			return nil, err
		}
		return store, nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})

	handlers := invoice.NewHandlers(service, pool, resolve, logger)
	handlers.RegisterRoutes(router)

	addr := fmt.Sprintf(":%d", *port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Fatal("server error")
		}
	}()
	logger.WithField("address", addr).Info("server started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Warn("http shutdown incomplete")
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Warn("worker pool shutdown incomplete")
	}
}
