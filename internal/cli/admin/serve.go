package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loomchat/loom-memory/internal/api/handlers"
	"github.com/loomchat/loom-memory/internal/config"
	"github.com/loomchat/loom-memory/internal/database"
	"github.com/loomchat/loom-memory/internal/embedding"
	"github.com/loomchat/loom-memory/internal/jobs"
	"github.com/loomchat/loom-memory/internal/repository"
	"github.com/loomchat/loom-memory/internal/server"
	"github.com/loomchat/loom-memory/internal/service"
	"github.com/loomchat/loom-memory/internal/storage"
	"github.com/loomchat/loom-memory/internal/telemetry"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the memory API server",
		Long:  "Start the loom memory API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		environment := cfg.SentryEnvironment
		if environment == "" {
			environment = "development"
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      environment,
			TracesSampleRate: cfg.SentrySampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPoolFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	factRepo := repository.NewFactRepository(pool)
	summaryRepo := repository.NewSummaryRepository(pool)
	relationshipRepo := repository.NewRelationshipRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	documentRepo := repository.NewDocumentRepository(pool)
	embeddingJobRepo := repository.NewEmbeddingJobRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	var embedder embedding.Client
	if cfg.HasOpenAI() {
		embedder = embedding.NewOpenAIClient(embedding.OpenAIConfig{APIKey: cfg.OpenAIAPIKey})
		log.Println("using OpenAI embedding backend")
	} else {
		local := embedding.NewLocalModel()
		if err := local.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize local embedding model: %w", err)
		}
		embedder = local
		log.Println("using local embedding backend")
	}

	var archive service.DocumentArchive
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		archive = s3Client
	}

	memorySvc := service.NewSharedMemoryService(
		factRepo, summaryRepo, relationshipRepo, conversationRepo, embeddingJobRepo, embedder)
	knowledgeSvc := service.NewKnowledgeBaseService(documentRepo, txRunner, embedder, archive).
		WithCacheSettings(time.Duration(cfg.CacheTTLSeconds)*time.Second, cfg.CacheMaxEntries)

	embeddingProcessor := jobs.NewEmbeddingWorker(embeddingJobRepo, factRepo, documentRepo, embedder)
	embeddingWorker := jobs.NewWorker("embedding", embeddingProcessor, time.Duration(cfg.EmbedPollSeconds)*time.Second)
	go embeddingWorker.Start(ctx)
	log.Println("embedding backfill worker started")

	var retentionWorker *jobs.Worker
	if cfg.RetentionDays > 0 {
		retentionProcessor := jobs.NewRetentionWorker(conversationRepo, memorySvc, cfg.RetentionDays)
		retentionWorker = jobs.NewWorker("retention", retentionProcessor, time.Duration(cfg.RetentionPollSeconds)*time.Second)
		go retentionWorker.Start(ctx)
		log.Printf("retention worker started (window: %d days)", cfg.RetentionDays)
	}

	router := server.NewRouter(server.RouterConfig{
		APIKey:          cfg.APIKey,
		MemoryHandler:   handlers.NewMemoryHandler(memorySvc),
		DocumentHandler: handlers.NewDocumentHandler(knowledgeSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	embeddingWorker.Stop()
	if retentionWorker != nil {
		retentionWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
