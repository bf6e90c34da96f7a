package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmarulanda/finledger/internal/ai"
	"github.com/dmarulanda/finledger/internal/domain/ingest/classifier"
	"github.com/dmarulanda/finledger/internal/domain/ingest/detector"
	"github.com/dmarulanda/finledger/internal/domain/ingest/extractor"
	ingesthandler "github.com/dmarulanda/finledger/internal/domain/ingest/handler"
	ingestrepo "github.com/dmarulanda/finledger/internal/domain/ingest/repository"
	ingestservice "github.com/dmarulanda/finledger/internal/domain/ingest/service"
	"github.com/dmarulanda/finledger/internal/domain/ingest/review"
	"github.com/dmarulanda/finledger/pkg/config"
	"github.com/dmarulanda/finledger/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	IngestRepo ingestrepo.IngestRepository

	// Services
	AIClient      *ai.Client
	IngestService *ingestservice.IngestService

	// Handlers
	IngestHandler *ingesthandler.IngestHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initServices(ctx); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initServices initializes the repository, pipeline and handler layers
func (d *Dependencies) initServices(ctx context.Context) error {
	d.IngestRepo = ingestrepo.NewPostgresIngestRepository(d.DB.Pool)

	aiClient, err := ai.NewClient(ctx, ai.Config{
		APIKey:            d.Config.AI.APIKey,
		Model:             d.Config.AI.Model,
		RequestsPerMinute: d.Config.AI.RequestsPerMinute,
	}, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}
	d.AIClient = aiClient

	d.IngestService = ingestservice.NewIngestService(
		d.IngestRepo,
		detector.New(aiClient, d.Logger, detector.Config{}),
		extractor.New(d.Logger, d.Config.Ledger.ReportingCurrency),
		classifier.New(aiClient, d.Logger),
		review.NewManager(d.Config.Ledger.ReviewTTL),
		d.Config.Ledger.ReportingCurrency,
		d.Config.Ledger.ClassifyWorkers,
		d.Logger,
	)

	d.IngestHandler = ingesthandler.NewIngestHandler(d.IngestService, d.Logger, d.Config.Ledger.MaxUploadBytes)

	d.Logger.Info("services initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
