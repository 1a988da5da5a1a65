package backend

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	gsheet "tally/internal/sheets/google"
	"tally/internal/sheets/memory"
	"tally/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger

	// newAMQP is replaced in tests.
	newAMQP func(url, exchange, queue string) (*amqp.Client, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger:  logger,
		newAMQP: amqp.NewClient,
	}
}

// CreateBackend opens the repository for config.Type, then the optional
// AMQP client and spreadsheet writer. On error everything opened so far is
// closed again.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res := &BackendResult{Type: config.Type, Checks: make(map[string]CheckFunc)}
	if err := f.createRepository(res, config); err != nil {
		return nil, err
	}
	if err := f.createAMQP(res, config); err != nil {
		_ = res.Cleanup()
		return nil, err
	}
	if err := f.createSheets(ctx, res, config); err != nil {
		_ = res.Cleanup()
		return nil, err
	}
	return res, nil
}

func (f *DefaultFactory) createRepository(res *BackendResult, config Config) error {
	switch config.Type {
	case SQLiteBackend:
		sqliteRepo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		res.Repo = sqliteRepo
		res.Checks["storage"] = sqliteRepo.Ping
		res.onCleanup(sqliteRepo.Close)
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MemoryBackend:
		repo := storage.NewMemoryRepository()
		res.Repo = repo
		res.Checks["storage"] = func(context.Context) error { return nil }
		res.onCleanup(repo.Close)
		f.logger.Info("Initialized memory backend")
	default:
		return fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	return nil
}

// createAMQP connects when a URL is configured. A failed connection is fatal
// only when RequireAMQP is set; otherwise feed changes are applied inline.
func (f *DefaultFactory) createAMQP(res *BackendResult, config Config) error {
	if config.AMQPURL == "" {
		f.logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil
	}
	client, err := f.newAMQP(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		if config.RequireAMQP {
			return fmt.Errorf("failed to initialize AMQP client: %w", err)
		}
		f.logger.Warn("Failed to initialize AMQP client, continuing without queue", "error", err)
		return nil
	}
	res.AMQP = client
	res.Checks["amqp"] = client.Ping
	res.onCleanup(client.Close)
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return nil
}

// createSheets picks the Google Sheets writer when a spreadsheet is
// configured and an in-process store otherwise.
func (f *DefaultFactory) createSheets(ctx context.Context, res *BackendResult, config Config) error {
	if config.GoogleSpreadsheetID == "" {
		res.Sheets = memory.New()
		f.logger.Info("Google Sheets disabled - exporting to in-memory store")
		return nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsFile: config.GoogleCredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	res.Sheets = client
	f.logger.Info("Google Sheets client initialized", "spreadsheet_id", config.GoogleSpreadsheetID)
	return nil
}
