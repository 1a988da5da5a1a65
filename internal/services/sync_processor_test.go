package services

import (
	"context"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/sheets/memory"
	"tally/internal/storage"
)

func TestNewSyncProcessor(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, SyncProcessorConfig{})

	if processor == nil {
		t.Fatal("NewSyncProcessor should return non-nil processor")
	}
	if processor.config.Interval != time.Hour {
		t.Errorf("zero interval should fall back to default, got %v", processor.config.Interval)
	}
	if processor.recurring != nil || processor.export != nil {
		t.Error("stages should be nil when passed nil")
	}
}

func TestDefaultSyncProcessorConfig(t *testing.T) {
	config := DefaultSyncProcessorConfig()

	if config.Interval != time.Hour {
		t.Errorf("expected Interval 1h, got %v", config.Interval)
	}
	if len(config.Users) != 0 {
		t.Errorf("expected no users, got %v", config.Users)
	}
}

func TestSyncProcessor_IsRunning(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, DefaultSyncProcessorConfig())

	if processor.IsRunning() {
		t.Error("processor should not be running initially")
	}
}

func TestSyncProcessor_StartStop(t *testing.T) {
	config := DefaultSyncProcessorConfig()
	config.Interval = 10 * time.Millisecond
	processor := NewSyncProcessor(nil, nil, config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := processor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !processor.IsRunning() {
		t.Error("processor should be running after Start")
	}
	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should not be running after Stop")
	}
}

func TestSyncProcessor_StopNotRunning(t *testing.T) {
	processor := NewSyncProcessor(nil, nil, DefaultSyncProcessorConfig())

	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestSyncProcessor_RunOnce(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	rent := core.NewSingleSplitTx("alice", "Rent", 1200, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), []string{"Housing"})
	rent.Recurring = true
	if _, err := repo.SaveTx(ctx, rent); err != nil {
		t.Fatal(err)
	}

	recurring, err := NewRecurringProcessor(repo, Monthly)
	if err != nil {
		t.Fatal(err)
	}
	writer := memory.New()
	config := DefaultSyncProcessorConfig()
	config.Users = []string{"alice"}
	processor := NewSyncProcessor(recurring, NewExportService(NewTxService(repo), writer), config)
	processor.now = func() time.Time { return time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC) }

	processor.RunOnce(ctx)

	txs, _ := repo.ListTxByUser(ctx, "alice")
	if len(txs) != 2 {
		t.Fatalf("expected recurring occurrence to be created, got %d transactions", len(txs))
	}
	if rows := writer.Rows(2024); len(rows) != 2 {
		t.Errorf("expected 2 exported rows, got %d", len(rows))
	}

	processor.RunOnce(ctx)
	txs, _ = repo.ListTxByUser(ctx, "alice")
	if len(txs) != 2 {
		t.Errorf("second run in the same month should not create another occurrence, got %d", len(txs))
	}
}
