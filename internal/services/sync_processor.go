package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// Interval between runs (default: 1h)
	Interval time.Duration

	// Users whose transactions are processed each run
	Users []string
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		Interval: time.Hour,
	}
}

// SyncProcessor periodically posts due recurring transactions and exports
// every configured user's transactions to the spreadsheet.
type SyncProcessor struct {
	recurring *RecurringProcessor
	export    *ExportService
	config    SyncProcessorConfig
	now       func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor. Either stage may be nil.
func NewSyncProcessor(recurring *RecurringProcessor, export *ExportService, config SyncProcessorConfig) *SyncProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultSyncProcessorConfig().Interval
	}
	return &SyncProcessor{
		recurring: recurring,
		export:    export,
		config:    config,
		now:       time.Now,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"interval", p.config.Interval,
		"users", len(p.config.Users))

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Process immediately on startup
	p.RunOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce processes every configured user a single time. Failures are
// logged per user and do not stop the run.
func (p *SyncProcessor) RunOnce(ctx context.Context) {
	now := p.now()
	for _, userID := range p.config.Users {
		if ctx.Err() != nil {
			return
		}
		if p.recurring != nil {
			if _, err := p.recurring.ProcessDue(ctx, userID, now); err != nil {
				slog.ErrorContext(ctx, "Recurring processing failed", "user_id", userID, "error", err)
			}
		}
		if p.export != nil {
			if _, err := p.export.Export(ctx, userID); err != nil {
				slog.ErrorContext(ctx, "Export failed", "user_id", userID, "error", err)
			}
		}
	}
}
