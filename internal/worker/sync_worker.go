package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/services"
)

// FeedApplier applies one aggregator change set.
type FeedApplier interface {
	Apply(ctx context.Context, msg *amqp.FeedSyncMessage) (services.FeedResult, error)
}

// Exporter refreshes a user's spreadsheet.
type Exporter interface {
	Export(ctx context.Context, userID string) (services.ExportResult, error)
}

// Consumer delivers feed sync messages until ctx is done.
type Consumer interface {
	ConsumeFeedSync(ctx context.Context, handler func(context.Context, *amqp.FeedSyncMessage) error) error
}

// SyncWorker applies queued feed changes and re-exports the affected user.
type SyncWorker struct {
	feed   FeedApplier
	export Exporter

	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewSyncWorker creates a worker. export may be nil.
func NewSyncWorker(feed FeedApplier, export Exporter) *SyncWorker {
	return &SyncWorker{feed: feed, export: export}
}

// HandleFeedSync processes a single feed sync message from AMQP. A returned
// error makes the consumer requeue the message, so messages that can never
// succeed are logged and acknowledged instead.
func (w *SyncWorker) HandleFeedSync(ctx context.Context, msg *amqp.FeedSyncMessage) error {
	if msg.Empty() {
		slog.DebugContext(ctx, "Skipping empty feed sync message", "user_id", msg.UserID)
		w.dropped.Add(1)
		return nil
	}

	res, err := w.feed.Apply(ctx, msg)
	if errors.Is(err, core.ErrEmptyUser) {
		slog.WarnContext(ctx, "Dropping feed sync message without user", "timestamp", msg.Timestamp)
		w.dropped.Add(1)
		return nil
	}
	if err != nil {
		w.failed.Add(1)
		return fmt.Errorf("apply feed sync: %w", err)
	}
	w.processed.Add(1)

	if w.export == nil || res.Added+res.Updated+res.Removed == 0 {
		return nil
	}
	// The feed is already stored; a failed export is retried by the next
	// periodic run rather than by redelivering the message.
	exp, err := w.export.Export(ctx, msg.UserID)
	if err != nil {
		slog.ErrorContext(ctx, "Export after feed sync failed", "user_id", msg.UserID, "error", err)
		return nil
	}
	slog.InfoContext(ctx, "Exported after feed sync",
		"user_id", msg.UserID,
		"rows", exp.Rows,
		"years", len(exp.Years))
	return nil
}

// Run consumes until ctx is cancelled. Cancellation is not an error.
func (w *SyncWorker) Run(ctx context.Context, consumer Consumer) error {
	err := consumer.ConsumeFeedSync(ctx, w.HandleFeedSync)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stats reports processed, dropped and failed message counts.
func (w *SyncWorker) Stats() (processed, dropped, failed int64) {
	return w.processed.Load(), w.dropped.Load(), w.failed.Load()
}
