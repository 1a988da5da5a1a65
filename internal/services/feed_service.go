package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/importer"
	"tally/internal/storage"
)

// FeedPublisher hands feed changes to the background worker.
type FeedPublisher interface {
	PublishFeedSync(ctx context.Context, msg *amqp.FeedSyncMessage) error
}

// FeedService applies account-aggregation feed changes to stored
// transactions.
type FeedService struct {
	repo      storage.Repository
	publisher FeedPublisher
}

// NewFeedService creates the service. publisher may be nil, in which case
// Submit applies changes inline.
func NewFeedService(repo storage.Repository, publisher FeedPublisher) *FeedService {
	return &FeedService{repo: repo, publisher: publisher}
}

// FeedResult counts what Apply did.
type FeedResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// Submit queues msg for the worker when a publisher is configured and
// otherwise applies it directly. queued reports which path was taken.
func (s *FeedService) Submit(ctx context.Context, msg *amqp.FeedSyncMessage) (res FeedResult, queued bool, err error) {
	if s.publisher != nil {
		perr := s.publisher.PublishFeedSync(ctx, msg)
		if perr == nil {
			return FeedResult{}, true, nil
		}
		slog.WarnContext(ctx, "Feed sync publish failed, applying inline", "user_id", msg.UserID, "error", perr)
	}
	res, err = s.Apply(ctx, msg)
	return res, false, err
}

// Apply upserts added and modified feed transactions by external id and
// deletes removed ones. An update keeps existing splits when the amount is
// unchanged; otherwise the transaction goes back to a single owner split.
func (s *FeedService) Apply(ctx context.Context, msg *amqp.FeedSyncMessage) (FeedResult, error) {
	var res FeedResult
	if msg == nil || msg.UserID == "" {
		return res, core.ErrEmptyUser
	}

	upserts := make([]importer.FeedTx, 0, len(msg.Added)+len(msg.Modified))
	upserts = append(upserts, msg.Added...)
	upserts = append(upserts, msg.Modified...)
	for _, f := range upserts {
		incoming, err := importer.FromFeed(msg.UserID, f)
		if err != nil {
			slog.WarnContext(ctx, "Skipping invalid feed transaction", "user_id", msg.UserID, "error", err)
			res.Skipped++
			continue
		}

		existing, err := s.repo.GetByExternalID(ctx, msg.UserID, incoming.ExternalID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if _, err := s.repo.SaveTx(ctx, incoming); err != nil {
				return res, fmt.Errorf("save feed transaction %s: %w", incoming.ExternalID, err)
			}
			res.Added++
		case err != nil:
			return res, fmt.Errorf("lookup feed transaction %s: %w", incoming.ExternalID, err)
		default:
			if _, err := s.repo.SaveTx(ctx, mergeFeedUpdate(existing, incoming)); err != nil {
				return res, fmt.Errorf("update feed transaction %s: %w", incoming.ExternalID, err)
			}
			res.Updated++
		}
	}

	for _, id := range msg.Removed {
		err := s.repo.DeleteByExternalID(ctx, msg.UserID, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			res.Skipped++
		case err != nil:
			return res, fmt.Errorf("delete feed transaction %s: %w", id, err)
		default:
			res.Removed++
		}
	}

	slog.InfoContext(ctx, "Feed sync applied",
		"user_id", msg.UserID,
		"added", res.Added,
		"updated", res.Updated,
		"removed", res.Removed,
		"skipped", res.Skipped)
	return res, nil
}

func mergeFeedUpdate(existing, incoming core.Tx) core.Tx {
	out := existing.Clone()
	out.Name = incoming.Name
	out.AuthorizedAt = incoming.AuthorizedAt
	if core.ToCents(existing.Amount) == core.ToCents(incoming.Amount) {
		return out
	}
	out.Amount = incoming.Amount
	out.Splits = incoming.Splits
	if i := existing.SplitFor(existing.UserID); i >= 0 {
		out.Splits[0].Key = existing.Splits[i].Key
	}
	return out
}
