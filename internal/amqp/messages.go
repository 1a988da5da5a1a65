package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"tally/internal/importer"
)

// FeedSyncMessage carries one batch of changes reported by the
// account-aggregation feed for a single user.
type FeedSyncMessage struct {
	UserID    string            `json:"userId"`
	Added     []importer.FeedTx `json:"added"`
	Modified  []importer.FeedTx `json:"modified"`
	Removed   []string          `json:"removed"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewFeedSyncMessage creates a sync message stamped with the current time
func NewFeedSyncMessage(userID string, added, modified []importer.FeedTx, removed []string) *FeedSyncMessage {
	return &FeedSyncMessage{
		UserID:    userID,
		Added:     added,
		Modified:  modified,
		Removed:   removed,
		Timestamp: time.Now(),
	}
}

// Empty reports whether the message carries no changes.
func (m *FeedSyncMessage) Empty() bool {
	return len(m.Added) == 0 && len(m.Modified) == 0 && len(m.Removed) == 0
}

// ToJSON converts the message to JSON bytes
func (m *FeedSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FeedSyncMessageFromJSON creates a message from JSON bytes
func FeedSyncMessageFromJSON(data []byte) (*FeedSyncMessage, error) {
	var msg FeedSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, errors.New("feed sync message without user id")
	}
	return &msg, nil
}
