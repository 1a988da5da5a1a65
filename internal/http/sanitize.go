package http

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/importer"
)

// strictPolicy removes every HTML tag.
var strictPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup from user-entered text. Entities are decoded
// first so encoded tags are stripped too, and decoded again afterwards since
// values are stored and served as plain text.
func sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(html.UnescapeString(s))))
}

func sanitizePath(path []string) []string {
	if path == nil {
		return nil
	}
	out := make([]string, 0, len(path))
	for _, seg := range path {
		out = append(out, sanitizeText(seg))
	}
	return out
}

func sanitizeSplits(splits []core.Split) {
	for i := range splits {
		splits[i].UserID = sanitizeText(splits[i].UserID)
		for j := range splits[i].Cats {
			c := &splits[i].Cats[j]
			c.Name = sanitizeText(c.Name)
			c.NamePath = sanitizePath(c.NamePath)
		}
	}
}

func sanitizeTx(tx *core.Tx) {
	tx.UserID = sanitizeText(tx.UserID)
	tx.Name = sanitizeText(tx.Name)
	tx.ExternalID = sanitizeText(tx.ExternalID)
	sanitizeSplits(tx.Splits)
}

func sanitizeFeed(msg *amqp.FeedSyncMessage) {
	msg.UserID = sanitizeText(msg.UserID)
	for _, items := range [][]importer.FeedTx{msg.Added, msg.Modified} {
		for i := range items {
			items[i].Name = sanitizeText(items[i].Name)
			items[i].Category = sanitizePath(items[i].Category)
		}
	}
	for i := range msg.Removed {
		msg.Removed[i] = sanitizeText(msg.Removed[i])
	}
}
