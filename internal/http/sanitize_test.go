package http

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/importer"
)

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Groceries", "Groceries"},
		{"  padded  ", "padded"},
		{"<b>Dinner</b>", "Dinner"},
		{"<script>alert(1)</script>", ""},
		{"&lt;i&gt;Rent&lt;/i&gt;", "Rent"},
		{"Tom & Jerry", "Tom & Jerry"},
		{"Café <img src=x onerror=alert(1)>", "Café"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeText(tt.in))
		})
	}
}

func TestSanitizeTx(t *testing.T) {
	tx := core.Tx{
		UserID: " alice ",
		Name:   "<em>Lunch</em>",
		Splits: []core.Split{{
			UserID: "<b>bob</b>",
			Cats:   []core.Cat{{Name: "<u>Food</u>", NamePath: []string{"Food", "<i>Lunch</i>"}}},
		}},
	}
	sanitizeTx(&tx)

	assert.Equal(t, "alice", tx.UserID)
	assert.Equal(t, "Lunch", tx.Name)
	assert.Equal(t, "bob", tx.Splits[0].UserID)
	assert.Equal(t, "Food", tx.Splits[0].Cats[0].Name)
	assert.Equal(t, []string{"Food", "Lunch"}, tx.Splits[0].Cats[0].NamePath)
	assert.Nil(t, sanitizePath(nil))
}

func TestSanitizeFeed(t *testing.T) {
	msg := &amqp.FeedSyncMessage{
		UserID:   "<b>alice</b>",
		Added:    []importer.FeedTx{{Name: "<i>Uber</i>", Category: []string{"<b>Travel</b>"}}},
		Modified: []importer.FeedTx{{Name: "Lyft &amp; co"}},
		Removed:  []string{" <p>x1</p> "},
	}
	sanitizeFeed(msg)

	assert.Equal(t, "alice", msg.UserID)
	assert.Equal(t, "Uber", msg.Added[0].Name)
	assert.Equal(t, []string{"Travel"}, msg.Added[0].Category)
	assert.Equal(t, "Lyft & co", msg.Modified[0].Name)
	assert.Equal(t, []string{"x1"}, msg.Removed)
}
