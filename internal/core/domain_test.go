package core

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyJSON(t *testing.T) {
	b, err := json.Marshal(DraftKey())
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = json.Marshal(PersistedKey("abc"))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(b))

	var k Key
	require.NoError(t, json.Unmarshal([]byte(`"tx-1"`), &k))
	id, ok := k.ID()
	assert.True(t, ok)
	assert.Equal(t, "tx-1", id)

	require.NoError(t, json.Unmarshal([]byte(`null`), &k))
	assert.False(t, k.IsPersisted())
	assert.False(t, PersistedKey("").IsPersisted())
}

func TestTxValidate(t *testing.T) {
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	good := NewSingleSplitTx("u1", "Coffee", 4.5, at, []string{"Food", "Coffee"})
	require.NoError(t, good.Validate())

	bads := []Tx{
		NewSingleSplitTx("", "Coffee", 1, at, nil),
		NewSingleSplitTx("u1", "  ", 1, at, nil),
		NewSingleSplitTx("u1", "Coffee", 1, time.Time{}, nil),
	}
	for i, tx := range bads {
		assert.Error(t, tx.Validate(), "case %d", i)
	}

	accented := NewSingleSplitTx("u1", strings.Repeat("é", maxNameLength), 1, at, nil)
	assert.NoError(t, accented.Validate(), "length counts characters, not bytes")
	accented.Name += "é"
	assert.ErrorIs(t, accented.Validate(), ErrNameTooLong)

	dup := good.Clone()
	dup.Splits = append(dup.Splits, Split{UserID: "u1"})
	assert.ErrorIs(t, dup.Validate(), ErrDuplicateSplit)
}

func TestSplitMismatch(t *testing.T) {
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	tx := NewSingleSplitTx("u1", "Dinner", 100, at, []string{"Food"})
	assert.Equal(t, 0.0, tx.SplitMismatch())

	tx.Splits[0].Cats[0].Amount = 90
	assert.Equal(t, -10.0, tx.SplitMismatch())
}

func TestCloneDoesNotAlias(t *testing.T) {
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	tx := NewSingleSplitTx("u1", "Dinner", 100, at, []string{"Food", "Dining"})
	c := tx.Clone()
	c.Splits[0].Cats[0].Amount = 1
	c.Splits[0].Cats[0].NamePath[0] = "Other"
	assert.Equal(t, 100.0, tx.Splits[0].Cats[0].Amount)
	assert.Equal(t, "Food", tx.Splits[0].Cats[0].NamePath[0])
}

func TestNewCatTrimsPath(t *testing.T) {
	c := NewCat([]string{" Food ", "", "Groceries"}, 12.345)
	assert.Equal(t, []string{"Food", "Groceries"}, c.NamePath)
	assert.Equal(t, "Groceries", c.Name)
	assert.Equal(t, 12.35, c.Amount)
}
