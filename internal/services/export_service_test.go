package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/core"
	"tally/internal/sheets"
	"tally/internal/sheets/memory"
)

type failingWriter struct{}

func (failingWriter) ReplaceRows(context.Context, int, []sheets.Row) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestExportService(t *testing.T) {
	txs, _ := newTxService(t)
	ctx := context.Background()
	mustCreate(t, txs, core.NewSingleSplitTx("alice", "Old", 5, day(2023, 12, 31), []string{"Food"}))
	mustCreate(t, txs, core.NewSingleSplitTx("alice", "New", 7, day(2024, 1, 2), []string{"Food"}))

	writer := memory.New()
	res, err := NewExportService(txs, writer).Export(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []int{2024, 2023}, res.Years)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, []string{"mem:2024:1", "mem:2023:1"}, res.Refs)
	assert.Equal(t, "New", writer.Rows(2024)[0].Name)

	_, err = NewExportService(txs, failingWriter{}).Export(ctx, "alice")
	assert.ErrorContains(t, err, "export year 2024")
}

func TestExportServiceNoTransactions(t *testing.T) {
	txs, _ := newTxService(t)
	writer := memory.New()
	res, err := NewExportService(txs, writer).Export(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, res.Years)
	assert.Equal(t, 0, writer.Writes())
}
