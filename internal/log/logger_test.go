package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Format: "json", Component: ComponentTx, Output: &buf})
	l.Info("hello", FieldTxID, "t1")
	l.WithComponent(ComponentSession).Debug("bye")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "transaction", lines[0][FieldComponent])
	assert.Equal(t, "t1", lines[0][FieldTxID])
	assert.Equal(t, "session", lines[1][FieldComponent])
}

func TestFromContext(t *testing.T) {
	assert.Equal(t, ComponentApp, FromContext(context.Background()).Component())

	l := New(Config{Component: ComponentHTTP, Output: &bytes.Buffer{}})
	ctx := NewContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Format: "json", Component: ComponentHTTP, Output: &buf}))
	ctx := context.Background()

	r := httptest.NewRequest("GET", "/api/transactions/t1?x=1", nil)
	sl.LogHTTPEnd(ctx, r, 404, 12, "10.0.0.1")
	sl.LogTxSaved(ctx, OpShare, "t1", "Dinner", 60, 2, "")
	sl.LogError(ctx, "boom", errors.New("disk full"), OpCreate, NewFields().WithUser("alice"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)

	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, float64(404), lines[0][FieldStatusCode])
	assert.Equal(t, false, lines[0][FieldSuccess])
	assert.Equal(t, "x=1", lines[0][FieldQuery])

	assert.Equal(t, "share", lines[1][FieldOperation])
	assert.Equal(t, float64(2), lines[1][FieldSplitCount])
	assert.NotContains(t, lines[1], FieldWarning)

	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.Equal(t, "disk full", lines[2][FieldError])
	assert.Equal(t, "alice", lines[2][FieldUserID])
}
