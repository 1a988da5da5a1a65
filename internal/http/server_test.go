package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/amqp"
	"tally/internal/core"
	applog "tally/internal/log"
	"tally/internal/middleware/ratelimit"
	"tally/internal/services"
	"tally/internal/session"
	"tally/internal/sheets/memory"
	"tally/internal/storage"
)

const chaseCSV = "Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #\n" +
	"DEBIT,01/16/2024,STARBUCKS COFFEE,-5.67,DEBIT_CARD,994.33,,\n"

type testEnv struct {
	srv    *Server
	repo   *storage.MemoryRepository
	sheets *memory.Store
}

type fakePublisher struct {
	msgs []*amqp.FeedSyncMessage
	err  error
}

func (p *fakePublisher) PublishFeedSync(_ context.Context, msg *amqp.FeedSyncMessage) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	repo := storage.NewMemoryRepository()
	txs := services.NewTxService(repo)
	sheetStore := memory.New()
	opts := Options{
		Txs:       txs,
		Feed:      services.NewFeedService(repo, nil),
		Export:    services.NewExportService(txs, sheetStore),
		Sessions:  session.NewStore(10, time.Minute),
		Logger:    applog.New(applog.Config{Output: io.Discard}),
		RateLimit: ratelimit.Config{RequestsPerMinute: 6000, Burst: 1000},
		Checks: map[string]ReadyCheck{
			"storage": func(context.Context) error { return nil },
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv := NewServer(":0", opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, repo: repo, sheets: sheetStore}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "203.0.113.10:4000"
	if token != "" {
		req.Header.Set(SessionHeader, token)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type saveResponse struct {
	Tx      core.Tx `json:"transaction"`
	Warning string  `json:"warning"`
}

func splitOf(t *testing.T, tx core.Tx, userID string) float64 {
	t.Helper()
	i := tx.SplitFor(userID)
	require.GreaterOrEqual(t, i, 0, "no split for %s", userID)
	return core.SplitAmount(tx.Splits[i])
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rr)["status"])
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = env.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["storage"])
}

func TestReadyFailingCheck(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Checks["amqp"] = func(context.Context) error { return errors.New("connection refused") }
	})
	rr := env.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "failed: connection refused", body["checks"].(map[string]any)["amqp"])
}

func TestNotFoundRouteIsJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = env.do(t, http.MethodPatch, "/api/transactions", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/session", map[string]string{"userId": " <i>alice</i> "}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	view := decode[sessionView](t, rr)
	assert.Equal(t, "alice", view.UserID)
	assert.Equal(t, session.ScreenTransactions, view.Screen)
	require.NotEmpty(t, view.Token)

	rr = env.do(t, http.MethodPut, "/api/session/screen", map[string]string{"screen": "split-edit"}, view.Token)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, session.ScreenSplitEdit, decode[sessionView](t, rr).Screen)

	rr = env.do(t, http.MethodPut, "/api/session/screen", map[string]string{"screen": "dashboard"}, view.Token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/session/screen", map[string]string{"screen": "import"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/session", nil, view.Token)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodDelete, "/api/session", nil, view.Token)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/session", map[string]string{"userId": "<b></b>"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/transactions", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/transactions", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"userId": "alice", "name": "<script>x</script>", "amount": 5, "authorizedAt": "2024-03-05T19:00:00Z",
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, decode[errorBody](t, rr).Error, "empty transaction name")

	rr = env.do(t, http.MethodGet, "/api/transactions/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTransactionSplitFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	token := decode[sessionView](t, env.do(t, http.MethodPost, "/api/session", map[string]string{"userId": "alice"}, "")).Token

	rr := env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"userId":       "alice",
		"name":         "<b>Dinner</b> & drinks",
		"amount":       60,
		"authorizedAt": "2024-03-05T19:00:00Z",
	}, token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[saveResponse](t, rr)
	txID := created.Tx.ID()
	require.NotEmpty(t, txID)
	assert.Equal(t, "Dinner & drinks", created.Tx.Name)
	assert.Equal(t, 60.0, splitOf(t, created.Tx, "alice"))

	// Organized view is cached for the session owner.
	rr = env.do(t, http.MethodGet, "/api/users/alice/transactions/organized", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	org := decode[struct {
		Years core.Buckets `json:"years"`
		Count int          `json:"count"`
	}](t, rr)
	assert.Equal(t, 1, org.Count)
	assert.Equal(t, txID, org.Years[0][0][0][0].ID())

	rr = env.do(t, http.MethodPost, "/api/transactions/"+txID+"/share", map[string]any{"participants": []string{"bob", " "}}, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	shared := decode[saveResponse](t, rr)
	assert.Equal(t, 30.0, splitOf(t, shared.Tx, "alice"))
	assert.Equal(t, 30.0, splitOf(t, shared.Tx, "bob"))

	rr = env.do(t, http.MethodPost, "/api/transactions/"+txID+"/edit/rebalance", map[string]any{"userId": "alice", "amount": 45}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/transactions/"+txID+"/edit/rebalance", map[string]any{"userId": "alice"}, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/transactions/"+txID+"/edit/rebalance", map[string]any{"userId": "alice", "amount": 45}, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	edit := decode[session.EditSession](t, rr)
	assert.True(t, edit.Locked.Has("alice"))
	assert.Empty(t, edit.Warning)

	// Drafts are not persisted until saved.
	stored, err := env.repo.GetTx(context.Background(), txID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, splitOf(t, stored, "bob"))

	rr = env.do(t, http.MethodPost, "/api/transactions/"+txID+"/edit/save", nil, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	saved := decode[saveResponse](t, rr)
	assert.Equal(t, 45.0, splitOf(t, saved.Tx, "alice"))
	assert.Equal(t, 15.0, splitOf(t, saved.Tx, "bob"))
	assert.Empty(t, saved.Warning)

	rr = env.do(t, http.MethodPost, "/api/transactions/"+txID+"/edit/save", nil, token)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/users/bob/categories/tree", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	tree := decode[core.CategoryTree](t, rr)
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, core.UncategorizedName, tree.Nodes[tree.Roots[0]].Name)
	assert.Equal(t, 15.0, tree.Nodes[tree.Roots[0]].Spent)

	rr = env.do(t, http.MethodGet, "/api/transactions/"+txID+"/categories/merged", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	merged := decode[struct {
		Categories []core.MergedCat `json:"categories"`
	}](t, rr)
	require.Len(t, merged.Categories, 1)
	assert.Equal(t, 60.0, merged.Categories[0].Amount)

	rr = env.do(t, http.MethodGet, "/api/users/bob/transactions", nil, "")
	assert.Equal(t, float64(1), decode[map[string]any](t, rr)["count"])

	rr = env.do(t, http.MethodPost, "/api/transactions/"+txID+"/reset", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	reset := decode[saveResponse](t, rr)
	require.Len(t, reset.Tx.Splits, 1)
	assert.Equal(t, 60.0, splitOf(t, reset.Tx, "alice"))

	rr = env.do(t, http.MethodDelete, "/api/transactions/"+txID, nil, token)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/transactions/"+txID, nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestShareWithoutParticipants(t *testing.T) {
	env := newTestEnv(t, nil)
	created := decode[saveResponse](t, env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"userId": "alice", "name": "Taxi", "amount": 20, "authorizedAt": "2024-03-05T19:00:00Z",
	}, ""))

	rr := env.do(t, http.MethodPost, "/api/transactions/"+created.Tx.ID()+"/share", map[string]any{"participants": []string{}}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestRebalanceByPercent(t *testing.T) {
	env := newTestEnv(t, nil)
	token := decode[sessionView](t, env.do(t, http.MethodPost, "/api/session", map[string]string{"userId": "alice"}, "")).Token
	created := decode[saveResponse](t, env.do(t, http.MethodPost, "/api/transactions", map[string]any{
		"userId": "alice", "name": "Groceries", "amount": 100, "authorizedAt": "2024-03-05T19:00:00Z",
	}, token))
	txID := created.Tx.ID()
	env.do(t, http.MethodPost, "/api/transactions/"+txID+"/share", map[string]any{"participants": []string{"bob", "carol"}}, token)

	rr := env.do(t, http.MethodPost, "/api/transactions/"+txID+"/edit/rebalance", map[string]any{"userId": "bob", "percent": 50}, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	edit := decode[session.EditSession](t, rr)

	var total float64
	for _, sp := range edit.Splits {
		total += core.SplitAmount(sp)
		if sp.UserID == "bob" {
			assert.Equal(t, 50.0, core.SplitAmount(sp))
		}
	}
	assert.InDelta(t, 100.0, total, 0.001)
}

func TestScopeLookup(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, at := range []string{"2024-03-05T19:00:00Z", "2023-12-24T10:00:00Z"} {
		rr := env.do(t, http.MethodPost, "/api/transactions", map[string]any{
			"userId": "alice", "name": "Tx", "amount": 1, "authorizedAt": at,
		}, "")
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	tests := []struct {
		query string
		code  int
		index core.ScopeIndex
		found bool
	}{
		{"date=2024-03-05", http.StatusOK, core.ScopeIndex{0, 0, 0}, true},
		{"date=2023-12-24&granularity=month", http.StatusOK, core.ScopeIndex{1, 0, -1}, true},
		{"date=2023-11-01&granularity=year", http.StatusOK, core.ScopeIndex{1, -1, -1}, true},
		{"date=2022-01-01", http.StatusOK, core.NotFound, false},
		{"date=2024-03-06&granularity=day", http.StatusOK, core.ScopeIndex{0, 0, -1}, false},
		{"granularity=year", http.StatusBadRequest, core.NotFound, false},
		{"date=05/03/2024", http.StatusBadRequest, core.NotFound, false},
		{"date=2024-03-05&granularity=week", http.StatusBadRequest, core.NotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/api/users/alice/transactions/scope?"+tt.query, nil, "")
			require.Equal(t, tt.code, rr.Code, rr.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			got := decode[struct {
				Index core.ScopeIndex `json:"index"`
				Found bool            `json:"found"`
			}](t, rr)
			assert.Equal(t, tt.index, got.Index)
			assert.Equal(t, tt.found, got.Found)
		})
	}
}

func TestImportChaseAndExport(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/users/alice/import/chase", chaseCSV, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[services.ImportResult](t, rr)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, -5.67, res.Total)

	tx, err := env.repo.GetTx(context.Background(), res.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, "STARBUCKS COFFEE", tx.Name)
	assert.Equal(t, -5.67, tx.Amount)
	assert.Equal(t, time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), tx.AuthorizedAt)

	rr = env.do(t, http.MethodPost, "/api/users/alice/import/chase", "Description\nX\n", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/users/alice/export", nil, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	exp := decode[services.ExportResult](t, rr)
	assert.Equal(t, []int{2024}, exp.Years)
	assert.Equal(t, 1, exp.Rows)
	require.Len(t, env.sheets.Rows(2024), 1)
	assert.Equal(t, "STARBUCKS COFFEE", env.sheets.Rows(2024)[0].Name)
}

func TestImportChaseMultipart(t *testing.T) {
	env := newTestEnv(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "chase.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(chaseCSV))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/users/alice/import/chase", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, 1, decode[services.ImportResult](t, rr).Imported)

	req = httptest.NewRequest(http.MethodPost, "/api/users/alice/import/chase", strings.NewReader("--x--"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rr = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportNotConfigured(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Export = nil })
	rr := env.do(t, http.MethodPost, "/api/users/alice/export", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAggregatorSyncInline(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := map[string]any{
		"userId": "alice",
		"added": []map[string]any{{
			"transactionId":  "p1",
			"name":           "<em>Uber</em>",
			"amount":         12.5,
			"category":       []string{"Travel", "<b>Taxi</b>"},
			"authorizedDate": "2024-03-04",
		}},
	}
	rr := env.do(t, http.MethodPost, "/api/aggregator/sync", payload, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[struct {
		Queued bool                 `json:"queued"`
		Result services.FeedResult `json:"result"`
	}](t, rr)
	assert.False(t, body.Queued)
	assert.Equal(t, 1, body.Result.Added)

	tx, err := env.repo.GetByExternalID(context.Background(), "alice", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Uber", tx.Name)
	assert.Equal(t, []string{"Travel", "Taxi"}, tx.Splits[0].Cats[0].NamePath)

	rr = env.do(t, http.MethodPost, "/api/aggregator/sync", map[string]any{"added": []any{}}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAggregatorSyncQueued(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, func(o *Options) {
		o.Feed = services.NewFeedService(storage.NewMemoryRepository(), pub)
	})

	rr := env.do(t, http.MethodPost, "/api/aggregator/sync", map[string]any{"userId": "alice", "removed": []string{"p9"}}, "")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, []string{"p9"}, pub.msgs[0].Removed)
	assert.False(t, pub.msgs[0].Timestamp.IsZero())
}

func TestRateLimitedMutations(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.RateLimit = ratelimit.Config{RequestsPerMinute: 1, Burst: 1}
	})

	rr := env.do(t, http.MethodPost, "/api/session", map[string]string{"userId": "alice"}, "")
	assert.Equal(t, http.StatusCreated, rr.Code)
	rr = env.do(t, http.MethodPost, "/api/session", map[string]string{"userId": "alice"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Contains(t, decode[errorBody](t, rr).Error, "rate limit")

	rr = env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
