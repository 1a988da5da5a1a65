package http

import (
	"net/http"

	"tally/internal/amqp"
	"tally/internal/core"
	applog "tally/internal/log"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathParam(r, "userID")
	if err != nil {
		s.fail(w, r, applog.OpList, err)
		return
	}
	txs, err := s.txs.List(r.Context(), userID)
	if err != nil {
		s.fail(w, r, applog.OpList, err)
		return
	}
	NewJSONResponse().Data(map[string]any{
		"transactions": txs,
		"count":        len(txs),
	}).Write(w)
}

// handleOrganized serves the year/month/day buckets. A session owned by the
// same user caches them until the next write or ?refresh=1.
func (s *Server) handleOrganized(w http.ResponseWriter, r *http.Request) {
	userID, err := pathParam(r, "userID")
	if err != nil {
		s.fail(w, r, applog.OpList, err)
		return
	}
	load := func() (core.Buckets, error) {
		return s.txs.Organize(r.Context(), userID)
	}

	var b core.Buckets
	if st, ok := s.sessionFrom(r); ok && st.UserID == userID {
		if r.URL.Query().Get("refresh") != "" {
			st.InvalidateOrganized()
		}
		b, err = st.Organized(load)
	} else {
		b, err = load()
	}
	if err != nil {
		s.fail(w, r, applog.OpList, err)
		return
	}
	NewJSONResponse().Data(map[string]any{
		"years": b,
		"count": b.Len(),
	}).Write(w)
}

func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	userID, err := pathParam(r, "userID")
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	params, err := ParseScopeParams(r.URL.Query())
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	idx, err := s.txs.Locate(r.Context(), userID, params.Date, params.Granularity)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}

	level := 2
	switch params.Granularity {
	case core.GranularityYear:
		level = 0
	case core.GranularityMonth:
		level = 1
	}
	NewJSONResponse().Data(map[string]any{
		"index":       idx,
		"granularity": params.Granularity,
		"found":       idx[level] >= 0,
	}).Write(w)
}

func (s *Server) handleCategoryTree(w http.ResponseWriter, r *http.Request) {
	userID, err := pathParam(r, "userID")
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	tree, err := s.txs.CategoryTree(r.Context(), userID)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Data(tree).Write(w)
}

func (s *Server) handleImportChase(w http.ResponseWriter, r *http.Request) {
	userID, err := pathParam(r, "userID")
	if err != nil {
		s.fail(w, r, applog.OpImport, err)
		return
	}
	body, err := uploadReader(w, r)
	if err != nil {
		s.fail(w, r, applog.OpImport, err)
		return
	}
	defer body.Close()

	res, err := s.txs.ImportChase(r.Context(), userID, body)
	if err != nil {
		s.fail(w, r, applog.OpImport, err)
		return
	}
	s.invalidateSession(r)
	applog.FromContext(r.Context()).WithComponent(applog.ComponentImport).InfoContext(r.Context(), "Chase CSV imported",
		applog.FieldUserID, userID, "count", res.Imported)
	NewJSONResponse().Status(http.StatusCreated).Data(res).Write(w)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.export == nil {
		ServiceUnavailableError("spreadsheet export is not configured").Write(w)
		return
	}
	userID, err := pathParam(r, "userID")
	if err != nil {
		s.fail(w, r, applog.OpExport, err)
		return
	}
	res, err := s.export.Export(r.Context(), userID)
	if err != nil {
		s.fail(w, r, applog.OpExport, err)
		return
	}
	NewJSONResponse().Data(res).Write(w)
}

// handleAggregatorSync accepts a feed change set. It answers 202 when the
// set was queued for the worker and 200 with counts when applied inline.
func (s *Server) handleAggregatorSync(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		ServiceUnavailableError("aggregator sync is not configured").Write(w)
		return
	}
	var msg amqp.FeedSyncMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		s.fail(w, r, applog.OpSync, err)
		return
	}
	sanitizeFeed(&msg)
	if msg.UserID == "" {
		BadRequestError("userId is required").Write(w)
		return
	}
	stamped := amqp.NewFeedSyncMessage(msg.UserID, msg.Added, msg.Modified, msg.Removed)

	res, queued, err := s.feed.Submit(r.Context(), stamped)
	if err != nil {
		s.fail(w, r, applog.OpSync, err)
		return
	}
	if queued {
		NewJSONResponse().Status(http.StatusAccepted).Data(map[string]any{"queued": true}).Write(w)
		return
	}
	s.invalidateSession(r)
	NewJSONResponse().Data(map[string]any{"queued": false, "result": res}).Write(w)
}
