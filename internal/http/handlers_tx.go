package http

import (
	"net/http"

	"tally/internal/core"
	applog "tally/internal/log"
	"tally/internal/services"
	"tally/internal/session"
)

func (s *Server) logSaved(r *http.Request, op string, res services.SaveResult) {
	applog.NewStructuredLogger(applog.FromContext(r.Context()).WithComponent(applog.ComponentTx)).
		LogTxSaved(r.Context(), op, res.Tx.ID(), res.Tx.Name, res.Tx.Amount, len(res.Tx.Splits), res.Warning)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx core.Tx
	if err := decodeJSON(w, r, &tx); err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	sanitizeTx(&tx)

	res, err := s.txs.Create(r.Context(), tx)
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	s.logSaved(r, applog.OpCreate, res)
	s.invalidateSession(r)
	NewJSONResponse().Status(http.StatusCreated).Data(res).Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := pathParam(r, "txID")
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	tx, err := s.txs.Get(r.Context(), txID)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Data(tx).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := pathParam(r, "txID")
	if err != nil {
		s.fail(w, r, applog.OpDelete, err)
		return
	}
	if err := s.txs.Delete(r.Context(), txID); err != nil {
		s.fail(w, r, applog.OpDelete, err)
		return
	}
	if st, ok := s.sessionFrom(r); ok {
		st.EndEdit(txID)
		st.InvalidateOrganized()
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleResetTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := pathParam(r, "txID")
	if err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}
	res, err := s.txs.Reset(r.Context(), txID)
	if err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}
	s.logSaved(r, applog.OpUpdate, res)
	if st, ok := s.sessionFrom(r); ok {
		st.EndEdit(txID)
		st.InvalidateOrganized()
	}
	NewJSONResponse().Data(res).Write(w)
}

func (s *Server) handleMergedCategories(w http.ResponseWriter, r *http.Request) {
	txID, err := pathParam(r, "txID")
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	merged, err := s.txs.MergedCategories(r.Context(), txID)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Data(map[string]any{"categories": merged}).Write(w)
}

func (s *Server) handleShareTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := pathParam(r, "txID")
	if err != nil {
		s.fail(w, r, applog.OpShare, err)
		return
	}
	var req struct {
		Participants []string `json:"participants"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, applog.OpShare, err)
		return
	}

	res, err := s.txs.Share(r.Context(), txID, sanitizePath(req.Participants))
	if err != nil {
		s.fail(w, r, applog.OpShare, err)
		return
	}
	s.logSaved(r, applog.OpShare, res)
	if st, ok := s.sessionFrom(r); ok {
		st.EndEdit(txID)
		st.InvalidateOrganized()
	}
	NewJSONResponse().Data(res).Write(w)
}

type rebalanceRequest struct {
	UserID  string   `json:"userId"`
	Amount  *float64 `json:"amount,omitempty"`
	Percent *float64 `json:"percent,omitempty"`
}

// handleRebalance applies one share change to the session's draft of the
// transaction. Nothing is persisted until edit/save.
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	st, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	txID, err := pathParam(r, "txID")
	if err != nil {
		s.fail(w, r, applog.OpRebalance, err)
		return
	}
	var req rebalanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, applog.OpRebalance, err)
		return
	}
	userID := sanitizeText(req.UserID)
	if userID == "" {
		BadRequestError("userId is required").Write(w)
		return
	}
	if (req.Amount == nil) == (req.Percent == nil) {
		BadRequestError("exactly one of amount or percent is required").Write(w)
		return
	}

	tx, err := s.txs.Get(r.Context(), txID)
	if err != nil {
		s.fail(w, r, applog.OpRebalance, err)
		return
	}

	var edit session.EditSession
	if req.Amount != nil {
		edit = st.Rebalance(tx, userID, *req.Amount)
	} else {
		edit = st.RebalanceByPercent(tx, userID, *req.Percent)
	}
	if edit.Warning != "" {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Rebalance left a mismatch",
			applog.FieldTxID, txID, applog.FieldUserID, userID, applog.FieldWarning, edit.Warning)
	}
	NewJSONResponse().Data(edit).Write(w)
}

// handleSaveEdit persists the session's draft splits and closes the edit.
func (s *Server) handleSaveEdit(w http.ResponseWriter, r *http.Request) {
	st, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	txID, err := pathParam(r, "txID")
	if err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}
	edit, ok := st.Draft(txID)
	if !ok {
		ErrorResponse(http.StatusConflict, "no edit in progress for this transaction").Write(w)
		return
	}

	res, err := s.txs.SaveSplits(r.Context(), txID, edit.Splits)
	if err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}
	st.EndEdit(txID)
	st.InvalidateOrganized()
	s.logSaved(r, applog.OpRebalance, res)
	NewJSONResponse().Data(res).Write(w)
}
