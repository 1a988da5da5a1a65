package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	applog "tally/internal/log"
	"tally/internal/session"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	}).Write(w)
}

// handleReady runs every registered dependency check
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	checks["sessions"] = map[string]any{"active": s.sessions.Len()}
	checks["rate_limiter"] = s.limiter.GetMetrics()
	checks["security"] = s.detector.GetMetrics()
	checks["requests"] = s.tracer.GetMetrics()

	NewJSONResponse().Status(httpStatus).Data(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// fail logs err when it is a server fault and writes the mapped response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorFrom(err)
	if resp.statusCode >= http.StatusInternalServerError {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, op, nil)
	} else {
		applog.FromContext(r.Context()).DebugContext(r.Context(), "Request rejected",
			applog.FieldOperation, op, applog.FieldError, err.Error())
	}
	resp.Write(w)
}

// sessionFrom resolves the session named by the request's token header.
func (s *Server) sessionFrom(r *http.Request) (*session.State, bool) {
	return s.sessions.Get(r.Header.Get(SessionHeader))
}

// requireSession writes 401 and returns false when the request carries no
// live session.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*session.State, bool) {
	st, ok := s.sessionFrom(r)
	if !ok {
		UnauthorizedError("missing or expired session").Write(w)
		return nil, false
	}
	return st, true
}

// invalidateSession drops the caller's cached views after a write.
func (s *Server) invalidateSession(r *http.Request) {
	if st, ok := s.sessionFrom(r); ok {
		st.InvalidateOrganized()
	}
}

type sessionView struct {
	Token     string         `json:"token"`
	UserID    string         `json:"userId"`
	Screen    session.Screen `json:"screen"`
	Edits     int            `json:"edits"`
	CreatedAt time.Time      `json:"createdAt"`
}

func viewOf(st *session.State) sessionView {
	return sessionView{
		Token:     st.Token,
		UserID:    st.UserID,
		Screen:    st.Screen(),
		Edits:     st.Edits(),
		CreatedAt: st.CreatedAt,
	}
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	userID := sanitizeText(req.UserID)
	if userID == "" {
		BadRequestError("userId is required").Write(w)
		return
	}

	st := s.sessions.Start(userID)
	NewJSONResponse().Status(http.StatusCreated).Data(viewOf(st)).Write(w)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.End(r.Header.Get(SessionHeader)) {
		NotFoundError("session not found").Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleSetScreen(w http.ResponseWriter, r *http.Request) {
	st, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Screen string `json:"screen"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}
	sc, err := session.ParseScreen(req.Screen)
	if err != nil {
		s.fail(w, r, applog.OpUpdate, err)
		return
	}
	st.SetScreen(sc)
	NewJSONResponse().Data(viewOf(st)).Write(w)
}
