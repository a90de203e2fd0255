package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sanonone/cigraph/pkg/client"
	"github.com/sanonone/cigraph/pkg/cmdb"
	"github.com/sanonone/cigraph/pkg/explorer"
	"github.com/sanonone/cigraph/pkg/graph"
	"github.com/sanonone/cigraph/pkg/profile"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	// --- Sessions ---
	mux.HandleFunc("POST /explorer/sessions", s.handleOpenSession)
	mux.HandleFunc("GET /explorer/sessions", s.handleListSessions)
	mux.HandleFunc("GET /explorer/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /explorer/sessions/{id}", s.handleDeleteSession)

	// --- Graph actions ---
	mux.HandleFunc("POST /explorer/sessions/{id}/expand", s.instanceAction(func(r *http.Request, sess *explorer.Session, uid string) (*explorer.View, error) {
		return sess.Expand(r.Context(), uid)
	}))
	mux.HandleFunc("POST /explorer/sessions/{id}/collapse", s.instanceAction(func(_ *http.Request, sess *explorer.Session, uid string) (*explorer.View, error) {
		return sess.Collapse(uid)
	}))
	mux.HandleFunc("POST /explorer/sessions/{id}/toggle", s.instanceAction(func(r *http.Request, sess *explorer.Session, uid string) (*explorer.View, error) {
		return sess.Toggle(r.Context(), uid)
	}))
	mux.HandleFunc("POST /explorer/sessions/{id}/select", s.instanceAction(func(_ *http.Request, sess *explorer.Session, uid string) (*explorer.View, error) {
		return sess.Select(uid)
	}))
	mux.HandleFunc("POST /explorer/sessions/{id}/filter", s.handleFilter)
	mux.HandleFunc("POST /explorer/sessions/{id}/viewport", s.handleViewport)
	mux.HandleFunc("POST /explorer/sessions/{id}/profile/{profile_id}", s.handleApplyProfile)
	mux.HandleFunc("GET /explorer/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /explorer/sessions/{id}/export.dot", s.handleExportDOT)

	// --- Filter profiles ---
	mux.HandleFunc("GET /profiles", s.handleListProfiles)
	mux.HandleFunc("POST /profiles", s.handleCreateProfile)
	mux.HandleFunc("GET /profiles/{id}", s.handleGetProfile)
	mux.HandleFunc("PUT /profiles/{id}", s.handleUpdateProfile)
	mux.HandleFunc("DELETE /profiles/{id}", s.handleDeleteProfile)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*explorer.Session, bool) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	sess := s.manager.Create()
	if _, err := sess.SetQueryFilters(r.Context(), graph.QueryFilters{TypeIDs: req.TypeIDs, RelationIDs: req.RelationIDs}); err != nil {
		s.manager.Delete(sess.ID())
		s.writeError(w, err)
		return
	}
	view, err := sess.Open(r.Context(), req.RootID)
	if err != nil {
		s.manager.Delete(sess.ID())
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, view)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	ids := s.manager.IDs()
	out := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, SessionSummary{ID: id})
	}
	s.writeHTTPResponse(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, sess.View(time.Now()))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// instanceAction adapts a session operation on one uid into a handler.
func (s *Server) instanceAction(fn func(*http.Request, *explorer.Session, string) (*explorer.View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w, r)
		if !ok {
			return
		}
		var req InstanceRequest
		if !s.decode(w, r, &req) {
			return
		}
		view, err := fn(r, sess, req.UID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeHTTPResponse(w, http.StatusOK, view)
	}
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req FilterRequest
	if !s.decode(w, r, &req) {
		return
	}

	// 1. Backend filters first: a reload resets the selection.
	criteria := req.criteria()
	if q, changed := req.query(sess.Query()); changed {
		if _, err := sess.SetQueryFilters(r.Context(), q); err != nil {
			s.writeError(w, err)
			return
		}
		// The reload minted new uids; the selected one no longer exists.
		criteria.SelectedUID = ""
		criteria.ConnectedOnly = false
	}

	// 2. Client-side criteria.
	view, err := sess.SetCriteria(criteria)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, view)
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req explorer.ViewportAction
	if !s.decode(w, r, &req) {
		return
	}
	view, err := sess.Viewport(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, view)
}

func (s *Server) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := s.pathInt(w, r, "profile_id")
	if !ok {
		return
	}
	p, err := s.profiles.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := sess.ApplyProfile(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var out []graph.TrackedEdge
	if uid := r.URL.Query().Get("uid"); uid != "" {
		out = sess.Lookup(uid)
	} else {
		out = sess.History()
	}
	if out == nil {
		out = []graph.TrackedEdge{}
	}
	s.writeHTTPResponse(w, http.StatusOK, out)
}

func (s *Server) handleExportDOT(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	out, err := sess.ExportDOT()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.profiles.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []cmdb.FilterProfile{}
	}
	s.writeHTTPResponse(w, http.StatusOK, list)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt(w, r, "id")
	if !ok {
		return
	}
	p, err := s.profiles.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, p)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var p cmdb.FilterProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := s.profiles.Create(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt(w, r, "id")
	if !ok {
		return
	}
	var p cmdb.FilterProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.profiles.Update(r.Context(), id, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt(w, r, "id")
	if !ok {
		return
	}
	if err := s.profiles.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil || v <= 0 {
		s.writeHTTPError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return v, true
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		perr *profile.Error
		aerr *client.APIError
	)
	switch {
	case errors.As(err, &perr):
		switch {
		case errors.Is(err, profile.ErrInvalidProfile):
			s.writeHTTPError(w, http.StatusBadRequest, perr.Notification())
		case errors.Is(err, profile.ErrNotFound):
			s.writeHTTPError(w, http.StatusNotFound, perr.Notification())
		default:
			s.writeHTTPError(w, http.StatusBadGateway, perr.Notification())
		}
	case errors.Is(err, profile.ErrNotFound),
		errors.Is(err, explorer.ErrSessionNotFound),
		errors.Is(err, graph.ErrUnknownInstance):
		s.writeHTTPError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, graph.ErrAlreadyLoading):
		s.writeHTTPError(w, http.StatusConflict, err.Error())
	case errors.Is(err, explorer.ErrUnknownAction):
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &aerr):
		s.writeHTTPError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Warn("Backend request failed", "error", err)
		s.writeHTTPError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
