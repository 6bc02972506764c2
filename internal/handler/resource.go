package handler

import (
	"net/http"
	"strconv"

	"github.com/templui/healthsync/internal/model"
)

type ResourceHandler struct {
	sessions Sessions
}

func NewResourceHandler(sessions Sessions) *ResourceHandler {
	return &ResourceHandler{
		sessions: sessions,
	}
}

// List returns the session's cached view of one resource type. With
// ?refresh=true the cache is reconciled against the repository first.
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	t, err := model.ParseResourceType(r.PathValue("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if _, err := s.Coordinator.Refresh(r.Context(), t); err != nil {
			writeError(w, r, err)
			return
		}
	}

	items := s.Coordinator.List(t)
	if items == nil {
		items = []model.Resource{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := model.ParseResourceType(r.PathValue("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, ok := s.Coordinator.Get(r.PathValue("id"))
	if !ok || item.Kind() != t {
		writeError(w, r, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Create records a new symptom, goal, mood entry or meditation session. The
// body is the resource itself; id and user_id are filled in when omitted.
func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	t, err := model.ParseResourceType(r.PathValue("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := model.NewResource(t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := decodeJSON(w, r, item); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.Coordinator.Create(r.Context(), item)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, err := model.ParseResourceType(r.PathValue("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Coordinator.Delete(r.Context(), t, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh reconciles one resource type and reports how many entries changed.
func (h *ResourceHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	t, err := model.ParseResourceType(r.PathValue("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	changed, err := s.Coordinator.Refresh(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"changed": changed})
}
