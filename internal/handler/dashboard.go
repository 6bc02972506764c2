package handler

import (
	"net/http"
	"strconv"

	"github.com/templui/healthsync/internal/model"
)

type DashboardHandler struct {
	sessions Sessions
}

func NewDashboardHandler(sessions Sessions) *DashboardHandler {
	return &DashboardHandler{
		sessions: sessions,
	}
}

// Summary aggregates the caller's recent activity. ?days overrides the
// configured window. A failed metric degrades the summary instead of failing
// the request.
func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, &model.ValidationError{Field: "days", Reason: "must be a positive integer"})
			return
		}
		days = n
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.Summary(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
