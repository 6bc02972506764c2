package handler

import (
	"net/http"

	"github.com/templui/healthsync/internal/model"
)

type GoalHandler struct {
	sessions Sessions
}

func NewGoalHandler(sessions Sessions) *GoalHandler {
	return &GoalHandler{
		sessions: sessions,
	}
}

func (h *GoalHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.GoalPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	goal, err := s.Coordinator.UpdateGoal(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

type progressRequest struct {
	Delta float64 `json:"delta"`
}

// Progress adds delta to the goal's current value. Negative deltas undo
// progress; the value never drops below zero.
func (h *GoalHandler) Progress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Delta == 0 {
		writeError(w, r, &model.ValidationError{Field: "delta", Reason: "must not be zero"})
		return
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	goal, err := s.Coordinator.AdjustGoal(r.Context(), r.PathValue("id"), req.Delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}
