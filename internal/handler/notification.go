package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/templui/healthsync/internal/model"
)

const streamWriteTimeout = 5 * time.Second

type NotificationHandler struct {
	sessions Sessions
}

func NewNotificationHandler(sessions Sessions) *NotificationHandler {
	return &NotificationHandler{
		sessions: sessions,
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := s.Notifications.List()
	if items == nil {
		items = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *NotificationHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, &model.ValidationError{Field: "id", Reason: "must be an integer"})
		return
	}

	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !s.Notifications.Remove(id) {
		writeError(w, r, model.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.Notifications.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

// Stream pushes the full notification list over a websocket every time it
// changes. The current list is sent on connect.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	updates, cancel := s.Notifications.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session ended")
				return
			}
			if list == nil {
				list = []model.Notification{}
			}
			data, err := json.Marshal(list)
			if err != nil {
				slog.Error("failed to marshal notifications", "error", err)
				continue
			}

			wctx, wcancel := context.WithTimeout(ctx, streamWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				slog.Debug("notification stream write failed", "error", err, "user_id", s.UserID)
				return
			}
		}
	}
}
