package handler

import (
	"net/http"
	"time"

	"github.com/templui/healthsync/internal/ctxkeys"
	"github.com/templui/healthsync/internal/feed"
	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/session"
)

// CookieIssuer mints and clears the auth cookie for browser clients.
type CookieIssuer interface {
	GenerateJWT(user *model.User) (string, error)
	Expiry() time.Duration
	SetJWTCookie(w http.ResponseWriter, token string, expiry time.Time)
	ClearJWTCookie(w http.ResponseWriter)
}

type SessionHandler struct {
	sessions Sessions
	cookies  CookieIssuer
}

func NewSessionHandler(sessions Sessions, cookies CookieIssuer) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		cookies:  cookies,
	}
}

type channelStatus struct {
	State feed.State `json:"state"`
	Error string     `json:"error,omitempty"`
}

type sessionStatus struct {
	SessionID   string                               `json:"session_id"`
	UserID      string                               `json:"user_id"`
	Cached      int                                  `json:"cached"`
	Quarantined int64                                `json:"quarantined"`
	Feed        map[model.ResourceType]channelStatus `json:"feed"`
}

// Status starts the caller's session if needed and reports the change feed
// state per resource type.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(s))
}

// Start exchanges a verified bearer token for the auth cookie, so browser
// clients can use the API and websockets without handling tokens, and starts
// the session.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	s, err := userSession(h.sessions, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.cookies.GenerateJWT(ctxkeys.User(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cookies.SetJWTCookie(w, token, time.Now().Add(h.cookies.Expiry()))

	writeJSON(w, http.StatusCreated, statusOf(s))
}

func statusOf(s *session.Session) sessionStatus {
	status := sessionStatus{
		SessionID:   s.ID,
		UserID:      s.UserID,
		Cached:      s.Coordinator.Len(),
		Quarantined: s.Subscriber.Quarantined(),
		Feed:        make(map[model.ResourceType]channelStatus, len(model.ResourceTypes)),
	}
	for _, t := range model.ResourceTypes {
		cs := channelStatus{State: s.Subscriber.State(t)}
		if err := s.Subscriber.Err(t); err != nil {
			cs.Error = err.Error()
		}
		status.Feed[t] = cs
	}
	return status
}

// RetryFeed resets the retry budget of one degraded channel and reconnects.
func (h *SessionHandler) RetryFeed(w http.ResponseWriter, r *http.Request) {
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

	s.Subscriber.Retry(t)
	w.WriteHeader(http.StatusAccepted)
}

// End snapshots the cache, tears the session down and clears the auth
// cookie. Pending results for the session are discarded.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())
	if user == nil {
		writeError(w, r, model.ErrPermission)
		return
	}

	if err := h.sessions.Teardown(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	h.cookies.ClearJWTCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
