package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/templui/healthsync/internal/ctxkeys"
	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/reconcile"
	"github.com/templui/healthsync/internal/session"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Sessions hands out the per-user session that backs every API call.
type Sessions interface {
	Init(ctx context.Context, userID string) (*session.Session, error)
	Teardown(ctx context.Context, userID string) error
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps the model error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp.Field = verr.Field
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, model.ErrTransient), errors.Is(err, reconcile.ErrClosed):
		status = http.StatusServiceUnavailable
		resp.Retryable = true
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		resp.Error = "internal error"
	}

	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// userSession returns the caller's session, starting it on first use.
// RequireAuth guarantees the user.
func userSession(sessions Sessions, r *http.Request) (*session.Session, error) {
	user := ctxkeys.User(r.Context())
	if user == nil {
		return nil, model.ErrPermission
	}
	return sessions.Init(r.Context(), user.ID)
}
