package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/templui/healthsync/internal/ctxkeys"
)

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{
		db: db,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]string{"status": "ok"}
	if cfg := ctxkeys.Config(r.Context()); cfg != nil {
		resp["app"] = cfg.AppName
		resp["env"] = cfg.AppEnv
	}

	if err := h.db.PingContext(ctx); err != nil {
		resp["status"] = "unavailable"
		resp["database"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
