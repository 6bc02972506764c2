package routes

import (
	"net/http"

	"github.com/templui/healthsync/internal/app"
	"github.com/templui/healthsync/internal/handler"
	"github.com/templui/healthsync/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	health := handler.NewHealthHandler(app.DB)
	resources := handler.NewResourceHandler(app.Sessions)
	goals := handler.NewGoalHandler(app.Sessions)
	dashboard := handler.NewDashboardHandler(app.Sessions)
	notifications := handler.NewNotificationHandler(app.Sessions)
	sessions := handler.NewSessionHandler(app.Sessions, app.AuthService)

	writeLimit := middleware.RateLimitWrites(app.Cfg.WriteRateLimit, app.Cfg.WriteRateWindow)
	auth := middleware.RequireAuth
	write := func(h http.HandlerFunc) http.HandlerFunc { return auth(writeLimit(h)) }

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /health", health.Health)

	// ============================================================================
	// PROTECTED ROUTES (/api/*)
	// ============================================================================

	// Resources
	mux.HandleFunc("GET /api/resources/{type}", auth(resources.List))
	mux.HandleFunc("GET /api/resources/{type}/{id}", auth(resources.Get))
	mux.HandleFunc("POST /api/resources/{type}", write(resources.Create))
	mux.HandleFunc("POST /api/resources/{type}/refresh", auth(resources.Refresh))
	mux.HandleFunc("DELETE /api/resources/{type}/{id}", write(resources.Delete))

	// Goals
	mux.HandleFunc("PATCH /api/goals/{id}", write(goals.Update))
	mux.HandleFunc("POST /api/goals/{id}/progress", write(goals.Progress))

	// Dashboard
	mux.HandleFunc("GET /api/dashboard", auth(dashboard.Summary))

	// Notifications
	mux.HandleFunc("GET /api/notifications", auth(notifications.List))
	mux.HandleFunc("GET /api/notifications/stream", auth(notifications.Stream))
	mux.HandleFunc("DELETE /api/notifications", auth(notifications.Clear))
	mux.HandleFunc("DELETE /api/notifications/{id}", auth(notifications.Remove))

	// Session
	mux.HandleFunc("GET /api/session", auth(sessions.Status))
	mux.HandleFunc("POST /api/session", auth(sessions.Start))
	mux.HandleFunc("POST /api/session/feed/{type}/retry", auth(sessions.RetryFeed))
	mux.HandleFunc("POST /api/session/end", auth(sessions.End))

	// Change feed (websocket, one stream per resource type)
	mux.HandleFunc("GET /api/feed/{type}", auth(app.Broker.ServeWS))

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.Config(app.Cfg),
		middleware.AuthMiddleware(app.AuthService),
		middleware.RequestLogging, // After auth so requests carry the user id
		middleware.Recover,
		middleware.CSRFProtection,
	)

	return handler
}
