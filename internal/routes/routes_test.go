package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/healthsync/internal/app"
	"github.com/templui/healthsync/internal/config"
	"github.com/templui/healthsync/internal/feed"
	"github.com/templui/healthsync/internal/middleware"
	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/service"
)

type testServer struct {
	*httptest.Server
	app *app.App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		AppName:             "healthsync",
		AppEnv:              "development",
		DBDriver:            "sqlite",
		DBConnection:        filepath.Join(t.TempDir(), "test.db"),
		DBAutoMigrate:       true,
		JWTSecret:           "test-secret",
		JWTExpiry:           time.Hour,
		FeedBackoffBase:     5 * time.Millisecond,
		FeedBackoffMax:      20 * time.Millisecond,
		FeedRetryBudget:     3,
		NotifyDefaultTTL:    time.Minute,
		DashboardWindowDays: 30,
	}

	a, err := app.New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(SetupRoutes(a))
	t.Cleanup(func() {
		srv.Close()
		a.Close(context.Background())
	})

	return &testServer{Server: srv, app: a}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.app.AuthService.GenerateJWT(&model.User{ID: userID})
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, userID, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func waterGoal() map[string]any {
	return map[string]any{
		"goal_type":    "water",
		"title":        "Drink water",
		"target_value": 8,
		"unit":         "glasses",
		"date":         "2026-10-17",
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","app":"healthsync","env":"development"}`, string(body))
}

func TestAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, "", http.MethodGet, "/api/resources/goal", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, "", http.MethodPost, "/api/resources/goal", waterGoal())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGoalLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, "user-1", http.MethodPost, "/api/resources/goal", waterGoal())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var goal model.HealthGoal
	require.NoError(t, json.Unmarshal(body, &goal))
	assert.NotEmpty(t, goal.ID)
	assert.Equal(t, "user-1", goal.UserID)

	resp, body = s.do(t, "user-1", http.MethodPost, "/api/goals/"+goal.ID+"/progress", map[string]any{"delta": 8})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &goal))
	assert.True(t, goal.Achieved)
	assert.Equal(t, 1, goal.Streak)

	resp, body = s.do(t, "user-1", http.MethodPatch, "/api/goals/"+goal.ID, map[string]any{"title": "Hydrate"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &goal))
	assert.Equal(t, "Hydrate", goal.Title)

	resp, body = s.do(t, "user-1", http.MethodGet, "/api/resources/goal", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var goals []model.HealthGoal
	require.NoError(t, json.Unmarshal(body, &goals))
	require.Len(t, goals, 1)
	assert.Equal(t, "Hydrate", goals[0].Title)

	resp, body = s.do(t, "user-1", http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var notes []model.Notification
	require.NoError(t, json.Unmarshal(body, &notes))
	titles := make([]string, 0, len(notes))
	for _, n := range notes {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "Goal achieved")

	resp, _ = s.do(t, "user-1", http.MethodDelete, "/api/resources/goal/"+goal.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = s.do(t, "user-1", http.MethodGet, "/api/resources/goal/"+goal.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	bad := waterGoal()
	bad["target_value"] = 0
	resp, body := s.do(t, "user-1", http.MethodPost, "/api/resources/goal", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), `"field":"target_value"`)

	resp, _ = s.do(t, "user-1", http.MethodPost, "/api/resources/bogus", waterGoal())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, "user-1", http.MethodDelete, "/api/resources/symptom/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	foreign := waterGoal()
	foreign["user_id"] = "user-2"
	resp, _ = s.do(t, "user-1", http.MethodPost, "/api/resources/goal", foreign)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, "user-1", http.MethodGet, "/api/dashboard?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, "user-1", http.MethodPost, "/api/resources/symptom", map[string]any{
		"name":        "headache",
		"severity":    4,
		"occurred_at": time.Now().UTC(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(t, "user-1", http.MethodGet, "/api/dashboard?days=7", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary model.DashboardSummary
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, 1, summary.TotalSymptoms)
	assert.Equal(t, 7, summary.WindowDays)
	assert.Empty(t, summary.Degraded)
}

func TestSessionStatusAndEnd(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, "user-1", http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		SessionID string                    `json:"session_id"`
		Feed      map[string]map[string]any `json:"feed"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.NotEmpty(t, status.SessionID)
	assert.Len(t, status.Feed, len(model.ResourceTypes))

	resp, _ = s.do(t, "user-1", http.MethodPost, "/api/session/end", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok := s.app.Sessions.Get("user-1")
	assert.False(t, ok)
}

func TestSessionStartIssuesCookie(t *testing.T) {
	s := newTestServer(t)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{Jar: jar}

	send := func(method, path string, body any, header http.Header) *http.Response {
		t.Helper()
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, s.URL+path, reader)
		require.NoError(t, err)
		for k, values := range header {
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
		resp, err := browser.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := send(http.MethodPost, "/api/session", nil, http.Header{"Authorization": {"Bearer " + s.token(t, "user-1")}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var authCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == service.AuthCookie {
			authCookie = c
		}
	}
	require.NotNil(t, authCookie)
	assert.True(t, authCookie.HttpOnly)
	assert.WithinDuration(t, time.Now().Add(time.Hour), authCookie.Expires, time.Minute)

	// The cookie alone authenticates reads and hands out a CSRF token.
	resp = send(http.MethodGet, "/api/resources/goal", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	csrf := resp.Header.Get(middleware.CSRFHeader)
	require.NotEmpty(t, csrf)

	resp = send(http.MethodPost, "/api/resources/goal", waterGoal(), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = send(http.MethodPost, "/api/resources/goal", waterGoal(), http.Header{middleware.CSRFHeader: {csrf}})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = send(http.MethodPost, "/api/session/end", nil, http.Header{middleware.CSRFHeader: {csrf}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = send(http.MethodGet, "/api/resources/goal", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFeedOverWebsocket(t *testing.T) {
	s := newTestServer(t)

	transport := &feed.WSTransport{BaseURL: s.URL, Token: s.token(t, "user-1")}
	received := make(chan feed.Envelope, 4)
	sub, err := transport.Subscribe(context.Background(), feed.Topic{UserID: "user-1", Type: model.ResourceMood}, nil, func(env feed.Envelope) {
		received <- env
	})
	require.NoError(t, err)
	defer transport.Unsubscribe(sub)

	require.Eventually(t, func() bool {
		return s.app.Broker.Subscribers(feed.Topic{UserID: "user-1", Type: model.ResourceMood}) > 0
	}, time.Second, 5*time.Millisecond)

	resp, _ := s.do(t, "user-1", http.MethodPost, "/api/resources/mood_entry", map[string]any{"mood": 7})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	select {
	case env := <-received:
		assert.Equal(t, model.ResourceMood, env.Type)
		assert.Equal(t, model.OpInsert, env.Op)
		assert.Equal(t, "user-1", env.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event received")
	}
}
