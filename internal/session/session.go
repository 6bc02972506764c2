// Package session owns the per-user state of a signed-in client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/templui/healthsync/internal/feed"
	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/notify"
	"github.com/templui/healthsync/internal/reconcile"
	"github.com/templui/healthsync/internal/repository"
	"github.com/templui/healthsync/internal/service"
	"github.com/templui/healthsync/internal/storage"
)

type Options struct {
	Feed       feed.Config
	NotifyTTL  time.Duration
	WindowDays int
}

type Session struct {
	ID     string
	UserID string

	Notifications *notify.Queue
	Coordinator   *reconcile.Coordinator
	Subscriber    *feed.Subscriber
	Dashboard     *service.DashboardService

	cancel context.CancelFunc
	done   chan struct{}
}

// Summary renders the dashboard for the session's user.
func (s *Session) Summary(ctx context.Context, windowDays int) (*model.DashboardSummary, error) {
	return s.Dashboard.Summary(ctx, s.UserID, windowDays)
}

// Manager keeps one session per user.
type Manager struct {
	repos     *repository.Set
	pubsub    feed.PubSub
	store     storage.Storage
	dashboard *service.DashboardService
	opts      Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(repos *repository.Set, pubsub feed.PubSub, store storage.Storage, opts Options) *Manager {
	return &Manager{
		repos:     repos,
		pubsub:    pubsub,
		store:     store,
		dashboard: service.NewDashboardService(repos, opts.WindowDays),
		opts:      opts,
		sessions:  make(map[string]*Session),
	}
}

// Init returns the user's session, creating it on first use. A new session
// warm-starts from the last snapshot and then subscribes to every resource
// type; the first subscribe triggers a full refresh.
func (m *Manager) Init(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session requires a user")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	queue := notify.New(m.opts.NotifyTTL)
	s := &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		Notifications: queue,
		Dashboard:     m.dashboard.WithNotifier(queue),
		done:          make(chan struct{}),
	}
	s.Coordinator = reconcile.New(m.repos, userID, s.ID, queue)
	s.Subscriber = feed.NewSubscriber(m.pubsub, userID, m.opts.Feed, queue)

	m.restore(ctx, s)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.Coordinator.Run(runCtx, s.Subscriber.Events(), s.Subscriber.Resync())
	}()
	s.Subscriber.Start()

	m.sessions[userID] = s
	slog.Info("session started", "user_id", userID, "session_id", s.ID)
	return s, nil
}

func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Teardown snapshots the cache and stops the user's session. In-flight
// repository results for the session are discarded.
func (m *Manager) Teardown(ctx context.Context, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	err := m.snapshot(ctx, s)

	s.Subscriber.Close()
	s.Coordinator.Close()
	s.cancel()
	<-s.done
	s.Notifications.Close()

	slog.Info("session ended", "user_id", userID, "session_id", s.ID)
	return err
}

// Close tears down every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	users := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		users = append(users, id)
	}
	m.mu.Unlock()

	for _, id := range users {
		if err := m.Teardown(ctx, id); err != nil {
			slog.Error("failed to tear down session", "error", err, "user_id", id)
		}
	}
}

func (m *Manager) snapshot(ctx context.Context, s *Session) error {
	if m.store == nil {
		return nil
	}

	snap, err := s.Coordinator.Snapshot()
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := m.store.Save(ctx, storage.SnapshotKey(s.UserID), data); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (m *Manager) restore(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}

	data, err := m.store.Load(ctx, storage.SnapshotKey(s.UserID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("failed to load snapshot", "error", err, "user_id", s.UserID)
		}
		return
	}

	var snap reconcile.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("discarding unreadable snapshot", "error", err, "user_id", s.UserID)
		return
	}

	n, err := s.Coordinator.Restore(&snap)
	if err != nil {
		slog.Warn("failed to restore snapshot", "error", err, "user_id", s.UserID)
		return
	}
	slog.Debug("snapshot restored", "user_id", s.UserID, "entries", n, "taken_at", snap.TakenAt)
}
