package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/healthsync/internal/ctxkeys"
	"github.com/templui/healthsync/internal/db"
	"github.com/templui/healthsync/internal/feed"
	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/repository"
	"github.com/templui/healthsync/internal/storage"
)

type fixture struct {
	broker  *feed.Broker
	repos   *repository.Set
	store   *storage.Memory
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open("sqlite", filepath.Join(t.TempDir(), "test.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	broker := feed.NewBroker()
	t.Cleanup(broker.Close)

	repos := repository.NewSet(database, broker, 0)
	store := storage.NewMemory()
	manager := NewManager(repos, broker, store, Options{
		Feed:      feed.Config{BackoffBase: 5 * time.Millisecond, BackoffMax: 20 * time.Millisecond, RetryBudget: 3},
		NotifyTTL: time.Minute,
	})
	t.Cleanup(func() { manager.Close(context.Background()) })

	return &fixture{broker: broker, repos: repos, store: store, manager: manager}
}

func waitSubscribed(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, rt := range model.ResourceTypes {
			if s.Subscriber.State(rt) != feed.StateSubscribed {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestInitIsIdempotent(t *testing.T) {
	f := newFixture(t)

	a, err := f.manager.Init(context.Background(), "user-1")
	require.NoError(t, err)
	b, err := f.manager.Init(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = f.manager.Init(context.Background(), "")
	assert.Error(t, err)
}

func TestSessionReceivesChangesFromOtherDevices(t *testing.T) {
	f := newFixture(t)

	s, err := f.manager.Init(context.Background(), "user-1")
	require.NoError(t, err)
	waitSubscribed(t, s)

	other := ctxkeys.WithSessionID(context.Background(), "another-device")
	mood, err := f.repos.Moods.Create(other, &model.MoodEntry{Base: model.Base{UserID: "user-1"}, Mood: 8})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := s.Coordinator.Get(mood.ID)
		return ok
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, n := range s.Notifications.List() {
			if n.Type == model.NotificationInfo {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestOwnWritesNotifyOnce(t *testing.T) {
	f := newFixture(t)

	s, err := f.manager.Init(context.Background(), "user-1")
	require.NoError(t, err)
	waitSubscribed(t, s)

	_, err = s.Coordinator.Create(context.Background(), &model.Symptom{Name: "cough", Severity: 3})
	require.NoError(t, err)

	// Give the echo time to arrive.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, s.Notifications.List(), 1)
}

func TestTeardownSnapshotsAndWarmStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Init(ctx, "user-1")
	require.NoError(t, err)
	waitSubscribed(t, s)

	created, err := s.Coordinator.Create(ctx, &model.MeditationSession{DurationMinutes: 10})
	require.NoError(t, err)

	require.NoError(t, f.manager.Teardown(ctx, "user-1"))
	assert.True(t, s.Coordinator.Closed())
	_, ok := f.manager.Get("user-1")
	assert.False(t, ok)

	data, err := f.store.Load(ctx, storage.SnapshotKey("user-1"))
	require.NoError(t, err)
	assert.Contains(t, string(data), created.ResourceID())

	// Restore runs inside Init, before the first refresh.
	next, err := f.manager.Init(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, next.ID)
	_, ok = next.Coordinator.Get(created.ResourceID())
	assert.True(t, ok)

	// Tearing down an unknown user is a no-op.
	assert.NoError(t, f.manager.Teardown(ctx, "nobody"))
}

func TestSummary(t *testing.T) {
	f := newFixture(t)

	s, err := f.manager.Init(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = s.Coordinator.Create(context.Background(), &model.MeditationSession{DurationMinutes: 15})
	require.NoError(t, err)

	summary, err := s.Summary(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 15, summary.MeditationMinutes)
	assert.Equal(t, 7, summary.WindowDays)
}
