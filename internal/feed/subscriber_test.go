package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/healthsync/internal/model"
)

var fastConfig = Config{
	BackoffBase: 5 * time.Millisecond,
	BackoffMax:  20 * time.Millisecond,
	RetryBudget: 3,
}

// flakyPubSub fails the first n subscribe attempts, then delegates.
type flakyPubSub struct {
	PubSub
	failFirst int32
	attempts  atomic.Int32
}

func (f *flakyPubSub) Subscribe(ctx context.Context, topic Topic, filter Filter, handler Handler) (Subscription, error) {
	n := f.attempts.Add(1)
	if f.failFirst < 0 || n <= f.failFirst {
		return nil, errors.New("dial refused")
	}
	return f.PubSub.Subscribe(ctx, topic, filter, handler)
}

func waitResync(t *testing.T, s *Subscriber) model.ResourceType {
	t.Helper()
	select {
	case rt := <-s.Resync():
		return rt
	case <-time.After(time.Second):
		t.Fatal("no resync signal")
		return ""
	}
}

func waitEvent(t *testing.T, s *Subscriber) model.ChangeEvent {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no change event")
		return model.ChangeEvent{}
	}
}

func TestBackOffSchedule(t *testing.T) {
	b := Config{BackoffBase: time.Second, BackoffMax: 30 * time.Second, RetryBudget: 7}.NewBackOff()

	var got []time.Duration
	for d := b.NextBackOff(); d != backoff.Stop; d = b.NextBackOff() {
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())

	defaults := Config{}.NewBackOff()
	assert.Equal(t, DefaultBackoffBase, defaults.NextBackOff())
	for i := 1; i < DefaultRetryBudget; i++ {
		assert.NotEqual(t, backoff.Stop, defaults.NextBackOff())
	}
	assert.Equal(t, backoff.Stop, defaults.NextBackOff())
}

func TestSubscriberDeliversValidatedEvents(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	s := NewSubscriber(b, "user-1", fastConfig, nil)
	defer s.Close()
	s.Start(model.ResourceGoal)

	assert.Equal(t, model.ResourceGoal, waitResync(t, s))
	assert.Equal(t, StateSubscribed, s.State(model.ResourceGoal))

	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	b.Publish(context.Background(), goalEvent("user-1", model.OpUpdate, at))

	ev := waitEvent(t, s)
	assert.Equal(t, "goal-1", ev.ResourceID)
	assert.Equal(t, model.OpUpdate, ev.Operation)
	_, ok := ev.Payload.(*model.HealthGoal)
	assert.True(t, ok)
}

func TestSubscriberQuarantinesMalformed(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	s := NewSubscriber(b, "user-1", fastConfig, nil)
	defer s.Close()
	s.Start(model.ResourceGoal)
	waitResync(t, s)

	b.PublishEnvelope(Envelope{Type: model.ResourceGoal, UserID: "user-1", Op: "explode", ID: "goal-1"})
	b.PublishEnvelope(Envelope{Type: model.ResourceGoal, UserID: "user-1", Op: model.OpInsert, ID: "goal-1", Payload: []byte(`[]`)})

	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	b.Publish(context.Background(), goalEvent("user-1", model.OpInsert, at))

	ev := waitEvent(t, s)
	assert.Equal(t, "goal-1", ev.ResourceID)
	assert.Equal(t, int64(2), s.Quarantined())
}

func TestSubscriberReconnectsAndResyncs(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	s := NewSubscriber(b, "user-1", fastConfig, nil)
	defer s.Close()
	s.Start(model.ResourceGoal, model.ResourceMood)
	waitResync(t, s)
	waitResync(t, s)

	goals := Topic{UserID: "user-1", Type: model.ResourceGoal}
	b.Disconnect(goals, model.ErrChannelDisconnected)

	assert.Equal(t, model.ResourceGoal, waitResync(t, s))
	require.Eventually(t, func() bool {
		return s.State(model.ResourceGoal) == StateSubscribed && b.Subscribers(goals) == 1
	}, time.Second, 5*time.Millisecond)

	// The other channel never noticed.
	assert.Equal(t, StateSubscribed, s.State(model.ResourceMood))
}

func TestSubscriberRecoversWithinBudget(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ps := &flakyPubSub{PubSub: b, failFirst: 2}

	s := NewSubscriber(ps, "user-1", fastConfig, nil)
	defer s.Close()
	s.Start(model.ResourceSymptom)

	assert.Equal(t, model.ResourceSymptom, waitResync(t, s))
	assert.Equal(t, int32(3), ps.attempts.Load())
	assert.NoError(t, s.Err(model.ResourceSymptom))
}

func TestSubscriberDegradesAfterBudget(t *testing.T) {
	ps := &flakyPubSub{failFirst: -1}
	notifier := &recordingNotifier{}

	s := NewSubscriber(ps, "user-1", fastConfig, notifier)
	defer s.Close()
	s.Start(model.ResourceGoal)

	require.Eventually(t, func() bool {
		return s.Err(model.ResourceGoal) != nil && s.State(model.ResourceGoal) == StateDisconnected
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.Err(model.ResourceGoal), model.ErrChannelDisconnected)
	assert.Equal(t, int32(fastConfig.RetryBudget+1), ps.attempts.Load())
	assert.Equal(t, 1, notifier.count())

	// It stays down until asked.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(fastConfig.RetryBudget+1), ps.attempts.Load())

	s.Retry(model.ResourceGoal)
	require.Eventually(t, func() bool {
		return ps.attempts.Load() > int32(fastConfig.RetryBudget+1)
	}, time.Second, 5*time.Millisecond)
}

func TestSubscriberStopDropsOneChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	s := NewSubscriber(b, "user-1", fastConfig, nil)
	defer s.Close()
	s.Start(model.ResourceGoal, model.ResourceMood)
	waitResync(t, s)
	waitResync(t, s)

	s.Stop(model.ResourceGoal)
	require.Eventually(t, func() bool {
		return b.Subscribers(Topic{UserID: "user-1", Type: model.ResourceGoal}) == 0 &&
			s.State(model.ResourceGoal) == StateDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, b.Subscribers(Topic{UserID: "user-1", Type: model.ResourceMood}))
}

func TestSubscriberCloseEndsStreams(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	s := NewSubscriber(b, "user-1", fastConfig, nil)
	s.Start()
	for range model.ResourceTypes {
		waitResync(t, s)
	}

	s.Close()
	_, ok := <-s.Events()
	assert.False(t, ok)
	_, ok = <-s.Resync()
	assert.False(t, ok)

	for _, rt := range model.ResourceTypes {
		assert.Equal(t, StateDisconnected, s.State(rt))
		assert.Equal(t, 0, b.Subscribers(Topic{UserID: "user-1", Type: rt}))
	}

	// Idempotent.
	s.Close()
}
