package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/healthsync/internal/model"
)

func testGoal(userID string, updatedAt time.Time) *model.HealthGoal {
	return &model.HealthGoal{
		Base: model.Base{
			ID:        "goal-1",
			UserID:    userID,
			CreatedAt: updatedAt,
			UpdatedAt: updatedAt,
		},
		GoalType:     "water",
		Title:        "Drink water",
		TargetValue:  8,
		CurrentValue: 3,
		Date:         "2026-10-17",
	}
}

func goalEvent(userID string, op model.Operation, updatedAt time.Time) model.ChangeEvent {
	g := testGoal(userID, updatedAt)
	return model.ChangeEvent{
		ResourceType:  model.ResourceGoal,
		Operation:     op,
		ResourceID:    g.ID,
		Payload:       g,
		OriginSession: "session-a",
		Version:       g.Version(),
	}
}

type collector struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *collector) handle(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) all() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.envs...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	warnings []string
}

func (n *recordingNotifier) Warning(title, _ string) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, title)
	return int64(len(n.warnings))
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.warnings)
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2026, 10, 17, 8, 30, 0, 123456000, time.UTC)
	ev := goalEvent("user-1", model.OpUpdate, at)

	env, err := Encode(ev)
	require.NoError(t, err)
	assert.Equal(t, Topic{UserID: "user-1", Type: model.ResourceGoal}, env.Topic())

	// Envelopes cross the wire as JSON.
	data, err := json.Marshal(env)
	require.NoError(t, err)
	var wire Envelope
	require.NoError(t, json.Unmarshal(data, &wire))

	got, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, ev.Key(), got.Key())
	assert.Equal(t, "session-a", got.OriginSession)
	assert.Equal(t, model.SourceRemotePush, got.Source)

	goal, ok := got.Payload.(*model.HealthGoal)
	require.True(t, ok)
	assert.Equal(t, 3.0, goal.CurrentValue)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	at := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	valid, err := Encode(goalEvent("user-1", model.OpInsert, at))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"unknown op", func(e *Envelope) { e.Op = "upsert" }},
		{"unknown type", func(e *Envelope) { e.Type = "sleep" }},
		{"missing id", func(e *Envelope) { e.ID = "" }},
		{"empty payload", func(e *Envelope) { e.Payload = nil }},
		{"bad json", func(e *Envelope) { e.Payload = json.RawMessage(`{"id":`) }},
		{"wrong shape", func(e *Envelope) { e.Payload = json.RawMessage(`{"id":"goal-1","user_id":"user-1","target_value":"lots"}`) }},
		{"identity mismatch", func(e *Envelope) { e.ID = "goal-2" }},
		{"owner mismatch", func(e *Envelope) { e.UserID = "user-2" }},
		{"version mismatch", func(e *Envelope) { e.Version++ }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid
			env.Payload = append(json.RawMessage(nil), valid.Payload...)
			tt.mutate(&env)

			_, err := Decode(env)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestBrokerDeliversInOrderPerTopic(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	goals := &collector{}
	moods := &collector{}
	topic := Topic{UserID: "user-1", Type: model.ResourceGoal}

	_, err := b.Subscribe(context.Background(), topic, nil, goals.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(context.Background(), Topic{UserID: "user-1", Type: model.ResourceMood}, nil, moods.handle)
	require.NoError(t, err)

	base := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	for i := range 10 {
		b.Publish(context.Background(), goalEvent("user-1", model.OpUpdate, base.Add(time.Duration(i)*time.Second)))
	}
	// Same type, other user.
	b.Publish(context.Background(), goalEvent("user-2", model.OpUpdate, base))

	require.Eventually(t, func() bool { return len(goals.all()) == 10 }, time.Second, 5*time.Millisecond)

	envs := goals.all()
	for i := 1; i < len(envs); i++ {
		assert.Greater(t, envs[i].Version, envs[i-1].Version)
	}
	for _, env := range envs {
		assert.Equal(t, "user-1", env.UserID)
	}
	assert.Empty(t, moods.all())
}

func TestBrokerFilter(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	c := &collector{}
	onlyDeletes := func(env Envelope) bool { return env.Op == model.OpDelete }
	_, err := b.Subscribe(context.Background(), Topic{UserID: "user-1", Type: model.ResourceGoal}, onlyDeletes, c.handle)
	require.NoError(t, err)

	at := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	b.Publish(context.Background(), goalEvent("user-1", model.OpUpdate, at))
	b.Publish(context.Background(), goalEvent("user-1", model.OpDelete, at))

	require.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.OpDelete, c.all()[0].Op)
}

func TestBrokerUnsubscribeAndDisconnect(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	topic := Topic{UserID: "user-1", Type: model.ResourceGoal}

	sub, err := b.Subscribe(context.Background(), topic, nil, func(Envelope) {})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers(topic))

	require.NoError(t, b.Unsubscribe(sub))
	<-sub.Done()
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, b.Subscribers(topic))

	sub, err = b.Subscribe(context.Background(), topic, nil, func(Envelope) {})
	require.NoError(t, err)

	b.Disconnect(topic, model.ErrChannelDisconnected)
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not ended")
	}
	assert.ErrorIs(t, sub.Err(), model.ErrChannelDisconnected)

	b.Close()
	_, err = b.Subscribe(context.Background(), topic, nil, func(Envelope) {})
	assert.ErrorIs(t, err, ErrBrokerClosed)
}
