package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/healthsync/internal/ctxkeys"
	"github.com/templui/healthsync/internal/model"
)

func newFeedServer(t *testing.T, b *Broker) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/feed/{type}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := ctxkeys.WithUser(r.Context(), &model.User{ID: "user-1"})
		b.ServeWS(w, r.WithContext(ctx))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWSTransportStreamsTopic(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	srv := newFeedServer(t, b)

	transport := &WSTransport{BaseURL: srv.URL, Token: "good-token"}
	topic := Topic{UserID: "user-1", Type: model.ResourceGoal}

	c := &collector{}
	sub, err := transport.Subscribe(context.Background(), topic, nil, c.handle)
	require.NoError(t, err)
	defer transport.Unsubscribe(sub)

	require.Eventually(t, func() bool { return b.Subscribers(topic) == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	b.Publish(context.Background(), goalEvent("user-1", model.OpUpdate, at))
	b.Publish(context.Background(), goalEvent("user-2", model.OpUpdate, at))

	require.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, 5*time.Millisecond)

	ev, err := Decode(c.all()[0])
	require.NoError(t, err)
	assert.Equal(t, "goal-1", ev.ResourceID)
	assert.Equal(t, at.UnixNano(), ev.Version)
}

func TestWSTransportRejectsBadToken(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	srv := newFeedServer(t, b)

	transport := &WSTransport{BaseURL: srv.URL, Token: "bad-token"}
	_, err := transport.Subscribe(context.Background(), Topic{UserID: "user-1", Type: model.ResourceGoal}, nil, func(Envelope) {})
	assert.ErrorIs(t, err, model.ErrChannelDisconnected)
}

func TestWSTransportSurfacesServerDisconnect(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	srv := newFeedServer(t, b)

	transport := &WSTransport{BaseURL: srv.URL, Token: "good-token"}
	topic := Topic{UserID: "user-1", Type: model.ResourceMood}

	sub, err := transport.Subscribe(context.Background(), topic, nil, func(Envelope) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.Subscribers(topic) == 1 }, time.Second, 5*time.Millisecond)

	b.Disconnect(topic, model.ErrChannelDisconnected)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the disconnect")
	}
	assert.ErrorIs(t, sub.Err(), model.ErrChannelDisconnected)
}

func TestSubscriberOverWebsocket(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	srv := newFeedServer(t, b)

	s := NewSubscriber(&WSTransport{BaseURL: srv.URL, Token: "good-token"}, "user-1", fastConfig, nil)
	defer s.Close()
	s.Start(model.ResourceGoal)
	waitResync(t, s)

	topic := Topic{UserID: "user-1", Type: model.ResourceGoal}
	require.Eventually(t, func() bool { return b.Subscribers(topic) == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	b.Publish(context.Background(), goalEvent("user-1", model.OpInsert, at))

	ev := waitEvent(t, s)
	assert.Equal(t, model.OpInsert, ev.Operation)
}

func TestFeedURL(t *testing.T) {
	u, err := (&WSTransport{BaseURL: "https://health.example.com/"}).feedURL(model.ResourceMeditation)
	require.NoError(t, err)
	assert.Equal(t, "wss://health.example.com/api/feed/meditation_session", u)

	u, err = (&WSTransport{BaseURL: "http://localhost:8090"}).feedURL(model.ResourceGoal)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8090/api/feed/goal", u)
}
