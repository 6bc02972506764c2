package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/templui/healthsync/internal/ctxkeys"
	"github.com/templui/healthsync/internal/model"
)

const writeTimeout = 5 * time.Second

// ServeWS streams the topic named by the {type} path value to a websocket
// client. The user comes from the authenticated request context.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	resourceType, err := model.ParseResourceType(r.PathValue("type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends; CloseRead cancels ctx once it goes away.
	ctx := conn.CloseRead(r.Context())
	topic := Topic{UserID: user.ID, Type: resourceType}

	sub, err := b.Subscribe(ctx, topic, nil, func(env Envelope) {
		data, err := json.Marshal(env)
		if err != nil {
			slog.Error("failed to marshal envelope", "error", err, "topic", topic.String())
			return
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
			slog.Debug("feed write failed", "error", err, "topic", topic.String())
			conn.CloseNow()
		}
	})
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, err.Error())
		return
	}
	defer b.Unsubscribe(sub)

	slog.Debug("feed client connected", "topic", topic.String())

	select {
	case <-ctx.Done():
		slog.Debug("feed client disconnected", "topic", topic.String())
	case <-sub.Done():
		// Broker side ended the stream; tell the client to reconnect.
		conn.Close(websocket.StatusGoingAway, "stream ended")
	}
}

// WSTransport is the client side of ServeWS. It implements PubSub, so a
// Subscriber can run against a remote server the same way it runs against an
// in-process Broker.
type WSTransport struct {
	// BaseURL is the server root, e.g. http://localhost:8090.
	BaseURL string
	// Token is sent as a bearer token on the upgrade request.
	Token string
	// HTTPClient is optional.
	HTTPClient *http.Client
}

func (t *WSTransport) Subscribe(ctx context.Context, topic Topic, filter Filter, handler Handler) (Subscription, error) {
	u, err := t.feedURL(topic.Type)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}

	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: t.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrChannelDisconnected, err)
	}

	// The read loop outlives the dial context.
	rctx, cancel := context.WithCancel(context.Background())
	s := &wsSub{
		topic:  topic,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop(rctx, filter, handler)

	return s, nil
}

func (t *WSTransport) Unsubscribe(sub Subscription) error {
	s, ok := sub.(*wsSub)
	if !ok {
		return errors.New("subscription not issued by this transport")
	}

	s.finish(nil)
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func (t *WSTransport) feedURL(resourceType model.ResourceType) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(t.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("failed to parse feed url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/api/feed/" + string(resourceType)

	return u.String(), nil
}

type wsSub struct {
	topic  Topic
	conn   *websocket.Conn
	cancel context.CancelFunc

	mu   sync.Mutex
	once sync.Once
	done chan struct{}
	err  error
}

func (s *wsSub) Topic() Topic          { return s.topic }
func (s *wsSub) Done() <-chan struct{} { return s.done }

func (s *wsSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSub) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *wsSub) readLoop(ctx context.Context, filter Filter, handler Handler) {
	defer s.cancel()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.finish(fmt.Errorf("%w: %v", model.ErrChannelDisconnected, err))
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Hand the raw frame on so the consumer can quarantine it.
			env = Envelope{Type: s.topic.Type, UserID: s.topic.UserID, Payload: data}
		}

		select {
		case <-s.done:
			return
		default:
		}
		if filter != nil && !filter(env) {
			continue
		}
		handler(env)
	}
}
