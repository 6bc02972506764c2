package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/templui/healthsync/internal/model"
)

// ErrBrokerClosed is returned by Subscribe after Close and ends any open
// subscriptions.
var ErrBrokerClosed = errors.New("broker closed")

// Broker is an in-process pub/sub hub keyed by topic. Each subscription has
// its own mailbox and delivery goroutine, so a slow handler never blocks
// publishers or other subscriptions.
type Broker struct {
	mu     sync.RWMutex
	subs   map[Topic]map[uint64]*brokerSub
	nextID atomic.Uint64
	closed bool
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[Topic]map[uint64]*brokerSub),
	}
}

// Publish implements repository.Publisher.
func (b *Broker) Publish(_ context.Context, ev model.ChangeEvent) {
	env, err := Encode(ev)
	if err != nil {
		slog.Error("failed to encode change event", "error", err, "resource_id", ev.ResourceID)
		return
	}
	b.PublishEnvelope(env)
}

func (b *Broker) PublishEnvelope(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs[env.Topic()] {
		s.enqueue(env)
	}
}

func (b *Broker) Subscribe(_ context.Context, topic Topic, filter Filter, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	s := &brokerSub{
		id:      b.nextID.Add(1),
		topic:   topic,
		filter:  filter,
		handler: handler,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*brokerSub)
	}
	b.subs[topic][s.id] = s

	go s.run()

	slog.Debug("feed subscribed", "topic", topic.String(), "subscription", s.id)
	return s, nil
}

func (b *Broker) Unsubscribe(sub Subscription) error {
	s, ok := sub.(*brokerSub)
	if !ok {
		return errors.New("subscription not issued by this broker")
	}

	b.remove(s)
	s.finish(nil)
	return nil
}

// Disconnect ends every subscription on topic with err, as a transport
// failure would.
func (b *Broker) Disconnect(topic Topic, err error) {
	b.mu.Lock()
	subs := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	for _, s := range subs {
		s.finish(err)
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Broker) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[Topic]map[uint64]*brokerSub)
	b.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			s.finish(ErrBrokerClosed)
		}
	}
}

func (b *Broker) remove(s *brokerSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[s.topic]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

type brokerSub struct {
	id      uint64
	topic   Topic
	filter  Filter
	handler Handler

	mu     sync.Mutex
	queue  []Envelope
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *brokerSub) Topic() Topic          { return s.topic }
func (s *brokerSub) Done() <-chan struct{} { return s.done }

func (s *brokerSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *brokerSub) enqueue(env Envelope) {
	s.mu.Lock()
	s.queue = append(s.queue, env)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *brokerSub) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *brokerSub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, env := range batch {
			// In-flight events are dropped once the subscription ends.
			select {
			case <-s.done:
				return
			default:
			}
			if s.filter != nil && !s.filter(env) {
				continue
			}
			s.handler(env)
		}
	}
}
