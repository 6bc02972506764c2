package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/templui/healthsync/internal/model"
)

// State is the connection state of one change feed channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
)

const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 30 * time.Second
	DefaultRetryBudget = 6
)

// Notifier receives the degraded-mode warning.
type Notifier interface {
	Warning(title, message string) int64
}

// Config controls reconnection. Zero fields take the defaults above.
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RetryBudget is the number of consecutive failed attempts tolerated
	// before a channel settles in StateDisconnected.
	RetryBudget int
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	return c
}

// NewBackOff returns the reconnect schedule for one channel: base, 2*base,
// 4*base and so on, capped at max, without jitter. It yields backoff.Stop
// once the retry budget is spent; Reset starts the schedule and budget over.
func (c Config) NewBackOff() backoff.BackOff {
	c = c.withDefaults()
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     c.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.BackoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b := backoff.WithMaxRetries(exp, uint64(c.RetryBudget))
	b.Reset()
	return b
}

type channel struct {
	topic  Topic
	state  State
	err    error
	cancel context.CancelFunc
}

// Subscriber keeps one live channel per resource type for a single user and
// turns raw envelopes into validated change events.
type Subscriber struct {
	ps       PubSub
	userID   string
	cfg      Config
	notifier Notifier

	events chan model.ChangeEvent
	resync chan model.ResourceType

	mu       sync.Mutex
	channels map[model.ResourceType]*channel

	// sendMu guards the output channels against Close.
	sendMu sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup

	quarantined atomic.Int64
}

func NewSubscriber(ps PubSub, userID string, cfg Config, notifier Notifier) *Subscriber {
	return &Subscriber{
		ps:       ps,
		userID:   userID,
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		events:   make(chan model.ChangeEvent, 64),
		resync:   make(chan model.ResourceType, len(model.ResourceTypes)),
		channels: make(map[model.ResourceType]*channel),
		done:     make(chan struct{}),
	}
}

// Events is the stream of validated change events. It is closed by Close.
func (s *Subscriber) Events() <-chan model.ChangeEvent { return s.events }

// Resync yields a resource type every time its channel (re)subscribes. Events
// published while the channel was down are not replayed, so the consumer must
// refresh that type from the repository.
func (s *Subscriber) Resync() <-chan model.ResourceType { return s.resync }

// Start opens channels for the given types, all tracked types when empty.
// Starting a type that already has a running channel is a no-op.
func (s *Subscriber) Start(types ...model.ResourceType) {
	if len(types) == 0 {
		types = model.ResourceTypes
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	for _, t := range types {
		if ch, ok := s.channels[t]; ok && ch.cancel != nil {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		ch := &channel{
			topic:  Topic{UserID: s.userID, Type: t},
			state:  StateConnecting,
			cancel: cancel,
		}
		s.channels[t] = ch

		s.wg.Add(1)
		go s.run(ctx, ch)
	}
}

// Stop unsubscribes one resource type. In-flight events for that type are
// dropped; other channels are unaffected.
func (s *Subscriber) Stop(t model.ResourceType) {
	s.mu.Lock()
	ch, ok := s.channels[t]
	if ok && ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	s.mu.Unlock()
}

// Retry restarts a channel that settled in StateDisconnected.
func (s *Subscriber) Retry(t model.ResourceType) {
	s.mu.Lock()
	ch, ok := s.channels[t]
	if ok && ch.state == StateDisconnected && ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	s.mu.Unlock()

	s.Start(t)
}

func (s *Subscriber) State(t model.ResourceType) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[t]; ok {
		return ch.state
	}
	return StateDisconnected
}

// Err reports why a channel settled in StateDisconnected.
func (s *Subscriber) Err(t model.ResourceType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[t]; ok {
		return ch.err
	}
	return nil
}

// Quarantined counts envelopes rejected at the boundary.
func (s *Subscriber) Quarantined() int64 {
	return s.quarantined.Load()
}

// Close stops every channel and closes the output streams.
func (s *Subscriber) Close() {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	close(s.done)
	for _, ch := range s.channels {
		if ch.cancel != nil {
			ch.cancel()
			ch.cancel = nil
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.sendMu.Lock()
	s.closed = true
	close(s.events)
	close(s.resync)
	s.sendMu.Unlock()
}

func (s *Subscriber) setState(ch *channel, state State, err error) {
	s.mu.Lock()
	ch.state = state
	ch.err = err
	s.mu.Unlock()

	slog.Debug("feed channel state", "topic", ch.topic.String(), "state", state)
}

func (s *Subscriber) run(ctx context.Context, ch *channel) {
	defer s.wg.Done()

	schedule := s.cfg.NewBackOff()
	failures := 0
	for {
		sub, err := s.ps.Subscribe(ctx, ch.topic, nil, s.handle(ctx, ch.topic))
		if err == nil {
			failures = 0
			schedule.Reset()
			s.setState(ch, StateSubscribed, nil)
			s.emitResync(ctx, ch.topic.Type)

			select {
			case <-ctx.Done():
				if err := s.ps.Unsubscribe(sub); err != nil {
					slog.Warn("feed unsubscribe failed", "error", err, "topic", ch.topic.String())
				}
				s.setState(ch, StateDisconnected, nil)
				return
			case <-sub.Done():
			}

			err = sub.Err()
			if err == nil {
				err = model.ErrChannelDisconnected
			}
		}

		if ctx.Err() != nil {
			s.setState(ch, StateDisconnected, nil)
			return
		}

		failures++
		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			s.degrade(ch, err)
			return
		}

		slog.Warn("feed channel lost, retrying", "error", err, "topic", ch.topic.String(), "attempt", failures, "backoff", delay)
		s.setState(ch, StateReconnecting, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(ch, StateDisconnected, nil)
			return
		case <-timer.C:
		}
		s.setState(ch, StateConnecting, err)
	}
}

func (s *Subscriber) degrade(ch *channel, cause error) {
	err := cause
	if !errors.Is(err, model.ErrChannelDisconnected) {
		err = fmt.Errorf("%w: %v", model.ErrChannelDisconnected, cause)
	}

	s.setState(ch, StateDisconnected, err)
	slog.Error("feed channel gave up", "error", err, "topic", ch.topic.String(), "retry_budget", s.cfg.RetryBudget)

	if s.notifier != nil {
		s.notifier.Warning("Live updates paused",
			fmt.Sprintf("Lost connection for %s updates. Cached data is still available.", ch.topic.Type))
	}
}

func (s *Subscriber) handle(ctx context.Context, topic Topic) Handler {
	return func(env Envelope) {
		if env.UserID != topic.UserID || env.Type != topic.Type {
			s.quarantine(topic, fmt.Errorf("%w: envelope for %s on %s", ErrMalformed, env.Topic().String(), topic.String()))
			return
		}

		ev, err := Decode(env)
		if err != nil {
			s.quarantine(topic, err)
			return
		}

		s.sendMu.RLock()
		defer s.sendMu.RUnlock()
		if s.closed {
			return
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
		case <-s.done:
		}
	}
}

func (s *Subscriber) emitResync(ctx context.Context, t model.ResourceType) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.resync <- t:
	case <-ctx.Done():
	case <-s.done:
	}
}

func (s *Subscriber) quarantine(topic Topic, err error) {
	n := s.quarantined.Add(1)
	slog.Warn("quarantined change event", "error", err, "topic", topic.String(), "quarantined", n)
}
