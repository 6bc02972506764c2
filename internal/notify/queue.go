// Package notify holds the transient notification list shared by every
// tracker in a session. Entries expire on their own after a TTL unless they
// are sticky.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/templui/healthsync/internal/model"
)

const (
	DefaultTTL = 5 * time.Second
	// Sticky disables auto-removal. Negative TTLs behave the same way.
	Sticky time.Duration = 0
)

// Spec describes a notification to add. A nil TTL selects the queue default;
// a TTL of zero is sticky.
type Spec struct {
	Type    model.NotificationType
	Title   string
	Message string
	TTL     *time.Duration
	// Retryable marks an error the user can resolve by trying again.
	Retryable bool
}

// TTL returns d as a Spec.TTL value.
func TTL(d time.Duration) *time.Duration {
	return &d
}

// Queue is safe for concurrent producers. Identical notifications are not
// collapsed.
type Queue struct {
	mu         sync.Mutex
	nextID     int64
	items      []model.Notification
	timers     map[int64]*time.Timer
	subs       map[int]chan []model.Notification
	nextSub    int
	defaultTTL time.Duration
	closed     bool
}

func New(defaultTTL time.Duration) *Queue {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Queue{
		timers:     make(map[int64]*time.Timer),
		subs:       make(map[int]chan []model.Notification),
		defaultTTL: defaultTTL,
	}
}

// Add appends a notification and returns its id. Ids increase monotonically
// for the lifetime of the queue, ClearAll included.
func (q *Queue) Add(spec Spec) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	id := q.nextID

	ttl := q.defaultTTL
	if spec.TTL != nil {
		ttl = max(*spec.TTL, 0)
	}

	typ := spec.Type
	if typ == "" {
		typ = model.NotificationInfo
	}

	n := model.Notification{
		ID:        id,
		Type:      typ,
		Title:     spec.Title,
		Message:   spec.Message,
		TTL:       ttl,
		Retryable: spec.Retryable,
		CreatedAt: time.Now(),
	}

	if q.closed {
		return id
	}

	q.items = append(q.items, n)
	if !n.Sticky() {
		q.timers[id] = time.AfterFunc(ttl, func() { q.expire(id) })
	}

	slog.Debug("notification added", "id", id, "type", typ, "title", spec.Title, "ttl_ms", ttl.Milliseconds())
	q.publishLocked()
	return id
}

// Success, Error, Info and Warning add a notification of that type with the
// default TTL.
func (q *Queue) Success(title, message string) int64 {
	return q.Add(Spec{Type: model.NotificationSuccess, Title: title, Message: message})
}

func (q *Queue) Error(title, message string) int64 {
	return q.Add(Spec{Type: model.NotificationError, Title: title, Message: message})
}

func (q *Queue) Info(title, message string) int64 {
	return q.Add(Spec{Type: model.NotificationInfo, Title: title, Message: message})
}

func (q *Queue) Warning(title, message string) int64 {
	return q.Add(Spec{Type: model.NotificationWarning, Title: title, Message: message})
}

// Remove drops the notification and cancels its expiry timer. It reports
// whether the id was present.
func (q *Queue) Remove(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
	return q.removeLocked(id)
}

// ClearAll drops every entry and cancels all pending timers.
func (q *Queue) ClearAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.items = nil
	q.publishLocked()
}

func (q *Queue) List() []model.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Len reports the number of live notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Subscribe returns a stream of list snapshots for renderers. The current
// list is delivered first; slow readers only ever see the latest snapshot.
// Call cancel to stop receiving.
func (q *Queue) Subscribe() (<-chan []model.Notification, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan []model.Notification, 1)
	if q.closed {
		close(ch)
		return ch, func() {}
	}

	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	ch <- q.snapshotLocked()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if sub, ok := q.subs[id]; ok {
				delete(q.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Close cancels every timer and ends all subscriptions. Adds after Close are
// accepted but not stored.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.items = nil
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
}

func (q *Queue) expire(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Remove or ClearAll may have won the race; the timer entry tells us.
	if _, ok := q.timers[id]; !ok {
		return
	}
	delete(q.timers, id)
	q.removeLocked(id)
}

func (q *Queue) removeLocked(id int64) bool {
	for i, n := range q.items {
		if n.ID == id {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			q.publishLocked()
			return true
		}
	}
	return false
}

func (q *Queue) snapshotLocked() []model.Notification {
	out := make([]model.Notification, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) publishLocked() {
	if len(q.subs) == 0 {
		return
	}
	snap := q.snapshotLocked()
	for _, ch := range q.subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale snapshot the reader has not picked up yet.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
