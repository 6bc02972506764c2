// Package reconcile merges optimistic local writes, repository results and
// remote change events into one per-session cache.
//
// Every cache entry is keyed by resource id. Local mutations are applied
// optimistically, committed through the repositories and then either adopted
// (the server value wins for derived fields) or rolled back to the exact
// pre-mutation entry. Remote events are deduplicated by (id, operation,
// version) and merged last-writer-wins by version.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/templui/healthsync/internal/ctxkeys"
	"github.com/templui/healthsync/internal/model"
	"github.com/templui/healthsync/internal/notify"
	"github.com/templui/healthsync/internal/repository"
	"github.com/templui/healthsync/internal/streak"
)

// ErrClosed is returned by mutations on a coordinator whose session ended.
var ErrClosed = errors.New("coordinator closed")

// maxSeen bounds the delivery dedup set. Version comparison keeps apply
// idempotent once it is reset.
const maxSeen = 10_000

// Notifier is the slice of notify.Queue the coordinator needs.
type Notifier interface {
	Add(spec notify.Spec) int64
}

type inflight struct {
	// base is the entry to roll back to, nil when the id was not cached.
	// Remote changes that land while the mutation is in flight update it.
	base *model.CacheEntry
}

type mutation struct {
	id         string
	kind       model.ResourceType
	op         model.Operation
	optimistic model.Resource // nil for deletes
	commit     func(ctx context.Context) (model.Resource, error)
	describe   func(result model.Resource) (title, message string)
}

// Coordinator owns one user session's cache. It is safe for concurrent use.
type Coordinator struct {
	repos     *repository.Set
	userID    string
	sessionID string
	notifier  Notifier

	locks keyedMutex

	mu         sync.Mutex
	cache      map[string]*model.CacheEntry
	inflight   map[string]*inflight
	acked      map[string]int64
	seen       map[model.EventKey]struct{}
	tombstones map[string]int64

	// While a refresh is running, every cache write records a generation in
	// touched so the refresh never removes an entry written after its list.
	gen        uint64
	refreshing int
	touched    map[string]uint64

	closed atomic.Bool
}

func New(repos *repository.Set, userID, sessionID string, notifier Notifier) *Coordinator {
	return &Coordinator{
		repos:      repos,
		userID:     userID,
		sessionID:  sessionID,
		notifier:   notifier,
		cache:      make(map[string]*model.CacheEntry),
		inflight:   make(map[string]*inflight),
		acked:      make(map[string]int64),
		seen:       make(map[model.EventKey]struct{}),
		tombstones: make(map[string]int64),
		touched:    make(map[string]uint64),
	}
}

func (c *Coordinator) UserID() string    { return c.userID }
func (c *Coordinator) SessionID() string { return c.sessionID }

// Close stops the coordinator. Repository calls still in flight complete,
// but their results are discarded.
func (c *Coordinator) Close() {
	c.closed.Store(true)
}

// Closed reports whether Close has been called.
func (c *Coordinator) Closed() bool {
	return c.closed.Load()
}

// Get returns a copy of the cached value.
func (c *Coordinator) Get(id string) (model.Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[id]
	if !ok {
		return nil, false
	}
	return e.Value.Clone(), true
}

// Entry returns a copy of the cache entry for id, flags included.
func (c *Coordinator) Entry(id string) (model.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[id]
	if !ok {
		return model.CacheEntry{}, false
	}
	out := *e
	out.Value = e.Value.Clone()
	return out, true
}

// List returns the cached resources of one type, newest version first.
func (c *Coordinator) List(t model.ResourceType) []model.Resource {
	c.mu.Lock()
	entries := make([]*model.CacheEntry, 0, len(c.cache))
	for _, e := range c.cache {
		if e.Value.Kind() == t {
			entries = append(entries, e)
		}
	}
	out := make([]model.Resource, 0, len(entries))
	slices.SortFunc(entries, func(a, b *model.CacheEntry) int {
		if n := cmp.Compare(b.Version, a.Version); n != 0 {
			return n
		}
		return cmp.Compare(a.Value.ResourceID(), b.Value.ResourceID())
	})
	for _, e := range entries {
		out = append(out, e.Value.Clone())
	}
	c.mu.Unlock()

	return out
}

// Len reports the number of cached entries across all types.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Create records a new resource of any tracked type. Goals fall back to
// updating the existing goal for the same type and date.
func (c *Coordinator) Create(ctx context.Context, r model.Resource) (model.Resource, error) {
	if r == nil {
		return nil, &model.ValidationError{Field: "resource", Reason: "required"}
	}

	value, err := c.stamp(r)
	if err != nil {
		c.fail(r.Kind(), model.OpInsert, "", err)
		return nil, err
	}

	// A goal for an existing (type, date) lands on that goal's id, so its
	// adjustments must wait for this create.
	if g, ok := value.(*model.HealthGoal); ok {
		if existing := c.goalConflictID(ctx, g); existing != "" {
			unlockExisting := c.locks.Lock(existing)
			defer unlockExisting()
		}
	}

	id := value.ResourceID()
	unlock := c.locks.Lock(id)
	defer unlock()

	return c.run(ctx, mutation{
		id:         id,
		kind:       value.Kind(),
		op:         model.OpInsert,
		optimistic: value,
		commit: func(ctx context.Context) (model.Resource, error) {
			return c.insert(ctx, value.Clone())
		},
		describe: func(model.Resource) (string, string) {
			return label(value.Kind()) + " saved", ""
		},
	})
}

// UpdateGoal applies a partial edit to a goal. An edit that reaches the
// target counts as an achievement and advances the streak like AdjustGoal.
func (c *Coordinator) UpdateGoal(ctx context.Context, id string, patch model.GoalPatch) (*model.HealthGoal, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	current, err := c.currentGoal(ctx, id)
	if err != nil {
		c.fail(model.ResourceGoal, model.OpUpdate, id, err)
		return nil, err
	}

	next := streak.Settle(*current, patch.Apply(*current))
	if err := next.Validate(); err != nil {
		c.fail(model.ResourceGoal, model.OpUpdate, id, err)
		return nil, err
	}
	transition := streak.Diff(*current, next)

	result, err := c.run(ctx, mutation{
		id:         id,
		kind:       model.ResourceGoal,
		op:         model.OpUpdate,
		optimistic: &next,
		commit: func(ctx context.Context) (model.Resource, error) {
			if transition.StreakAdvanced {
				g := next
				return resource(c.repos.Goals.Save(ctx, &g))
			}
			return resource(c.repos.Goals.Update(ctx, c.userID, id, patch))
		},
		describe: func(r model.Resource) (string, string) {
			if transition.BecameAchieved {
				return achievedMessage(r.(*model.HealthGoal), transition)
			}
			return "Goal updated", ""
		},
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.HealthGoal), nil
}

// AdjustGoal adds delta to a goal's current value and persists the progress
// and streak transition. Adjustments to the same goal are serialized, so a
// +2 followed by a -1 always nets +1.
func (c *Coordinator) AdjustGoal(ctx context.Context, id string, delta float64) (*model.HealthGoal, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	current, err := c.currentGoal(ctx, id)
	if err != nil {
		c.fail(model.ResourceGoal, model.OpUpdate, id, err)
		return nil, err
	}

	next := streak.Apply(*current, delta)
	transition := streak.Diff(*current, next)

	result, err := c.run(ctx, mutation{
		id:         id,
		kind:       model.ResourceGoal,
		op:         model.OpUpdate,
		optimistic: &next,
		commit: func(ctx context.Context) (model.Resource, error) {
			g := next
			return resource(c.repos.Goals.Save(ctx, &g))
		},
		describe: func(r model.Resource) (string, string) {
			g := r.(*model.HealthGoal)
			if transition.BecameAchieved {
				return achievedMessage(g, transition)
			}
			return "Progress updated", fmt.Sprintf("%s: %g/%g %s", g.Title, g.CurrentValue, g.TargetValue, g.Unit)
		},
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.HealthGoal), nil
}

func achievedMessage(g *model.HealthGoal, t streak.Transition) (string, string) {
	if t.StreakAdvanced {
		return "Goal achieved", fmt.Sprintf("%s: %d day streak", g.Title, g.Streak)
	}
	return "Goal achieved", g.Title
}

// Delete removes a resource. The cache entry is flagged while the delete is
// in flight and only leaves the cache once the repository confirms.
func (c *Coordinator) Delete(ctx context.Context, t model.ResourceType, id string) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	_, err := c.run(ctx, mutation{
		id:   id,
		kind: t,
		op:   model.OpDelete,
		commit: func(ctx context.Context) (model.Resource, error) {
			return nil, c.repos.Delete(ctx, t, c.userID, id)
		},
		describe: func(model.Resource) (string, string) {
			return label(t) + " deleted", ""
		},
	})
	return err
}

// run executes a mutation. The caller holds the keyed lock for m.id.
func (c *Coordinator) run(ctx context.Context, m mutation) (model.Resource, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.begin(m)

	result, err := m.commit(c.scope(ctx))

	if c.closed.Load() {
		slog.Debug("discarding repository result after close", "resource_id", m.id, "op", m.op)
		return nil, ErrClosed
	}

	if err != nil {
		c.rollback(m.id)
		c.fail(m.kind, m.op, m.id, err)
		return nil, err
	}

	c.resolve(m, result)

	title, message := m.describe(result)
	c.notifier.Add(notify.Spec{Type: model.NotificationSuccess, Title: title, Message: message})

	if result == nil {
		return nil, nil
	}
	return result.Clone(), nil
}

func (c *Coordinator) begin(m mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := &inflight{}
	current, ok := c.cache[m.id]
	if ok {
		base := *current
		p.base = &base
	}
	c.inflight[m.id] = p
	c.touch(m.id)

	if m.op == model.OpDelete {
		if ok {
			c.cache[m.id] = &model.CacheEntry{Value: current.Value, Version: current.Version, Pending: true, Deleting: true}
		}
		return
	}

	var version int64
	if p.base != nil {
		version = p.base.Version
	}
	c.cache[m.id] = &model.CacheEntry{Value: m.optimistic.Clone(), Version: version, Pending: true}
}

// rollback restores the entry exactly as it was before the mutation, or as
// the latest remote change left it while the mutation was in flight.
func (c *Coordinator) rollback(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.inflight[id]
	delete(c.inflight, id)

	if p == nil || p.base == nil {
		delete(c.cache, id)
		return
	}
	restored := *p.base
	c.cache[id] = &restored
}

func (c *Coordinator) resolve(m mutation, result model.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.inflight[m.id]
	delete(c.inflight, m.id)
	c.touch(m.id)

	if m.op == model.OpDelete {
		delete(c.cache, m.id)
		if p != nil && p.base != nil {
			c.tombstone(m.id, p.base.Version)
			c.ack(m.id, p.base.Version)
		}
		return
	}

	id := result.ResourceID()
	version := result.Version()
	c.ack(id, version)
	c.touch(id)

	if id != m.id {
		// Conflict fallback: the server kept an existing row under its own id.
		delete(c.cache, m.id)
	}

	if tomb, ok := c.tombstones[id]; ok && tomb >= version {
		delete(c.cache, id)
		return
	}

	// A newer remote write that arrived while this one was in flight wins.
	if id == m.id && p != nil && p.base != nil && p.base.Version > version {
		restored := *p.base
		c.cache[id] = &restored
		return
	}
	if existing, ok := c.cache[id]; ok && id != m.id && existing.Version > version {
		return
	}

	c.cache[id] = &model.CacheEntry{Value: result.Clone(), Version: version}
}

// Apply merges a validated remote change event into the cache.
func (c *Coordinator) Apply(ev model.ChangeEvent) {
	if c.closed.Load() || ev.Payload == nil {
		return
	}
	if ev.Payload.Owner() != c.userID {
		slog.Warn("dropping change event for another user", "resource_id", ev.ResourceID, "owner", ev.Payload.Owner())
		return
	}

	c.mu.Lock()
	changed := c.applyLocked(ev)
	c.mu.Unlock()

	if changed {
		c.notifier.Add(notify.Spec{
			Type:    model.NotificationInfo,
			Title:   label(ev.ResourceType) + " " + pastTense(ev.Operation),
			Message: "A change made on another device was applied.",
		})
	}
}

// applyLocked reports whether a foreign change altered what the user sees.
func (c *Coordinator) applyLocked(ev model.ChangeEvent) bool {
	key := ev.Key()
	if _, dup := c.seen[key]; dup {
		return false
	}
	if len(c.seen) >= maxSeen {
		clear(c.seen)
	}
	c.seen[key] = struct{}{}

	own := c.sessionID != "" && ev.OriginSession == c.sessionID
	if v, ok := c.acked[ev.ResourceID]; ok && ev.Version <= v {
		own = true
	}

	if p, ok := c.inflight[ev.ResourceID]; ok {
		if own {
			// Echo of the write in flight; resolve adopts the result.
			return false
		}
		if p.base != nil && p.base.Version >= ev.Version {
			return false
		}
		if ev.Operation == model.OpDelete {
			c.tombstone(ev.ResourceID, ev.Version)
			p.base = nil
		} else {
			p.base = &model.CacheEntry{Value: ev.Payload.Clone(), Version: ev.Version}
		}
		return true
	}

	return c.merge(ev) && !own
}

// merge applies last-writer-wins by version.
func (c *Coordinator) merge(ev model.ChangeEvent) bool {
	id := ev.ResourceID
	entry, cached := c.cache[id]

	if ev.Operation == model.OpDelete {
		c.tombstone(id, ev.Version)
		if !cached || entry.Version > ev.Version {
			return false
		}
		delete(c.cache, id)
		return true
	}

	if tomb, ok := c.tombstones[id]; ok && ev.Version <= tomb {
		return false
	}
	if cached && entry.Version >= ev.Version {
		return false
	}

	c.cache[id] = &model.CacheEntry{Value: ev.Payload.Clone(), Version: ev.Version}
	c.touch(id)
	return true
}

// Refresh reloads every resource of one type from the repository. Entries
// with a mutation in flight keep their optimistic value; their rollback base
// is brought up to date instead. Entries written while the list was being
// read are newer than the list and are left alone.
func (c *Coordinator) Refresh(ctx context.Context, t model.ResourceType) (int, error) {
	c.mu.Lock()
	c.refreshing++
	watermark := c.gen
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing--
		if c.refreshing == 0 {
			clear(c.touched)
		}
		c.mu.Unlock()
	}()

	items, err := repository.Collect(c.repos.List(c.scope(ctx), t, c.userID))
	if err != nil {
		return 0, fmt.Errorf("failed to refresh %s: %w", t, err)
	}
	if c.closed.Load() {
		return 0, ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := 0
	present := make(map[string]struct{}, len(items))
	for _, r := range items {
		id := r.ResourceID()
		version := r.Version()
		present[id] = struct{}{}

		if tomb, ok := c.tombstones[id]; ok && version <= tomb {
			continue
		}
		if p, ok := c.inflight[id]; ok {
			if p.base == nil || p.base.Version < version {
				p.base = &model.CacheEntry{Value: r, Version: version}
			}
			continue
		}
		if e, ok := c.cache[id]; ok && e.Version >= version {
			continue
		}

		delete(c.tombstones, id)
		c.cache[id] = &model.CacheEntry{Value: r, Version: version}
		changed++
	}

	for id, e := range c.cache {
		if e.Value.Kind() != t {
			continue
		}
		if _, ok := present[id]; ok {
			continue
		}
		if c.touched[id] > watermark {
			continue
		}
		if p, ok := c.inflight[id]; ok {
			if p.base != nil {
				c.tombstone(id, p.base.Version)
				p.base = nil
			}
			continue
		}
		c.tombstone(id, e.Version)
		delete(c.cache, id)
		changed++
	}

	slog.Debug("cache refreshed", "resource_type", t, "source", model.SourceManualRefresh, "items", len(items), "changed", changed)
	return changed, nil
}

// Run consumes change events and resync signals until ctx is done or both
// streams are closed.
func (c *Coordinator) Run(ctx context.Context, events <-chan model.ChangeEvent, resync <-chan model.ResourceType) {
	for events != nil || resync != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.Apply(ev)
		case t, ok := <-resync:
			if !ok {
				resync = nil
				continue
			}
			if _, err := c.Refresh(ctx, t); err != nil && !errors.Is(err, ErrClosed) {
				slog.Warn("resync failed", "error", err, "resource_type", t)
			}
		}
	}
}

func (c *Coordinator) scope(ctx context.Context) context.Context {
	return ctxkeys.WithSessionID(ctx, c.sessionID)
}

func (c *Coordinator) ack(id string, version int64) {
	if version > c.acked[id] {
		c.acked[id] = version
	}
}

// touch records a cache write for any refresh currently reading the
// repository. The caller holds c.mu.
func (c *Coordinator) touch(id string) {
	c.gen++
	if c.refreshing > 0 {
		c.touched[id] = c.gen
	}
}

func (c *Coordinator) tombstone(id string, version int64) {
	if version > c.tombstones[id] {
		c.tombstones[id] = version
	}
}

func (c *Coordinator) fail(kind model.ResourceType, op model.Operation, id string, err error) {
	slog.Warn("mutation failed", "error", err, "resource_type", kind, "resource_id", id, "op", op)

	verb := "not saved"
	if op == model.OpDelete {
		verb = "not deleted"
	}
	c.notifier.Add(notify.Spec{
		Type:      model.NotificationError,
		Title:     label(kind) + " " + verb,
		Message:   failureMessage(err),
		Retryable: model.IsRetryable(err),
	})
}

// currentGoal returns the cached goal, loading it when it is not cached yet.
func (c *Coordinator) currentGoal(ctx context.Context, id string) (*model.HealthGoal, error) {
	c.mu.Lock()
	e, ok := c.cache[id]
	c.mu.Unlock()

	if ok {
		if e.Deleting {
			return nil, model.ErrNotFound
		}
		g, isGoal := e.Value.(*model.HealthGoal)
		if !isGoal {
			return nil, &model.ValidationError{Field: "id", Reason: "not a goal"}
		}
		return g.Clone().(*model.HealthGoal), nil
	}

	g, err := c.repos.Goals.ByID(c.scope(ctx), c.userID, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.merge(model.ChangeEvent{
		ResourceType: model.ResourceGoal,
		Operation:    model.OpUpdate,
		ResourceID:   id,
		Payload:      g.Clone(),
		Source:       model.SourceManualRefresh,
		Version:      g.Version(),
	})
	c.mu.Unlock()

	return g, nil
}

// goalConflictID returns the id of the stored goal that an insert of g would
// update instead, or "" when there is none or it cannot be determined.
func (c *Coordinator) goalConflictID(ctx context.Context, g *model.HealthGoal) string {
	items, err := repository.Collect(c.repos.Goals.Query(c.scope(ctx), repository.Filter{
		UserID:   c.userID,
		GoalType: g.GoalType,
		Date:     g.Date,
		Limit:    1,
	}))
	if err != nil {
		slog.Debug("goal conflict lookup failed", "error", err, "goal_type", g.GoalType, "date", g.Date)
		return ""
	}
	for _, existing := range items {
		if existing.ID != g.ID {
			return existing.ID
		}
	}
	return ""
}

// stamp copies r and fills in identity so the optimistic entry and the
// repository insert share one id.
func (c *Coordinator) stamp(r model.Resource) (model.Resource, error) {
	value := r.Clone()

	var b *model.Base
	var validate func() error
	switch v := value.(type) {
	case *model.Symptom:
		b, validate = &v.Base, v.Validate
	case *model.HealthGoal:
		b, validate = &v.Base, v.Validate
		v.Achieved = streak.Achieved(v.CurrentValue, v.TargetValue)
	case *model.MoodEntry:
		b, validate = &v.Base, v.Validate
	case *model.MeditationSession:
		b, validate = &v.Base, v.Validate
	default:
		return nil, &model.ValidationError{Field: "resource_type", Reason: fmt.Sprintf("unsupported %T", r)}
	}

	if b.UserID == "" {
		b.UserID = c.userID
	}
	if b.UserID != c.userID {
		return nil, model.ErrPermission
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	return value, validate()
}

func (c *Coordinator) insert(ctx context.Context, r model.Resource) (model.Resource, error) {
	switch v := r.(type) {
	case *model.Symptom:
		return resource(c.repos.Symptoms.Create(ctx, v))
	case *model.HealthGoal:
		return resource(c.repos.Goals.CreateOrUpdate(ctx, v))
	case *model.MoodEntry:
		return resource(c.repos.Moods.Create(ctx, v))
	case *model.MeditationSession:
		return resource(c.repos.Meditations.Create(ctx, v))
	}
	return nil, &model.ValidationError{Field: "resource_type", Reason: fmt.Sprintf("unsupported %T", r)}
}

// resource drops the typed nil a failed repository call returns.
func resource[T model.Resource](v T, err error) (model.Resource, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}
