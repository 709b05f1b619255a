package clientdb

import "context"

// EventKind classifies a change notification.
type EventKind string

const (
	// EventSet signals a fresh write of one object.
	EventSet EventKind = "set"
	// EventUpdate signals an in-place transform of one cached object.
	EventUpdate EventKind = "update"
	// EventReset signals a single object was invalidated; consumers are
	// expected to refetch it.
	EventReset EventKind = "reset"
	// EventResetCollection signals every row owned by or tagged with the
	// collection was removed; consumers should refetch.
	EventResetCollection EventKind = "resetCollection"
	// EventResetAll signals the whole cache was invalidated.
	EventResetAll EventKind = "resetAll"
	// EventDelete signals a source-of-truth removal of one object.
	EventDelete EventKind = "delete"
	// EventClearAll signals the store was wiped; no refetch is implied.
	EventClearAll EventKind = "clearAll"
)

// ObjEvent is delivered synchronously to listeners, in registration order.
type ObjEvent struct {
	Kind        EventKind
	Collection  string
	ID          string
	Payload     any
	IncludeRefs bool
}

// Listener receives change notifications. Listeners run synchronously on
// the emitting goroutine and must not block; calling back into mutating
// cache operations from a listener is safe only because cascading
// invalidation is deferred, so listeners should prefer scheduling work over
// doing it inline.
type Listener func(ev ObjEvent)

type listenerEntry struct {
	id int
	fn Listener
}

// Subscribe registers a listener. The returned function unregisters it;
// calling it more than once is a no-op.
func (c *cache) Subscribe(fn Listener) func() {
	c.lmu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// emit dispatches ev to every listener in registration order, then
// schedules any cascading invalidation the event qualifies for. Callers
// must not hold the write lock: listeners may read the cache.
func (c *cache) emit(ev ObjEvent) {
	c.lmu.Lock()
	ls := make([]listenerEntry, len(c.listeners))
	copy(ls, c.listeners)
	c.lmu.Unlock()

	for _, e := range ls {
		e.fn(ev)
	}
	c.scheduleCascades(ev)
}

// scheduleCascades enqueues dependent collections for a deferred full
// resetCollection. Never inline: a listener observing this event may itself
// hold application locks, and an inline reset would reacquire the write
// lock from within the notification path.
func (c *cache) scheduleCascades(ev ObjEvent) {
	switch ev.Kind {
	case EventReset, EventUpdate, EventDelete, EventResetCollection:
	default:
		return
	}
	for _, rel := range c.cfg.Relations {
		if rel.CascadeAll && rel.DepCollection == ev.Collection {
			c.enqueueCascade(rel.Collection)
		}
	}
}

func (c *cache) enqueueCascade(collection string) {
	c.cmu.Lock()
	if c.draining {
		// a collection already reset during this pass stays reset;
		// re-queueing it would cycle on mutually cascading relations
		if _, done := c.cascadeSeen[collection]; done {
			c.cmu.Unlock()
			return
		}
	}
	c.cascadePending[collection] = struct{}{}
	c.cmu.Unlock()

	select {
	case c.cascadeWake <- struct{}{}:
	default:
	}
}

func (c *cache) cascadeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.cascadeWake:
			c.drainCascades()
		}
	}
}

// drainCascades is one scheduling pass: it resets every pending collection,
// coalescing duplicates, until the queue is empty, then releases Flush
// waiters.
func (c *cache) drainCascades() {
	ctx := context.Background()

	c.cmu.Lock()
	c.draining = true
	c.cascadeSeen = make(map[string]struct{})
	for {
		var next string
		found := false
		for coll := range c.cascadePending {
			next, found = coll, true
			break
		}
		if !found {
			break
		}
		delete(c.cascadePending, next)
		if _, done := c.cascadeSeen[next]; done {
			continue
		}
		c.cascadeSeen[next] = struct{}{}
		c.cmu.Unlock()

		if err := c.resetCollection(ctx, next); err != nil {
			c.log.Error("cascade reset failed", Fields{"collection": next, "err": err})
		}

		c.cmu.Lock()
	}
	c.draining = false
	if len(c.cascadePending) == 0 {
		for _, ch := range c.flushWaiters {
			close(ch)
		}
		c.flushWaiters = nil
	}
	c.cmu.Unlock()
}

// Flush blocks until every scheduled cascade has been applied. Callers use
// it to observe a settled cache after a burst of invalidating events.
func (c *cache) Flush(ctx context.Context) error {
	c.cmu.Lock()
	if len(c.cascadePending) == 0 && !c.draining {
		c.cmu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.flushWaiters = append(c.flushWaiters, ch)
	c.cmu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
