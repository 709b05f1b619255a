package clientdb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/clientdb/codec"
	"github.com/unkn0wn-root/clientdb/internal/wire"
	"github.com/unkn0wn-root/clientdb/remote"
	"github.com/unkn0wn-root/clientdb/store"
)

// refSnapshot is the decoded payload of a relation-snapshot row: a single
// id or an ordered id list. A single snapshot with no ids records a
// confirmed-absent relation.
type refSnapshot struct {
	single bool
	ids    []string
}

// memRecord mirrors one persisted row with its payload deserialized. For
// snapshot rows value holds a *refSnapshot instead of a document.
type memRecord struct {
	expires       int64
	collection    string
	refCollection string
	id            string
	value         any
	isRef         bool
}

type cache struct {
	cfg      Config
	keys     *keyResolver
	st       store.Adapter
	remote   remote.Source
	codec    codec.Codec
	log      Logger
	ttl      time.Duration
	ownStore bool

	// now is swapped in tests to control TTL boundaries.
	now func() time.Time

	// mu guards the mem mirror and the loaded-relation markers. Plain
	// reads take it briefly and never suspend while holding it.
	mu     sync.RWMutex
	mem    map[string]*memRecord
	loaded map[string]struct{}

	// writer admits one mutation sequence at a time, FIFO.
	writer *writeLock

	// flight coalesces concurrent identical fetch/resolve operations.
	flight singleflight.Group

	lmu          sync.Mutex
	listeners    []listenerEntry
	nextListener int

	// deferred cascading invalidation
	cmu            sync.Mutex
	cascadePending map[string]struct{}
	cascadeSeen    map[string]struct{}
	draining       bool
	flushWaiters   []chan struct{}
	cascadeWake    chan struct{}

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// expiry converts a TTL into an absolute unix-millisecond deadline.
// Non-positive TTLs produce 0, the never-expires sentinel.
func (c *cache) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return c.now().Add(ttl).UnixMilli()
}

func (c *cache) stale(expires int64) bool {
	return expires != 0 && c.now().UnixMilli() >= expires
}

// memLookup returns the resident entry regardless of freshness.
func (c *cache) memLookup(collection, id string) (*memRecord, bool) {
	c.mu.RLock()
	mr, ok := c.mem[memKey(collection, id)]
	c.mu.RUnlock()
	return mr, ok
}

// localEntry reads one entry from the local tiers only: mem first, then the
// persistent store (restoring the row into mem). Stale entries are treated
// as absent. ref selects snapshot decoding instead of the payload codec.
func (c *cache) localEntry(ctx context.Context, collection, id string, ref bool) (memRecord, bool, error) {
	if mr, ok := c.memLookup(collection, id); ok {
		if c.stale(mr.expires) {
			return memRecord{}, false, nil
		}
		return *mr, true, nil
	}

	rec, ok, err := c.st.Get(ctx, collection, id)
	if err != nil {
		return memRecord{}, false, err
	}
	if !ok || c.stale(rec.Expires) {
		return memRecord{}, false, nil
	}

	mr := memRecord{
		expires:       rec.Expires,
		collection:    rec.Collection,
		refCollection: rec.RefCollection,
		id:            rec.ID,
		isRef:         ref,
	}
	if ref {
		single, ids, err := wire.DecodeRef(rec.Payload)
		if err != nil {
			// foreign or stale bytes in a snapshot row; treat as a miss
			// and let the refresh path overwrite it
			c.log.Warn("corrupt ref snapshot", Fields{"collection": collection, "id": id, "err": err})
			return memRecord{}, false, nil
		}
		mr.value = &refSnapshot{single: single, ids: ids}
	} else {
		v, err := c.codec.Decode(rec.Payload)
		if err != nil {
			c.log.Warn("corrupt payload", Fields{"collection": collection, "id": id, "err": err})
			return memRecord{}, false, nil
		}
		mr.value = v
	}

	c.mu.Lock()
	c.mem[memKey(collection, id)] = &mr
	c.mu.Unlock()
	return mr, true, nil
}

func (c *cache) localObject(ctx context.Context, collection, id string) (any, bool, error) {
	mr, ok, err := c.localEntry(ctx, collection, id, false)
	if err != nil || !ok {
		return nil, false, err
	}
	return mr.value, true, nil
}

func (c *cache) localRef(ctx context.Context, flagCollection, id string) (*refSnapshot, bool, error) {
	mr, ok, err := c.localEntry(ctx, flagCollection, id, true)
	if err != nil || !ok {
		return nil, false, err
	}
	snap, ok := mr.value.(*refSnapshot)
	if !ok {
		return nil, false, nil
	}
	return snap, true, nil
}

// endpointFor resolves the remote path for a collection/id pair:
// crudPrefix+collection[/id], or the configured per-collection override.
func (c *cache) endpointFor(collection, id string) string {
	if fn, ok := c.cfg.EndpointFuncs[collection]; ok && fn != nil {
		return fn(collection, id)
	}
	base, ok := c.cfg.Endpoints[collection]
	if !ok {
		base = c.cfg.CRUDPrefix + collection
	}
	if id == "" {
		return base
	}
	return base + "/" + id
}

// Get returns the object for (collection, id), reading through mem, the
// persistent store, and finally the remote. A nil result with a nil error
// is a confirmed-absent object, cached negatively until its TTL elapses.
func (c *cache) Get(ctx context.Context, collection, id string) (any, error) {
	return c.fetch(ctx, collection, id, "")
}

// GetFrom is Get with a per-call endpoint override.
func (c *cache) GetFrom(ctx context.Context, collection, id, endpoint string) (any, error) {
	return c.fetch(ctx, collection, id, endpoint)
}

func (c *cache) fetch(ctx context.Context, collection, id, endpoint string) (any, error) {
	if mr, ok := c.memLookup(collection, id); ok && !c.stale(mr.expires) {
		return mr.value, nil
	}
	v, err, _ := c.flight.Do(dedupKey("get", collection, id, endpoint), func() (any, error) {
		return c.fetchSlow(ctx, collection, id, endpoint)
	})
	return v, err
}

func (c *cache) fetchSlow(ctx context.Context, collection, id, endpoint string) (any, error) {
	// a coalesced caller may have populated the tiers already
	if v, ok, err := c.localObject(ctx, collection, id); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	path := endpoint
	if path == "" {
		path = c.endpointFor(collection, id)
	}
	payload, err := c.remote.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := c.writeThrough(ctx, collection, id, payload, c.expiry(c.ttl)); err != nil {
		return nil, err
	}
	c.log.Debug("fetched", Fields{"collection": collection, "id": id, "absent": payload == nil})
	c.emit(ObjEvent{Kind: EventSet, Collection: collection, ID: id, Payload: payload})
	return payload, nil
}

// writeThrough persists one object into both tiers under the write lock.
// An existing row keeps its refCollection tag across overwrites.
func (c *cache) writeThrough(ctx context.Context, collection, id string, value any, expires int64) error {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("clientdb: encode %s/%s: %w", collection, id, err)
	}
	return c.withWriter(ctx, func() error {
		prev, ok, err := c.st.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		refTag := ""
		if ok {
			refTag = prev.RefCollection
		}
		rec := store.Record{
			Expires:       expires,
			Collection:    collection,
			RefCollection: refTag,
			ID:            id,
			Payload:       payload,
		}
		if err := c.st.Upsert(ctx, []store.Record{rec}); err != nil {
			return err
		}
		c.mu.Lock()
		c.mem[memKey(collection, id)] = &memRecord{
			expires:       expires,
			collection:    collection,
			refCollection: refTag,
			id:            id,
			value:         value,
		}
		c.dropLoadedLocked(collection)
		c.mu.Unlock()
		return nil
	})
}

// Peek reads the mem tier only. It never suspends and never touches the
// store or the remote. (nil, true) is a confirmed-absent object; (nil,
// false) means nothing is loaded for the key.
func (c *cache) Peek(collection, id string) (any, bool) {
	c.mu.RLock()
	mr, ok := c.mem[memKey(collection, id)]
	c.mu.RUnlock()
	if !ok || mr.isRef || c.stale(mr.expires) {
		return nil, false
	}
	return mr.value, true
}

// Set writes obj through both tiers under its primary key with the default
// TTL and fires a set event.
func (c *cache) Set(ctx context.Context, collection string, obj any) error {
	return c.SetWithTTL(ctx, collection, obj, c.ttl)
}

// SetWithTTL is Set with an explicit freshness window. A non-positive ttl
// stores a never-expiring entry.
func (c *cache) SetWithTTL(ctx context.Context, collection string, obj any, ttl time.Duration) error {
	id, ok := c.keys.key(collection, obj)
	if !ok {
		return fmt.Errorf("%w (collection %q)", ErrKeyNotFound, collection)
	}
	if err := c.writeThrough(ctx, collection, id, obj, c.expiry(ttl)); err != nil {
		return err
	}
	c.emit(ObjEvent{Kind: EventSet, Collection: collection, ID: id, Payload: obj})
	return nil
}

// Delete removes (collection, id) from both tiers and fires a delete event.
func (c *cache) Delete(ctx context.Context, collection, id string) error {
	err := c.withWriter(ctx, func() error {
		if err := c.st.Delete(ctx, collection, id); err != nil {
			return err
		}
		c.mu.Lock()
		delete(c.mem, memKey(collection, id))
		c.dropLoadedLocked(collection)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	c.emit(ObjEvent{Kind: EventDelete, Collection: collection, ID: id})
	return nil
}

// UpdateInPlace applies transform to the cached object if it is resident
// and unexpired in either tier. The transform must return a new value:
// handing back its input is ErrSameReference. Expiry and the refCollection
// tag are preserved. Returns false when nothing is resident.
func (c *cache) UpdateInPlace(ctx context.Context, collection, id string, transform func(any) any) (bool, error) {
	mr, ok, err := c.localEntry(ctx, collection, id, false)
	if err != nil || !ok {
		return false, err
	}

	next := transform(mr.value)
	if sameIdentity(next, mr.value) {
		return false, ErrSameReference
	}

	payload, err := c.codec.Encode(next)
	if err != nil {
		return false, fmt.Errorf("clientdb: encode %s/%s: %w", collection, id, err)
	}
	err = c.withWriter(ctx, func() error {
		rec := store.Record{
			Expires:       mr.expires,
			Collection:    collection,
			RefCollection: mr.refCollection,
			ID:            id,
			Payload:       payload,
		}
		if err := c.st.Upsert(ctx, []store.Record{rec}); err != nil {
			return err
		}
		c.mu.Lock()
		c.mem[memKey(collection, id)] = &memRecord{
			expires:       mr.expires,
			collection:    collection,
			refCollection: mr.refCollection,
			id:            id,
			value:         next,
		}
		c.dropLoadedLocked(collection)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return false, err
	}
	c.emit(ObjEvent{Kind: EventUpdate, Collection: collection, ID: id, Payload: next})
	return true, nil
}

// Reset invalidates one object: the row and every relation snapshot it owns
// are removed from both tiers. Consumers are expected to refetch.
func (c *cache) Reset(ctx context.Context, collection, id string) error {
	droppedRefs := 0
	err := c.withWriter(ctx, func() error {
		if err := c.st.Delete(ctx, collection, id); err != nil {
			return err
		}
		n, err := c.st.DeleteOwnedRefs(ctx, collection, id)
		if err != nil {
			return err
		}
		droppedRefs = n

		prefix := collection + refMarker
		c.mu.Lock()
		delete(c.mem, memKey(collection, id))
		for k, mr := range c.mem {
			if mr.id == id && strings.HasPrefix(mr.collection, prefix) {
				delete(c.mem, k)
				droppedRefs++
			}
		}
		c.dropLoadedLocked(collection)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	c.emit(ObjEvent{Kind: EventReset, Collection: collection, ID: id, IncludeRefs: droppedRefs > 0})
	return nil
}

// ResetCollection invalidates every row tagged with the collection, as
// owner or as refCollection, plus its relation pseudo-collections.
func (c *cache) ResetCollection(ctx context.Context, collection string) error {
	return c.resetCollection(ctx, collection)
}

func (c *cache) resetCollection(ctx context.Context, collection string) error {
	err := c.withWriter(ctx, func() error {
		if err := c.st.DeleteCollection(ctx, collection); err != nil {
			return err
		}
		prefix := collection + refMarker
		c.mu.Lock()
		for k, mr := range c.mem {
			if mr.collection == collection || mr.refCollection == collection ||
				strings.HasPrefix(mr.collection, prefix) {
				delete(c.mem, k)
			}
		}
		// rows tagged refCollection=collection live under other
		// collections, so every scan marker is suspect
		c.loaded = make(map[string]struct{})
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	c.log.Debug("collection reset", Fields{"collection": collection})
	c.emit(ObjEvent{Kind: EventResetCollection, Collection: collection})
	return nil
}

// ResetAll invalidates everything; consumers refetch on next access.
func (c *cache) ResetAll(ctx context.Context) error {
	if err := c.wipe(ctx, false); err != nil {
		return err
	}
	c.emit(ObjEvent{Kind: EventResetAll})
	return nil
}

// ClearAll wipes both tiers and compacts the store. No refetch is implied.
func (c *cache) ClearAll(ctx context.Context) error {
	if err := c.wipe(ctx, true); err != nil {
		return err
	}
	c.emit(ObjEvent{Kind: EventClearAll})
	return nil
}

func (c *cache) wipe(ctx context.Context, compact bool) error {
	return c.withWriter(ctx, func() error {
		if err := c.st.DeleteAll(ctx); err != nil {
			return err
		}
		if compact {
			if err := c.st.Compact(ctx); err != nil {
				return err
			}
		}
		c.mu.Lock()
		c.mem = make(map[string]*memRecord)
		c.loaded = make(map[string]struct{})
		c.mu.Unlock()
		return nil
	})
}

// dropLoadedLocked clears every relation-scan marker for a collection after
// one of its rows was mutated or deleted. Callers hold c.mu.
func (c *cache) dropLoadedLocked(collection string) {
	for k := range c.loaded {
		if loadedKeyCollection(k) == collection {
			delete(c.loaded, k)
		}
	}
}

func (c *cache) loadedClear(marker string) {
	c.mu.Lock()
	delete(c.loaded, marker)
	c.mu.Unlock()
}

func (c *cache) isLoaded(marker string) bool {
	c.mu.RLock()
	_, ok := c.loaded[marker]
	c.mu.RUnlock()
	return ok
}
