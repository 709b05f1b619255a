package clientdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/clientdb/internal/wire"
	"github.com/unkn0wn-root/clientdb/store"
)

// ErrPropertyRequired is returned by ResolveRefs when the relation property
// is empty; collection relations never infer it.
var ErrPropertyRequired = errors.New("clientdb: relation property is required")

// RefRequest names one foreign-key relation to resolve.
//
// For a collection relation ("post has comments") ForeignKey is the field
// on the related objects pointing back at the base id. For a single
// relation ("comment has an author") ForeignKey is the field on the base
// object holding the related primary key.
type RefRequest struct {
	// Collection and ID identify the base object.
	Collection string
	ID         string
	// RefCollection is the related collection.
	RefCollection string
	// Property is the relation name; it keys the snapshot pseudo-collection
	// and is appended to the base endpoint on refresh. For single
	// relations an empty Property is inferred by stripping a trailing
	// "Id" from ForeignKey.
	Property string
	// ForeignKey is the foreign-key field name.
	ForeignKey string
}

// ResolveRef resolves a single-arity relation and returns the related
// object, or nil when the remote confirmed the relation is empty.
func (c *cache) ResolveRef(ctx context.Context, req RefRequest) (any, error) {
	if req.Property == "" {
		base, found := strings.CutSuffix(req.ForeignKey, "Id")
		if !found || base == "" {
			return nil, &PropertyInferenceError{ForeignKey: req.ForeignKey}
		}
		req.Property = base
	}
	v, err, _ := c.flight.Do(refDedupKey(req, "one"), func() (any, error) {
		return c.resolveSingle(ctx, req)
	})
	return v, err
}

// ResolveRefs resolves a collection-arity relation and returns the related
// objects in snapshot order.
func (c *cache) ResolveRefs(ctx context.Context, req RefRequest) ([]any, error) {
	if req.Property == "" {
		return nil, ErrPropertyRequired
	}
	v, err, _ := c.flight.Do(refDedupKey(req, "many"), func() (any, error) {
		return c.resolveMany(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

func refDedupKey(req RefRequest, arity string) string {
	return dedupKey("ref", req.Collection, req.ID, req.RefCollection, req.Property, req.ForeignKey, arity)
}

func (c *cache) resolveSingle(ctx context.Context, req RefRequest) (any, error) {
	flagColl := refFlag(req.Collection, req.Property)

	snap, found, err := c.localRef(ctx, flagColl, req.ID)
	if err != nil {
		return nil, err
	}
	if found && snap.single {
		if len(snap.ids) == 0 {
			// remote previously confirmed the relation empty
			return nil, nil
		}
		if v, ok, err := c.materializeSingle(ctx, req, snap.ids[0]); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
	}
	return c.refreshSingle(ctx, req, flagColl)
}

// materializeSingle resolves the base object locally, extracts its
// foreign-key scalar and looks the target up by primary key. ok=false means
// the relation could not be satisfied locally and needs a remote refresh.
func (c *cache) materializeSingle(ctx context.Context, req RefRequest, snapID string) (any, bool, error) {
	base, ok, err := c.localObject(ctx, req.Collection, req.ID)
	if err != nil || !ok {
		return nil, false, err
	}
	fkv, ok := fieldValue(base, req.ForeignKey)
	if !ok {
		return nil, false, nil
	}
	key, ok := keyString(fkv)
	if !ok {
		// foreign key is neither string nor number: unresolved
		return nil, false, nil
	}
	if key != snapID {
		return nil, false, nil
	}
	target, ok, err := c.localObject(ctx, req.RefCollection, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return target, true, nil
}

func (c *cache) resolveMany(ctx context.Context, req RefRequest) ([]any, error) {
	flagColl := refFlag(req.Collection, req.Property)

	snap, found, err := c.localRef(ctx, flagColl, req.ID)
	if err != nil {
		return nil, err
	}
	if found && !snap.single {
		vals, ok, err := c.materializeMany(ctx, req, snap.ids)
		if err != nil {
			return nil, err
		}
		if ok {
			return vals, nil
		}
	}
	return c.refreshMany(ctx, req, flagColl)
}

// materializeMany satisfies a collection snapshot from resident rows: a mem
// scan by foreign key, then (once per relation, guarded by the loaded
// marker) a persistent-store scan restoring matches into both tiers.
// ok=false means the snapshot is not fully satisfiable and the relation
// needs a remote refresh. A duplicate primary key among matches is a fatal
// integrity violation returned as an error.
func (c *cache) materializeMany(ctx context.Context, req RefRequest, ids []string) ([]any, bool, error) {
	marker := loadedKey(req.RefCollection, req.ForeignKey, req.ID)

	matches := make(map[string]any, len(ids))
	rows := make(map[string]string, len(ids)) // pk -> source row id

	add := func(rowID string, val any) error {
		pk := rowID
		if k, ok := c.keys.key(req.RefCollection, val); ok {
			pk = k
		}
		if prev, dup := rows[pk]; dup && prev != rowID {
			return &DuplicateKeyError{Collection: req.RefCollection, Key: pk}
		}
		rows[pk] = rowID
		matches[pk] = val
		return nil
	}

	c.mu.RLock()
	scanned := make([]*memRecord, 0, len(ids))
	for _, mr := range c.mem {
		if mr.collection != req.RefCollection || mr.isRef || c.stale(mr.expires) {
			continue
		}
		scanned = append(scanned, mr)
	}
	_, loaded := c.loaded[marker]
	c.mu.RUnlock()

	for _, mr := range scanned {
		if !c.fkMatches(mr.value, req.ForeignKey, req.ID) {
			continue
		}
		if err := add(mr.id, mr.value); err != nil {
			c.loadedClear(marker)
			return nil, false, err
		}
	}

	if !loaded {
		recs, err := c.st.QueryCollection(ctx, req.RefCollection)
		if err != nil {
			return nil, false, err
		}
		restored := make([]*memRecord, 0)
		for _, rec := range recs {
			if c.stale(rec.Expires) {
				continue
			}
			if _, have := rows[rec.ID]; have {
				continue
			}
			val, err := c.codec.Decode(rec.Payload)
			if err != nil {
				c.log.Warn("corrupt payload in relation scan", Fields{
					"collection": rec.Collection, "id": rec.ID, "err": err,
				})
				continue
			}
			if !c.fkMatches(val, req.ForeignKey, req.ID) {
				continue
			}
			if err := add(rec.ID, val); err != nil {
				c.loadedClear(marker)
				return nil, false, err
			}
			restored = append(restored, &memRecord{
				expires:       rec.Expires,
				collection:    rec.Collection,
				refCollection: rec.RefCollection,
				id:            rec.ID,
				value:         val,
			})
		}
		c.mu.Lock()
		for _, mr := range restored {
			c.mem[memKey(mr.collection, mr.id)] = mr
		}
		c.loaded[marker] = struct{}{}
		c.mu.Unlock()
	}

	if len(matches) != len(ids) {
		c.loadedClear(marker)
		return nil, false, nil
	}
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		v, ok := matches[id]
		if !ok {
			c.loadedClear(marker)
			return nil, false, nil
		}
		out = append(out, v)
	}
	return out, true, nil
}

func (c *cache) fkMatches(val any, foreignKey, baseID string) bool {
	fkv, ok := fieldValue(val, foreignKey)
	if !ok {
		return false
	}
	s, ok := keyString(fkv)
	return ok && s == baseID
}

func (c *cache) refreshSingle(ctx context.Context, req RefRequest, flagColl string) (any, error) {
	if err := c.dropRefFlag(ctx, flagColl, req.ID); err != nil {
		return nil, err
	}

	path := c.endpointFor(req.Collection, req.ID) + "/" + req.Property
	payload, err := c.remote.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, isList := payload.([]any); isList {
		return nil, &ArityMismatchError{Endpoint: path, WantList: false}
	}

	var items []any
	if payload != nil {
		items = []any{payload}
	}
	if _, err := c.persistRelation(ctx, req, flagColl, true, items, ""); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *cache) refreshMany(ctx context.Context, req RefRequest, flagColl string) ([]any, error) {
	if err := c.dropRefFlag(ctx, flagColl, req.ID); err != nil {
		return nil, err
	}

	path := c.endpointFor(req.Collection, req.ID) + "/" + req.Property
	payload, err := c.remote.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var items []any
	switch p := payload.(type) {
	case nil:
		// remote confirmed an empty relation
	case []any:
		items = p
	default:
		return nil, &ArityMismatchError{Endpoint: path, WantList: true}
	}

	marker := loadedKey(req.RefCollection, req.ForeignKey, req.ID)
	if _, err := c.persistRelation(ctx, req, flagColl, false, items, marker); err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	copy(out, items)
	return out, nil
}

// dropRefFlag removes a stale relation snapshot from both tiers before a
// remote refresh.
func (c *cache) dropRefFlag(ctx context.Context, flagColl, id string) error {
	return c.withWriter(ctx, func() error {
		if err := c.st.Delete(ctx, flagColl, id); err != nil {
			return err
		}
		c.mu.Lock()
		delete(c.mem, memKey(flagColl, id))
		c.mu.Unlock()
		return nil
	})
}

// persistRelation writes fetched relation members under their own primary
// keys (tagged refCollection = base collection) plus a fresh snapshot row,
// in one mutation sequence. marker, when non-empty, records the relation as
// fully loaded so the next hit skips the store scan.
func (c *cache) persistRelation(ctx context.Context, req RefRequest, flagColl string, single bool, items []any, marker string) ([]string, error) {
	ids, err := c.persistSnapshot(ctx, persistArgs{
		target:    req.RefCollection,
		memberTag: req.Collection,
		flagColl:  flagColl,
		flagID:    req.ID,
		single:    single,
		items:     items,
		marker:    marker,
	})
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		c.emit(ObjEvent{Kind: EventSet, Collection: req.RefCollection, ID: ids[i], Payload: item})
	}
	return ids, nil
}

type persistArgs struct {
	target    string // collection receiving the member rows
	memberTag string // refCollection tag on member rows
	flagColl  string // pseudo-collection for the snapshot row
	flagID    string
	single    bool
	items     []any
	marker    string // loaded marker to set, "" for none
}

// persistSnapshot is the shared write path for relation refreshes and
// mapped-query misses: member rows plus one wire-encoded snapshot row,
// upserted in a single transaction under the write lock.
func (c *cache) persistSnapshot(ctx context.Context, a persistArgs) ([]string, error) {
	expires := c.expiry(c.ttl)

	ids := make([]string, 0, len(a.items))
	recs := make([]store.Record, 0, len(a.items)+1)
	mems := make([]*memRecord, 0, len(a.items)+1)
	for _, item := range a.items {
		pk, ok := c.keys.key(a.target, item)
		if !ok {
			return nil, fmt.Errorf("%w (collection %q)", ErrKeyNotFound, a.target)
		}
		ids = append(ids, pk)
		payload, err := c.codec.Encode(item)
		if err != nil {
			return nil, err
		}
		recs = append(recs, store.Record{
			Expires:       expires,
			Collection:    a.target,
			RefCollection: a.memberTag,
			ID:            pk,
			Payload:       payload,
		})
		mems = append(mems, &memRecord{
			expires:       expires,
			collection:    a.target,
			refCollection: a.memberTag,
			id:            pk,
			value:         item,
		})
	}

	snap := &refSnapshot{single: a.single, ids: ids}
	recs = append(recs, store.Record{
		Expires:       expires,
		Collection:    a.flagColl,
		RefCollection: a.target,
		ID:            a.flagID,
		Payload:       wire.EncodeRef(a.single, ids),
	})
	mems = append(mems, &memRecord{
		expires:       expires,
		collection:    a.flagColl,
		refCollection: a.target,
		id:            a.flagID,
		value:         snap,
		isRef:         true,
	})

	err := c.withWriter(ctx, func() error {
		if err := c.st.Upsert(ctx, recs); err != nil {
			return err
		}
		c.mu.Lock()
		for _, mr := range mems {
			c.mem[memKey(mr.collection, mr.id)] = mr
		}
		c.dropLoadedLocked(a.target)
		if a.marker != "" {
			c.loaded[a.marker] = struct{}{}
		}
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
