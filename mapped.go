package clientdb

import (
	"context"

	"github.com/unkn0wn-root/clientdb/remote"
)

// MappedQuery caches the result of an arbitrary (non-CRUD) endpoint as an
// id-list snapshot over a target collection: items are persisted
// individually so they stay coherent with direct gets and invalidation.
type MappedQuery struct {
	// Endpoint is the remote path to fetch on miss.
	Endpoint string
	// Verb is the remote verb ("get" when empty); Body is its payload.
	Verb string
	Body any
	// IsCollection selects list arity; otherwise the first stored id is
	// re-materialized as a single value.
	IsCollection bool
	// CacheKey and CacheID locate the snapshot row: CacheKey is the
	// pseudo-collection, CacheID the row id.
	CacheKey string
	CacheID  string
	// Collection is the target collection items are persisted into.
	Collection string
	// Bypass skips the cached snapshot and forces a fetch.
	Bypass bool
}

// GetMapped returns the cached result for q, re-materializing every item
// from the target collection; a single missing item is a full miss. On
// miss (or Bypass) the endpoint is fetched, items are persisted
// individually and a fresh snapshot is stored.
func (c *cache) GetMapped(ctx context.Context, q MappedQuery) (any, error) {
	if !q.Bypass {
		if v, ok, err := c.mappedHit(ctx, q); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
	}
	key := dedupKey("mapped", q.Endpoint, q.Verb, q.CacheKey, q.CacheID, q.Collection, arityName(q.IsCollection))
	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.mappedFetch(ctx, q)
	})
	return v, err
}

func arityName(isCollection bool) string {
	if isCollection {
		return "many"
	}
	return "one"
}

func (c *cache) mappedHit(ctx context.Context, q MappedQuery) (any, bool, error) {
	snap, found, err := c.localRef(ctx, q.CacheKey, q.CacheID)
	if err != nil {
		return nil, false, err
	}
	if !found || snap.single == q.IsCollection {
		return nil, false, nil
	}

	if !q.IsCollection {
		if len(snap.ids) == 0 {
			// the endpoint previously confirmed an absent value
			return nil, true, nil
		}
		v, ok, err := c.localObject(ctx, q.Collection, snap.ids[0])
		if err != nil || !ok {
			return nil, false, err
		}
		return v, true, nil
	}

	out := make([]any, 0, len(snap.ids))
	for _, id := range snap.ids {
		v, ok, err := c.localObject(ctx, q.Collection, id)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			// one evicted member invalidates the whole snapshot
			return nil, false, nil
		}
		out = append(out, v)
	}
	return out, true, nil
}

func (c *cache) mappedFetch(ctx context.Context, q MappedQuery) (any, error) {
	if !q.Bypass {
		// a coalesced caller may have refreshed the snapshot already
		if v, ok, err := c.mappedHit(ctx, q); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}
	}

	payload, err := remote.Call(ctx, c.remote, q.Verb, q.Endpoint, q.Body)
	if err != nil {
		return nil, err
	}

	var items []any
	var result any
	if q.IsCollection {
		switch p := payload.(type) {
		case nil:
		case []any:
			items = p
		default:
			return nil, &ArityMismatchError{Endpoint: q.Endpoint, WantList: true}
		}
		out := make([]any, len(items))
		copy(out, items)
		result = out
	} else {
		if _, isList := payload.([]any); isList {
			return nil, &ArityMismatchError{Endpoint: q.Endpoint, WantList: false}
		}
		if payload != nil {
			items = []any{payload}
		}
		result = payload
	}

	ids, err := c.persistSnapshot(ctx, persistArgs{
		target:    q.Collection,
		memberTag: q.Collection,
		flagColl:  q.CacheKey,
		flagID:    q.CacheID,
		single:    !q.IsCollection,
		items:     items,
	})
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		c.emit(ObjEvent{Kind: EventSet, Collection: q.Collection, ID: ids[i], Payload: item})
	}
	c.log.Debug("mapped query refreshed", Fields{
		"endpoint": q.Endpoint, "cacheKey": q.CacheKey, "items": len(items),
	})
	return result, nil
}
