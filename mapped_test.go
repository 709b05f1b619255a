package clientdb

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/clientdb/store"
)

func searchQuery() MappedQuery {
	return MappedQuery{
		Endpoint:     "search?q=go",
		IsCollection: true,
		CacheKey:     "search",
		CacheID:      "q=go",
		Collection:   "things",
	}
}

func TestGetMappedCollection(t *testing.T) {
	ctx := context.Background()
	cc, st, rm := newTestCache(t, Config{})
	rm.respond("GET", "search?q=go", []any{obj("a", "rank", float64(1)), obj("b", "rank", float64(2))})

	q := searchQuery()
	got, err := cc.GetMapped(ctx, q)
	if err != nil {
		t.Fatalf("GetMapped: %v", err)
	}
	items := got.([]any)
	if len(items) != 2 || items[0].(map[string]any)["Id"] != "a" {
		t.Fatalf("GetMapped = %v", got)
	}

	// items are persisted individually and reachable by direct get
	if v, ok := cc.Peek("things", "b"); !ok || v.(map[string]any)["rank"] != float64(2) {
		t.Fatalf("item not resident: (%v, %v)", v, ok)
	}
	snaps := st.countWhere(func(r store.Record) bool {
		return r.Collection == "search" && r.ID == "q=go" && r.RefCollection == "things"
	})
	if snaps != 1 {
		t.Fatalf("snapshot rows = %d, want 1", snaps)
	}

	// warm call: no second fetch
	if _, err := cc.GetMapped(ctx, q); err != nil {
		t.Fatalf("GetMapped again: %v", err)
	}
	if n := rm.callCount("GET", "search?q=go"); n != 1 {
		t.Fatalf("remote calls = %d, want 1", n)
	}
}

func TestGetMappedMissingMemberIsFullMiss(t *testing.T) {
	ctx := context.Background()
	cc, _, rm := newTestCache(t, Config{})
	rm.respond("GET", "search?q=go", []any{obj("a"), obj("b")})

	q := searchQuery()
	if _, err := cc.GetMapped(ctx, q); err != nil {
		t.Fatalf("GetMapped: %v", err)
	}
	if err := cc.Delete(ctx, "things", "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := cc.GetMapped(ctx, q)
	if err != nil {
		t.Fatalf("GetMapped after eviction: %v", err)
	}
	if len(got.([]any)) != 2 {
		t.Fatalf("got %d items, want a refetched 2", len(got.([]any)))
	}
	if n := rm.callCount("GET", "search?q=go"); n != 2 {
		t.Fatalf("remote calls = %d, want 2 (partial snapshot must refetch)", n)
	}
}

func TestGetMappedBypass(t *testing.T) {
	ctx := context.Background()
	cc, _, rm := newTestCache(t, Config{})
	rm.respond("GET", "search?q=go", []any{obj("a")})

	q := searchQuery()
	if _, err := cc.GetMapped(ctx, q); err != nil {
		t.Fatalf("GetMapped: %v", err)
	}
	q.Bypass = true
	if _, err := cc.GetMapped(ctx, q); err != nil {
		t.Fatalf("GetMapped bypass: %v", err)
	}
	if n := rm.callCount("GET", "search?q=go"); n != 2 {
		t.Fatalf("remote calls = %d, want 2 (bypass forces a fetch)", n)
	}
}

func TestGetMappedSingle(t *testing.T) {
	ctx := context.Background()
	cc, _, rm := newTestCache(t, Config{})
	rm.respond("GET", "me", obj("u1", "name", "Ada"))

	q := MappedQuery{Endpoint: "me", CacheKey: "profile", CacheID: "me", Collection: "users"}
	got, err := cc.GetMapped(ctx, q)
	if err != nil {
		t.Fatalf("GetMapped: %v", err)
	}
	if got.(map[string]any)["name"] != "Ada" {
		t.Fatalf("GetMapped = %v", got)
	}
	if _, err := cc.GetMapped(ctx, q); err != nil {
		t.Fatalf("GetMapped again: %v", err)
	}
	if n := rm.callCount("GET", "me"); n != 1 {
		t.Fatalf("remote calls = %d, want 1", n)
	}
	// the item is coherent with direct gets
	if v, ok := cc.Peek("users", "u1"); !ok || v.(map[string]any)["name"] != "Ada" {
		t.Fatalf("mapped item not resident: (%v, %v)", v, ok)
	}
}

func TestGetMappedSingleAbsent(t *testing.T) {
	ctx := context.Background()
	cc, _, rm := newTestCache(t, Config{})
	// nil response: the endpoint confirmed no value

	q := MappedQuery{Endpoint: "me", CacheKey: "profile", CacheID: "me", Collection: "users"}
	got, err := cc.GetMapped(ctx, q)
	if err != nil || got != nil {
		t.Fatalf("GetMapped = (%v, %v), want (nil, nil)", got, err)
	}
	if _, err := cc.GetMapped(ctx, q); err != nil {
		t.Fatalf("GetMapped again: %v", err)
	}
	if n := rm.callCount("GET", "me"); n != 1 {
		t.Fatalf("absent value not cached, remote calls = %d", n)
	}
}

func TestGetMappedVerb(t *testing.T) {
	ctx := context.Background()
	cc, _, rm := newTestCache(t, Config{})
	rm.respond("POST", "search", []any{obj("a")})

	q := MappedQuery{
		Endpoint:     "search",
		Verb:         "post",
		Body:         map[string]any{"q": "go"},
		IsCollection: true,
		CacheKey:     "search",
		CacheID:      "post:go",
		Collection:   "things",
	}
	got, err := cc.GetMapped(ctx, q)
	if err != nil {
		t.Fatalf("GetMapped: %v", err)
	}
	if len(got.([]any)) != 1 {
		t.Fatalf("GetMapped = %v", got)
	}
	if n := rm.callCount("POST", "search"); n != 1 {
		t.Fatalf("POST calls = %d, want 1", n)
	}
}

func TestGetMappedArityMismatch(t *testing.T) {
	ctx := context.Background()
	cc, _, rm := newTestCache(t, Config{})

	rm.respond("GET", "search?q=go", obj("a"))
	q := searchQuery()
	_, err := cc.GetMapped(ctx, q)
	var am *ArityMismatchError
	if !errors.As(err, &am) || !am.WantList {
		t.Fatalf("collection query got object: err = %v", err)
	}

	rm.respond("GET", "me", []any{obj("a")})
	_, err = cc.GetMapped(ctx, MappedQuery{Endpoint: "me", CacheKey: "profile", CacheID: "me", Collection: "users"})
	if !errors.As(err, &am) || am.WantList {
		t.Fatalf("single query got list: err = %v", err)
	}
}

// TestGetMappedArityChange: a snapshot stored under one arity never serves a
// request of the other; the query refetches instead.
func TestGetMappedArityChange(t *testing.T) {
	ctx := context.Background()
	cc, _, rm := newTestCache(t, Config{})
	rm.respond("GET", "search?q=go", []any{obj("a")})

	q := searchQuery()
	if _, err := cc.GetMapped(ctx, q); err != nil {
		t.Fatalf("GetMapped: %v", err)
	}

	single := q
	single.IsCollection = false
	if _, err := cc.GetMapped(ctx, single); err == nil {
		// the refetch returned a list for a single query
		t.Fatalf("arity change served from cache without error")
	}
	if n := rm.callCount("GET", "search?q=go"); n != 2 {
		t.Fatalf("remote calls = %d, want 2 (arity change is a miss)", n)
	}
}
