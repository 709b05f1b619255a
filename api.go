package clientdb

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/clientdb/codec"
	"github.com/unkn0wn-root/clientdb/remote"
	"github.com/unkn0wn-root/clientdb/store"
	"github.com/unkn0wn-root/clientdb/store/sqlite"
)

// Cache is the offline-first client cache over a persistent store and a
// remote source. All instances are fully isolated: nothing in this package
// is process-wide, so tests and multi-tenant callers may run several caches
// side by side.
type Cache interface {
	// Object cache
	Get(ctx context.Context, collection, id string) (any, error)
	GetFrom(ctx context.Context, collection, id, endpoint string) (any, error)
	Peek(collection, id string) (any, bool)
	Set(ctx context.Context, collection string, obj any) error
	SetWithTTL(ctx context.Context, collection string, obj any, ttl time.Duration) error
	Delete(ctx context.Context, collection, id string) error
	UpdateInPlace(ctx context.Context, collection, id string, transform func(any) any) (bool, error)

	// Relations and mapped queries
	ResolveRef(ctx context.Context, req RefRequest) (any, error)
	ResolveRefs(ctx context.Context, req RefRequest) ([]any, error)
	GetMapped(ctx context.Context, q MappedQuery) (any, error)

	// Invalidation
	Reset(ctx context.Context, collection, id string) error
	ResetCollection(ctx context.Context, collection string) error
	ResetAll(ctx context.Context) error
	ClearAll(ctx context.Context) error

	// Notification bus
	Subscribe(fn Listener) (unsubscribe func())
	Flush(ctx context.Context) error

	Close(ctx context.Context) error
}

// Options wire a cache together. Only Remote is required; a nil Store opens
// a SQLite store at Config.StoreName.
type Options struct {
	Config Config
	Store  store.Adapter
	Remote remote.Source
	Codec  codec.Codec // nil => codec.JSON{}
	Logger Logger      // nil => NopLogger
}

// New builds a cache, migrates the persistent schema, and starts the
// cascade worker. Callers must Close it to stop the worker and release the
// store.
func New(ctx context.Context, opts Options) (Cache, error) {
	return newCache(ctx, opts)
}

func newCache(ctx context.Context, opts Options) (*cache, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("clientdb: remote source is required")
	}
	cfg := opts.Config

	st := opts.Store
	ownStore := false
	if st == nil {
		s, err := sqlite.Open(coalesce(cfg.StoreName, DefaultStoreName))
		if err != nil {
			return nil, fmt.Errorf("clientdb: open store: %w", err)
		}
		st = s
		ownStore = true
	}

	c := &cache{
		cfg:            cfg,
		keys:           newKeyResolver(cfg),
		st:             st,
		remote:         opts.Remote,
		ownStore:       ownStore,
		now:            time.Now,
		mem:            make(map[string]*memRecord),
		loaded:         make(map[string]struct{}),
		writer:         newWriteLock(),
		cascadePending: make(map[string]struct{}),
		cascadeWake:    make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	if opts.Codec != nil {
		c.codec = opts.Codec
	} else {
		c.codec = codec.JSON{}
	}
	c.ttl = cfg.DefaultTTL
	if c.ttl == 0 {
		c.ttl = DefaultTTL
	}

	if err := migrate(ctx, st, c.log); err != nil {
		if ownStore {
			_ = st.Close()
		}
		return nil, err
	}

	c.wg.Add(1)
	go c.cascadeLoop()
	return c, nil
}

var _ Cache = (*cache)(nil)

// Close stops the cascade worker. The store is closed only when the cache
// opened it itself; injected adapters stay open for their owner.
func (c *cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
	if !c.ownStore {
		return nil
	}
	return c.st.Close()
}
