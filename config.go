package clientdb

import (
	"math"
	"reflect"
	"strconv"
	"time"
)

const (
	// DefaultStoreName is the persistent store file name used when Config
	// leaves StoreName empty.
	DefaultStoreName = "client-db.db"

	// DefaultPrimaryKeyField is the object field holding the primary key
	// when no per-collection override is configured.
	DefaultPrimaryKeyField = "Id"

	// DefaultTTL is the freshness window applied to cached entries when
	// Config leaves DefaultTTL zero (1440 minutes).
	DefaultTTL = 24 * time.Hour
)

// EndpointFunc builds a full remote path for a collection/id pair,
// overriding the crudPrefix+collection[/id] convention.
type EndpointFunc func(collection, id string) string

// KeyFunc extracts the primary key from an object. The second return is
// false when the object carries no usable key.
type KeyFunc func(collection string, obj any) (string, bool)

// Relation declares a directed dependency between collections for cascading
// invalidation: whenever DepCollection is reset, updated or deleted and
// CascadeAll is set, Collection is scheduled for a full resetCollection on
// the next cascade pass.
type Relation struct {
	Collection    string
	DepCollection string
	CascadeAll    bool
}

// Config tunes the cache. The zero value is usable; every field is optional.
type Config struct {
	// StoreName is the persistent store name, e.g. a SQLite file path.
	// Empty means DefaultStoreName. Only consulted when Options.Store is
	// nil and the cache opens its own store.
	StoreName string

	// CRUDPrefix is prepended to collection names when building remote
	// paths: prefix + collection [+ "/" + id].
	CRUDPrefix string

	// PrimaryKeyField names the object field holding the primary key.
	// Empty means DefaultPrimaryKeyField.
	PrimaryKeyField string

	// PrimaryKeys overrides PrimaryKeyField per collection.
	PrimaryKeys map[string]string

	// PrimaryKeyFunc, when set, replaces field-based key extraction
	// entirely. It is consulted for every collection.
	PrimaryKeyFunc KeyFunc

	// Endpoints replaces CRUDPrefix+collection with a static path per
	// collection; the "/"+id suffix is still appended.
	Endpoints map[string]string

	// EndpointFuncs replaces the whole path per collection.
	EndpointFuncs map[string]EndpointFunc

	// Relations declares cascading invalidation edges.
	Relations []Relation

	// DefaultTTL is the freshness window for cached entries. Zero means
	// DefaultTTL (24h). Negative disables expiry for new entries.
	DefaultTTL time.Duration
}

// keyResolver binds the configured primary-key extraction once, so the hot
// paths do a single map lookup instead of re-branching on every call.
type keyResolver struct {
	fn       KeyFunc
	fields   map[string]string
	fallback string
}

func newKeyResolver(cfg Config) *keyResolver {
	return &keyResolver{
		fn:       cfg.PrimaryKeyFunc,
		fields:   cfg.PrimaryKeys,
		fallback: coalesce(cfg.PrimaryKeyField, DefaultPrimaryKeyField),
	}
}

func (r *keyResolver) key(collection string, obj any) (string, bool) {
	if r.fn != nil {
		return r.fn(collection, obj)
	}
	field := r.fallback
	if f, ok := r.fields[collection]; ok {
		field = f
	}
	v, ok := fieldValue(obj, field)
	if !ok {
		return "", false
	}
	return keyString(v)
}

// fieldValue reads a named field from a decoded object. Payloads decoded by
// the codecs are map[string]any; plain structs (and pointers to them) are
// supported for values handed to Set directly.
func fieldValue(obj any, name string) (any, bool) {
	switch m := obj.(type) {
	case map[string]any:
		v, ok := m[name]
		return v, ok
	}
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	fv := rv.FieldByName(name)
	if !fv.IsValid() || !fv.CanInterface() {
		return nil, false
	}
	return fv.Interface(), true
}

// keyString normalizes a key scalar to its string form. Only strings and
// numbers qualify; anything else (or an empty string) is not a usable key.
func keyString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return keyString(float64(x))
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	}
	return "", false
}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
