package clientdb

import (
	"reflect"
	"strings"
)

// refMarker separates a base collection from a relation property in the
// synthetic pseudo-collection holding that relation's snapshot.
const refMarker = ":REF:"

func memKey(collection, id string) string {
	return collection + ":" + id
}

// refFlag names the pseudo-collection holding the snapshot for one relation
// property of a base collection.
func refFlag(collection, property string) string {
	return collection + refMarker + property
}

// loadedKey identifies one full relation scan: (related collection,
// foreign-key field, base id). The leading segment is the collection so
// markers can be dropped by collection on any invalidating mutation.
func loadedKey(collection, foreignKey, baseID string) string {
	return collection + "\x00" + foreignKey + "\x00" + baseID
}

func loadedKeyCollection(marker string) string {
	if i := strings.IndexByte(marker, 0); i >= 0 {
		return marker[:i]
	}
	return marker
}

// dedupKey builds the coalescing identity for one operation: its name plus
// every parameter, NUL-joined so distinct tuples never collide.
func dedupKey(op string, params ...string) string {
	return op + "\x00" + strings.Join(params, "\x00")
}

// sameIdentity reports whether b is the same value a was, by identity.
// Reference kinds compare by pointer; comparable values by equality.
// UpdateInPlace uses this to enforce that transforms return a new value.
func sameIdentity(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() != rb.Kind() {
		return false
	}
	switch ra.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	}
	if !ra.Comparable() || !rb.Comparable() {
		return false
	}
	return a == b
}
