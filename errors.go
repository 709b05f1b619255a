package clientdb

import (
	"errors"
	"fmt"
)

var (
	// ErrSameReference is returned by UpdateInPlace when the transform
	// returned its input unchanged by identity. Transforms must produce a
	// new value; the previous one may still be referenced by callers.
	ErrSameReference = errors.New("clientdb: transform returned its input")

	// ErrKeyNotFound is returned when an object being persisted has no
	// usable primary key (missing field, or a value that is neither a
	// string nor a number).
	ErrKeyNotFound = errors.New("clientdb: object has no usable primary key")
)

// PropertyInferenceError reports a single-relation resolve whose property
// name could not be inferred from the foreign-key field. Inference strips a
// trailing "Id"; a field like "owner" or "" cannot be inferred and the
// relation must name its property explicitly.
type PropertyInferenceError struct {
	ForeignKey string
}

func (e *PropertyInferenceError) Error() string {
	return fmt.Sprintf("clientdb: cannot infer relation property from foreign key %q", e.ForeignKey)
}

// ArityMismatchError reports a remote relation payload whose shape does not
// match the requested relation: an array where a single object was asked
// for, or the reverse. This is a configuration error, never retried.
type ArityMismatchError struct {
	Endpoint string
	WantList bool
}

func (e *ArityMismatchError) Error() string {
	if e.WantList {
		return fmt.Sprintf("clientdb: %s returned a single value for a collection relation", e.Endpoint)
	}
	return fmt.Sprintf("clientdb: %s returned an array for a single relation", e.Endpoint)
}

// DuplicateKeyError reports two resident rows in the same collection
// claiming the same primary key during a relation scan. This is a fatal
// integrity violation, raised immediately; it is not a "needs refresh"
// condition.
type DuplicateKeyError struct {
	Collection string
	Key        string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("clientdb: duplicate primary key %q in collection %q", e.Key, e.Collection)
}
