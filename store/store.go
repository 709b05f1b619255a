// Package store defines the persistent row-store abstraction used by
// clientdb.
//
// The schema is fixed: a records table with columns (expires, collection,
// refCollection, objId, obj) and a UNIQUE constraint on (objId, collection),
// plus a settings table with columns (name, value) used by the schema
// migrator. Implementations must apply multi-row mutations transactionally;
// Compact is the single operation that runs outside a transaction.
package store

import "context"

// Record is one persisted row. Expires is unix milliseconds; 0 means the
// row never expires. RefCollection names the base collection that caused
// the row to be cached via a relation, for cascading invalidation.
type Record struct {
	Expires       int64
	Collection    string
	RefCollection string
	ID            string
	Payload       []byte
}

// Adapter is the persistent tier. Implementations must be safe for
// concurrent use; the cache serializes mutations itself but reads may
// interleave freely.
type Adapter interface {
	// EnsureTables creates the records and settings tables if absent.
	EnsureTables(ctx context.Context) error

	// RecreateRecordsTable drops and recreates the records table. Used by
	// the migrator on schema-version mismatch; must be re-runnable.
	RecreateRecordsTable(ctx context.Context) error

	// GetSetting returns a settings row; ok is false when the name is
	// absent.
	GetSetting(ctx context.Context, name string) (value string, ok bool, err error)

	// SetSetting upserts a settings row.
	SetSetting(ctx context.Context, name, value string) error

	// Get returns one record by (collection, id); ok is false on miss.
	Get(ctx context.Context, collection, id string) (Record, bool, error)

	// QueryCollection returns every record whose collection matches
	// exactly. Relation scans filter the payloads application-side; there
	// is no join engine underneath.
	QueryCollection(ctx context.Context, collection string) ([]Record, error)

	// Upsert inserts or updates records in one transaction, keyed on
	// (objId, collection).
	Upsert(ctx context.Context, recs []Record) error

	// Delete removes one record by (collection, id).
	Delete(ctx context.Context, collection, id string) error

	// DeleteOwnedRefs removes relation-snapshot rows owned by an object:
	// rows whose collection starts with collection+":REF:" and whose id
	// equals id. Returns the number of rows removed.
	DeleteOwnedRefs(ctx context.Context, collection, id string) (int, error)

	// DeleteCollection removes every row tagged with the collection: rows
	// whose collection matches exactly, rows whose collection starts with
	// collection+":REF:", and rows whose refCollection matches.
	DeleteCollection(ctx context.Context, collection string) error

	// DeleteAll removes every record; the table is retained.
	DeleteAll(ctx context.Context) error

	// Compact reclaims storage. The only non-transactional statement.
	Compact(ctx context.Context) error

	// Close releases the underlying handle.
	Close() error
}
