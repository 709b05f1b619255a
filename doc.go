// Package clientdb implements an offline-first, read-through/write-through
// client cache that mediates between a local persistent row store and a
// remote data source. Reads check an in-memory mirror first, then the
// persistent tier, then the remote; results are written through both tiers.
//
// Components:
//   - store.Adapter: persistent row store over a fixed two-table schema
//     (SQLite implementation in store/sqlite).
//   - remote.Source: verb-based remote fetch by path (HTTP implementation
//     in the remote package).
//   - codec.Codec: (de)serializes payloads <-> []byte (JSON by default).
//
// On top of the two tiers the cache provides TTL-based freshness, coalescing
// of concurrent identical fetches, denormalized foreign-key relation
// resolution with id-list snapshots, caching of arbitrary mapped endpoint
// results, and a synchronous change-notification bus with deferred cascading
// invalidation across related collections.
//
// Rows are keyed by (id, collection). A confirmed-absent object is cached as
// a present nil value until its TTL elapses, distinct from "not yet loaded"
// (no cache entry at all); use Peek to tell the two apart without touching
// the network.
package clientdb
