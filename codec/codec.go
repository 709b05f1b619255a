// Package codec defines payload (de)serialization for cached rows.
//
// Payloads are schema-less documents: Decode must produce map[string]any for
// objects (primary-key and foreign-key extraction reads fields from that
// shape), []any for arrays, and plain scalars otherwise. All codecs in this
// package honor that contract.
package codec

// Codec encodes/decodes payloads to []byte for storage.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
}
