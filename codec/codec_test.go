package codec

import (
	"reflect"
	"strings"
	"testing"
)

var codecs = []struct {
	name string
	c    Codec
}{
	{"json", JSON{}},
	{"msgpack", Msgpack{}},
	{"cbor", MustCBOR(false)},
	{"cbor deterministic", MustCBOR(true)},
}

// Every codec must round-trip documents into the shapes field extraction
// expects: map[string]any for objects, []any for arrays.
func TestDocumentShapes(t *testing.T) {
	doc := map[string]any{
		"Id":   "42",
		"name": "Ada",
		"tags": []any{"a", "b"},
		"meta": map[string]any{"depth": "2"},
	}
	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.c.Encode(doc)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			v, err := tc.c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			m, ok := v.(map[string]any)
			if !ok {
				t.Fatalf("decoded to %T, want map[string]any", v)
			}
			if m["Id"] != "42" || m["name"] != "Ada" {
				t.Fatalf("decoded = %v", m)
			}
			if _, ok := m["tags"].([]any); !ok {
				t.Fatalf("tags decoded to %T, want []any", m["tags"])
			}
			if inner, ok := m["meta"].(map[string]any); !ok || inner["depth"] != "2" {
				t.Fatalf("meta decoded to %T (%v)", m["meta"], m["meta"])
			}
		})
	}
}

func TestNilRoundTrip(t *testing.T) {
	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.c.Encode(nil)
			if err != nil {
				t.Fatalf("Encode nil: %v", err)
			}
			v, err := tc.c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if v != nil {
				t.Fatalf("nil decoded to %v", v)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := (JSON{}).Decode([]byte("{not json")); err == nil {
		t.Fatalf("JSON decoded garbage")
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR(true)
	doc := map[string]any{"b": "2", "a": "1", "c": "3"}
	first, err := c.Encode(doc)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := c.Encode(doc)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("deterministic encoding varied between calls")
		}
	}
}

func TestLimit(t *testing.T) {
	c := Limit{Inner: JSON{}, MaxDecode: 16}

	small := []byte(`{"a":"1"}`)
	if _, err := c.Decode(small); err != nil {
		t.Fatalf("Decode small: %v", err)
	}
	big := []byte(`{"a":"` + strings.Repeat("x", 64) + `"}`)
	if _, err := c.Decode(big); err == nil {
		t.Fatalf("oversized payload decoded")
	}
	// Encode is never limited
	if _, err := c.Encode(map[string]any{"a": strings.Repeat("x", 64)}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	unlimited := Limit{Inner: JSON{}, MaxDecode: 0}
	if _, err := unlimited.Decode(big); err != nil {
		t.Fatalf("MaxDecode 0 should disable the limit: %v", err)
	}
}
