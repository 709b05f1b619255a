package wire

import (
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	cases := []struct {
		name   string
		single bool
		ids    []string
	}{
		{"single", true, []string{"42"}},
		{"single absent", true, nil},
		{"list", false, []string{"a", "b", "c"}},
		{"list empty", false, nil},
		{"long id", false, []string{string(bytesOf(300))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := EncodeRef(tc.single, tc.ids)
			single, ids, err := DecodeRef(b)
			if err != nil {
				t.Fatalf("DecodeRef: %v", err)
			}
			if single != tc.single {
				t.Fatalf("single = %v, want %v", single, tc.single)
			}
			want := tc.ids
			if want == nil {
				want = []string{}
			}
			if !reflect.DeepEqual(ids, want) {
				t.Fatalf("ids = %q, want %q", ids, want)
			}
		})
	}
}

func bytesOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'i'
	}
	return b
}

func TestDecodeRejectsCorrupt(t *testing.T) {
	good := EncodeRef(false, []string{"a", "b"})

	cases := []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"truncated header", good[:5]},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"bad version", mutate(good, 4, 99)},
		{"bad kind", mutate(good, 5, 9)},
		{"count past end", mutate(good, 9, 200)},
		{"truncated id", good[:len(good)-1]},
		{"trailing bytes", append(append([]byte{}, good...), 0)},
		{"single with two ids", mutate(good, 5, 1)},
		{"json bytes", []byte(`{"ids":["a"]}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := DecodeRef(tc.b); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func mutate(b []byte, i int, v byte) []byte {
	out := append([]byte{}, b...)
	out[i] = v
	return out
}

func TestEncodePanicsOnInvalidInput(t *testing.T) {
	assertPanics(t, "single with many ids", func() { EncodeRef(true, []string{"a", "b"}) })
	assertPanics(t, "empty id", func() { EncodeRef(false, []string{""}) })
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: no panic", name)
		}
	}()
	fn()
}
