package clientdb

import (
	"testing"
	"time"
)

func TestKeyString(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{"abc", "abc", true},
		{"", "", false},
		{float64(42), "42", true},
		{float64(-7), "-7", true},
		{float64(1.5), "1.5", true},
		{float32(3), "3", true},
		{int(9), "9", true},
		{int32(9), "9", true},
		{int64(9), "9", true},
		{uint64(9), "9", true},
		{true, "", false},
		{nil, "", false},
		{[]any{"x"}, "", false},
	}
	for _, tc := range cases {
		got, ok := keyString(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("keyString(%#v) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFieldValue(t *testing.T) {
	type user struct {
		Id   string
		Name string
	}

	if v, ok := fieldValue(map[string]any{"Id": "1"}, "Id"); !ok || v != "1" {
		t.Fatalf("map lookup = (%v, %v)", v, ok)
	}
	if _, ok := fieldValue(map[string]any{}, "Id"); ok {
		t.Fatalf("missing map key reported present")
	}
	if v, ok := fieldValue(user{Id: "2"}, "Id"); !ok || v != "2" {
		t.Fatalf("struct lookup = (%v, %v)", v, ok)
	}
	if v, ok := fieldValue(&user{Id: "3"}, "Id"); !ok || v != "3" {
		t.Fatalf("pointer lookup = (%v, %v)", v, ok)
	}
	if _, ok := fieldValue((*user)(nil), "Id"); ok {
		t.Fatalf("nil pointer reported a field")
	}
	if _, ok := fieldValue("scalar", "Id"); ok {
		t.Fatalf("scalar reported a field")
	}
	if _, ok := fieldValue(nil, "Id"); ok {
		t.Fatalf("nil reported a field")
	}
}

func TestSameIdentity(t *testing.T) {
	m := map[string]any{"a": "1"}
	if !sameIdentity(m, m) {
		t.Fatalf("same map not identical")
	}
	if sameIdentity(m, map[string]any{"a": "1"}) {
		t.Fatalf("distinct equal maps reported identical")
	}
	s := []any{"x"}
	if !sameIdentity(s, s) {
		t.Fatalf("same slice not identical")
	}
	if !sameIdentity("a", "a") || sameIdentity("a", "b") {
		t.Fatalf("string identity broken")
	}
	if !sameIdentity(nil, nil) || sameIdentity(nil, m) || sameIdentity(m, nil) {
		t.Fatalf("nil identity broken")
	}
	if sameIdentity(m, s) {
		t.Fatalf("different kinds reported identical")
	}
}

func TestLoadedKeyCollection(t *testing.T) {
	k := loadedKey("comments", "postId", "1")
	if got := loadedKeyCollection(k); got != "comments" {
		t.Fatalf("loadedKeyCollection = %q", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CLIENTDB_STORE_NAME", "env.db")
	t.Setenv("CLIENTDB_DEFAULT_TTL", "90m")

	base := Config{
		StoreName:       "base.db",
		CRUDPrefix:      "api/",
		PrimaryKeyField: "uuid",
	}
	got, err := ConfigFromEnv(base)
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if got.StoreName != "env.db" {
		t.Fatalf("StoreName = %q, want env override", got.StoreName)
	}
	if got.DefaultTTL != 90*time.Minute {
		t.Fatalf("DefaultTTL = %v", got.DefaultTTL)
	}
	// unset variables leave programmatic values alone
	if got.CRUDPrefix != "api/" || got.PrimaryKeyField != "uuid" {
		t.Fatalf("unset env clobbered base config: %+v", got)
	}
}

func TestConfigFromEnvBadDuration(t *testing.T) {
	t.Setenv("CLIENTDB_DEFAULT_TTL", "soon")
	if _, err := ConfigFromEnv(Config{}); err == nil {
		t.Fatalf("invalid duration accepted")
	}
}
