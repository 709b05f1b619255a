package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/users/1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Auth"); got != "token" {
			t.Errorf("X-Auth = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"Id":"1","name":"Ada"}`)
	}))
	defer srv.Close()

	src := NewHTTP(srv.URL, WithHeader("X-Auth", "token"))
	v, err := src.Get(context.Background(), "users/1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["name"] != "Ada" {
		t.Fatalf("Get = %v", v)
	}
}

func TestHTTPAbsence(t *testing.T) {
	cases := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"404", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"204", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {}},
		{"null body", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "null")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.h)
			defer srv.Close()
			v, err := NewHTTP(srv.URL).Get(context.Background(), "x")
			if err != nil || v != nil {
				t.Fatalf("Get = (%v, %v), want (nil, nil)", v, err)
			}
		})
	}
}

func TestHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL).Get(context.Background(), "x")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Status != http.StatusInternalServerError || se.Path != "x" {
		t.Fatalf("StatusError = %+v", se)
	}
}

func TestHTTPPostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["q"] != "go" {
			t.Errorf("body = %v (%v)", body, err)
		}
		io.WriteString(w, `[{"Id":"a"}]`)
	}))
	defer srv.Close()

	v, err := NewHTTP(srv.URL).Post(context.Background(), "search", map[string]any{"q": "go"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if items, ok := v.([]any); !ok || len(items) != 1 {
		t.Fatalf("Post = %v", v)
	}
}

func TestCallDispatch(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()
	src := NewHTTP(srv.URL)

	cases := []struct{ verb, want string }{
		{"", http.MethodGet},
		{"get", http.MethodGet},
		{"GET", http.MethodGet},
		{"post", http.MethodPost},
		{"put", http.MethodPut},
		{"patch", http.MethodPatch},
		{"delete", http.MethodDelete},
	}
	for _, tc := range cases {
		if _, err := Call(context.Background(), src, tc.verb, "x", nil); err != nil {
			t.Fatalf("Call(%q): %v", tc.verb, err)
		}
		if gotMethod != tc.want {
			t.Fatalf("Call(%q) used %s, want %s", tc.verb, gotMethod, tc.want)
		}
	}

	if _, err := Call(context.Background(), src, "brew", "x", nil); err == nil {
		t.Fatalf("unknown verb dispatched")
	}
}
