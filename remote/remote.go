// Package remote defines the remote data-source abstraction used by
// clientdb, plus an HTTP implementation.
//
// Payloads are decoded documents: map[string]any for objects, []any for
// arrays, nil for a confirmed-absent value. The cache itself only issues
// gets; the mutating verbs exist for callers and for mapped queries that
// fetch through POST-style endpoints.
package remote

import (
	"context"
	"fmt"
	"strings"
)

// Source is a verb-based remote fetcher. A nil result with a nil error
// means the remote confirmed the value is absent; the cache stores that
// negatively.
type Source interface {
	Get(ctx context.Context, path string) (any, error)
	Post(ctx context.Context, path string, body any) (any, error)
	Put(ctx context.Context, path string, body any) (any, error)
	Patch(ctx context.Context, path string, body any) (any, error)
	Delete(ctx context.Context, path string) (any, error)
}

// Call dispatches on a verb name ("get", "post", "put", "patch", "delete";
// case-insensitive, empty means get).
func Call(ctx context.Context, s Source, verb, path string, body any) (any, error) {
	switch strings.ToLower(verb) {
	case "", "get":
		return s.Get(ctx, path)
	case "post":
		return s.Post(ctx, path, body)
	case "put":
		return s.Put(ctx, path, body)
	case "patch":
		return s.Patch(ctx, path, body)
	case "delete":
		return s.Delete(ctx, path)
	default:
		return nil, fmt.Errorf("remote: unsupported verb %q", verb)
	}
}
