package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError reports a non-2xx response from the remote.
type StatusError struct {
	Path   string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s returned status %d", e.Path, e.Status)
}

// HTTP is a Source over net/http with JSON bodies. A 404 response and a
// literal null body both map to (nil, nil): the remote confirmed absence.
type HTTP struct {
	base   string
	client *http.Client
	header http.Header
}

var _ Source = (*HTTP)(nil)

// HTTPOption customizes an HTTP source.
type HTTPOption func(*HTTP)

// WithClient replaces the default http.Client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHeader adds a header to every request (e.g. authorization).
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) { h.header.Set(key, value) }
}

// NewHTTP builds an HTTP source rooted at baseURL. Paths passed to the
// verbs are joined onto it.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		base:   strings.TrimRight(baseURL, "/"),
		client: http.DefaultClient,
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Get(ctx context.Context, path string) (any, error) {
	return h.do(ctx, http.MethodGet, path, nil)
}

func (h *HTTP) Post(ctx context.Context, path string, body any) (any, error) {
	return h.do(ctx, http.MethodPost, path, body)
}

func (h *HTTP) Put(ctx context.Context, path string, body any) (any, error) {
	return h.do(ctx, http.MethodPut, path, body)
}

func (h *HTTP) Patch(ctx context.Context, path string, body any) (any, error) {
	return h.do(ctx, http.MethodPatch, path, body)
}

func (h *HTTP) Delete(ctx context.Context, path string) (any, error) {
	return h.do(ctx, http.MethodDelete, path, nil)
}

func (h *HTTP) do(ctx context.Context, method, path string, body any) (any, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("remote: encode body for %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}

	url := h.base + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("remote: build request for %s: %w", path, err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read response for %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Path: path, Status: resp.StatusCode, Body: raw}
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("remote: decode response for %s: %w", path, err)
	}
	return v, nil
}
