package offline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lofiland/lofiproxy/internal/cache"
)

func sizedResponse(n int) Response {
	return NewNetworkResponse(&http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {"audio/ogg"}},
		Body:       io.NopCloser(bytes.NewReader(make([]byte, n))),
	})
}

func TestSizeGuard_Ceiling(t *testing.T) {
	ctx := context.Background()
	guard := NewSizeGuard(DefaultMaxResponseBytes)
	require.EqualValues(t, 26214400, guard.Limit())

	store := cache.NewMemoryStore("lofiland-v1")

	atLimit := mustRequest(t, "http://lofi.test/packs/forest/long.ogg")
	resp := sizedResponse(26214400)
	got, stored := guard.Write(ctx, store, atLimit, resp)
	assert.True(t, stored)
	assert.Same(t, resp, got)

	overLimit := mustRequest(t, "http://lofi.test/packs/forest/longer.ogg")
	resp = sizedResponse(26214401)
	got, stored = guard.Write(ctx, store, overLimit, resp)
	assert.False(t, stored)
	assert.Same(t, resp, got)
	assert.Len(t, bodyOf(t, got), 26214401, "an oversize response is still served in full")

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{atLimit.Key()}, keys)
}

func TestSizeGuard_SkipsUnsuccessful(t *testing.T) {
	ctx := context.Background()
	guard := NewSizeGuard(1024)
	store := cache.NewMemoryStore("lofiland-v1")
	req := mustRequest(t, "http://lofi.test/packs/forest/missing.ogg")

	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusNotModified} {
		resp := textResponse(status, "nope")
		got, stored := guard.Write(ctx, store, req, resp)
		assert.False(t, stored, "status %d", status)
		assert.Same(t, resp, got)
	}

	_, stored := guard.Write(ctx, store, req, nil)
	assert.False(t, stored)

	_, err := store.Match(ctx, req.Key())
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestSizeGuard_StoredEntry(t *testing.T) {
	ctx := context.Background()
	guard := NewSizeGuard(1024)
	store := cache.NewMemoryStore("lofiland-v1")
	req := mustRequest(t, "http://lofi.test/")

	resp := NewNetworkResponse(&http.Response{
		StatusCode: http.StatusCreated,
		Status:     "201 Created",
		Header: http.Header{
			"Content-Type":      {"text/html"},
			"Content-Length":    {"5"},
			"Connection":        {"keep-alive"},
			"Transfer-Encoding": {"chunked"},
		},
		Body: io.NopCloser(bytes.NewReader([]byte("shell"))),
	})
	_, stored := guard.Write(ctx, store, req, resp)
	require.True(t, stored)

	e, err := store.Match(ctx, req.Key())
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, e.Status)
	assert.Equal(t, "Created", e.StatusText)
	assert.Equal(t, "shell", string(e.Body))
	assert.Equal(t, "text/html", e.Header.Get("Content-Type"))
	assert.Empty(t, e.Header.Get("Connection"))
	assert.Empty(t, e.Header.Get("Content-Length"))

	// The caller's copy is still readable
	assert.Equal(t, "shell", bodyOf(t, resp))
}

func TestSizeGuard_WriteFailureIsSwallowed(t *testing.T) {
	guard := NewSizeGuard(1024)
	store := &failingStore{Store: cache.NewMemoryStore("lofiland-v1"), failPut: true}
	req := mustRequest(t, "http://lofi.test/")

	resp := textResponse(http.StatusOK, "shell")
	got, stored := guard.Write(context.Background(), store, req, resp)
	assert.False(t, stored)
	assert.Equal(t, "shell", bodyOf(t, got))
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (brokenBody) Close() error             { return nil }

func TestSizeGuard_UnreadableBody(t *testing.T) {
	guard := NewSizeGuard(1024)
	store := cache.NewMemoryStore("lofiland-v1")
	req := mustRequest(t, "http://lofi.test/")

	resp := NewNetworkResponse(&http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: brokenBody{}})
	_, stored := guard.Write(context.Background(), store, req, resp)
	assert.False(t, stored)

	_, err := guard.measure(resp)
	assert.ErrorIs(t, err, ErrOversize)
}
