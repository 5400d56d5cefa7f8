package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lofiland/lofiproxy/internal/cache"
)

var errOffline = errors.New("dial tcp: connection refused")

func mustRequest(t *testing.T, rawURL string) *Request {
	t.Helper()
	req, err := NewRequest(http.MethodGet, rawURL)
	require.NoError(t, err)
	return req
}

// textResponse builds a network response as the origin would send it.
func textResponse(status int, body string) Response {
	return NewNetworkResponse(&http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	})
}

func bodyOf(t *testing.T, resp Response) string {
	t.Helper()
	require.NotNil(t, resp)
	b, err := resp.Bytes()
	require.NoError(t, err)
	return string(b)
}

func seed(t *testing.T, store cache.Store, req *Request, body string) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), req.Key(), &cache.Entry{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
	}))
}

func cachedBody(t *testing.T, store cache.Store, req *Request) (string, bool) {
	t.Helper()
	e, err := store.Match(context.Background(), req.Key())
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", false
	}
	require.NoError(t, err)
	return string(e.Body), true
}

// countingFetcher serves body for every request and counts calls.
type countingFetcher struct {
	calls atomic.Int32
	body  string
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, _ *Request) (Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(http.StatusOK, f.body), nil
}

// failingStore wraps a store and fails the selected operations.
type failingStore struct {
	cache.Store
	failPut    bool
	failDelete bool
}

func (s *failingStore) Put(ctx context.Context, key string, e *cache.Entry) error {
	if s.failPut {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, key, e)
}

func (s *failingStore) Delete(ctx context.Context, key string) (bool, error) {
	if s.failDelete {
		return false, errors.New("read-only")
	}
	return s.Store.Delete(ctx, key)
}
