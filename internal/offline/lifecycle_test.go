package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lofiland/lofiproxy/internal/cache"
)

func TestLifecycle_ActivatePurgesAndClaims(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()
	for _, name := range []string{"lofiland-v0", "scratch"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}

	clients := NewClientRegistry()
	clients.Observe("page-1", "lofiland-v0")
	clients.Observe("page-2", "scratch")

	lc := NewLifecycle(storage, clients, "lofiland-v1")
	store, err := lc.Install(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lofiland-v1", store.Name())

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lofiland-v0", "scratch", "lofiland-v1"}, names)

	require.NoError(t, lc.Activate(ctx))

	names, err = storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lofiland-v1"}, names)

	for _, id := range []string{"page-1", "page-2"} {
		gen, ok := clients.Controller(id)
		assert.True(t, ok)
		assert.Equal(t, "lofiland-v1", gen)
	}
}

func TestLifecycle_ActivateKeepsCurrentEntries(t *testing.T) {
	ctx := context.Background()
	storage := cache.NewMemoryStorage()

	lc := NewLifecycle(storage, nil, "lofiland-v1")
	store, err := lc.Install(ctx)
	require.NoError(t, err)
	req := mustRequest(t, "http://lofi.test/")
	seed(t, store, req, "shell")

	// Activating twice is harmless
	require.NoError(t, lc.Activate(ctx))
	require.NoError(t, lc.Activate(ctx))

	body, ok := cachedBody(t, store, req)
	assert.True(t, ok)
	assert.Equal(t, "shell", body)
}

func TestLifecycle_InstallRejectsBadName(t *testing.T) {
	_, err := NewLifecycle(cache.NewMemoryStorage(), nil, "../v1").Install(context.Background())
	assert.ErrorIs(t, err, cache.ErrGenerationName)
}

// stuckStorage cannot remove generations.
type stuckStorage struct {
	*cache.MemoryStorage
}

func (s stuckStorage) Remove(context.Context, string) (bool, error) {
	return false, errors.New("permission denied")
}

func TestLifecycle_PurgeFailureSkipsClaim(t *testing.T) {
	ctx := context.Background()
	storage := stuckStorage{cache.NewMemoryStorage()}
	_, err := storage.Open(ctx, "lofiland-v0")
	require.NoError(t, err)

	clients := NewClientRegistry()
	clients.Observe("page-1", "lofiland-v0")

	lc := NewLifecycle(storage, clients, "lofiland-v1")
	_, err = lc.Install(ctx)
	require.NoError(t, err)
	assert.Error(t, lc.Activate(ctx))

	gen, _ := clients.Controller("page-1")
	assert.Equal(t, "lofiland-v0", gen)
}

func TestClientRegistry(t *testing.T) {
	c := NewClientRegistry()
	assert.Equal(t, "lofiland-v0", c.Observe("page-1", "lofiland-v0"))
	// A known page keeps its controller until claimed
	assert.Equal(t, "lofiland-v0", c.Observe("page-1", "lofiland-v1"))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Claim(context.Background(), "lofiland-v1"))
	gen, ok := c.Controller("page-1")
	assert.True(t, ok)
	assert.Equal(t, "lofiland-v1", gen)

	_, ok = c.Controller("page-2")
	assert.False(t, ok)
}

func TestClientRegistry_Bounded(t *testing.T) {
	c := NewBoundedClientRegistry(3)
	for i := 0; i < 100; i++ {
		c.Observe(fmt.Sprintf("page-%d", i), "lofiland-v1")
	}
	assert.Equal(t, 3, c.Len())

	_, ok := c.Controller("page-0")
	assert.False(t, ok, "least recently seen page is forgotten")
	for _, id := range []string{"page-97", "page-98", "page-99"} {
		_, ok := c.Controller(id)
		assert.True(t, ok, id)
	}

	// Seeing a page again keeps it
	c.Observe("page-97", "lofiland-v1")
	c.Observe("page-100", "lofiland-v1")
	_, ok = c.Controller("page-97")
	assert.True(t, ok)
	_, ok = c.Controller("page-98")
	assert.False(t, ok)

	require.NoError(t, c.Claim(context.Background(), "lofiland-v2"))
	gen, _ := c.Controller("page-100")
	assert.Equal(t, "lofiland-v2", gen)
}

func TestInterceptor_CookielessDocumentsStayBounded(t *testing.T) {
	fetcher := &countingFetcher{body: "<html>"}
	tasks := NewBackground()
	clients := NewBoundedClientRegistry(8)
	i := NewInterceptor(DefaultConfig(), fetcher, passthrough, tasks, clients)
	i.Use(cache.NewMemoryStore("lofiland-v1"))

	for n := 0; n < 50; n++ {
		i.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	tasks.Wait()

	assert.Equal(t, 8, clients.Len())
}
