package offline

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/lofiland/lofiproxy/internal/cache"
)

// Strategy serves an intercepted request. Serve never fails: the result is
// a cached, fresh or offline response.
type Strategy interface {
	Serve(ctx context.Context, req *Request) Response
}

// RefreshBackground serves the app shell and manifests. A cached entry is
// returned at once while the origin is fetched in the background to refresh
// it; without an entry the fetch is awaited.
type RefreshBackground struct {
	store   cache.Store
	fetcher Fetcher
	guard   *SizeGuard
	tasks   *Background
}

// NewRefreshBackground creates the strategy.
func NewRefreshBackground(store cache.Store, fetcher Fetcher, guard *SizeGuard, tasks *Background) *RefreshBackground {
	return &RefreshBackground{store: store, fetcher: fetcher, guard: guard, tasks: tasks}
}

// Serve implements Strategy.
func (s *RefreshBackground) Serve(ctx context.Context, req *Request) Response {
	cached, hit := lookup(ctx, s.store, req)

	fresh := make(chan Response, 1)
	bg := context.WithoutCancel(ctx)
	s.tasks.Go("refresh", req.Key(), func() error {
		resp, err := s.fetcher.Fetch(bg, req)
		if err != nil {
			fresh <- nil
			return err
		}
		resp, _ = s.guard.Write(bg, s.store, req, resp)
		fresh <- resp
		return nil
	})

	if hit {
		return cached
	}
	return await(ctx, req, fresh)
}

// CacheFirstRefill serves audio loops. A cached entry is returned at once;
// in the background the origin is fetched, the result stored and the audio
// partition trimmed. Without an entry the fetch is awaited.
type CacheFirstRefill struct {
	store   cache.Store
	fetcher Fetcher
	guard   *SizeGuard
	evictor *Evictor
	tasks   *Background
}

// NewCacheFirstRefill creates the strategy.
func NewCacheFirstRefill(store cache.Store, fetcher Fetcher, guard *SizeGuard, evictor *Evictor, tasks *Background) *CacheFirstRefill {
	return &CacheFirstRefill{store: store, fetcher: fetcher, guard: guard, evictor: evictor, tasks: tasks}
}

// Serve implements Strategy.
func (s *CacheFirstRefill) Serve(ctx context.Context, req *Request) Response {
	cached, hit := lookup(ctx, s.store, req)

	fresh := make(chan Response, 1)
	bg := context.WithoutCancel(ctx)
	s.tasks.Go("refill", req.Key(), func() error {
		resp, err := s.fetcher.Fetch(bg, req)
		if err != nil {
			fresh <- nil
			return err
		}
		if _, stored := s.guard.Write(bg, s.store, req, resp.Clone()); stored {
			s.evictor.Enforce(bg, s.store)
		}
		fresh <- resp
		return nil
	})

	if hit {
		return cached
	}
	return await(ctx, req, fresh)
}

// lookup returns the cached entry for req. Store errors count as a miss.
func lookup(ctx context.Context, store cache.Store, req *Request) (Response, bool) {
	entry, err := store.Match(ctx, req.Key())
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Debug("Cache lookup failed", "key", req.Key(), "error", err)
		}
		return nil, false
	}
	log.Debug("Cache hit", "key", req.Key(), "size", entry.Size())
	return FromEntry(entry), true
}

// await waits for the background fetch of a cache miss. A failed fetch, or
// a caller that went away, yields the offline response.
func await(ctx context.Context, req *Request, fresh <-chan Response) Response {
	select {
	case resp := <-fresh:
		if resp != nil {
			return resp
		}
		log.Debug("Serving offline response", "key", req.Key())
		return Offline()
	case <-ctx.Done():
		return Offline()
	}
}
