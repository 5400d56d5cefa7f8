package packs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/lofiland/lofiproxy/internal/cache"
	"github.com/lofiland/lofiproxy/internal/offline"
)

// Server is the part of the interceptor the warmer drives.
type Server interface {
	Serve(ctx context.Context, req *offline.Request) (offline.Response, bool)
	Store() cache.Store
}

// WarmResult counts what happened to each loop of a pack.
type WarmResult struct {
	Loops   int // Loops listed in the manifest
	Cached  int // Already cached
	Fetched int // Fetched from the origin and stored
	Skipped int // Fetched but not stored, e.g. over the size ceiling
	Failed  int // Neither cached nor fetchable
}

// Warmer fills the cache with a pack's loops by requesting them through
// the audio strategy, paced by a rate limiter.
type Warmer struct {
	server  Server
	limiter *rate.Limiter
}

// NewWarmer creates a warmer issuing at most perSecond loop requests per
// second. perSecond <= 0 disables pacing.
func NewWarmer(server Server, perSecond float64) *Warmer {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Warmer{server: server, limiter: rate.NewLimiter(limit, 1)}
}

// Warm fetches the manifest at manifestURL and requests every loop it
// lists. Loop URLs resolve relative to the manifest.
func (w *Warmer) Warm(ctx context.Context, manifestURL string) (WarmResult, error) {
	var result WarmResult

	req, err := offline.NewRequest(http.MethodGet, manifestURL)
	if err != nil {
		return result, err
	}
	if offline.Classify(req) != offline.Manifest {
		return result, fmt.Errorf("%s is not a pack manifest url", manifestURL)
	}

	resp, ok := w.server.Serve(ctx, req)
	if !ok {
		return result, fmt.Errorf("%w: manifest not intercepted", offline.ErrNotActive)
	}
	if !resp.OK() {
		return result, fmt.Errorf("unable to get manifest: HTTP status %d", resp.Status())
	}
	body, err := resp.Bytes()
	if err != nil {
		return result, fmt.Errorf("unable to read manifest: %w", err)
	}

	m, err := ParseManifest(body)
	if err != nil {
		return result, err
	}

	for _, file := range m.Files() {
		if err := w.limiter.Wait(ctx); err != nil {
			return result, err
		}
		result.Loops++

		loopURL := req.URL.ResolveReference(&url.URL{Path: file})
		loop, err := offline.NewRequest(http.MethodGet, loopURL.String())
		if err != nil || offline.Classify(loop) != offline.Audio {
			log.Warn("Skipping manifest entry", "file", file)
			result.Failed++
			continue
		}

		resp, _ := w.server.Serve(ctx, loop)
		switch {
		case resp == nil || !resp.OK():
			result.Failed++
		case offline.CacheStatus(resp) == offline.StatusHit:
			result.Cached++
		case w.stored(ctx, loop):
			// A miss is answered after the refill has written the entry
			result.Fetched++
		default:
			result.Skipped++
		}
	}

	return result, nil
}

func (w *Warmer) stored(ctx context.Context, req *offline.Request) bool {
	store := w.server.Store()
	if store == nil {
		return false
	}
	_, err := store.Match(ctx, req.Key())
	return err == nil
}
