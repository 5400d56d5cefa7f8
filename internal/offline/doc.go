// Package offline implements the caching decision engine of the proxy:
// request classification, the refresh-background and cache-first-refill
// strategies, the size guard on cached payloads, audio eviction and the
// generation lifecycle.
package offline
