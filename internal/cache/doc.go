// Package cache provides the persistent response stores behind the offline
// interceptor. A Storage holds named generations; each generation is a Store
// keyed by request identity that enumerates its keys in insertion order.
//
// Three backends are available: an in-memory store, a disk store with
// optional zstd compression, and a SQLite store.
package cache
