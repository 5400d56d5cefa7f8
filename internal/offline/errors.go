package offline

import "errors"

// Failures inside the engine. None of them reach a caller: they are logged
// where they happen and the request continues with a cached, fresh or
// offline response.
var (
	// ErrNetwork indicates the origin could not be reached
	ErrNetwork = errors.New("network fetch failed")

	// ErrCacheWrite indicates an entry could not be persisted
	ErrCacheWrite = errors.New("cache write failed")

	// ErrOversize indicates a body over the size ceiling, or one that could
	// not be buffered to measure it
	ErrOversize = errors.New("response too large to cache")

	// ErrActivation indicates stale generations could not all be purged;
	// the new generation serves regardless
	ErrActivation = errors.New("activation incomplete")

	// ErrNotActive indicates no generation has been activated yet
	ErrNotActive = errors.New("no active cache generation")
)
