package offline

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/lofiland/lofiproxy/internal/cache"
)

// Evictor bounds the number of entries in one partition of a store,
// removing the oldest entries first.
type Evictor struct {
	limit     int
	partition func(key string) bool
}

// NewAudioEvictor bounds the audio partition to limit entries.
func NewAudioEvictor(limit int) *Evictor {
	return &Evictor{limit: limit, partition: IsAudioKey}
}

// Enforce deletes the oldest partition entries above the limit and returns
// how many were deleted. A failing delete ends the pass; failures are
// logged, never returned.
func (e *Evictor) Enforce(ctx context.Context, store cache.Store) int {
	keys, err := store.Keys(ctx)
	if err != nil {
		log.Debug("Eviction skipped", "generation", store.Name(), "error", err)
		return 0
	}

	partition := keys[:0:0]
	for _, k := range keys {
		if e.partition(k) {
			partition = append(partition, k)
		}
	}

	if len(partition) <= e.limit {
		return 0
	}

	excess := len(partition) - e.limit
	evicted := 0
	for _, key := range partition[:excess] {
		if _, err := store.Delete(ctx, key); err != nil {
			log.Debug("Eviction halted", "generation", store.Name(), "key", key, "error", err)
			break
		}
		evicted++
	}

	log.Debug("Evicted audio entries", "generation", store.Name(), "evicted", evicted, "limit", e.limit)
	return evicted
}
