package offline

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/lofiland/lofiproxy/internal/cache"
)

// SizeGuard gates cache writes on the decoded body size.
type SizeGuard struct {
	limit int64
}

// NewSizeGuard creates a guard with the given byte ceiling.
func NewSizeGuard(limit int64) *SizeGuard {
	return &SizeGuard{limit: limit}
}

// Limit returns the byte ceiling.
func (g *SizeGuard) Limit() int64 {
	return g.limit
}

// Write stores a copy of resp under req's identity when it is successful and
// within the ceiling. resp is always returned unchanged; the bool reports
// whether an entry was persisted. No failure escapes this call.
func (g *SizeGuard) Write(ctx context.Context, store cache.Store, req *Request, resp Response) (Response, bool) {
	if resp == nil || !resp.OK() {
		return resp, false
	}

	body, err := g.measure(resp)
	if err != nil {
		log.Debug("Skipping cache write", "key", req.Key(), "error", err)
		return resp, false
	}

	if err := store.Put(ctx, req.Key(), toEntry(resp.Clone(), body)); err != nil {
		log.Debug("Skipping cache write", "key", req.Key(), "error", fmt.Errorf("%w: %v", ErrCacheWrite, err))
		return resp, false
	}

	log.Debug("Cached response", "key", req.Key(), "size", humanize.IBytes(uint64(len(body))))
	return resp, true
}

// measure buffers a clone of the body. A body that cannot be buffered is
// treated as oversize.
func (g *SizeGuard) measure(resp Response) ([]byte, error) {
	body, err := resp.Clone().Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: buffering body: %v", ErrOversize, err)
	}
	if int64(len(body)) > g.limit {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrOversize,
			humanize.IBytes(uint64(len(body))), humanize.IBytes(uint64(g.limit)))
	}
	return body, nil
}
