package offline

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/lofiland/lofiproxy/internal/cache"
)

// GenerationHeader names the generation that controls the requesting page.
const GenerationHeader = "X-Lofiproxy-Generation"

// Interceptor is the entry point: it routes every request either to a
// strategy or, untouched, to next.
type Interceptor struct {
	config  Config
	fetcher Fetcher
	next    http.Handler
	tasks   *Background
	clients *ClientRegistry

	active atomic.Pointer[engine]
}

// engine bundles the strategies bound to one generation's store.
type engine struct {
	store   cache.Store
	refresh *RefreshBackground
	refill  *CacheFirstRefill
}

// NewInterceptor creates an interceptor. Until Use is called every request
// goes to next.
func NewInterceptor(config Config, fetcher Fetcher, next http.Handler, tasks *Background, clients *ClientRegistry) *Interceptor {
	if tasks == nil {
		tasks = NewBackground()
	}
	if clients == nil {
		clients = NewClientRegistry()
	}
	return &Interceptor{
		config:  config.withDefaults(),
		fetcher: fetcher,
		next:    next,
		tasks:   tasks,
		clients: clients,
	}
}

// Use binds the strategies to store. Requests already in flight finish on
// the previous store.
func (i *Interceptor) Use(store cache.Store) {
	guard := NewSizeGuard(i.config.MaxResponseBytes)
	i.active.Store(&engine{
		store:   store,
		refresh: NewRefreshBackground(store, i.fetcher, guard, i.tasks),
		refill:  NewCacheFirstRefill(store, i.fetcher, guard, NewAudioEvictor(i.config.MaxAudioEntries), i.tasks),
	})
}

// Store returns the active store, or nil before the first Use.
func (i *Interceptor) Store() cache.Store {
	if e := i.active.Load(); e != nil {
		return e.store
	}
	return nil
}

// Route returns the strategy for req, or nil when req is not intercepted.
func (i *Interceptor) Route(req *Request) Strategy {
	e := i.active.Load()
	if e == nil {
		return nil
	}

	switch Classify(req) {
	case Audio:
		return e.refill
	case Manifest, Document:
		return e.refresh
	default:
		return nil
	}
}

// Serve runs req through its strategy. It reports false when req is not
// intercepted.
func (i *Interceptor) Serve(ctx context.Context, req *Request) (Response, bool) {
	s := i.Route(req)
	if s == nil {
		return nil, false
	}
	return s.Serve(ctx, req), true
}

// ServeHTTP implements http.Handler.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := FromHTTP(r)

	s := i.Route(req)
	if s == nil {
		i.forward(w, r)
		return
	}

	class := Classify(req)
	if class == Document {
		i.observeClient(w, r)
	}

	resp := s.Serve(r.Context(), req)
	if err := WriteResponse(w, resp); err != nil {
		log.Debug("Failed to write response", "key", req.Key(), "error", err)
		// Nothing was written yet when the body could not be read
		if w.Header().Get(CacheStatusHeader) == "" {
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		}
		return
	}

	log.Debug("Served request", "class", class, "key", req.Key(),
		"status", resp.Status(), "cache", CacheStatus(resp))
}

func (i *Interceptor) forward(w http.ResponseWriter, r *http.Request) {
	if i.next == nil {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	i.next.ServeHTTP(w, r)
}

func (i *Interceptor) observeClient(w http.ResponseWriter, r *http.Request) {
	e := i.active.Load()
	if e == nil {
		return
	}

	id, cookie := clientID(r)
	if cookie != nil {
		http.SetCookie(w, cookie)
	}
	w.Header().Set(GenerationHeader, i.clients.Observe(id, e.store.Name()))
}
