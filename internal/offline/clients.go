package offline

import (
	"container/list"
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// ClientCookie identifies an open player page.
const ClientCookie = "lofiproxy_client"

// Clients is the set of open pages that a newly activated generation takes
// control of.
type Clients interface {
	Claim(ctx context.Context, generation string) error
}

// DefaultMaxClients bounds the pages a ClientRegistry remembers.
const DefaultMaxClients = 4096

// ClientRegistry records which generation controls each known page. Pages
// are identified by the ClientCookie set on document responses. Only the
// most recently seen pages are remembered; the least recently seen page is
// forgotten once the registry is full.
type ClientRegistry struct {
	mu    sync.Mutex
	limit int
	pages map[string]*list.Element
	order *list.List // front is most recently seen
}

type clientPage struct {
	id         string
	generation string
}

// NewClientRegistry creates an empty registry holding up to
// DefaultMaxClients pages.
func NewClientRegistry() *ClientRegistry {
	return NewBoundedClientRegistry(DefaultMaxClients)
}

// NewBoundedClientRegistry creates an empty registry holding up to limit
// pages.
func NewBoundedClientRegistry(limit int) *ClientRegistry {
	if limit <= 0 {
		limit = DefaultMaxClients
	}
	return &ClientRegistry{
		limit: limit,
		pages: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Observe records a page load. A page seen for the first time is controlled
// by the generation that served it; known pages keep their controller until
// the next claim.
func (c *ClientRegistry) Observe(id, generation string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.pages[id]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*clientPage).generation
	}

	c.pages[id] = c.order.PushFront(&clientPage{id: id, generation: generation})
	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.pages, oldest.Value.(*clientPage).id)
	}
	return generation
}

// Controller returns the generation controlling the page.
func (c *ClientRegistry) Controller(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.pages[id]
	if !ok {
		return "", false
	}
	return elem.Value.(*clientPage).generation, true
}

// Claim hands every known page to generation.
func (c *ClientRegistry) Claim(_ context.Context, generation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		elem.Value.(*clientPage).generation = generation
	}
	return nil
}

// Len returns the number of known pages.
func (c *ClientRegistry) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// clientID returns the page id carried by r, or a new one and the cookie to
// set when r has none.
func clientID(r *http.Request) (string, *http.Cookie) {
	if c, err := r.Cookie(ClientCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	id := uuid.NewString()
	return id, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
