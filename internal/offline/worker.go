package offline

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lofiland/lofiproxy/internal/cache"
)

// Worker owns the process-wide state: the storage, the background scope,
// the client registry and the interceptor bound to the current generation.
type Worker struct {
	storage     cache.Storage
	tasks       *Background
	clients     *ClientRegistry
	interceptor *Interceptor

	mu         sync.Mutex
	generation string
}

// NewWorker creates a worker. Requests are forwarded to next until Start
// has installed the configured generation.
func NewWorker(config Config, storage cache.Storage, fetcher Fetcher, next http.Handler) *Worker {
	config = config.withDefaults()
	tasks := NewBackground()
	clients := NewClientRegistry()

	return &Worker{
		storage:     storage,
		tasks:       tasks,
		clients:     clients,
		interceptor: NewInterceptor(config, fetcher, next, tasks, clients),
		generation:  config.Generation,
	}
}

// Start installs and activates the configured generation.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	generation := w.generation
	w.mu.Unlock()

	return w.deploy(ctx, generation)
}

// Redeploy switches to a new generation: the new store takes over new
// requests, then stale generations are purged and pages claimed.
func (w *Worker) Redeploy(ctx context.Context, generation string) error {
	w.mu.Lock()
	if generation == w.generation && w.interceptor.Store() != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	return w.deploy(ctx, generation)
}

func (w *Worker) deploy(ctx context.Context, generation string) error {
	lc := NewLifecycle(w.storage, w.clients, generation)

	store, err := lc.Install(ctx)
	if err != nil {
		return err
	}
	w.interceptor.Use(store)

	w.mu.Lock()
	w.generation = generation
	w.mu.Unlock()

	if err := lc.Activate(ctx); err != nil {
		// The new generation already serves; stale ones are retried on the
		// next activation.
		log.Warn("Activation incomplete", "generation", generation, "error", err)
		return fmt.Errorf("%w: %q: %v", ErrActivation, generation, err)
	}
	return nil
}

// Generation returns the current generation name.
func (w *Worker) Generation() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.generation
}

// Handler returns the interception entry point.
func (w *Worker) Handler() http.Handler {
	return w.interceptor
}

// Interceptor returns the interceptor.
func (w *Worker) Interceptor() *Interceptor {
	return w.interceptor
}

// Clients returns the client registry.
func (w *Worker) Clients() *ClientRegistry {
	return w.clients
}

// Wait blocks until all background refresh and refill work is done.
func (w *Worker) Wait() {
	w.tasks.Wait()
}
