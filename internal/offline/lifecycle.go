package offline

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lofiland/lofiproxy/internal/cache"
)

// Lifecycle installs and activates one cache generation.
type Lifecycle struct {
	storage    cache.Storage
	clients    Clients
	generation string
}

// NewLifecycle creates the lifecycle of generation.
func NewLifecycle(storage cache.Storage, clients Clients, generation string) *Lifecycle {
	return &Lifecycle{storage: storage, clients: clients, generation: generation}
}

// Generation returns the generation this lifecycle manages.
func (l *Lifecycle) Generation() string {
	return l.generation
}

// Install opens the generation. It may be activated right away; there is no
// waiting for pages still controlled by an older generation.
func (l *Lifecycle) Install(ctx context.Context) (cache.Store, error) {
	if err := cache.ValidGeneration(l.generation); err != nil {
		return nil, err
	}

	store, err := l.storage.Open(ctx, l.generation)
	if err != nil {
		return nil, fmt.Errorf("failed to install generation %q: %w", l.generation, err)
	}

	log.Info("Installed cache generation", "generation", l.generation)
	return store, nil
}

// Activate deletes every other generation, then claims all known pages for
// this one. Deletions run concurrently; if any fails the pages are not
// claimed and the error is returned.
func (l *Lifecycle) Activate(ctx context.Context) error {
	names, err := l.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("failed to list generations: %w", err)
	}

	var g errgroup.Group
	for _, name := range names {
		if name == l.generation {
			continue
		}
		g.Go(func() error {
			if _, err := l.storage.Remove(ctx, name); err != nil {
				return err
			}
			log.Info("Purged stale cache generation", "generation", name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to purge stale generations: %w", err)
	}

	if l.clients != nil {
		if err := l.clients.Claim(ctx, l.generation); err != nil {
			return fmt.Errorf("failed to claim clients: %w", err)
		}
	}

	log.Info("Activated cache generation", "generation", l.generation)
	return nil
}
