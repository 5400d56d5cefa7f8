package offline

import (
	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"
)

// Background runs refresh and refill work that must outlive the request
// that started it. Task errors are logged and dropped; panics are held
// until Wait.
type Background struct {
	wg conc.WaitGroup
}

// NewBackground creates an empty background scope.
func NewBackground() *Background {
	return &Background{}
}

// Go starts fn. task and key only label log lines.
func (b *Background) Go(task, key string, fn func() error) {
	b.wg.Go(func() {
		if err := fn(); err != nil {
			log.Debug("Background task failed", "task", task, "key", key, "error", err)
		}
	})
}

// Wait blocks until every started task has finished. A recovered panic is
// logged, not re-raised.
func (b *Background) Wait() {
	if r := b.wg.WaitAndRecover(); r != nil {
		log.Error("Background task panicked", "panic", r.Value, "stack", string(r.Stack))
	}
}
