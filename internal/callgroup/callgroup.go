// Package callgroup deduplicates concurrent loads by key.
//
// When several goroutines ask for the same key at once, the first runs the
// load and the rest share its value and error. Nothing is retained after the
// load returns; caching is the caller's business.
package callgroup

import (
	"context"
	"sync"
)

// Group deduplicates concurrent loads of values of type V by key K.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	done   chan struct{}
	val    V
	err    error
	shared int
}

// Do runs fn for key unless a load for key is already in flight, in which
// case it waits for that load. shared reports whether the result came from
// another caller's load. A waiter whose ctx ends returns ctx.Err() while the
// load keeps running for the others.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (val V, shared bool, err error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		c.shared++
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			var zero V
			return zero, true, ctx.Err()
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	close(c.done)

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()

	return c.val, false, c.err
}

// InFlight reports the number of keys currently loading.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
