package service

import "sync"

// sourceGuard admits one operation per source id at a time.
type sourceGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newSourceGuard() *sourceGuard {
	return &sourceGuard{busy: make(map[string]struct{})}
}

func (g *sourceGuard) acquire(id string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[id]; ok {
		return func() {}, false
	}
	g.busy[id] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.busy, id)
		g.mu.Unlock()
	}, true
}
