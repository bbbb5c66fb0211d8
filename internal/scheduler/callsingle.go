package scheduler

import (
	"sync"

	"github.com/halvard/gobdd/internal/values"
)

// CallSingleLoader resolves a `karate.callSingle(path, arg)` path into a
// value, the same loader a plain `call` would use.
type CallSingleLoader func(path string, arg values.Value) (values.Value, error)

// CallSingleCache is the suite-scoped (not feature-scoped) memoization
// table spec §4.H describes: "a path -> completion-future map with
// double-checked initialisation; readers block on the future." One
// instance is shared by every FeatureRunner in a suite run.
type CallSingleCache struct {
	loader CallSingleLoader

	mu    sync.Mutex
	cells map[string]*singleCell
}

type singleCell struct {
	ready chan struct{}
	value values.Value
	err   error
}

func NewCallSingleCache(loader CallSingleLoader) *CallSingleCache {
	return &CallSingleCache{loader: loader, cells: make(map[string]*singleCell)}
}

// Get implements spec Testable Property 6: the first invocation for a
// path executes the loader; every subsequent invocation — on any
// goroutine, from any feature — blocks on the same future and receives
// an identical result.
func (c *CallSingleCache) Get(path string, arg values.Value) (values.Value, error) {
	c.mu.Lock()
	cell, existed := c.cells[path]
	if !existed {
		cell = &singleCell{ready: make(chan struct{})}
		c.cells[path] = cell
	}
	c.mu.Unlock()

	if !existed {
		cell.value, cell.err = c.loader(path, arg)
		close(cell.ready)
	} else {
		<-cell.ready
	}
	return cell.value.DeepCopy(), cell.err
}
