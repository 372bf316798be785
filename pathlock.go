package objdb

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// pathLocks hands out one mutex per filesystem path so that concurrent
// operations on distinct files never contend.
type pathLocks struct {
	m *xsync.MapOf[string, *sync.Mutex]
}

func newPathLocks() *pathLocks {
	return &pathLocks{m: xsync.NewMapOf[string, *sync.Mutex]()}
}

func (pl *pathLocks) lock(path string) func() {
	mu, _ := pl.m.LoadOrCompute(path, func() *sync.Mutex {
		return new(sync.Mutex)
	})
	mu.Lock()
	return mu.Unlock
}

func (pl *pathLocks) size() int {
	return pl.m.Size()
}

// clear forgets all locks. Callers must ensure none are held.
func (pl *pathLocks) clear() {
	pl.m.Clear()
}
