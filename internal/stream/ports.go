package stream

import (
	"fmt"
	"sync"
)

// portAllocator hands out broadcast ports from a fixed range starting
// at base. Explicitly requested in-range ports are reserved so they are
// never handed out twice, and released ports are reused, so add/remove
// cycles do not exhaust the range.
type portAllocator struct {
	mu   sync.Mutex
	base int
	size int
	used map[int]bool
}

func newPortAllocator(base, size int) *portAllocator {
	return &portAllocator{
		base: base,
		size: size,
		used: make(map[int]bool),
	}
}

// acquire returns the lowest free port in the range.
func (p *portAllocator) acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		port := p.base + i
		if !p.used[port] {
			p.used[port] = true
			return port, nil
		}
	}
	return 0, fmt.Errorf("broadcast port range exhausted (%d-%d)", p.base, p.base+p.size-1)
}

// reserve marks an explicitly requested port as in use so acquire
// skips it. Ports outside the range are not tracked and reserve
// reports tracked=false for them. Reserving a port already in use is
// an error.
func (p *portAllocator) reserve(port int) (tracked bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port < p.base || port >= p.base+p.size {
		return false, nil
	}
	if p.used[port] {
		return false, fmt.Errorf("port %d already in use", port)
	}
	p.used[port] = true
	return true, nil
}

// release returns a port to the pool. Callers must release each
// acquired or reserved port exactly once.
func (p *portAllocator) release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port < p.base || port >= p.base+p.size {
		return
	}
	delete(p.used, port)
}
