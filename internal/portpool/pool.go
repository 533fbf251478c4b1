// Package portpool hands out UDP port numbers within a configured range.
package portpool

import (
	"math/rand"
	"sync"
)

// Pool hands out unique port numbers drawn at random from the
// half-open range [min, max).
type Pool struct {
	min int
	max int

	mutex     sync.Mutex
	allocated map[int]struct{}
	rnd       *rand.Rand
}

// New allocates a Pool. min and max delimit the half-open range [min, max).
func New(min int, max int, seed int64) *Pool {
	if max < min {
		min, max = max, min
	}
	if max == 0 {
		max = 65535
	}

	return &Pool{
		min:       min,
		max:       max,
		allocated: make(map[int]struct{}),
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

// Acquire returns a port not currently allocated.
// ok is false when every port in the range is taken.
func (p *Pool) Acquire() (int, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.allocated) >= (p.max - p.min) {
		return 0, false
	}

	var port int
	for {
		port = p.min + p.rnd.Intn(p.max-p.min)
		if _, ok := p.allocated[port]; !ok {
			break
		}
	}

	p.allocated[port] = struct{}{}
	return port, true
}

// Release returns a port to the pool. Releasing a port that was never
// acquired is a no-op.
func (p *Pool) Release(port int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.allocated, port)
}

// Allocated returns the number of currently allocated ports.
func (p *Pool) Allocated() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.allocated)
}
