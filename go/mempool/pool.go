// Package mempool provides the task-scoped allocation pool.
//
// A Pool owns every allocation and external resource derived from a
// single task. Cleanup closures registered on the pool run in LIFO
// order when the pool is destroyed, because later resources may
// reference earlier ones. A Pool is not safe for concurrent use; a
// task is processed on one goroutine at a time.
package mempool

import (
	"sync/atomic"
)

// Stats tracks pool allocation accounting across the process.
type Stats struct {
	Pools       int64
	Allocations int64
	Bytes       int64
}

var stats Stats

// GetStats returns a snapshot of process-wide pool statistics.
func GetStats() Stats {
	return Stats{
		Pools:       atomic.LoadInt64(&stats.Pools),
		Allocations: atomic.LoadInt64(&stats.Allocations),
		Bytes:       atomic.LoadInt64(&stats.Bytes),
	}
}

// Pool is a scoped allocation region with an ordered destructor list.
type Pool struct {
	dtors     []func()
	vars      map[string]interface{}
	destroyed bool
}

// New returns an empty Pool.
func New() *Pool {
	atomic.AddInt64(&stats.Pools, 1)
	return &Pool{}
}

// Alloc returns an uninterpreted byte region of length n.
func (p *Pool) Alloc(n int) []byte {
	p.check()
	atomic.AddInt64(&stats.Allocations, 1)
	atomic.AddInt64(&stats.Bytes, int64(n))
	return make([]byte, n)
}

// AllocZeroed is Alloc. It exists so call sites can state their
// intent; Go zeroes all allocations.
func (p *Pool) AllocZeroed(n int) []byte { return p.Alloc(n) }

// AddDestructor registers fn to run when the pool is destroyed.
// Destructors run in reverse registration order.
func (p *Pool) AddDestructor(fn func()) {
	p.check()
	p.dtors = append(p.dtors, fn)
}

// SetVariable binds a named value to the pool's lifetime.
func (p *Pool) SetVariable(key string, value interface{}) {
	p.check()
	if p.vars == nil {
		p.vars = make(map[string]interface{})
	}
	p.vars[key] = value
}

// GetVariable returns the value bound under key, or nil.
func (p *Pool) GetVariable(key string) interface{} {
	p.check()
	return p.vars[key]
}

// Destroy runs registered destructors in LIFO order and releases the
// pool. No operation on the pool is defined after Destroy.
func (p *Pool) Destroy() {
	p.check()
	p.destroyed = true

	for i := len(p.dtors) - 1; i >= 0; i-- {
		p.dtors[i]()
	}
	p.dtors = nil
	p.vars = nil
	atomic.AddInt64(&stats.Pools, -1)
}

func (p *Pool) check() {
	if p.destroyed {
		panic("mempool: use after Destroy")
	}
}
