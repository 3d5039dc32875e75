// Package mempool hands out reusable scratch slices for the image filters.
// Buffers are bucketed by size class so that frames of the same crop size
// share storage across images and workers.
package mempool

import (
	"sync"
)

const classStep = 1024

// sizeClass rounds n up to the next multiple of 1024 with 1024 as minimum.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	r := (n + classStep - 1) / classStep
	return r * classStep
}

// SizedPool is a set of sync.Pools keyed by size class. The zero value is
// ready to use.
type SizedPool[T any] struct {
	pools sync.Map // size class -> *sync.Pool
}

func (p *SizedPool[T]) class(cls int) *sync.Pool {
	if v, ok := p.pools.Load(cls); ok {
		return v.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
	}
	v, _ := p.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return v.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
}

// Get returns a slice of length n. The contents are not cleared; callers
// must overwrite every element they read.
func (p *SizedPool[T]) Get(n int) []T {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	bp, ok := p.class(cls).Get().(*[]T)
	if !ok || cap(*bp) < n {
		return make([]T, n, cls)
	}
	return (*bp)[:n]
}

// Put returns buf for reuse. Nil and empty slices are ignored.
func (p *SizedPool[T]) Put(buf []T) {
	if cap(buf) == 0 {
		return
	}
	buf = buf[:cap(buf)]
	p.class(sizeClass(cap(buf))).Put(&buf)
}

// Shared pools used by the preprocessing filters.
var (
	Float64 SizedPool[float64]
	Bytes   SizedPool[uint8]
)
