package vst3

import (
	"sync"
	"sync/atomic"
)

// FUnknown is the root of every reference-counted interface.
type FUnknown interface {
	AddRef() uint32
	Release() uint32
}

// RefCount is an embeddable reference counter. The zero value holds one
// reference, owned by whoever created the object.
type RefCount struct {
	refs      atomic.Int32
	OnRelease func()
}

// AddRef increments the count
func (r *RefCount) AddRef() uint32 {
	return uint32(r.refs.Add(1) + 1)
}

// Release decrements the count and runs OnRelease when the last reference goes.
func (r *RefCount) Release() uint32 {
	n := r.refs.Add(-1) + 1
	if n == 0 && r.OnRelease != nil {
		r.OnRelease()
	}
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// RefCountValue returns the current number of references
func (r *RefCount) RefCountValue() uint32 {
	n := r.refs.Load() + 1
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// Handle owns exactly one reference to an interface value. Clone takes a new
// reference; Release gives it back once no matter how often it is called.
type Handle[T FUnknown] struct {
	obj  T
	once sync.Once
	live atomic.Bool
}

// Own adopts a reference the caller already holds.
func Own[T FUnknown](obj T) *Handle[T] {
	h := &Handle[T]{obj: obj}
	h.live.Store(true)
	return h
}

// Clone increments the reference count and wraps the new reference.
func (h *Handle[T]) Clone() *Handle[T] {
	h.obj.AddRef()
	return Own(h.obj)
}

// Get returns the wrapped interface. It must not be used after Release.
func (h *Handle[T]) Get() T {
	return h.obj
}

// Valid reports whether the reference is still held
func (h *Handle[T]) Valid() bool {
	return h != nil && h.live.Load()
}

// Release drops the reference. Further calls are no-ops.
func (h *Handle[T]) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.live.Store(false)
		h.obj.Release()
	})
}
