package vulkan

import "sync"

/**
 * @brief Maps the opaque uint64 handles handed to the render systems onto the
 * backend objects behind them. Zero is never issued.
 */
type registry[T any] struct {
	mu    sync.RWMutex
	next  uint64
	items map[uint64]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{items: make(map[uint64]T)}
}

func (r *registry[T]) add(item T) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.items[r.next] = item
	return r.next
}

func (r *registry[T]) get(handle uint64) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[handle]
	return item, ok
}

// take removes and returns the object behind handle.
func (r *registry[T]) take(handle uint64) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[handle]
	if ok {
		delete(r.items, handle)
	}
	return item, ok
}

// drain empties the registry and returns what was left in it.
func (r *registry[T]) drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := make([]T, 0, len(r.items))
	for _, item := range r.items {
		left = append(left, item)
	}
	r.items = make(map[uint64]T)
	return left
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *registry[T]) keys() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint64, 0, len(r.items))
	for h := range r.items {
		out = append(out, h)
	}
	return out
}
