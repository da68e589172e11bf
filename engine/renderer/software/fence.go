package software

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type fence struct {
	mu       sync.Mutex
	signaled bool
	done     chan struct{}
}

func newFence(signaled bool) *fence {
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f
}

func (f *fence) isSignaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *fence) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
}

func (f *fence) wait() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (d *Device) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.FenceHandle(d.nextHandle())
	d.fences[h] = newFence(signaled)
	if signaled {
		d.timeline.record(EventFenceSignal, 0, h)
	}
	return h, nil
}

func (d *Device) DestroyFence(h metadata.FenceHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, h)
}

func (d *Device) lookupFence(h metadata.FenceHandle) (*fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[h]
	if !ok {
		return nil, fmt.Errorf("unknown fence %d", h)
	}
	return f, nil
}

func (d *Device) WaitForFence(h metadata.FenceHandle, timeout uint64) error {
	f, err := d.lookupFence(h)
	if err != nil {
		return err
	}
	done := f.wait()
	if timeout == metadata.TimeoutInfinite {
		<-done
		return d.Lost()
	}
	select {
	case <-done:
		return d.Lost()
	default:
	}
	if timeout == 0 {
		if err := d.Lost(); err != nil {
			return err
		}
		return core.ErrFenceTimeout
	}
	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()
	select {
	case <-done:
		return d.Lost()
	case <-timer.C:
		if err := d.Lost(); err != nil {
			return err
		}
		return core.ErrFenceTimeout
	}
}

func (d *Device) ResetFence(h metadata.FenceHandle) error {
	f, err := d.lookupFence(h)
	if err != nil {
		return err
	}
	f.reset()
	return nil
}
