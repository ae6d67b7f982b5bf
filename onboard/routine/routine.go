// Package routine identifies the calling goroutine so that a worker asked to
// stop by its own code can skip waiting on itself.
package routine

import "github.com/petermattis/goid"

// ID returns the runtime id of the calling goroutine.
func ID() uint64 {
	return uint64(goid.Get())
}

// Handle tracks a goroutine started with Go.
type Handle struct {
	id   chan uint64
	gid  uint64
	done chan struct{}
}

// Go runs f on a new goroutine.
func Go(f func()) *Handle {
	h := &Handle{
		id:   make(chan uint64, 1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		h.id <- ID()
		f()
	}()
	h.gid = <-h.id
	return h
}

// IsCurrent reports whether the caller is running on the handle's goroutine.
func (h *Handle) IsCurrent() bool {
	return h != nil && h.gid == ID()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Join waits for the goroutine to return. It returns false without waiting
// when called from the goroutine itself.
func (h *Handle) Join() bool {
	if h == nil {
		return true
	}
	if h.IsCurrent() {
		return false
	}
	<-h.done
	return true
}
