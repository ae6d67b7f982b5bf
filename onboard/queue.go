package onboard

import (
	"sync"
	"time"

	"github.com/CodedInternet/gocopis/onboard/hardware"
)

// CommandQueue is a FIFO of actions shared between goroutines.
type CommandQueue struct {
	lock  sync.Mutex
	items []hardware.Action
	ready chan struct{}
}

func NewCommandQueue(actions ...hardware.Action) *CommandQueue {
	q := &CommandQueue{ready: make(chan struct{}, 1)}
	q.PushAll(actions)
	return q
}

func (q *CommandQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *CommandQueue) Push(a hardware.Action) {
	q.lock.Lock()
	q.items = append(q.items, a)
	q.lock.Unlock()
	q.signal()
}

func (q *CommandQueue) PushAll(actions []hardware.Action) {
	if len(actions) == 0 {
		return
	}
	q.lock.Lock()
	q.items = append(q.items, actions...)
	q.lock.Unlock()
	q.signal()
}

// PushFront returns an action to the head of the queue.
func (q *CommandQueue) PushFront(a hardware.Action) {
	q.lock.Lock()
	q.items = append([]hardware.Action{a}, q.items...)
	q.lock.Unlock()
	q.signal()
}

func (q *CommandQueue) TryPop() (a hardware.Action, ok bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.items) == 0 {
		return
	}
	a = q.items[0]
	q.items[0] = hardware.Action{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return a, true
}

// PopWait waits up to timeout for an action.
func (q *CommandQueue) PopWait(timeout time.Duration) (hardware.Action, bool) {
	return q.popWait(timeout, nil)
}

// popWait is PopWait that also gives up when stop is closed.
func (q *CommandQueue) popWait(timeout time.Duration, stop <-chan struct{}) (hardware.Action, bool) {
	if a, ok := q.TryPop(); ok {
		return a, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.ready:
			if a, ok := q.TryPop(); ok {
				return a, true
			}
		case <-stop:
			return hardware.Action{}, false
		case <-timer.C:
			return q.TryPop()
		}
	}
}

func (q *CommandQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}

func (q *CommandQueue) Snapshot() []hardware.Action {
	q.lock.Lock()
	defer q.lock.Unlock()
	return append([]hardware.Action(nil), q.items...)
}

func (q *CommandQueue) Clear() {
	q.lock.Lock()
	q.items = nil
	q.lock.Unlock()
}
