package onboard

import (
	"errors"
	"sync"

	"github.com/CodedInternet/gocopis/onboard/broadcast"
)

var ErrIndexRange = errors.New("index out of range")

// MonitoredList is a slice that publishes its topic once after every
// mutation, when the new contents are already visible to readers.
type MonitoredList[T any] struct {
	lock  sync.RWMutex
	items []T
	bus   *broadcast.Bus
	topic broadcast.Topic
}

func NewMonitoredList[T any](bus *broadcast.Bus, topic broadcast.Topic, items ...T) *MonitoredList[T] {
	return &MonitoredList[T]{
		items: append([]T(nil), items...),
		bus:   bus,
		topic: topic,
	}
}

func (l *MonitoredList[T]) changed() {
	if l.bus != nil {
		l.bus.Notify(l.topic)
	}
}

func (l *MonitoredList[T]) Append(v T) {
	l.lock.Lock()
	l.items = append(l.items, v)
	l.lock.Unlock()
	l.changed()
}

func (l *MonitoredList[T]) Extend(vs []T) {
	l.lock.Lock()
	l.items = append(l.items, vs...)
	l.lock.Unlock()
	l.changed()
}

func (l *MonitoredList[T]) Remove(i int) (v T, err error) {
	l.lock.Lock()
	if i < 0 || i >= len(l.items) {
		l.lock.Unlock()
		return v, ErrIndexRange
	}
	v = l.items[i]
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	l.lock.Unlock()
	l.changed()
	return v, nil
}

func (l *MonitoredList[T]) Clear() {
	l.lock.Lock()
	l.items = nil
	l.lock.Unlock()
	l.changed()
}

// Replace swaps the whole contents as a single mutation.
func (l *MonitoredList[T]) Replace(vs []T) {
	l.lock.Lock()
	l.items = append([]T(nil), vs...)
	l.lock.Unlock()
	l.changed()
}

func (l *MonitoredList[T]) Update(i int, v T) error {
	l.lock.Lock()
	if i < 0 || i >= len(l.items) {
		l.lock.Unlock()
		return ErrIndexRange
	}
	l.items[i] = v
	l.lock.Unlock()
	l.changed()
	return nil
}

// Modify runs f with exclusive access to the items. The topic is published
// only if f reports a change.
func (l *MonitoredList[T]) Modify(f func(items []T) bool) {
	l.lock.Lock()
	changed := f(l.items)
	l.lock.Unlock()
	if changed {
		l.changed()
	}
}

// View runs f with shared access to the items. f must not keep the slice.
func (l *MonitoredList[T]) View(f func(items []T)) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	f(l.items)
}

func (l *MonitoredList[T]) Len() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return len(l.items)
}

func (l *MonitoredList[T]) At(i int) (v T, ok bool) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	if i < 0 || i >= len(l.items) {
		return v, false
	}
	return l.items[i], true
}

func (l *MonitoredList[T]) Snapshot() []T {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return append([]T(nil), l.items...)
}
