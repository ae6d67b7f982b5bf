// Package broadcast is the notification bus between the rig core and its
// observers: the HTTP API, websocket clients and the dev shell.
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/CodedInternet/gocopis/onboard/routine"
	"github.com/sirupsen/logrus"
)

type Topic int

const (
	DeviceListChanged Topic = iota
	DeviceSelected
	DeviceDeselected
	ActionListChanged
	ActionSelected
	ActionDeselected
	ObjectListChanged
	ObjectSelected
	ObjectDeselected
	Message
	Error
	ActionsExported

	numTopics
)

var topicNames = [...]string{
	"device_list_changed",
	"device_selected",
	"device_deselected",
	"action_list_changed",
	"action_selected",
	"action_deselected",
	"object_list_changed",
	"object_selected",
	"object_deselected",
	"message",
	"error",
	"actions_exported",
}

const (
	_ = uint(len(topicNames) - int(numTopics))
	_ = uint(int(numTopics) - len(topicNames))
)

func Topics() []Topic {
	t := make([]Topic, numTopics)
	for i := range t {
		t[i] = Topic(i)
	}
	return t
}

func (t Topic) Valid() bool {
	return t >= 0 && t < numTopics
}

func (t Topic) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Topic(%d)", int(t))
	}
	return topicNames[t]
}

func (t Topic) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event is the payload of a publication. Only the fields relevant to the
// topic are set.
type Event struct {
	Topic    Topic       `json:"topic"`
	Index    int         `json:"index,omitempty"`
	Indices  []int       `json:"indices,omitempty"`
	Device   interface{} `json:"device,omitempty"`
	Message  string      `json:"message,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Err      error       `json:"-"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	out := struct {
		plain
		Index *int `json:"index,omitempty"`
	}{plain: plain(e)}
	switch e.Topic {
	case DeviceSelected, DeviceDeselected, ActionSelected, ActionDeselected, ObjectSelected, ObjectDeselected:
		out.Index = &e.Index
	}
	return json.Marshal(out)
}

type Handler func(Event)

type Subscription struct {
	bus     *Bus
	topic   Topic
	all     bool
	handler Handler
}

// Unsubscribe removes the handler. Deliveries already in progress complete.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

// Bus delivers every published event synchronously, on the publisher's
// goroutine, to the topic's subscribers in subscription order. Delivery is
// serialised per topic; a handler may publish again to the topic it is being
// called for.
type Bus struct {
	log  logrus.FieldLogger
	mu   sync.RWMutex
	subs []*Subscription
	lock [numTopics]reentrantLock
}

func NewBus(log logrus.FieldLogger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &Bus{log: log}
	for i := range b.lock {
		b.lock[i].cond = sync.NewCond(&b.lock[i].mu)
	}
	return b
}

func (b *Bus) Subscribe(topic Topic, h Handler) *Subscription {
	return b.add(&Subscription{bus: b, topic: topic, handler: h})
}

// SubscribeAll registers h for every topic.
func (b *Bus) SubscribeAll(h Handler) *Subscription {
	return b.add(&Subscription{bus: b, all: true, handler: h})
}

func (b *Bus) add(s *Subscription) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) handlers(topic Topic) (hs []Handler) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.all || s.topic == topic {
			hs = append(hs, s.handler)
		}
	}
	return
}

func (b *Bus) Publish(e Event) {
	if !e.Topic.Valid() {
		b.log.WithField("topic", e.Topic).Warn("dropping event with unknown topic")
		return
	}
	hs := b.handlers(e.Topic)
	if len(hs) == 0 {
		return
	}

	l := &b.lock[e.Topic]
	l.Lock()
	defer l.Unlock()
	for _, h := range hs {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("topic", e.Topic).Errorf("subscriber panicked: %v", r)
		}
	}()
	h(e)
}

// convenience publishers

func (b *Bus) Message(format string, args ...interface{}) {
	b.Publish(Event{Topic: Message, Message: fmt.Sprintf(format, args...)})
}

func (b *Bus) Error(err error) {
	b.Publish(Event{Topic: Error, Message: err.Error(), Err: err})
}

func (b *Bus) Notify(topic Topic) {
	b.Publish(Event{Topic: topic})
}

type reentrantLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int
}

func (l *reentrantLock) Lock() {
	gid := routine.ID()
	l.mu.Lock()
	for l.depth > 0 && l.owner != gid {
		l.cond.Wait()
	}
	l.owner = gid
	l.depth++
	l.mu.Unlock()
}

func (l *reentrantLock) Unlock() {
	l.mu.Lock()
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}
