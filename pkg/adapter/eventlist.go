// Package adapter implements the host-side objects a component calls into
// while it processes: event lists, parameter queues and the edit handler.
package adapter

import (
	"sync"
	"sync/atomic"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// DefaultEventCapacity is the number of events preallocated per list.
const DefaultEventCapacity = 512

// EventList is the host's IEventList. Appends are O(1) into preallocated
// storage; the list only grows past its capacity when a block carries more
// events than expected.
//
// While a block runs the list belongs to the audio thread. Other goroutines
// read it with TryEvents, which gives up instead of holding the lock the
// component's AddEvent is about to take.
type EventList struct {
	vst3.RefCount

	mu     sync.Mutex
	events []vst3.Event
	grown  atomic.Uint64
}

var _ vst3.IEventList = (*EventList)(nil)

// NewEventList creates an empty list with room for capacity events.
func NewEventList(capacity int) *EventList {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventList{events: make([]vst3.Event, 0, capacity)}
}

// GetEventCount implements vst3.IEventList
func (l *EventList) GetEventCount() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int32(len(l.events))
}

// GetEvent implements vst3.IEventList
func (l *EventList) GetEvent(index int32, e *vst3.Event) vst3.Result {
	if e == nil {
		return vst3.ResultInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || int(index) >= len(l.events) {
		return vst3.ResultInvalidArgument
	}
	*e = l.events[index]
	return vst3.ResultOK
}

// AddEvent implements vst3.IEventList
func (l *EventList) AddEvent(e *vst3.Event) vst3.Result {
	if e == nil {
		return vst3.ResultInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == cap(l.events) {
		l.grown.Add(1)
	}
	l.events = append(l.events, *e)
	return vst3.ResultOK
}

// Clear empties the list, keeping its storage.
func (l *EventList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.events)
	l.events = l.events[:0]
}

// TryEvents is Events for readers racing the audio thread. It reports
// false without waiting when the list is in use.
func (l *EventList) TryEvents() ([]vst3.Event, bool) {
	if !l.mu.TryLock() {
		return nil, false
	}
	defer l.mu.Unlock()
	out := make([]vst3.Event, len(l.events))
	copy(out, l.events)
	return out, true
}

// Events returns a copy of the current contents. It waits for the lock, so
// it is meant for the audio thread itself or for lists no block is using.
func (l *EventList) Events() []vst3.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]vst3.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Grown returns how often an append exceeded the preallocated capacity.
func (l *EventList) Grown() uint64 {
	return l.grown.Load()
}
