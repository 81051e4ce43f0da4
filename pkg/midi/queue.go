package midi

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// DefaultQueueCapacity bounds the events waiting for the next block.
const DefaultQueueCapacity = 1024

// Queue holds events produced on the control thread until the audio thread
// picks them up. Producers may block; the consumer never does.
type Queue struct {
	mu       sync.Mutex
	events   []vst3.Event
	capacity int
	sorted   bool
	dropped  atomic.Uint64
}

// NewQueue creates a queue that holds at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		events:   make([]vst3.Event, 0, capacity),
		capacity: capacity,
		sorted:   true,
	}
}

// Add appends an event. It returns false and counts a drop when full.
func (q *Queue) Add(e vst3.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) >= q.capacity {
		q.dropped.Add(1)
		return false
	}
	if n := len(q.events); n > 0 && q.events[n-1].SampleOffset > e.SampleOffset {
		q.sorted = false
	}
	q.events = append(q.events, e)
	return true
}

// TryAdd is Add for the audio thread. A busy queue counts as full.
func (q *Queue) TryAdd(e vst3.Event) bool {
	if !q.mu.TryLock() {
		q.dropped.Add(1)
		return false
	}
	defer q.mu.Unlock()

	if len(q.events) >= q.capacity {
		q.dropped.Add(1)
		return false
	}
	if n := len(q.events); n > 0 && q.events[n-1].SampleOffset > e.SampleOffset {
		q.sorted = false
	}
	q.events = append(q.events, e)
	return true
}

// Take appends the queued events to dst in arrival order and empties the
// queue.
func (q *Queue) Take(dst []vst3.Event) []vst3.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	dst = append(dst, q.events...)
	clear(q.events)
	q.events = q.events[:0]
	q.sorted = true
	return dst
}

// Sink is anything events can be delivered into.
type Sink interface {
	AddEvent(e *vst3.Event) vst3.Result
}

// TryDrainTo moves every queued event into sink in sample-offset order and
// empties the queue. When the queue is busy it returns false immediately and
// the events stay queued for the next block.
func (q *Queue) TryDrainTo(sink Sink, maxOffset int32) (int, bool) {
	if !q.mu.TryLock() {
		return 0, false
	}
	defer q.mu.Unlock()
	return q.drainLocked(sink, maxOffset), true
}

// DrainTo is TryDrainTo for callers that may wait.
func (q *Queue) DrainTo(sink Sink, maxOffset int32) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked(sink, maxOffset)
}

func (q *Queue) drainLocked(sink Sink, maxOffset int32) int {
	if !q.sorted {
		slices.SortStableFunc(q.events, func(a, b vst3.Event) int {
			return cmp.Compare(a.SampleOffset, b.SampleOffset)
		})
		q.sorted = true
	}
	n := 0
	for i := range q.events {
		e := &q.events[i]
		if e.SampleOffset > maxOffset {
			e.SampleOffset = maxOffset
		}
		if e.SampleOffset < 0 {
			e.SampleOffset = 0
		}
		if sink.AddEvent(e) == vst3.ResultOK {
			n++
		}
	}
	clear(q.events)
	q.events = q.events[:0]
	return n
}

// Flush discards every queued event and returns how many there were.
func (q *Queue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	clear(q.events)
	q.events = q.events[:0]
	q.sorted = true
	return n
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns how many events were refused because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
