package adapter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// DefaultMonitorCapacity is the ring size used by NewMonitor(0).
const DefaultMonitorCapacity = 1000

// Direction tells whether an event went into or came out of a component.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "out"
	}
	return "in"
}

// Record is one captured event.
type Record struct {
	At        time.Time
	Direction Direction
	Event     vst3.Event
}

// Monitor is a bounded ring of recently seen events. When full, the oldest
// record is overwritten. Capture never waits: if the ring is locked by a
// reader the record is skipped. Data payloads are shared, not copied.
type Monitor struct {
	mu      sync.Mutex
	ring    []Record
	head    int
	count   int
	skipped atomic.Uint64
	evicted atomic.Uint64
}

// NewMonitor creates a ring holding up to capacity records.
func NewMonitor(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = DefaultMonitorCapacity
	}
	return &Monitor{ring: make([]Record, capacity)}
}

// Capture stores e. It reports whether the record was kept.
func (m *Monitor) Capture(dir Direction, e *vst3.Event) bool {
	if !m.mu.TryLock() {
		m.skipped.Add(1)
		return false
	}
	defer m.mu.Unlock()

	idx := (m.head + m.count) % len(m.ring)
	if m.count == len(m.ring) {
		m.head = (m.head + 1) % len(m.ring)
		m.evicted.Add(1)
	} else {
		m.count++
	}
	m.ring[idx] = Record{At: time.Now(), Direction: dir, Event: *e}
	return true
}

// Snapshot returns the records oldest first.
func (m *Monitor) Snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, m.count)
	for i := 0; i < m.count; i++ {
		out[i] = m.ring[(m.head+i)%len(m.ring)]
	}
	return out
}

// Len returns the number of records held.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Capacity returns the ring size.
func (m *Monitor) Capacity() int {
	return len(m.ring)
}

// Skipped returns how many captures were lost to contention.
func (m *Monitor) Skipped() uint64 { return m.skipped.Load() }

// Evicted returns how many records were overwritten.
func (m *Monitor) Evicted() uint64 { return m.evicted.Load() }

// Clear drops every record.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.ring)
	m.head = 0
	m.count = 0
}

// MonitoredEventList is an EventList that also copies each added event into
// a Monitor, tagged with the list's direction.
type MonitoredEventList struct {
	*EventList
	monitor   *Monitor
	direction Direction
}

var _ vst3.IEventList = (*MonitoredEventList)(nil)

// NewMonitoredEventList wraps a fresh EventList. A nil monitor disables capture.
func NewMonitoredEventList(capacity int, monitor *Monitor, dir Direction) *MonitoredEventList {
	return &MonitoredEventList{
		EventList: NewEventList(capacity),
		monitor:   monitor,
		direction: dir,
	}
}

// AddEvent implements vst3.IEventList
func (l *MonitoredEventList) AddEvent(e *vst3.Event) vst3.Result {
	r := l.EventList.AddEvent(e)
	if r == vst3.ResultOK && l.monitor != nil {
		l.monitor.Capture(l.direction, e)
	}
	return r
}

// Monitor returns the attached monitor.
func (l *MonitoredEventList) Monitor() *Monitor {
	return l.monitor
}
