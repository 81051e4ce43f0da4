package adapter

import (
	"sync"
	"testing"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

func TestEventList(t *testing.T) {
	l := NewEventList(2)

	on := vst3.NewNoteOn(0, 60, 0.8, 0)
	off := vst3.NewNoteOff(0, 60, 0, 128)
	if r := l.AddEvent(&on); r != vst3.ResultOK {
		t.Fatalf("AddEvent failed: %v", r)
	}
	l.AddEvent(&off)

	if l.GetEventCount() != 2 {
		t.Fatalf("Expected 2 events, got %d", l.GetEventCount())
	}

	var e vst3.Event
	if r := l.GetEvent(1, &e); r != vst3.ResultOK {
		t.Fatalf("GetEvent failed: %v", r)
	}
	if e.Type != vst3.EventTypeNoteOff || e.SampleOffset != 128 {
		t.Errorf("Unexpected event %v", e)
	}

	if r := l.GetEvent(2, &e); r != vst3.ResultInvalidArgument {
		t.Errorf("Expected invalid argument for out of range index, got %v", r)
	}
	if r := l.AddEvent(nil); r != vst3.ResultInvalidArgument {
		t.Errorf("Expected invalid argument for nil event, got %v", r)
	}

	l.AddEvent(&on)
	if l.Grown() != 1 {
		t.Errorf("Expected one growth past capacity, got %d", l.Grown())
	}

	l.Clear()
	if l.GetEventCount() != 0 {
		t.Errorf("Expected empty list after Clear, got %d", l.GetEventCount())
	}
}

func TestEventListTryEvents(t *testing.T) {
	l := NewEventList(4)
	on := vst3.NewNoteOn(0, 60, 0.8, 7)
	l.AddEvent(&on)

	l.mu.Lock()
	_, ok := l.TryEvents()
	l.mu.Unlock()
	if ok {
		t.Error("TryEvents should give up while the list is in use")
	}

	events, ok := l.TryEvents()
	if !ok || len(events) != 1 || events[0].SampleOffset != 7 {
		t.Fatalf("Expected the queued note, got %v (%v)", events, ok)
	}
	events[0].SampleOffset = 99
	var e vst3.Event
	l.GetEvent(0, &e)
	if e.SampleOffset != 7 {
		t.Error("TryEvents should return a copy")
	}
}

func TestAddPointOrdering(t *testing.T) {
	q := NewParamValueQueue(3)

	var idx int32
	q.AddPoint(50, 0.5, &idx)
	if idx != 0 {
		t.Errorf("Expected index 0, got %d", idx)
	}
	q.AddPoint(10, 0.1, &idx)
	if idx != 0 {
		t.Errorf("Expected index 0, got %d", idx)
	}
	q.AddPoint(30, 0.3, &idx)
	if idx != 1 {
		t.Errorf("Expected index 1, got %d", idx)
	}

	want := []int32{10, 30, 50}
	for i, w := range want {
		var off int32
		var val vst3.ParamValue
		if r := q.GetPoint(int32(i), &off, &val); r != vst3.ResultOK {
			t.Fatalf("GetPoint(%d) failed: %v", i, r)
		}
		if off != w {
			t.Errorf("Point %d: expected offset %d, got %d", i, w, off)
		}
	}
}

func TestAddPointEqualOffsets(t *testing.T) {
	q := NewParamValueQueue(1)
	q.AddPoint(10, 0.1, nil)
	q.AddPoint(20, 0.2, nil)

	var idx int32
	q.AddPoint(10, 0.9, &idx)
	if idx != 1 {
		t.Errorf("Later insertion at an equal offset should land after existing ones, got index %d", idx)
	}

	var val vst3.ParamValue
	q.GetPoint(1, nil, &val)
	if val != 0.9 {
		t.Errorf("Expected 0.9 at index 1, got %f", val)
	}

	if v, ok := q.Last(); !ok || v != 0.2 {
		t.Errorf("Expected last value 0.2, got %f", v)
	}
}

func TestParameterChanges(t *testing.T) {
	c := NewParameterChanges()

	var idx int32
	q1 := c.AddParameterData(7, &idx)
	if idx != 0 {
		t.Errorf("Expected index 0, got %d", idx)
	}
	q1.AddPoint(0, 0.25, nil)

	q2 := c.AddParameterData(9, &idx)
	if idx != 1 {
		t.Errorf("Expected index 1, got %d", idx)
	}

	again := c.AddParameterData(7, &idx)
	if again != q1 || idx != 0 {
		t.Error("Expected the existing queue for id 7 to be reused")
	}
	if c.GetParameterCount() != 2 {
		t.Errorf("Expected 2 queues, got %d", c.GetParameterCount())
	}
	if c.GetParameterData(1) != q2 {
		t.Error("GetParameterData(1) should return the queue for id 9")
	}
	if c.GetParameterData(5) != nil {
		t.Error("Out of range index should return nil")
	}

	c.Clear()
	if c.GetParameterCount() != 0 {
		t.Errorf("Expected 0 queues after Clear, got %d", c.GetParameterCount())
	}

	q3, i := c.Queue(11)
	if i != 0 || q3.GetParameterID() != 11 || q3.GetPointCount() != 0 {
		t.Errorf("Expected a reset queue for id 11, got id %d with %d points", q3.GetParameterID(), q3.GetPointCount())
	}
}

func TestMonitorRing(t *testing.T) {
	m := NewMonitor(3)
	l := NewMonitoredEventList(8, m, Output)

	for i := 0; i < 5; i++ {
		e := vst3.NewNoteOn(0, int16(60+i), 1, 0)
		l.AddEvent(&e)
	}

	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(snap))
	}
	if snap[0].Event.NoteOn.Pitch != 62 || snap[2].Event.NoteOn.Pitch != 64 {
		t.Errorf("Expected pitches 62..64, got %d..%d", snap[0].Event.NoteOn.Pitch, snap[2].Event.NoteOn.Pitch)
	}
	if snap[0].Direction != Output {
		t.Errorf("Expected output direction, got %s", snap[0].Direction)
	}
	if m.Evicted() != 2 {
		t.Errorf("Expected 2 evictions, got %d", m.Evicted())
	}
	if l.GetEventCount() != 5 {
		t.Errorf("Event list should keep all 5 events, got %d", l.GetEventCount())
	}
}

func TestMonitorNeverBlocks(t *testing.T) {
	m := NewMonitor(0)
	if m.Capacity() != DefaultMonitorCapacity {
		t.Fatalf("Expected default capacity %d, got %d", DefaultMonitorCapacity, m.Capacity())
	}

	m.mu.Lock()
	e := vst3.NewNoteOn(0, 60, 1, 0)
	if m.Capture(Input, &e) {
		t.Error("Capture should give up while the ring is locked")
	}
	m.mu.Unlock()

	if m.Skipped() != 1 {
		t.Errorf("Expected 1 skipped capture, got %d", m.Skipped())
	}
	if !m.Capture(Input, &e) {
		t.Error("Capture should succeed once unlocked")
	}
}

func TestComponentHandler(t *testing.T) {
	notify := make(chan struct{}, 1)
	h := NewComponentHandler(notify)

	h.BeginEdit(4)
	if !h.Editing(4) {
		t.Error("Expected parameter 4 to be in an edit")
	}
	h.PerformEdit(4, 0.3)
	h.PerformEdit(4, 0.6)
	h.EndEdit(4)
	h.RestartComponent(vst3.RestartParamValuesChanged)

	select {
	case <-notify:
	default:
		t.Error("Expected a notification")
	}

	edits := h.Drain()
	kinds := []EditKind{EditBegin, EditPerform, EditPerform, EditEnd, EditRestart}
	if len(edits) != len(kinds) {
		t.Fatalf("Expected %d edits, got %d", len(kinds), len(edits))
	}
	for i, k := range kinds {
		if edits[i].Kind != k {
			t.Errorf("Edit %d: expected %s, got %s", i, k, edits[i].Kind)
		}
	}
	if edits[2].Value != 0.6 {
		t.Errorf("Expected last perform value 0.6, got %f", edits[2].Value)
	}
	if h.Editing(4) {
		t.Error("Edit should be closed")
	}
	if h.PendingCount() != 0 {
		t.Error("Drain should empty the pending list")
	}
}

func TestComponentHandlerConcurrent(t *testing.T) {
	h := NewComponentHandler(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id vst3.ParamID) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.PerformEdit(id, float64(j)/100)
			}
		}(vst3.ParamID(i))
	}
	wg.Wait()

	if n := len(h.Drain()); n != 800 {
		t.Errorf("Expected 800 edits, got %d", n)
	}
}

func BenchmarkAddEvent(b *testing.B) {
	l := NewEventList(DefaultEventCapacity)
	e := vst3.NewNoteOn(0, 60, 1, 0)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if i%DefaultEventCapacity == 0 {
			l.Clear()
		}
		l.AddEvent(&e)
	}
}
