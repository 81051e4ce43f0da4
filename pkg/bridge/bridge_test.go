package bridge

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justyntemme/vst3host/pkg/arena"
	"github.com/justyntemme/vst3host/pkg/crash"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/midi"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

type outputBuses struct {
	channels int32
}

func (o outputBuses) GetBusCount(mediaType vst3.MediaType, dir vst3.BusDirection) int32 {
	if mediaType == vst3.MediaTypeAudio && dir == vst3.BusDirectionOutput {
		return 1
	}
	return 0
}

func (o outputBuses) GetBusInfo(mediaType vst3.MediaType, dir vst3.BusDirection, index int32, info *vst3.BusInfo) vst3.Result {
	*info = vst3.BusInfo{MediaType: mediaType, Direction: dir, ChannelCount: o.channels, Name: "out"}
	return vst3.ResultOK
}

// gate writes a constant level while a note is held.
type gate struct {
	level   float32
	on      bool
	calls   atomic.Int32
	params  map[vst3.ParamID]vst3.ParamValue
	offsets []int32
}

func (g *gate) ProcessBlock(data *vst3.ProcessData) error {
	g.calls.Add(1)
	if ev := data.InputEvents; ev != nil {
		for i := int32(0); i < ev.GetEventCount(); i++ {
			var e vst3.Event
			ev.GetEvent(i, &e)
			g.offsets = append(g.offsets, e.SampleOffset)
			switch e.Type {
			case vst3.EventTypeNoteOn:
				g.on = true
			case vst3.EventTypeNoteOff:
				g.on = false
			}
		}
	}
	if pc := data.InputParameterChanges; pc != nil {
		for i := int32(0); i < pc.GetParameterCount(); i++ {
			q := pc.GetParameterData(i)
			var off int32
			var v vst3.ParamValue
			q.GetPoint(q.GetPointCount()-1, &off, &v)
			if g.params == nil {
				g.params = map[vst3.ParamID]vst3.ParamValue{}
			}
			g.params[q.GetParameterID()] = v
		}
	}
	for _, bus := range data.Outputs {
		for c := 0; c < int(bus.NumChannels); c++ {
			ch := bus.Channel(c)
			for i := int32(0); i < data.NumSamples; i++ {
				if g.on {
					ch[i] = g.level
				} else {
					ch[i] = 0
				}
			}
		}
	}
	return nil
}

type processFunc func(data *vst3.ProcessData) error

func (f processFunc) ProcessBlock(data *vst3.ProcessData) error { return f(data) }

func newBridge(t *testing.T, channels int32, blockSize int, p Processor) *Bridge {
	t.Helper()
	b := New(Config{Channels: 2, SampleRate: 48000, Logger: debug.Discard()})
	a, err := arena.Prepare(outputBuses{channels: channels}, arena.Config{
		BlockSize: blockSize,
		Transport: b.Transport(),
		AudioLog:  b.AudioLog(),
		Logger:    debug.Discard(),
	})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := b.Activate(a, p); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	t.Cleanup(func() {
		if a := b.Deactivate(); a != nil {
			a.Release()
		}
	})
	return b
}

func TestBridgeInactiveIsSilent(t *testing.T) {
	b := New(Config{Channels: 2, SampleRate: 48000, Logger: debug.Discard()})
	out := []float32{1, 1, 1, 1}
	if b.ProcessAudio(out) {
		t.Error("Inactive bridge should report false")
	}
	for i, s := range out {
		if s != 0 {
			t.Errorf("Sample %d: expected silence, got %f", i, s)
		}
	}
	if err := b.Activate(nil, nil); !errors.Is(err, hosterr.InvalidParameter) {
		t.Errorf("Expected InvalidParameter, got %v", err)
	}
}

func TestBridgeNoteOnOff(t *testing.T) {
	g := &gate{level: 0.5}
	b := newBridge(t, 2, 512, g)
	out := make([]float32, 512*2)

	b.QueueEvent(midi.NoteOn(0, 60, 100, 0))
	if !b.ProcessAudio(out) {
		t.Fatal("Expected processed block")
	}
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Errorf("Expected 0.5 on both channels, got %f %f", out[0], out[1])
	}
	levels := b.Levels()
	if math.Abs(levels[0].Peak-0.5) > 1e-6 {
		t.Errorf("Expected peak 0.5, got %f", levels[0].Peak)
	}

	b.QueueEvent(midi.NoteOff(0, 60, 0, 0))
	b.ProcessAudio(out)
	if out[0] != 0 {
		t.Errorf("Expected silence after note off, got %f", out[0])
	}

	// 6 seconds covers the hold time plus the decay to the floor.
	for i := 0; i < 6*48000/512; i++ {
		b.ProcessAudio(out)
	}
	levels = b.Levels()
	if levels[0].Peak != 0 || levels[1].Peak != 0 {
		t.Errorf("Expected meter at zero, got %f %f", levels[0].Peak, levels[1].Peak)
	}
	if levels[0].Hold != 0 {
		t.Errorf("Expected hold released, got %f", levels[0].Hold)
	}
	if b.SampleCount() != int64(b.Blocks())*512 {
		t.Errorf("Sample count %d does not match %d blocks", b.SampleCount(), b.Blocks())
	}
}

func TestBridgeChunking(t *testing.T) {
	g := &gate{level: 0.25, on: true}
	b := newBridge(t, 2, 128, g)
	out := make([]float32, 300*2)

	b.QueueEvent(midi.NoteOn(0, 60, 100, 1000))
	if !b.ProcessAudio(out) {
		t.Fatal("Expected processed block")
	}
	if g.calls.Load() != 3 {
		t.Errorf("Expected 3 chunks, got %d", g.calls.Load())
	}
	if len(g.offsets) != 1 || g.offsets[0] != 127 {
		t.Errorf("Expected one event clamped to 127 in the first chunk, got %v", g.offsets)
	}
	if out[len(out)-1] != 0.25 {
		t.Errorf("Expected last frame filled, got %f", out[len(out)-1])
	}
	if b.SampleCount() != 300 {
		t.Errorf("Expected position 300, got %d", b.SampleCount())
	}
}

func TestBridgeMonoDuplicated(t *testing.T) {
	g := &gate{level: 0.75, on: true}
	b := newBridge(t, 1, 64, g)
	out := make([]float32, 64*2)
	b.ProcessAudio(out)
	for i := 0; i < 64; i++ {
		if out[i*2] != 0.75 || out[i*2+1] != 0.75 {
			t.Fatalf("Frame %d: expected mono on both channels, got %f %f", i, out[i*2], out[i*2+1])
		}
	}
}

type stereoBuses struct{}

func (stereoBuses) GetBusCount(mediaType vst3.MediaType, dir vst3.BusDirection) int32 {
	if mediaType == vst3.MediaTypeAudio {
		return 1
	}
	return 0
}

func (stereoBuses) GetBusInfo(mediaType vst3.MediaType, dir vst3.BusDirection, index int32, info *vst3.BusInfo) vst3.Result {
	*info = vst3.BusInfo{MediaType: mediaType, Direction: dir, ChannelCount: 2, Name: "main"}
	return vst3.ResultOK
}

func TestBridgeInterleavedInput(t *testing.T) {
	// Doubles its input.
	double := processFunc(func(data *vst3.ProcessData) error {
		in, out := data.Input(0), data.Output(0)
		for c := 0; c < int(out.NumChannels); c++ {
			src, dst := in.Channel(c), out.Channel(c)
			for i := int32(0); i < data.NumSamples; i++ {
				dst[i] = 2 * src[i]
			}
		}
		return nil
	})

	b := New(Config{Channels: 2, InputChannels: 2, SampleRate: 48000, Logger: debug.Discard()})
	a, err := arena.Prepare(stereoBuses{}, arena.Config{BlockSize: 32, Transport: b.Transport(), Logger: debug.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	b.Activate(a, double)
	defer b.Deactivate().Release()

	// 40 frames span two chunks.
	in := make([]float32, 40*2)
	for i := 0; i < 40; i++ {
		in[i*2] = float32(i) / 100
		in[i*2+1] = -float32(i) / 100
	}
	out := make([]float32, len(in))
	if !b.ProcessInterleaved(in, out) {
		t.Fatal("Expected processed block")
	}
	for i := 0; i < 40; i++ {
		if out[i*2] != 2*in[i*2] || out[i*2+1] != 2*in[i*2+1] {
			t.Fatalf("Frame %d: expected %f/%f, got %f/%f", i, 2*in[i*2], 2*in[i*2+1], out[i*2], out[i*2+1])
		}
	}
}

func TestBridgeParameters(t *testing.T) {
	g := &gate{}
	b := newBridge(t, 2, 64, g)
	b.QueueParameter(3, 0.2)
	b.QueueParameter(3, 0.7)
	b.ProcessAudio(make([]float32, 128))

	if v := g.params[3]; v != 0.7 {
		t.Errorf("Expected latest value 0.7, got %f", v)
	}
	g.params = nil
	b.ProcessAudio(make([]float32, 128))
	if len(g.params) != 0 {
		t.Errorf("Parameters should be delivered once, got %v", g.params)
	}
}

func TestBridgeCrash(t *testing.T) {
	b := newBridge(t, 2, 64, processFunc(func(*vst3.ProcessData) error {
		panic("boom")
	}))
	out := []float32{1, 1, 1, 1}

	if b.ProcessAudio(out) {
		t.Error("Crashed block should report false")
	}
	if out[0] != 0 || out[3] != 0 {
		t.Error("Crashed block should be silent")
	}
	if b.IsActive() {
		t.Error("Bridge should stop after a crash")
	}
	if st := b.Status(); st.State != crash.StateCrashed {
		t.Errorf("Expected crashed status, got %s", st)
	}
	if b.ProcessAudio(out) {
		t.Error("Bridge should stay stopped until reset")
	}
	if !b.Reset() || !b.IsActive() {
		t.Error("Reset should resume an attached bridge")
	}
}

func TestBridgeIpcFailureStops(t *testing.T) {
	b := newBridge(t, 2, 64, processFunc(func(*vst3.ProcessData) error {
		return hosterr.New(hosterr.KindIpcError, "process", "broken pipe")
	}))
	b.ProcessAudio(make([]float32, 128))
	if b.IsActive() || !b.Protection().IsCrashed() {
		t.Error("Lost helper should count as a crash")
	}
}

func TestBridgeError(t *testing.T) {
	b := newBridge(t, 2, 64, processFunc(func(*vst3.ProcessData) error {
		return errors.New("bad block")
	}))
	if !b.ProcessAudio(make([]float32, 128)) {
		t.Error("A processing error should not stop the bridge")
	}
	if st := b.Status(); st.State != crash.StateError {
		t.Errorf("Expected error status, got %s", st)
	}
}

func TestBridgeTimeout(t *testing.T) {
	var slow atomic.Bool
	slow.Store(true)
	g := &gate{level: 0.5, on: true}
	b := newBridge(t, 2, 64, processFunc(func(data *vst3.ProcessData) error {
		if slow.Load() {
			time.Sleep(5 * time.Millisecond)
		}
		return g.ProcessBlock(data)
	}))
	b.Protection().SetMaxProcessingTime(time.Millisecond)

	out := make([]float32, 128)
	if !b.ProcessAudio(out) {
		t.Error("A timeout should not stop the bridge")
	}
	if out[0] != 0 {
		t.Errorf("Overrun block should be silent, got %f", out[0])
	}
	if st := b.Status(); st.State != crash.StateTimeout {
		t.Errorf("Expected timeout status, got %s", st)
	}

	slow.Store(false)
	b.Protection().SetMaxProcessingTime(time.Second)
	b.ProcessAudio(out)
	if !b.Status().OK() {
		t.Errorf("Status should recover after a good block, got %s", b.Status())
	}
	if out[0] != 0.5 {
		t.Errorf("Expected audio after recovery, got %f", out[0])
	}
}

func TestBridgeBusyIsSilent(t *testing.T) {
	g := &gate{level: 0.5, on: true}
	b := newBridge(t, 2, 64, g)

	b.mu.Lock()
	out := []float32{1, 1}
	ok := b.ProcessAudio(out)
	b.mu.Unlock()

	if ok || out[0] != 0 {
		t.Error("Contended callback should emit silence without waiting")
	}
	if b.Underruns() != 1 {
		t.Errorf("Expected 1 underrun, got %d", b.Underruns())
	}
	if g.calls.Load() != 0 {
		t.Error("Component must not run during contention")
	}
}

func TestBridgeDeactivate(t *testing.T) {
	b := New(Config{Channels: 2, SampleRate: 48000, Logger: debug.Discard()})
	a, err := arena.Prepare(outputBuses{channels: 2}, arena.Config{BlockSize: 32, Transport: b.Transport(), Logger: debug.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	b.Activate(a, &gate{})
	b.QueueEvent(midi.NoteOn(0, 60, 100, 0))

	got := b.Deactivate()
	if got != a {
		t.Error("Deactivate should return the attached arena")
	}
	got.Release()
	if b.PendingEvents() != 0 {
		t.Error("Deactivate should flush pending events")
	}
	if b.Reset() {
		t.Error("Reset without an arena should not resume")
	}
}

func BenchmarkProcessAudio(b *testing.B) {
	br := New(Config{Channels: 2, SampleRate: 48000, Logger: debug.Discard()})
	a, _ := arena.Prepare(outputBuses{channels: 2}, arena.Config{BlockSize: 256, Transport: br.Transport(), Logger: debug.Discard()})
	br.Activate(a, &gate{level: 0.5, on: true})
	out := make([]float32, 512)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		br.ProcessAudio(out)
	}
}

func TestBridgeOutputSink(t *testing.T) {
	b := newBridge(t, 2, 64, processFunc(func(data *vst3.ProcessData) error {
		e := midi.NoteOn(0, 72, 90, 5)
		data.OutputEvents.AddEvent(&e)
		return nil
	}))

	b.ProcessAudio(make([]float32, 128*2))
	if n := b.DrainOutput(); n != 0 {
		t.Errorf("Expected nothing captured without a sink, got %d", n)
	}

	var got []vst3.Event
	b.SetOutputSink(func(e vst3.Event) { got = append(got, e) })
	if !b.ProcessAudio(make([]float32, 128*2)) {
		t.Fatal("Expected processed block")
	}
	if len(got) != 0 {
		t.Error("The sink must not be called from the audio callback")
	}
	if n := b.DrainOutput(); n != 2 {
		t.Fatalf("Expected 2 output events, one per chunk, got %d", n)
	}
	if got[0].SampleOffset != 5 || got[1].SampleOffset != 69 {
		t.Errorf("Expected offsets 5 and 69, got %d and %d", got[0].SampleOffset, got[1].SampleOffset)
	}
	if got[0].Type != vst3.EventTypeNoteOn || got[0].NoteOn.Pitch != 72 {
		t.Errorf("Expected the component's note, got %+v", got[0])
	}

	b.ProcessAudio(make([]float32, 64*2))
	b.SetOutputSink(nil)
	if n := b.DrainOutput(); n != 0 {
		t.Errorf("Expected removing the sink to discard queued events, got %d", n)
	}
	if b.OutputDropped() != 0 {
		t.Errorf("Expected no drops, got %d", b.OutputDropped())
	}
}

// ramp is automation that writes the block position as a point at every
// 16th frame.
type ramp struct {
	id    vst3.ParamID
	total float64
}

func (r ramp) Fill(pos int64, frames int, sampleRate float64, add func(vst3.ParamID, int32, vst3.ParamValue)) {
	for i := 0; i < frames; i += 16 {
		add(r.id, int32(i), float64(pos+int64(i))/r.total)
	}
}

func TestBridgeAutomation(t *testing.T) {
	type point struct {
		offset int32
		value  float64
	}
	var blocks [][]point
	b := newBridge(t, 2, 64, processFunc(func(data *vst3.ProcessData) error {
		var pts []point
		pc := data.InputParameterChanges
		for i := int32(0); i < pc.GetParameterCount(); i++ {
			q := pc.GetParameterData(i)
			if q.GetParameterID() != 9 {
				continue
			}
			for j := int32(0); j < q.GetPointCount(); j++ {
				var p point
				q.GetPoint(j, &p.offset, &p.value)
				pts = append(pts, p)
			}
		}
		blocks = append(blocks, pts)
		return nil
	}))

	b.SetAutomation(ramp{id: 9, total: 128})
	b.ProcessAudio(make([]float32, 128*2))

	if len(blocks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(blocks))
	}
	for c, pts := range blocks {
		if len(pts) != 4 {
			t.Fatalf("Chunk %d: expected 4 points, got %d", c, len(pts))
		}
		for i, p := range pts {
			wantOffset := int32(i * 16)
			wantValue := float64(c*64+i*16) / 128
			if p.offset != wantOffset || p.value != wantValue {
				t.Errorf("Chunk %d point %d: expected %d/%v, got %d/%v", c, i, wantOffset, wantValue, p.offset, p.value)
			}
		}
	}

	b.SetAutomation(nil)
	blocks = nil
	b.ProcessAudio(make([]float32, 64*2))
	if len(blocks) != 1 || len(blocks[0]) != 0 {
		t.Errorf("Expected no points after removing automation, got %v", blocks)
	}
}
