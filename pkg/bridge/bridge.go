// Package bridge connects a live audio callback to a component.
//
// ProcessAudio runs on the audio thread and never waits: every lock it needs
// is taken with TryLock, and contention produces a silent block instead of a
// stall. Everything else runs on the control thread.
package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/justyntemme/vst3host/pkg/arena"
	"github.com/justyntemme/vst3host/pkg/crash"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/midi"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Processor runs one block. Errors of kind Crashed or IpcError stop the
// bridge; other errors are reported and processing continues.
type Processor interface {
	ProcessBlock(data *vst3.ProcessData) error
}

// Direct calls an in-process component.
type Direct struct {
	Processor vst3.IAudioProcessor
}

// ProcessBlock implements Processor
func (d Direct) ProcessBlock(data *vst3.ProcessData) error {
	if r := d.Processor.Process(data); r != vst3.ResultOK {
		return hosterr.Newf(hosterr.KindProcessingError, "process", "component returned %s", r)
	}
	return nil
}

// Config for a Bridge
type Config struct {
	Channels          int
	InputChannels     int
	SampleRate        float64
	MaxProcessingTime time.Duration
	QueueCapacity     int
	Logger            *debug.Logger
}

// Automation writes parameter points for one block starting at sample pos.
// Fill runs on the audio thread and must neither block nor allocate.
type Automation interface {
	Fill(pos int64, frames int, sampleRate float64, add func(id vst3.ParamID, offset int32, value vst3.ParamValue))
}

type automationBox struct {
	a Automation
}

// outputSink boxes the function so it can be swapped atomically.
type outputSink struct {
	fn func(vst3.Event)
}

type paramChange struct {
	id    vst3.ParamID
	value vst3.ParamValue
}

// Bridge is what the audio callback talks to.
type Bridge struct {
	mu        sync.Mutex
	active    atomic.Bool
	arena     *arena.Arena
	processor Processor
	runBlock  func() error

	channels   int
	inChannels int
	transport  *arena.Transport
	protection *crash.Protection
	meter      *Meter
	profiler   *debug.Profiler
	audioLog   *debug.AudioLog
	log        *debug.Logger

	pending *midi.Queue
	outbox  *midi.Queue
	sink    atomic.Pointer[outputSink]
	auto    atomic.Pointer[automationBox]

	paramMu sync.Mutex
	params  []paramChange

	autoChanges vst3.IParameterChanges
	addPoint    func(id vst3.ParamID, offset int32, value vst3.ParamValue)

	blocks    atomic.Uint64
	underruns atomic.Uint64
}

// New creates an inactive bridge.
func New(cfg Config) *Bridge {
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	b := &Bridge{
		channels:   cfg.Channels,
		inChannels: cfg.InputChannels,
		transport:  arena.NewTransport(cfg.SampleRate),
		protection: crash.New(),
		meter:      NewMeter(cfg.Channels, cfg.SampleRate),
		profiler:   debug.NewProfiler(1000),
		audioLog:   debug.NewAudioLog(128),
		log:        debug.OrDefault(cfg.Logger),
		pending:    midi.NewQueue(cfg.QueueCapacity),
		outbox:     midi.NewQueue(cfg.QueueCapacity),
		params:     make([]paramChange, 0, 64),
	}
	if cfg.MaxProcessingTime > 0 {
		b.protection.SetMaxProcessingTime(cfg.MaxProcessingTime)
	}
	b.addPoint = b.addAutomationPoint
	b.runBlock = func() error {
		return b.processor.ProcessBlock(b.arena.Data())
	}
	return b
}

// Transport is the clock shared with every arena built for this bridge.
func (b *Bridge) Transport() *arena.Transport {
	return b.transport
}

// Protection is the crash state of the attached component.
func (b *Bridge) Protection() *crash.Protection {
	return b.protection
}

// Profiler holds per-block timing.
func (b *Bridge) Profiler() *debug.Profiler {
	return b.profiler
}

// AudioLog holds messages raised on the audio thread.
func (b *Bridge) AudioLog() *debug.AudioLog {
	return b.audioLog
}

// Channels is the interleaved channel count of the callback buffer.
func (b *Bridge) Channels() int {
	return b.channels
}

// InputChannels is the interleaved channel count ProcessInterleaved reads.
func (b *Bridge) InputChannels() int {
	return b.inChannels
}

// Activate attaches an arena and processor and starts processing. It also
// clears any previous crash, which makes it the explicit re-activation a
// crashed bridge requires.
func (b *Bridge) Activate(a *arena.Arena, p Processor) error {
	if a == nil || p == nil {
		return hosterr.New(hosterr.KindInvalidParameter, "bridge.activate", "arena and processor are required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.arena = a
	b.processor = p
	b.meter.SetSampleRate(b.transport.SampleRate())
	b.meter.Reset()
	b.protection.Reset()
	b.active.Store(true)
	return nil
}

// Deactivate stops processing and detaches the arena, which is returned for
// the caller to release. Pending events are flushed. It waits for a block
// in progress to finish; a callback racing with it sees inactive and
// emits silence.
func (b *Bridge) Deactivate() *arena.Arena {
	b.active.Store(false)

	b.mu.Lock()
	a := b.arena
	b.arena = nil
	b.processor = nil
	b.mu.Unlock()

	if n := b.pending.Flush(); n > 0 {
		b.log.Debug("bridge: flushed %d pending events", n)
	}
	b.paramMu.Lock()
	b.params = b.params[:0]
	b.paramMu.Unlock()
	b.audioLog.Drain(b.log)
	return a
}

// IsActive reports whether blocks reach the component
func (b *Bridge) IsActive() bool {
	return b.active.Load()
}

// Status is the crash state shown to the user
func (b *Bridge) Status() crash.Status {
	return b.protection.Status()
}

// Reset clears a crash or timeout and resumes processing if an arena is
// attached. A crashed in-process component may crash again; reloading is
// the safe option.
func (b *Bridge) Reset() bool {
	b.protection.Reset()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arena == nil || b.processor == nil {
		return false
	}
	b.active.Store(true)
	return true
}

// QueueEvent schedules an event for the next block.
func (b *Bridge) QueueEvent(e vst3.Event) bool {
	return b.pending.Add(e)
}

// QueueParameter schedules a normalized value for the next block.
func (b *Bridge) QueueParameter(id vst3.ParamID, value vst3.ParamValue) {
	b.paramMu.Lock()
	defer b.paramMu.Unlock()
	for i := range b.params {
		if b.params[i].id == id {
			b.params[i].value = value
			return
		}
	}
	b.params = append(b.params, paramChange{id: id, value: value})
}

// SetAutomation replaces the automation applied to every block. Nil
// removes it. a must not change while it is set.
func (b *Bridge) SetAutomation(a Automation) {
	if a == nil {
		b.auto.Store(nil)
		return
	}
	b.auto.Store(&automationBox{a: a})
}

// SetOutputSink receives the events the component writes. The audio thread
// only copies them into a bounded queue, dropping them when it is full or
// busy; DrainOutput delivers them on the caller's goroutine. A nil sink
// stops the capture and discards what is queued.
func (b *Bridge) SetOutputSink(fn func(vst3.Event)) {
	if fn == nil {
		b.sink.Store(nil)
		b.outbox.Flush()
		return
	}
	b.sink.Store(&outputSink{fn: fn})
}

// DrainOutput hands captured output events to the sink in the order the
// component produced them. Offsets are relative to the start of the
// callback they came from.
func (b *Bridge) DrainOutput() int {
	events := b.outbox.Take(nil)
	s := b.sink.Load()
	if s == nil {
		return 0
	}
	for _, e := range events {
		s.fn(e)
	}
	return len(events)
}

// OutputDropped returns how many output events were lost to a full or
// busy queue.
func (b *Bridge) OutputDropped() uint64 {
	return b.outbox.Dropped()
}

// PendingEvents returns the number of events waiting for the next block.
func (b *Bridge) PendingEvents() int {
	return b.pending.Len()
}

// SampleCount returns the running sample position.
func (b *Bridge) SampleCount() int64 {
	return b.transport.Position()
}

// Blocks returns the number of callbacks that produced audio.
func (b *Bridge) Blocks() uint64 {
	return b.blocks.Load()
}

// Underruns returns the number of callbacks that emitted silence because
// the bridge was busy.
func (b *Bridge) Underruns() uint64 {
	return b.underruns.Load()
}

// Levels returns the output meter snapshot.
func (b *Bridge) Levels() []ChannelLevel {
	return b.meter.Levels()
}

// Clipping reports whether the output went past full scale since the last
// ResetHold.
func (b *Bridge) Clipping() bool {
	return b.meter.Clipping()
}

// ResetHold clears the held peaks and clip indicators of the output meter.
func (b *Bridge) ResetHold() {
	b.meter.ResetHold()
}

// DrainLog moves audio thread messages to the logger.
func (b *Bridge) DrainLog() int {
	return b.audioLog.Drain(b.log)
}

func silence(out []float32) {
	clear(out)
}

// ProcessAudio fills out, an interleaved buffer of Channels() channels, and
// reports whether the component produced it. It returns false with out
// silenced when inactive, busy or crashed.
func (b *Bridge) ProcessAudio(out []float32) bool {
	return b.process(nil, out)
}

// ProcessInterleaved is ProcessAudio for effects: in holds the same number
// of frames as out, interleaved with InputChannels() channels.
func (b *Bridge) ProcessInterleaved(in, out []float32) bool {
	return b.process(in, out)
}

func (b *Bridge) process(in, out []float32) bool {
	if !b.active.Load() {
		silence(out)
		return false
	}
	if !b.mu.TryLock() {
		b.underruns.Add(1)
		silence(out)
		return false
	}
	defer b.mu.Unlock()

	a := b.arena
	if a == nil || b.processor == nil || !b.active.Load() {
		silence(out)
		return false
	}

	frames := len(out) / b.channels
	block := a.BlockSize()
	for off := 0; off < frames; off += block {
		n := min(block, frames-off)
		chunk := out[off*b.channels : (off+n)*b.channels]

		a.Clear()
		if in != nil && b.inChannels > 0 {
			b.deinterleave(in, off, n, a.InputChannels())
		}
		if off == 0 {
			b.drainPending(a, n)
		}
		pos := b.transport.Advance(n)
		b.automate(a, pos, n)
		a.Begin(n, pos)

		st := b.protection.Run(b.runBlock)
		b.profiler.TryRecord("process", st.Elapsed)

		switch st.State {
		case crash.StateCrashed:
			b.active.Store(false)
			b.audioLog.Post(debug.LogLevelError, "component crashed, bridge stopped", int64(b.transport.Position()))
			silence(out)
			b.meter.TryUpdate(out, b.channels)
			return false
		case crash.StateTimeout:
			b.audioLog.Post(debug.LogLevelWarn, "block over deadline (us)", st.Elapsed.Microseconds())
			silence(chunk)
			continue
		case crash.StateError:
			b.audioLog.Post(debug.LogLevelWarn, "component returned an error", 0)
		case crash.StateOK:
			if !b.protection.IsHealthy() {
				b.protection.Reset()
			}
		}
		b.captureOutput(a, off)
		b.interleave(a.OutputChannels(), chunk, n)
	}
	if rest := frames * b.channels; rest < len(out) {
		silence(out[rest:])
	}

	b.meter.TryUpdate(out, b.channels)
	b.blocks.Add(1)
	return true
}

func (b *Bridge) drainPending(a *arena.Arena, n int) {
	b.pending.TryDrainTo(a.InputEvents(), int32(n-1))

	if !b.paramMu.TryLock() {
		return
	}
	changes := a.InputParameterChanges()
	for _, p := range b.params {
		if q := changes.AddParameterData(p.id, nil); q != nil {
			q.AddPoint(0, p.value, nil)
		}
	}
	b.params = b.params[:0]
	b.paramMu.Unlock()
}

func (b *Bridge) automate(a *arena.Arena, pos int64, n int) {
	box := b.auto.Load()
	if box == nil {
		return
	}
	b.autoChanges = a.InputParameterChanges()
	if b.autoChanges == nil {
		return
	}
	box.a.Fill(pos, n, b.transport.SampleRate(), b.addPoint)
	b.autoChanges = nil
}

func (b *Bridge) addAutomationPoint(id vst3.ParamID, offset int32, value vst3.ParamValue) {
	if q := b.autoChanges.AddParameterData(id, nil); q != nil {
		q.AddPoint(offset, value, nil)
	}
}

// captureOutput copies the events the component wrote into this chunk,
// shifting their offsets to the start of the callback.
func (b *Bridge) captureOutput(a *arena.Arena, off int) {
	if b.sink.Load() == nil {
		return
	}
	list := a.OutputEvents()
	if list == nil {
		return
	}
	for i := int32(0); i < list.GetEventCount(); i++ {
		var e vst3.Event
		if list.GetEvent(i, &e) != vst3.ResultOK {
			continue
		}
		e.SampleOffset += int32(off)
		b.outbox.TryAdd(e)
	}
}

// deinterleave copies n frames starting at frame off of in into the
// component's input channels. A mono source feeds every input channel.
func (b *Bridge) deinterleave(in []float32, off, n int, dst [][]float32) {
	ch := b.inChannels
	if (off+n)*ch > len(in) {
		n = len(in)/ch - off
	}
	for c, d := range dst {
		sc := c
		if sc >= ch {
			if ch != 1 {
				continue
			}
			sc = 0
		}
		for i := 0; i < n; i++ {
			d[i] = in[(off+i)*ch+sc]
		}
	}
}

// interleave copies n frames from the component's channels into out. A mono
// component feeds every output channel; missing channels are silent.
func (b *Bridge) interleave(src [][]float32, out []float32, n int) {
	ch := b.channels
	switch {
	case len(src) == 0:
		silence(out)
	case len(src) == 1:
		s := src[0]
		for i := 0; i < n; i++ {
			for c := 0; c < ch; c++ {
				out[i*ch+c] = s[i]
			}
		}
	default:
		for c := 0; c < ch; c++ {
			if c >= len(src) {
				for i := 0; i < n; i++ {
					out[i*ch+c] = 0
				}
				continue
			}
			s := src[c]
			for i := 0; i < n; i++ {
				out[i*ch+c] = s[i]
			}
		}
	}
}
