// Package arena owns the per-block buffers, bus tables and process data
// handed to a component.
package arena

import (
	"fmt"

	"github.com/justyntemme/vst3host/pkg/adapter"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// BusQuerier is the part of IComponent the arena needs.
type BusQuerier interface {
	GetBusCount(mediaType vst3.MediaType, dir vst3.BusDirection) int32
	GetBusInfo(mediaType vst3.MediaType, dir vst3.BusDirection, index int32, info *vst3.BusInfo) vst3.Result
}

// Adapters are the interfaces embedded into ProcessData. Nil entries are
// created by the arena.
type Adapters struct {
	InputEvents   vst3.IEventList
	OutputEvents  vst3.IEventList
	InputParams   vst3.IParameterChanges
	OutputParams  vst3.IParameterChanges
	Monitor       *adapter.Monitor
	EventCapacity int
}

// Config controls arena construction.
type Config struct {
	BlockSize   int
	ProcessMode int32
	Transport   *Transport
	Adapters    Adapters
	Logger      *debug.Logger
	// AudioLog receives warnings raised from Clear, which runs on the audio
	// thread. Without it they go to Logger.
	AudioLog *debug.AudioLog
}

// Arena is the storage for one processing configuration. It is rebuilt, not
// resized, when block size or bus layout change: Prepare derives every
// channel table from freshly allocated buffers.
type Arena struct {
	blockSize int
	log       *debug.Logger
	audioLog  *debug.AudioLog
	transport *Transport

	inBuses  []vst3.BusInfo
	outBuses []vst3.BusInfo
	inputs   [][][]float32
	outputs  [][][]float32
	inPtrs   [][][]float32
	outPtrs  [][][]float32
	inFlat   [][]float32
	outFlat  [][]float32

	context vst3.ProcessContext
	data    vst3.ProcessData

	inEvents  *vst3.Handle[vst3.IEventList]
	outEvents *vst3.Handle[vst3.IEventList]
	inParams  *vst3.Handle[vst3.IParameterChanges]
	outParams *vst3.Handle[vst3.IParameterChanges]

	released bool
}

// Prepare allocates buffers for every audio bus the component reports. A
// bus whose info query fails is skipped. Zero buses is valid.
func Prepare(component BusQuerier, cfg Config) (*Arena, error) {
	if component == nil {
		return nil, fmt.Errorf("arena: nil component")
	}
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("arena: invalid block size %d", cfg.BlockSize)
	}

	a := &Arena{
		blockSize: cfg.BlockSize,
		log:       debug.OrDefault(cfg.Logger),
		audioLog:  cfg.AudioLog,
		transport: cfg.Transport,
	}
	if a.transport == nil {
		a.transport = NewTransport(44100)
	}

	// Nothing below can fail, so the handles taken here are only ever
	// released by Release.
	a.acquireAdapters(cfg.Adapters)

	a.inBuses, a.inputs = a.allocate(component, vst3.BusDirectionInput)
	a.outBuses, a.outputs = a.allocate(component, vst3.BusDirectionOutput)

	a.data = vst3.ProcessData{
		ProcessMode:        cfg.ProcessMode,
		SymbolicSampleSize: vst3.SampleSize32,
		NumSamples:         int32(cfg.BlockSize),
		NumInputs:          int32(len(a.inputs)),
		NumOutputs:         int32(len(a.outputs)),
		ProcessContext:     &a.context,
	}
	a.data.Inputs, a.inPtrs, a.inFlat = buildTables(a.inputs)
	a.data.Outputs, a.outPtrs, a.outFlat = buildTables(a.outputs)
	a.link()

	a.transport.Fill(&a.context, a.transport.Position())
	return a, nil
}

func (a *Arena) acquireAdapters(ad Adapters) {
	capacity := ad.EventCapacity
	if capacity <= 0 {
		capacity = adapter.DefaultEventCapacity
	}

	a.inEvents = cloneOrCreate(ad.InputEvents, func() vst3.IEventList {
		return adapter.NewMonitoredEventList(capacity, ad.Monitor, adapter.Input)
	})
	a.outEvents = cloneOrCreate(ad.OutputEvents, func() vst3.IEventList {
		return adapter.NewMonitoredEventList(capacity, ad.Monitor, adapter.Output)
	})
	a.inParams = cloneOrCreate(ad.InputParams, func() vst3.IParameterChanges {
		return adapter.NewParameterChanges()
	})
	a.outParams = cloneOrCreate(ad.OutputParams, func() vst3.IParameterChanges {
		return adapter.NewParameterChanges()
	})
}

// cloneOrCreate returns a handle holding its own reference. A created object
// is handed straight to the handle; a supplied one is AddRef'd so the
// supplier keeps its reference.
func cloneOrCreate[T vst3.FUnknown](supplied T, create func() T) *vst3.Handle[T] {
	var zero T
	if any(supplied) == any(zero) {
		return vst3.Own(create())
	}
	supplied.AddRef()
	return vst3.Own(supplied)
}

func (a *Arena) allocate(component BusQuerier, dir vst3.BusDirection) ([]vst3.BusInfo, [][][]float32) {
	count := component.GetBusCount(vst3.MediaTypeAudio, dir)
	buses := make([]vst3.BusInfo, 0, max(count, 0))
	buffers := make([][][]float32, 0, max(count, 0))

	for i := int32(0); i < count; i++ {
		var info vst3.BusInfo
		if r := component.GetBusInfo(vst3.MediaTypeAudio, dir, i, &info); r != vst3.ResultOK {
			a.log.Warn("arena: skipping %s bus %d: %s", dirName(dir), i, r)
			continue
		}
		channels := make([][]float32, max(info.ChannelCount, 0))
		for ch := range channels {
			channels[ch] = make([]float32, a.blockSize)
		}
		buses = append(buses, info)
		buffers = append(buffers, channels)
	}
	return buses, buffers
}

// buildTables derives the per-bus channel tables from the current buffers.
func buildTables(buffers [][][]float32) ([]vst3.AudioBusBuffers, [][][]float32, [][]float32) {
	tables := make([]vst3.AudioBusBuffers, len(buffers))
	ptrs := make([][][]float32, len(buffers))
	var flat [][]float32
	for i, channels := range buffers {
		ptrs[i] = make([][]float32, len(channels))
		copy(ptrs[i], channels)
		tables[i] = vst3.AudioBusBuffers{
			NumChannels:      int32(len(channels)),
			ChannelBuffers32: ptrs[i],
		}
		flat = append(flat, channels...)
	}
	return tables, ptrs, flat
}

// relinkTables points every table back at the arena's own buffers in case
// the component rewrote an entry during the previous block.
func relinkTables(tables []vst3.AudioBusBuffers, ptrs, buffers [][][]float32) {
	for i := range tables {
		copy(ptrs[i], buffers[i])
		tables[i].NumChannels = int32(len(buffers[i]))
		tables[i].SilenceFlags = 0
		tables[i].ChannelBuffers32 = ptrs[i]
	}
}

func (a *Arena) link() {
	a.data.InputEvents = a.inEvents.Get()
	a.data.OutputEvents = a.outEvents.Get()
	a.data.InputParameterChanges = a.inParams.Get()
	a.data.OutputParameterChanges = a.outParams.Get()
}

func dirName(dir vst3.BusDirection) string {
	if dir == vst3.BusDirectionOutput {
		return "output"
	}
	return "input"
}

// Clear silences every buffer, empties the adapters and restores any
// interface slot that was nulled since the last block.
func (a *Arena) Clear() {
	if a.released {
		return
	}
	for _, ch := range a.inFlat {
		clear(ch)
	}
	for _, ch := range a.outFlat {
		clear(ch)
	}
	relinkTables(a.data.Inputs, a.inPtrs, a.inputs)
	relinkTables(a.data.Outputs, a.outPtrs, a.outputs)
	a.data.NumInputs = int32(len(a.inputs))
	a.data.NumOutputs = int32(len(a.outputs))

	if a.data.InputEvents == nil || a.data.OutputEvents == nil ||
		a.data.InputParameterChanges == nil || a.data.OutputParameterChanges == nil {
		if a.audioLog != nil {
			a.audioLog.Post(debug.LogLevelWarn, "arena: interface pointer was cleared, relinking", 0)
		} else {
			a.log.Warn("arena: interface pointer was cleared, relinking")
		}
		a.link()
	}

	clearAdapter(a.data.InputEvents)
	clearAdapter(a.data.OutputEvents)
	clearAdapter(a.data.InputParameterChanges)
	clearAdapter(a.data.OutputParameterChanges)
}

func clearAdapter(v any) {
	if c, ok := v.(interface{ Clear() }); ok {
		c.Clear()
	}
}

// Begin prepares the process data for a block of n samples starting at
// transport position pos. n is clamped to the block size.
func (a *Arena) Begin(n int, pos int64) {
	if n > a.blockSize {
		n = a.blockSize
	}
	if n < 0 {
		n = 0
	}
	a.data.NumSamples = int32(n)
	a.transport.Fill(&a.context, pos)
}

// Data returns the process data to hand to the component.
func (a *Arena) Data() *vst3.ProcessData {
	return &a.data
}

// BlockSize returns the allocated buffer length.
func (a *Arena) BlockSize() int {
	return a.blockSize
}

// Transport returns the clock this arena reads.
func (a *Arena) Transport() *Transport {
	return a.transport
}

// InputBuses returns the queried input bus descriptors.
func (a *Arena) InputBuses() []vst3.BusInfo {
	return a.inBuses
}

// OutputBuses returns the queried output bus descriptors.
func (a *Arena) OutputBuses() []vst3.BusInfo {
	return a.outBuses
}

// InputChannels returns every input channel across buses, in bus order.
func (a *Arena) InputChannels() [][]float32 {
	return a.inFlat
}

// OutputChannels returns every output channel across buses, in bus order.
func (a *Arena) OutputChannels() [][]float32 {
	return a.outFlat
}

// InputEvents returns the event list the host fills before each block.
func (a *Arena) InputEvents() vst3.IEventList {
	return a.inEvents.Get()
}

// OutputEvents returns the event list the component writes into.
func (a *Arena) OutputEvents() vst3.IEventList {
	return a.outEvents.Get()
}

// InputParameterChanges returns the parameter changes for the next block.
func (a *Arena) InputParameterChanges() vst3.IParameterChanges {
	return a.inParams.Get()
}

// OutputParameterChanges returns changes the component reported.
func (a *Arena) OutputParameterChanges() vst3.IParameterChanges {
	return a.outParams.Get()
}

// Release drops every interface reference the arena holds and detaches them
// from the process data. Calling it again does nothing.
func (a *Arena) Release() {
	if a == nil || a.released {
		return
	}
	a.released = true

	a.data.InputEvents = nil
	a.data.OutputEvents = nil
	a.data.InputParameterChanges = nil
	a.data.OutputParameterChanges = nil

	a.inEvents.Release()
	a.outEvents.Release()
	a.inParams.Release()
	a.outParams.Release()
}

// Released reports whether Release has run.
func (a *Arena) Released() bool {
	return a.released
}
