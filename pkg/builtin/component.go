// Package builtin provides native components implemented in Go. They stand
// in for dynamically loaded modules in tests, in the isolation helper and in
// the command line host, and are addressed as "builtin:<name>".
package builtin

import (
	"bytes"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Kernel is the signal processing part of a component.
type Kernel interface {
	// Setup is called from SetupProcessing, before processing starts.
	Setup(sampleRate float64, maxBlockSize int)
	// Process renders one block. Parameter changes for the block have
	// already been applied to the registry.
	Process(data *vst3.ProcessData) vst3.Result
	// Reset drops voices and tails.
	Reset()
}

// Component is a single object acting as component, audio processor and
// edit controller.
type Component struct {
	vst3.RefCount

	info   vst3.ClassInfo
	params *Registry
	kernel Kernel

	audioIn  []vst3.BusInfo
	audioOut []vst3.BusInfo
	eventIn  []vst3.BusInfo

	editor    bool
	editorDim vst3.ViewRect

	mu          sync.Mutex
	initialized bool
	handler     vst3.IComponentHandler
	setup       vst3.ProcessSetup
	extra       []byte

	active     atomic.Bool
	processing atomic.Bool
}

var (
	_ vst3.IComponent      = (*Component)(nil)
	_ vst3.IAudioProcessor = (*Component)(nil)
	_ vst3.IEditController = (*Component)(nil)
)

func audioBus(name string, dir vst3.BusDirection, channels int32) vst3.BusInfo {
	return vst3.BusInfo{
		MediaType:    vst3.MediaTypeAudio,
		Direction:    dir,
		ChannelCount: channels,
		Name:         name,
		BusType:      vst3.BusTypeMain,
		Flags:        vst3.BusDefaultActive,
	}
}

func eventBus(name string) vst3.BusInfo {
	return vst3.BusInfo{
		MediaType:    vst3.MediaTypeEvent,
		Direction:    vst3.BusDirectionInput,
		ChannelCount: 16,
		Name:         name,
		BusType:      vst3.BusTypeMain,
		Flags:        vst3.BusDefaultActive,
	}
}

// Info returns the class this component was created from
func (c *Component) Info() vst3.ClassInfo {
	return c.info
}

// Params returns the parameter registry
func (c *Component) Params() *Registry {
	return c.params
}

// IsActive reports whether SetActive(true) is in effect
func (c *Component) IsActive() bool {
	return c.active.Load()
}

// IsProcessing reports whether SetProcessing(true) is in effect
func (c *Component) IsProcessing() bool {
	return c.processing.Load()
}

// IsInitialized reports whether Initialize ran without Terminate
func (c *Component) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Initialize implements IPluginBase
func (c *Component) Initialize(context vst3.FUnknown) vst3.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return vst3.ResultFalse
	}
	c.initialized = true
	return vst3.ResultOK
}

// Terminate implements IPluginBase
func (c *Component) Terminate() vst3.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		c.handler.Release()
		c.handler = nil
	}
	c.initialized = false
	return vst3.ResultOK
}

// GetControllerClassID implements IComponent. The component is its own
// controller.
func (c *Component) GetControllerClassID() (vst3.TUID, vst3.Result) {
	return vst3.TUID{}, vst3.ResultFalse
}

// SetIOMode implements IComponent
func (c *Component) SetIOMode(mode int32) vst3.Result {
	return vst3.ResultOK
}

func (c *Component) buses(mediaType vst3.MediaType, dir vst3.BusDirection) []vst3.BusInfo {
	switch {
	case mediaType == vst3.MediaTypeAudio && dir == vst3.BusDirectionInput:
		return c.audioIn
	case mediaType == vst3.MediaTypeAudio && dir == vst3.BusDirectionOutput:
		return c.audioOut
	case mediaType == vst3.MediaTypeEvent && dir == vst3.BusDirectionInput:
		return c.eventIn
	}
	return nil
}

// GetBusCount implements IComponent
func (c *Component) GetBusCount(mediaType vst3.MediaType, dir vst3.BusDirection) int32 {
	return int32(len(c.buses(mediaType, dir)))
}

// GetBusInfo implements IComponent
func (c *Component) GetBusInfo(mediaType vst3.MediaType, dir vst3.BusDirection, index int32, info *vst3.BusInfo) vst3.Result {
	buses := c.buses(mediaType, dir)
	if info == nil || index < 0 || int(index) >= len(buses) {
		return vst3.ResultInvalidArgument
	}
	*info = buses[index]
	return vst3.ResultOK
}

// ActivateBus implements IComponent
func (c *Component) ActivateBus(mediaType vst3.MediaType, dir vst3.BusDirection, index int32, state bool) vst3.Result {
	if index < 0 || int(index) >= len(c.buses(mediaType, dir)) {
		return vst3.ResultInvalidArgument
	}
	return vst3.ResultOK
}

// SetActive implements IComponent
func (c *Component) SetActive(state bool) vst3.Result {
	if !state {
		c.kernel.Reset()
	}
	c.active.Store(state)
	return vst3.ResultOK
}

// SetState implements IComponent
func (c *Component) SetState(state vst3.IBStream) vst3.Result {
	w := vst3.NewStreamWrapper(state)
	if w == nil {
		return vst3.ResultInvalidArgument
	}
	extra, err := readState(w, c.params)
	if err != nil {
		return vst3.ResultFalse
	}
	c.mu.Lock()
	c.extra = extra
	c.mu.Unlock()
	return vst3.ResultOK
}

// GetState implements IComponent
func (c *Component) GetState(state vst3.IBStream) vst3.Result {
	w := vst3.NewStreamWrapper(state)
	if w == nil {
		return vst3.ResultInvalidArgument
	}
	c.mu.Lock()
	extra := c.extra
	c.mu.Unlock()

	var buf bytes.Buffer
	if err := writeState(&buf, c.params, extra); err != nil {
		return vst3.ResultInternalError
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return vst3.ResultFalse
	}
	return vst3.ResultOK
}

// SetBusArrangements implements IAudioProcessor. Only the declared layout
// is accepted.
func (c *Component) SetBusArrangements(inputs, outputs []vst3.SpeakerArrangement) vst3.Result {
	if !matches(inputs, c.audioIn) || !matches(outputs, c.audioOut) {
		return vst3.ResultFalse
	}
	return vst3.ResultOK
}

func matches(arr []vst3.SpeakerArrangement, buses []vst3.BusInfo) bool {
	if len(arr) != len(buses) {
		return false
	}
	for i, a := range arr {
		if int32(bits.OnesCount64(uint64(a))) != buses[i].ChannelCount {
			return false
		}
	}
	return true
}

// CanProcessSampleSize implements IAudioProcessor
func (c *Component) CanProcessSampleSize(symbolicSampleSize int32) vst3.Result {
	return vst3.BoolResult(symbolicSampleSize == vst3.SampleSize32)
}

// GetLatencySamples implements IAudioProcessor
func (c *Component) GetLatencySamples() uint32 {
	return 0
}

// SetupProcessing implements IAudioProcessor
func (c *Component) SetupProcessing(setup *vst3.ProcessSetup) vst3.Result {
	if setup == nil || setup.SampleRate <= 0 || setup.MaxSamplesPerBlock <= 0 {
		return vst3.ResultInvalidArgument
	}
	if setup.SymbolicSampleSize != vst3.SampleSize32 {
		return vst3.ResultFalse
	}
	c.mu.Lock()
	c.setup = *setup
	c.mu.Unlock()
	c.kernel.Setup(setup.SampleRate, int(setup.MaxSamplesPerBlock))
	return vst3.ResultOK
}

// ProcessSetup returns the last accepted setup
func (c *Component) ProcessSetup() vst3.ProcessSetup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setup
}

// SetProcessing implements IAudioProcessor
func (c *Component) SetProcessing(state bool) vst3.Result {
	c.processing.Store(state)
	return vst3.ResultOK
}

// Process implements IAudioProcessor
func (c *Component) Process(data *vst3.ProcessData) vst3.Result {
	if data == nil {
		return vst3.ResultInvalidArgument
	}
	if pc := data.InputParameterChanges; pc != nil {
		for i := int32(0); i < pc.GetParameterCount(); i++ {
			q := pc.GetParameterData(i)
			if q == nil || q.GetPointCount() == 0 {
				continue
			}
			var off int32
			var v vst3.ParamValue
			if q.GetPoint(q.GetPointCount()-1, &off, &v) != vst3.ResultOK {
				continue
			}
			if p := c.params.Get(q.GetParameterID()); p != nil {
				p.SetValue(v)
			}
		}
	}
	return c.kernel.Process(data)
}

// GetTailSamples implements IAudioProcessor
func (c *Component) GetTailSamples() uint32 {
	return 0
}

// SetComponentState implements IEditController. Parameters are shared with
// the component, so there is nothing to copy.
func (c *Component) SetComponentState(state vst3.IBStream) vst3.Result {
	return vst3.ResultOK
}

// GetParameterCount implements IEditController
func (c *Component) GetParameterCount() int32 {
	return c.params.Count()
}

// GetParameterInfo implements IEditController
func (c *Component) GetParameterInfo(index int32, info *vst3.ParameterInfo) vst3.Result {
	p := c.params.At(index)
	if p == nil || info == nil {
		return vst3.ResultInvalidArgument
	}
	*info = p.Info()
	return vst3.ResultOK
}

// GetParamStringByValue implements IEditController
func (c *Component) GetParamStringByValue(id vst3.ParamID, value vst3.ParamValue) (string, vst3.Result) {
	p := c.params.Get(id)
	if p == nil {
		return "", vst3.ResultInvalidArgument
	}
	return p.Format(value), vst3.ResultOK
}

// NormalizedParamToPlain implements IEditController
func (c *Component) NormalizedParamToPlain(id vst3.ParamID, normalized vst3.ParamValue) vst3.ParamValue {
	if p := c.params.Get(id); p != nil {
		return p.Denormalize(normalized)
	}
	return normalized
}

// PlainParamToNormalized implements IEditController
func (c *Component) PlainParamToNormalized(id vst3.ParamID, plain vst3.ParamValue) vst3.ParamValue {
	if p := c.params.Get(id); p != nil {
		return p.Normalize(plain)
	}
	return plain
}

// GetParamNormalized implements IEditController
func (c *Component) GetParamNormalized(id vst3.ParamID) vst3.ParamValue {
	if p := c.params.Get(id); p != nil {
		return p.Value()
	}
	return 0
}

// SetParamNormalized implements IEditController
func (c *Component) SetParamNormalized(id vst3.ParamID, value vst3.ParamValue) vst3.Result {
	p := c.params.Get(id)
	if p == nil {
		return vst3.ResultInvalidArgument
	}
	p.SetValue(value)
	return vst3.ResultOK
}

// SetComponentHandler implements IEditController. The component keeps a
// reference until it is replaced or Terminate runs.
func (c *Component) SetComponentHandler(handler vst3.IComponentHandler) vst3.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handler != nil {
		handler.AddRef()
	}
	if c.handler != nil {
		c.handler.Release()
	}
	c.handler = handler
	return vst3.ResultOK
}

// CreateView implements IEditController
func (c *Component) CreateView(name string) vst3.IPlugView {
	if !c.editor || name != "editor" {
		return nil
	}
	return newView(c, c.editorDim)
}

// Edit changes a parameter the way a user gesture in the editor would: the
// handler sees begin, perform and end, and the value is applied.
func (c *Component) Edit(id vst3.ParamID, value vst3.ParamValue) vst3.Result {
	p := c.params.Get(id)
	if p == nil {
		return vst3.ResultInvalidArgument
	}
	c.mu.Lock()
	h := c.handler
	if h != nil {
		h.AddRef()
	}
	c.mu.Unlock()

	p.SetValue(value)
	if h == nil {
		return vst3.ResultOK
	}
	defer h.Release()
	h.BeginEdit(id)
	r := h.PerformEdit(id, p.Value())
	h.EndEdit(id)
	return r
}

// RequestRestart forwards restart flags to the handler
func (c *Component) RequestRestart(flags int32) vst3.Result {
	c.mu.Lock()
	h := c.handler
	if h != nil {
		h.AddRef()
	}
	c.mu.Unlock()
	if h == nil {
		return vst3.ResultFalse
	}
	defer h.Release()
	return h.RestartComponent(flags)
}
