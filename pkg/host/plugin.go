package host

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/justyntemme/vst3host/pkg/adapter"
	"github.com/justyntemme/vst3host/pkg/bridge"
	"github.com/justyntemme/vst3host/pkg/config"
	"github.com/justyntemme/vst3host/pkg/crash"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/discovery"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/isolation"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Plugin is one loaded component. Control methods may be called from any
// goroutine; ProcessAudio and ProcessInterleaved belong to the audio
// thread.
type Plugin struct {
	cfg  config.Config
	log  *debug.Logger
	info discovery.Info

	// In process
	module      discovery.Module
	component   *vst3.Handle[vst3.IComponent]
	processor   vst3.IAudioProcessor
	controller  *vst3.Handle[vst3.IEditController]
	separate    bool
	initialized bool
	handler     *adapter.ComponentHandler
	view        vst3.IPlugView
	degraded    error

	// Isolated
	session  *isolation.Session
	pipeline *isolation.PipelinedProcessor

	bridge  *bridge.Bridge
	monitor *adapter.Monitor
	edits   chan struct{}

	paramMu sync.RWMutex
	params  []Parameter
	index   map[vst3.ParamID]int

	mu             sync.Mutex
	sampleRate     float64
	blockSize      int
	processMode    int32
	processing     bool
	guiOpen        bool
	closed         bool
	nativeChannels bool

	controlCrashes atomic.Uint32
}

func newPlugin(h *Host, path string, log *debug.Logger) *Plugin {
	p := &Plugin{
		cfg:            h.cfg,
		log:            log,
		info:           discovery.Info{Path: path},
		monitor:        adapter.NewMonitor(0),
		edits:          make(chan struct{}, 1),
		index:          make(map[vst3.ParamID]int),
		sampleRate:     h.cfg.Audio.SampleRate,
		blockSize:      h.cfg.Audio.BlockSize,
		processMode:    vst3.ProcessModeRealtime,
		nativeChannels: h.nativeChannels,
	}
	if h.cfg.Audio.Backend == config.BackendOffline {
		p.processMode = vst3.ProcessModeOffline
	}
	return p
}

// newBridge builds the bridge once the component's layout is known.
func (p *Plugin) newBridge() {
	out, in := p.cfg.Audio.OutputChannels, p.cfg.Audio.InputChannels
	if p.nativeChannels {
		out, in = int(p.info.OutputChannels), int(p.info.InputChannels)
	}
	p.bridge = bridge.New(bridge.Config{
		Channels:          out,
		InputChannels:     in,
		SampleRate:        p.sampleRate,
		MaxProcessingTime: p.cfg.Supervisor.MaxProcessingTime,
		Logger:            p.log,
	})
}

func (p *Plugin) setParameters(params []Parameter) {
	p.paramMu.Lock()
	defer p.paramMu.Unlock()
	p.params = params
	clear(p.index)
	for i, pr := range params {
		p.index[pr.ID] = i
	}
}

// safely runs a call into the component and logs a panic instead of
// propagating it. Teardown uses it so one failing call does not leak the
// rest.
func (p *Plugin) safely(op string, f func()) {
	if _, err := crash.Call(func() struct{} { f(); return struct{}{} }); err != nil {
		p.log.Error("%s: %v", op, err)
	}
}

// guard runs f and converts a panic into a Crashed error.
func guard(op string, f func() error) error {
	err, cerr := crash.Call(f)
	if cerr != nil {
		return hosterr.Wrap(hosterr.KindCrashed, op, cerr)
	}
	return err
}

// guard runs a control-thread call into the component. A panic is logged
// and counted as a controller crash; the audio path is left alone.
func (p *Plugin) guard(op string, f func() error) error {
	err := guard(op, f)
	if hosterr.IsKind(err, hosterr.KindCrashed) {
		p.controlCrashes.Add(1)
		p.log.Error("%s: %v", op, err)
	}
	return err
}

func (h *Host) loadInProcess(path string, log *debug.Logger) (*Plugin, error) {
	mod, err := h.loader.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	p := newPlugin(h, path, log)
	p.module = mod

	if err := guard("host.load", p.instantiate); err != nil {
		p.teardown()
		if hosterr.IsKind(err, hosterr.KindCrashed) {
			err = hosterr.Wrap(hosterr.KindLoadFailed, "host.load", err)
		}
		return nil, err
	}
	p.newBridge()

	if p.degraded != nil {
		log.Warn("%v", p.degraded)
	}
	log.Info("loaded %s by %s, %d parameters", p.info.Name, p.info.Vendor, len(p.params))
	return p, nil
}

// instantiate creates and initializes the first audio class of the module
// and its controller.
func (p *Plugin) instantiate() error {
	f := p.module.Factory()
	if f == nil {
		return hosterr.New(hosterr.KindLoadFailed, "host.load", "module has no factory")
	}
	_, ci, ok := discovery.FindAudioClass(f)
	if !ok {
		return hosterr.New(hosterr.KindLoadFailed, "host.load", "no audio module class")
	}

	obj, r := f.CreateInstance(ci.CID, vst3.IIDIComponent)
	if r != vst3.ResultOK || obj == nil {
		return hosterr.Newf(hosterr.KindLoadFailed, "host.load", "create instance: %s", r)
	}
	comp, ok := obj.(vst3.IComponent)
	if !ok {
		obj.Release()
		return hosterr.New(hosterr.KindLoadFailed, "host.load", "class is not a component")
	}
	p.component = vst3.Own(comp)

	if r := comp.Initialize(nil); r != vst3.ResultOK {
		return hosterr.Newf(hosterr.KindLoadFailed, "host.load", "initialize: %s", r)
	}
	p.initialized = true

	proc, ok := obj.(vst3.IAudioProcessor)
	if !ok {
		return hosterr.New(hosterr.KindLoadFailed, "host.load", "component has no audio processor")
	}
	p.processor = proc

	var fi vst3.FactoryInfo
	f.GetFactoryInfo(&fi)
	p.info.Name = ci.Name
	p.info.Vendor = ci.Vendor
	if p.info.Vendor == "" {
		p.info.Vendor = fi.Vendor
	}
	p.info.Version = ci.Version
	p.info.Category = ci.Category
	p.info.SubCategories = ci.SubCategories
	p.info.UID = discovery.FormatUID(ci.CID)
	p.info.AudioInputs, p.info.InputChannels, p.info.HasMIDIInput = discovery.BusSummary(comp, vst3.BusDirectionInput)
	p.info.AudioOutputs, p.info.OutputChannels, p.info.HasMIDIOutput = discovery.BusSummary(comp, vst3.BusDirectionOutput)

	p.attachController(f, comp)
	if p.controller != nil {
		ctrl := p.controller.Get()
		p.setParameters(readParameters(ctrl))
		if view := ctrl.CreateView("editor"); view != nil {
			p.info.HasGUI = true
			view.Release()
		}
	}
	return nil
}

// attachController finds the edit controller: the component itself, or a
// separate class created from the same factory. Without one the plugin
// still processes but has no parameters.
func (p *Plugin) attachController(f vst3.IPluginFactory, comp vst3.IComponent) {
	if ctrl, ok := comp.(vst3.IEditController); ok {
		ctrl.AddRef()
		p.controller = vst3.Own(ctrl)
	} else {
		cid, r := comp.GetControllerClassID()
		if r != vst3.ResultOK {
			p.degraded = hosterr.New(hosterr.KindInterfaceMissing, "host.load", "component has no edit controller")
			return
		}
		obj, r := f.CreateInstance(cid, vst3.IIDIEditController)
		if r != vst3.ResultOK || obj == nil {
			p.degraded = hosterr.Newf(hosterr.KindInterfaceMissing, "host.load", "create controller: %s", r)
			return
		}
		ctrl, ok := obj.(vst3.IEditController)
		if !ok {
			obj.Release()
			p.degraded = hosterr.New(hosterr.KindInterfaceMissing, "host.load", "controller class is not an edit controller")
			return
		}
		if r := ctrl.Initialize(nil); r != vst3.ResultOK {
			ctrl.Release()
			p.degraded = hosterr.Newf(hosterr.KindInterfaceMissing, "host.load", "initialize controller: %s", r)
			return
		}
		p.controller = vst3.Own(ctrl)
		p.separate = true
		p.syncControllerState()
	}

	p.handler = adapter.NewComponentHandler(p.edits)
	p.controller.Get().SetComponentHandler(p.handler)
}

// syncControllerState hands the component's state to a separate
// controller so both sides agree on parameter values.
func (p *Plugin) syncControllerState() {
	if !p.separate || p.controller == nil {
		return
	}
	ms := vst3.NewMemoryStream(nil)
	if p.component.Get().GetState(ms) != vst3.ResultOK {
		return
	}
	p.controller.Get().SetComponentState(vst3.NewMemoryStream(ms.Bytes()))
}

// teardown releases everything in the required order: processing off,
// inactive, terminated, released, module closed.
func (p *Plugin) teardown() error {
	var errs []error
	if p.session != nil {
		if err := p.session.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	if p.controller != nil {
		ctrl := p.controller.Get()
		p.safely("controller.SetComponentHandler", func() { ctrl.SetComponentHandler(nil) })
		if p.separate {
			p.safely("controller.Terminate", func() { ctrl.Terminate() })
		}
	}
	if p.component != nil && p.initialized {
		comp := p.component.Get()
		p.safely("component.Terminate", func() { comp.Terminate() })
		p.initialized = false
	}
	p.safely("release", func() {
		p.controller.Release()
		p.component.Release()
	})
	p.processor = nil
	if p.handler != nil {
		p.handler.Release()
		p.handler = nil
	}
	if p.module != nil {
		if err := p.module.Close(); err != nil {
			errs = append(errs, err)
		}
		p.module = nil
	}
	return errors.Join(errs...)
}

// Close stops processing, closes the editor and unloads the component.
// Calling it again does nothing.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.stopLocked()
	p.closeGUILocked()
	err := p.teardown()
	p.bridge.DrainLog()
	p.log.Info("unloaded")
	return err
}

// Info returns the plugin metadata
func (p *Plugin) Info() discovery.Info {
	return p.info
}

// Isolated reports whether the component runs in a helper process
func (p *Plugin) Isolated() bool {
	return p.session != nil
}

// Degraded returns the InterfaceMissing error recorded at load, if any
func (p *Plugin) Degraded() error {
	return p.degraded
}

// Bridge returns the real-time bridge feeding the component
func (p *Plugin) Bridge() *bridge.Bridge {
	return p.bridge
}

// Monitor returns the ring of recently processed events
func (p *Plugin) Monitor() *adapter.Monitor {
	return p.monitor
}

// Edits signals when the controller staged edits for ApplyPendingEdits.
func (p *Plugin) Edits() <-chan struct{} {
	return p.edits
}

// Status is a snapshot of the plugin's health
type Status struct {
	Health         crash.Status
	Processing     bool
	Active         bool
	Isolated       bool
	SessionID      string
	HelperAlive    bool
	Crashes        uint32
	// ControlCrashes counts panics in control-thread calls such as
	// parameter and editor access.
	ControlCrashes uint32
	Blocks         uint64
	Underruns      uint64
	Late           uint64
	SampleCount    int64
}

// Status returns the current health and counters
func (p *Plugin) Status() Status {
	p.mu.Lock()
	st := Status{Processing: p.processing, Isolated: p.session != nil}
	if p.pipeline != nil {
		st.Late = p.pipeline.Late()
	}
	p.mu.Unlock()

	st.Health = p.bridge.Status()
	st.Active = p.bridge.IsActive()
	st.Crashes = p.bridge.Protection().CrashCount()
	st.ControlCrashes = p.controlCrashes.Load()
	st.Blocks = p.bridge.Blocks()
	st.Underruns = p.bridge.Underruns()
	st.SampleCount = p.bridge.SampleCount()
	if p.session != nil {
		st.SessionID = p.session.ID().String()
		st.HelperAlive = p.session.Alive()
	}
	return st
}
