package host

import (
	"context"

	"github.com/justyntemme/vst3host/pkg/crash"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/isolation"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Engine hosts one component in process on behalf of an isolation helper.
// It answers the helper protocol with the component's own channel layout.
type Engine struct {
	host   *Host
	plugin *Plugin
	out    []float32
}

var _ isolation.Engine = (*Engine)(nil)

// NewEngine creates an engine using h's loader and format. Isolation is
// always off inside the engine.
func NewEngine(h *Host) *Engine {
	inner := *h
	inner.cfg.Isolation.Enabled = false
	inner.nativeChannels = true
	return &Engine{host: &inner}
}

// Plugin returns the loaded plugin, or nil
func (e *Engine) Plugin() *Plugin {
	return e.plugin
}

// Load implements isolation.Engine
func (e *Engine) Load(path string) (isolation.PluginInfo, error) {
	if e.plugin != nil {
		e.Unload()
	}
	p, err := e.host.LoadPlugin(context.Background(), path)
	if err != nil {
		return isolation.PluginInfo{}, err
	}
	if err := p.StartProcessing(); err != nil {
		p.Close()
		return isolation.PluginInfo{}, err
	}
	e.plugin = p

	info := p.Info()
	return isolation.PluginInfo{
		Vendor:       info.Vendor,
		Name:         info.Name,
		Version:      info.Version,
		HasGUI:       info.HasGUI,
		AudioInputs:  info.InputChannels,
		AudioOutputs: info.OutputChannels,
		Category:     info.Category,
		HasMIDIInput: info.HasMIDIInput,
		Parameters:   toRemote(p.Parameters()),
	}, nil
}

// Unload implements isolation.Engine
func (e *Engine) Unload() error {
	if e.plugin == nil {
		return nil
	}
	err := e.plugin.Close()
	e.plugin = nil
	return err
}

func (e *Engine) loaded(op string) (*Plugin, error) {
	if e.plugin == nil {
		return nil, hosterr.New(hosterr.KindNotFound, op, "no plugin loaded")
	}
	return e.plugin, nil
}

// Configure implements isolation.Engine
func (e *Engine) Configure(sampleRate float64, blockSize int) error {
	p, err := e.loaded("engine.configure")
	if err != nil {
		return err
	}
	return p.Reconfigure(sampleRate, blockSize)
}

// Process implements isolation.Engine. A crash caught by the bridge is
// reported as a Crashed error.
func (e *Engine) Process(input []float32, frames int) ([]float32, error) {
	p, err := e.loaded("engine.process")
	if err != nil {
		return nil, err
	}
	if frames < 0 {
		return nil, hosterr.Newf(hosterr.KindInvalidParameter, "engine.process", "negative frame count %d", frames)
	}
	n := frames * p.bridge.Channels()
	if cap(e.out) < n {
		e.out = make([]float32, n)
	}
	out := e.out[:n]

	if !p.ProcessInterleaved(input, out) {
		st := p.bridge.Status()
		if st.State == crash.StateCrashed {
			return nil, hosterr.New(hosterr.KindCrashed, "engine.process", st.Reason)
		}
		return nil, hosterr.New(hosterr.KindProcessingError, "engine.process", "block was not processed")
	}
	p.bridge.DrainLog()
	return out, nil
}

// SetParameter implements isolation.Engine
func (e *Engine) SetParameter(id uint32, value float64) error {
	p, err := e.loaded("engine.set")
	if err != nil {
		return err
	}
	return p.SetParameter(vst3.ParamID(id), value)
}

// GetParameter implements isolation.Engine
func (e *Engine) GetParameter(id uint32) (float64, error) {
	p, err := e.loaded("engine.get")
	if err != nil {
		return 0, err
	}
	return p.GetParameter(vst3.ParamID(id))
}

// SendMIDI implements isolation.Engine
func (e *Engine) SendMIDI(status, data1, data2 byte) error {
	p, err := e.loaded("engine.midi")
	if err != nil {
		return err
	}
	return p.SendMIDI(status, data1, data2)
}

// CreateGUI implements isolation.Engine
func (e *Engine) CreateGUI() error {
	p, err := e.loaded("engine.gui")
	if err != nil {
		return err
	}
	_, err = p.CreateGUI()
	return err
}

// CloseGUI implements isolation.Engine
func (e *Engine) CloseGUI() error {
	p, err := e.loaded("engine.gui")
	if err != nil {
		return err
	}
	return p.CloseGUI()
}
