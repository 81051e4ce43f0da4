package host

import (
	"math"
	"runtime"

	"github.com/justyntemme/vst3host/pkg/adapter"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/isolation"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Parameters returns every parameter with its current value
func (p *Plugin) Parameters() []Parameter {
	p.paramMu.RLock()
	out := make([]Parameter, len(p.params))
	copy(out, p.params)
	p.paramMu.RUnlock()

	if p.session == nil && p.controller != nil {
		values := make([]float64, len(out))
		err := p.guard("controller.GetParamNormalized", func() error {
			ctrl := p.controller.Get()
			for i := range out {
				values[i] = ctrl.GetParamNormalized(out[i].ID)
			}
			return nil
		})
		if err == nil {
			for i := range out {
				out[i].Value = values[i]
			}
		}
	}
	return out
}

// Parameter returns one parameter with its current value
func (p *Plugin) Parameter(id vst3.ParamID) (Parameter, error) {
	p.paramMu.RLock()
	i, ok := p.index[id]
	var pr Parameter
	if ok {
		pr = p.params[i]
	}
	p.paramMu.RUnlock()

	if !ok {
		return Parameter{}, hosterr.Newf(hosterr.KindNotFound, "plugin.parameter", "no parameter %d", id)
	}
	if p.session == nil && p.controller != nil {
		p.guard("controller.GetParamNormalized", func() error {
			pr.Value = p.controller.Get().GetParamNormalized(id)
			return nil
		})
	}
	return pr, nil
}

// FindParameter looks a parameter up by name, ignoring case
func (p *Plugin) FindParameter(name string) (Parameter, bool) {
	pr, ok := findByName(p.Parameters(), name)
	return pr, ok
}

// SetParameter sets a normalized value. The component sees it at the start
// of the next block.
func (p *Plugin) SetParameter(id vst3.ParamID, value float64) error {
	if math.IsNaN(value) || value < 0 || value > 1 {
		return hosterr.Newf(hosterr.KindInvalidParameter, "plugin.set", "value %v outside 0..1", value)
	}
	pr, err := p.Parameter(id)
	if err != nil {
		return err
	}
	if pr.IsReadOnly() {
		return hosterr.Newf(hosterr.KindInvalidParameter, "plugin.set", "parameter %q is read only", pr.Name)
	}

	if p.session != nil {
		resp, err := p.session.SendCommand(isolation.SetParameter(uint32(id), value))
		if err != nil {
			return err
		}
		if err := resp.Err(); err != nil {
			return err
		}
		p.cacheValue(id, value)
		return nil
	}

	err = p.guard("plugin.set", func() error {
		if r := p.controller.Get().SetParamNormalized(id, value); r != vst3.ResultOK {
			return hosterr.Newf(hosterr.KindProcessingError, "plugin.set", "controller rejected %q: %s", pr.Name, r)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.bridge.QueueParameter(id, value)
	return nil
}

// SetParameterPlain sets a value given in the parameter's own units
func (p *Plugin) SetParameterPlain(id vst3.ParamID, plain float64) error {
	pr, err := p.Parameter(id)
	if err != nil {
		return err
	}
	return p.SetParameter(id, pr.ToNormalized(plain))
}

// GetParameter returns the normalized value
func (p *Plugin) GetParameter(id vst3.ParamID) (float64, error) {
	pr, err := p.Parameter(id)
	if err != nil {
		return 0, err
	}
	if p.session == nil {
		return pr.Value, nil
	}

	resp, err := p.session.SendCommand(isolation.GetParameter(uint32(id)))
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	if resp.Kind != isolation.RespParameterValue {
		return 0, hosterr.Newf(hosterr.KindIpcError, "plugin.get", "unexpected %s reply", resp.Kind)
	}
	p.cacheValue(id, resp.Value)
	return resp.Value, nil
}

func (p *Plugin) cacheValue(id vst3.ParamID, value float64) {
	p.paramMu.Lock()
	if i, ok := p.index[id]; ok {
		p.params[i].Value = value
	}
	p.paramMu.Unlock()
}

// FormatParameter renders a normalized value the way the component would
// display it, falling back to the plain value and unit.
func (p *Plugin) FormatParameter(id vst3.ParamID, value float64) (string, error) {
	pr, err := p.Parameter(id)
	if err != nil {
		return "", err
	}
	if p.session == nil && p.controller != nil {
		var text string
		err := p.guard("plugin.format", func() error {
			if s, r := p.controller.Get().GetParamStringByValue(id, value); r == vst3.ResultOK {
				text = s
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}
	return formatPlain(pr, value), nil
}

// refreshParameters rereads parameter descriptions after the controller
// announced a change.
func (p *Plugin) refreshParameters() {
	if p.session != nil || p.controller == nil {
		return
	}
	var params []Parameter
	err := p.guard("controller.refresh", func() error {
		params = readParameters(p.controller.Get())
		return nil
	})
	if err != nil {
		return
	}
	p.setParameters(params)
}

// ApplyPendingEdits moves edits the controller made since the last call to
// the component and handles restart requests. It returns the edits for
// display.
func (p *Plugin) ApplyPendingEdits() []adapter.Edit {
	if p.handler == nil {
		return nil
	}
	edits := p.handler.Drain()
	restart := false
	for _, e := range edits {
		switch e.Kind {
		case adapter.EditPerform:
			p.bridge.QueueParameter(e.ID, e.Value)
		case adapter.EditRestart:
			if e.Flags&(vst3.RestartParamTitlesChanged|vst3.RestartParamValuesChanged) != 0 {
				p.refreshParameters()
			}
			if e.Flags&(vst3.RestartReloadComponent|vst3.RestartIOChanged|vst3.RestartLatencyChanged) != 0 {
				restart = true
			}
		}
	}
	if restart {
		p.log.Info("component requested a restart")
		p.mu.Lock()
		if p.processing {
			p.stopLocked()
			if err := p.startLocked(); err != nil {
				p.log.Error("restart failed: %v", err)
			}
		}
		p.mu.Unlock()
	}
	return edits
}

// SaveState returns the component's opaque state
func (p *Plugin) SaveState() ([]byte, error) {
	if p.session != nil {
		return nil, hosterr.New(hosterr.KindInterfaceMissing, "plugin.save", "state transfer is not available for isolated plugins")
	}
	var data []byte
	err := p.guard("plugin.save", func() error {
		ms := vst3.NewMemoryStream(nil)
		if r := p.component.Get().GetState(ms); r != vst3.ResultOK {
			return hosterr.Newf(hosterr.KindProcessingError, "plugin.save", "get state: %s", r)
		}
		data = ms.Bytes()
		return nil
	})
	return data, err
}

// LoadState restores state saved by SaveState and passes it on to a
// separate controller.
func (p *Plugin) LoadState(data []byte) error {
	if p.session != nil {
		return hosterr.New(hosterr.KindInterfaceMissing, "plugin.load", "state transfer is not available for isolated plugins")
	}
	return p.guard("plugin.load", func() error {
		if r := p.component.Get().SetState(vst3.NewMemoryStream(data)); r != vst3.ResultOK {
			return hosterr.Newf(hosterr.KindProcessingError, "plugin.load", "set state: %s", r)
		}
		if p.separate && p.controller != nil {
			p.controller.Get().SetComponentState(vst3.NewMemoryStream(data))
		}
		return nil
	})
}

// PlatformType is the editor window type of an OS
func PlatformType(goos string) string {
	switch goos {
	case "windows":
		return vst3.PlatformTypeHWND
	case "darwin":
		return vst3.PlatformTypeNSView
	default:
		return vst3.PlatformTypeX11
	}
}

// CreateGUI opens the editor and returns its size. Embedding it in a
// window is up to the caller through AttachGUI.
func (p *Plugin) CreateGUI() (vst3.ViewRect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		if err := p.remoteCommand(isolation.Simple(isolation.CmdCreateGui)); err != nil {
			return vst3.ViewRect{}, err
		}
		p.guiOpen = true
		return vst3.ViewRect{}, nil
	}
	if p.controller == nil {
		return vst3.ViewRect{}, hosterr.New(hosterr.KindInterfaceMissing, "plugin.gui", "no edit controller")
	}

	var size vst3.ViewRect
	err := p.guard("plugin.gui", func() error {
		if p.view == nil {
			view := p.controller.Get().CreateView("editor")
			if view == nil {
				return hosterr.New(hosterr.KindInterfaceMissing, "plugin.gui", "component has no editor")
			}
			if view.IsPlatformTypeSupported(PlatformType(runtime.GOOS)) != vst3.ResultTrue {
				view.Release()
				return hosterr.Newf(hosterr.KindInterfaceMissing, "plugin.gui", "editor does not support %s", PlatformType(runtime.GOOS))
			}
			p.view = view
			p.guiOpen = true
		}
		p.view.GetSize(&size)
		return nil
	})
	return size, err
}

// AttachGUI embeds the open editor into a native parent window
func (p *Plugin) AttachGUI(parent uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.view == nil {
		return hosterr.New(hosterr.KindNotFound, "plugin.gui", "editor is not open")
	}
	return p.guard("plugin.gui", func() error {
		if r := p.view.Attached(parent, PlatformType(runtime.GOOS)); r != vst3.ResultOK {
			return hosterr.Newf(hosterr.KindProcessingError, "plugin.gui", "attach: %s", r)
		}
		return nil
	})
}

// CloseGUI closes the editor. Closing a closed editor does nothing.
func (p *Plugin) CloseGUI() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeGUILocked()
}

func (p *Plugin) closeGUILocked() error {
	if !p.guiOpen {
		return nil
	}
	p.guiOpen = false
	if p.session != nil {
		return p.remoteCommand(isolation.Simple(isolation.CmdCloseGui))
	}
	view := p.view
	p.view = nil
	p.safely("view.Removed", func() {
		view.Removed()
		view.Release()
	})
	return nil
}

// GUIOpen reports whether the editor is open
func (p *Plugin) GUIOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.guiOpen
}
