package builtin

import (
	"sync"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// View is the editor of a built-in component. It has no pixels; it tracks
// the attach state a host window would drive.
type View struct {
	vst3.RefCount

	owner *Component

	mu       sync.Mutex
	size     vst3.ViewRect
	parent   uintptr
	platform string
}

var _ vst3.IPlugView = (*View)(nil)

func newView(owner *Component, size vst3.ViewRect) *View {
	owner.AddRef()
	v := &View{owner: owner, size: size}
	v.OnRelease = func() { owner.Release() }
	return v
}

// IsPlatformTypeSupported implements IPlugView
func (v *View) IsPlatformTypeSupported(platformType string) vst3.Result {
	switch platformType {
	case vst3.PlatformTypeHWND, vst3.PlatformTypeNSView, vst3.PlatformTypeX11:
		return vst3.ResultTrue
	}
	return vst3.ResultFalse
}

// Attached implements IPlugView
func (v *View) Attached(parent uintptr, platformType string) vst3.Result {
	if v.IsPlatformTypeSupported(platformType) != vst3.ResultTrue {
		return vst3.ResultFalse
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.platform != "" {
		return vst3.ResultFalse
	}
	v.parent = parent
	v.platform = platformType
	return vst3.ResultOK
}

// Removed implements IPlugView
func (v *View) Removed() vst3.Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.platform == "" {
		return vst3.ResultFalse
	}
	v.parent = 0
	v.platform = ""
	return vst3.ResultOK
}

// GetSize implements IPlugView
func (v *View) GetSize(size *vst3.ViewRect) vst3.Result {
	if size == nil {
		return vst3.ResultInvalidArgument
	}
	v.mu.Lock()
	*size = v.size
	v.mu.Unlock()
	return vst3.ResultOK
}

// IsAttached reports whether a parent window holds the view
func (v *View) IsAttached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.platform != ""
}

// Edit forwards a gesture to the owning component
func (v *View) Edit(id vst3.ParamID, value vst3.ParamValue) vst3.Result {
	return v.owner.Edit(id, value)
}
