package adapter

import (
	"sync"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// EditKind identifies a component handler notification
type EditKind int

const (
	EditBegin EditKind = iota
	EditPerform
	EditEnd
	EditRestart
)

func (k EditKind) String() string {
	switch k {
	case EditBegin:
		return "begin"
	case EditPerform:
		return "perform"
	case EditEnd:
		return "end"
	case EditRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Edit is one staged notification
type Edit struct {
	Kind  EditKind
	ID    vst3.ParamID
	Value vst3.ParamValue
	Flags int32
}

// ComponentHandler is the IComponentHandler given to a controller. It only
// stages notifications; the control thread picks them up with Drain and
// applies them. It never calls back into the component.
type ComponentHandler struct {
	vst3.RefCount

	mu      sync.Mutex
	pending []Edit
	editing map[vst3.ParamID]bool
	notify  chan<- struct{}
}

var _ vst3.IComponentHandler = (*ComponentHandler)(nil)

// NewComponentHandler creates a handler. notify may be nil; when set, it
// receives a non-blocking signal after each staged edit.
func NewComponentHandler(notify chan<- struct{}) *ComponentHandler {
	return &ComponentHandler{
		editing: make(map[vst3.ParamID]bool),
		notify:  notify,
	}
}

func (h *ComponentHandler) stage(e Edit) {
	h.mu.Lock()
	h.pending = append(h.pending, e)
	h.mu.Unlock()

	if h.notify != nil {
		select {
		case h.notify <- struct{}{}:
		default:
		}
	}
}

// BeginEdit implements vst3.IComponentHandler
func (h *ComponentHandler) BeginEdit(id vst3.ParamID) vst3.Result {
	h.mu.Lock()
	h.editing[id] = true
	h.mu.Unlock()
	h.stage(Edit{Kind: EditBegin, ID: id})
	return vst3.ResultOK
}

// PerformEdit implements vst3.IComponentHandler
func (h *ComponentHandler) PerformEdit(id vst3.ParamID, value vst3.ParamValue) vst3.Result {
	h.stage(Edit{Kind: EditPerform, ID: id, Value: value})
	return vst3.ResultOK
}

// EndEdit implements vst3.IComponentHandler
func (h *ComponentHandler) EndEdit(id vst3.ParamID) vst3.Result {
	h.mu.Lock()
	delete(h.editing, id)
	h.mu.Unlock()
	h.stage(Edit{Kind: EditEnd, ID: id})
	return vst3.ResultOK
}

// RestartComponent implements vst3.IComponentHandler
func (h *ComponentHandler) RestartComponent(flags int32) vst3.Result {
	h.stage(Edit{Kind: EditRestart, Flags: flags})
	return vst3.ResultOK
}

// Editing reports whether a begin-edit for id is still open.
func (h *ComponentHandler) Editing(id vst3.ParamID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.editing[id]
}

// Drain returns and clears the staged notifications in arrival order.
func (h *ComponentHandler) Drain() []Edit {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

// PendingCount returns the number of staged notifications.
func (h *ComponentHandler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
