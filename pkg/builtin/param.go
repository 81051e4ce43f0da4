package builtin

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Parameter is one automatable value. The normalized value is stored
// atomically so the audio thread reads it without locking.
type Parameter struct {
	ID           vst3.ParamID
	Name         string
	ShortName    string
	Unit         string
	Min          float64
	Max          float64
	DefaultValue float64 // normalized
	StepCount    int32
	Flags        int32

	value  atomic.Uint64
	format func(float64) string
}

// Value returns the normalized value
func (p *Parameter) Value() float64 {
	return math.Float64frombits(p.value.Load())
}

// SetValue stores a normalized value, clamped to 0..1
func (p *Parameter) SetValue(v float64) {
	p.value.Store(math.Float64bits(clamp01(v)))
}

// Plain returns the current value in the parameter's own range
func (p *Parameter) Plain() float64 {
	return p.Denormalize(p.Value())
}

// Normalize converts a plain value to 0..1
func (p *Parameter) Normalize(plain float64) float64 {
	if p.Max <= p.Min {
		return 0
	}
	n := clamp01((plain - p.Min) / (p.Max - p.Min))
	if p.StepCount > 0 {
		n = math.Round(n*float64(p.StepCount)) / float64(p.StepCount)
	}
	return n
}

// Denormalize converts 0..1 to the plain range. Stepped parameters snap to
// their nearest step.
func (p *Parameter) Denormalize(n float64) float64 {
	n = clamp01(n)
	if p.StepCount > 0 {
		n = math.Round(n*float64(p.StepCount)) / float64(p.StepCount)
	}
	return p.Min + n*(p.Max-p.Min)
}

// Format renders a normalized value for display
func (p *Parameter) Format(n float64) string {
	plain := p.Denormalize(n)
	if p.format != nil {
		return p.format(plain)
	}
	if p.StepCount > 0 {
		return fmt.Sprintf("%.0f", plain)
	}
	if p.Unit != "" {
		return fmt.Sprintf("%.2f %s", plain, p.Unit)
	}
	return fmt.Sprintf("%.2f", plain)
}

// Info fills the controller's view of the parameter
func (p *Parameter) Info() vst3.ParameterInfo {
	return vst3.ParameterInfo{
		ID:           p.ID,
		Title:        p.Name,
		ShortTitle:   p.ShortName,
		Units:        p.Unit,
		StepCount:    p.StepCount,
		DefaultValue: p.DefaultValue,
		Flags:        p.Flags,
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ParamBuilder provides a fluent API for declaring parameters
type ParamBuilder struct {
	param *Parameter
}

// NewParam starts a parameter with a 0..1 range
func NewParam(id vst3.ParamID, name string) *ParamBuilder {
	return &ParamBuilder{param: &Parameter{
		ID:        id,
		Name:      name,
		ShortName: name,
		Min:       0,
		Max:       1,
		Flags:     vst3.ParameterCanAutomate,
	}}
}

// Range sets the plain range
func (b *ParamBuilder) Range(min, max float64) *ParamBuilder {
	b.param.Min = min
	b.param.Max = max
	return b
}

// Default sets the default in plain units
func (b *ParamBuilder) Default(plain float64) *ParamBuilder {
	b.param.DefaultValue = b.param.Normalize(plain)
	return b
}

// Unit sets the unit label
func (b *ParamBuilder) Unit(unit string) *ParamBuilder {
	b.param.Unit = unit
	return b
}

// Steps makes the parameter discrete
func (b *ParamBuilder) Steps(n int32) *ParamBuilder {
	b.param.StepCount = n
	return b
}

// Toggle makes an on/off parameter
func (b *ParamBuilder) Toggle() *ParamBuilder {
	b.param.Min, b.param.Max = 0, 1
	b.param.StepCount = 1
	b.param.format = func(v float64) string {
		if v >= 0.5 {
			return "On"
		}
		return "Off"
	}
	return b
}

// Formatter sets the display function, which receives plain values
func (b *ParamBuilder) Formatter(f func(float64) string) *ParamBuilder {
	b.param.format = f
	return b
}

// Build returns the parameter set to its default
func (b *ParamBuilder) Build() *Parameter {
	p := b.param
	p.SetValue(p.DefaultValue)
	return p
}

// Registry keeps parameters in declaration order
type Registry struct {
	mu     sync.RWMutex
	params map[vst3.ParamID]*Parameter
	order  []*Parameter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{params: make(map[vst3.ParamID]*Parameter)}
}

// Add registers parameters. Duplicate ids are ignored.
func (r *Registry) Add(params ...*Parameter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range params {
		if _, ok := r.params[p.ID]; ok {
			continue
		}
		r.params[p.ID] = p
		r.order = append(r.order, p)
	}
}

// Get returns the parameter with id, or nil
func (r *Registry) Get(id vst3.ParamID) *Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params[id]
}

// At returns the parameter at index, or nil
func (r *Registry) At(index int32) *Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || int(index) >= len(r.order) {
		return nil
	}
	return r.order[index]
}

// Count returns the number of parameters
func (r *Registry) Count() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int32(len(r.order))
}

// All returns the parameters in order
func (r *Registry) All() []*Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Parameter(nil), r.order...)
}

// DecibelFormatter formats gain in dB
func DecibelFormatter(db float64) string {
	if db <= -60 {
		return "-inf dB"
	}
	return fmt.Sprintf("%.1f dB", db)
}

// PercentFormatter formats a 0..1 plain value as a percentage
func PercentFormatter(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

// SecondsFormatter formats a duration given in seconds
func SecondsFormatter(s float64) string {
	if s < 1 {
		return fmt.Sprintf("%.0f ms", s*1000)
	}
	return fmt.Sprintf("%.2f s", s)
}

// ParseDecibel reads "-6 dB", "-6" or "-inf"
func ParseDecibel(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "dB"))
	if strings.Contains(s, "inf") {
		return -96, nil
	}
	return strconv.ParseFloat(s, 64)
}

// DBToGain converts decibels to a linear factor
func DBToGain(db float64) float64 {
	if db <= -60 {
		return 0
	}
	return math.Pow(10, db/20)
}
