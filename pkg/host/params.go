package host

import (
	"fmt"
	"math"
	"strings"

	"github.com/justyntemme/vst3host/pkg/isolation"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Parameter is a snapshot of one component parameter. Value and Default are
// normalized to 0..1; Min and Max are the plain range.
type Parameter struct {
	ID        vst3.ParamID
	Name      string
	ShortName string
	Unit      string
	Value     float64
	Default   float64
	Min       float64
	Max       float64
	StepCount int32
	Flags     int32
}

// CanAutomate reports whether the parameter accepts automation
func (p Parameter) CanAutomate() bool { return p.Flags&vst3.ParameterCanAutomate != 0 }

// IsReadOnly reports whether the host may not change the parameter
func (p Parameter) IsReadOnly() bool { return p.Flags&vst3.ParameterIsReadOnly != 0 }

// IsBypass reports whether the parameter is the component's bypass switch
func (p Parameter) IsBypass() bool { return p.Flags&vst3.ParameterIsBypass != 0 }

// IsHidden reports whether the parameter should not be shown
func (p Parameter) IsHidden() bool { return p.Flags&vst3.ParameterIsHidden != 0 }

// IsDiscrete reports whether the parameter has a fixed number of steps
func (p Parameter) IsDiscrete() bool { return p.StepCount > 0 }

// IsBoolean reports whether the parameter is an on/off switch
func (p Parameter) IsBoolean() bool { return p.StepCount == 1 }

// ToPlain converts a normalized value to the plain range. Discrete values
// snap to the nearest step.
func (p Parameter) ToPlain(normalized float64) float64 {
	n := clamp01(normalized)
	if p.StepCount > 0 {
		n = math.Round(n*float64(p.StepCount)) / float64(p.StepCount)
	}
	return p.Min + n*(p.Max-p.Min)
}

// ToNormalized converts a plain value to 0..1
func (p Parameter) ToNormalized(plain float64) float64 {
	if p.Max == p.Min {
		return 0
	}
	n := clamp01((plain - p.Min) / (p.Max - p.Min))
	if p.StepCount > 0 {
		n = math.Round(n*float64(p.StepCount)) / float64(p.StepCount)
	}
	return n
}

// Plain returns the current value in the plain range
func (p Parameter) Plain() float64 {
	return p.ToPlain(p.Value)
}

// String renders the current value without asking the component
func (p Parameter) String() string {
	return formatPlain(p, p.Value)
}

func formatPlain(p Parameter, normalized float64) string {
	plain := p.ToPlain(normalized)
	var s string
	switch {
	case p.IsBoolean():
		if plain >= (p.Min+p.Max)/2 {
			return "On"
		}
		return "Off"
	case p.IsDiscrete():
		s = fmt.Sprintf("%.0f", plain)
	default:
		s = fmt.Sprintf("%.2f", plain)
	}
	if p.Unit != "" {
		s += " " + p.Unit
	}
	return s
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// readParameters asks a controller for every parameter it exposes.
func readParameters(ctrl vst3.IEditController) []Parameter {
	n := ctrl.GetParameterCount()
	params := make([]Parameter, 0, n)
	for i := int32(0); i < n; i++ {
		var pi vst3.ParameterInfo
		if ctrl.GetParameterInfo(i, &pi) != vst3.ResultOK {
			continue
		}
		params = append(params, Parameter{
			ID:        pi.ID,
			Name:      pi.Title,
			ShortName: pi.ShortTitle,
			Unit:      pi.Units,
			Value:     ctrl.GetParamNormalized(pi.ID),
			Default:   pi.DefaultValue,
			Min:       ctrl.NormalizedParamToPlain(pi.ID, 0),
			Max:       ctrl.NormalizedParamToPlain(pi.ID, 1),
			StepCount: pi.StepCount,
			Flags:     pi.Flags,
		})
	}
	return params
}

// fromRemote converts the parameter list a helper reports.
func fromRemote(infos []isolation.ParamInfo) []Parameter {
	params := make([]Parameter, 0, len(infos))
	for _, pi := range infos {
		params = append(params, Parameter{
			ID:        pi.ID,
			Name:      pi.Title,
			Unit:      pi.Units,
			Value:     pi.Default,
			Default:   pi.Default,
			Min:       pi.Min,
			Max:       pi.Max,
			StepCount: pi.StepCount,
			Flags:     pi.Flags,
		})
	}
	return params
}

// toRemote is the inverse of fromRemote, used by the helper.
func toRemote(params []Parameter) []isolation.ParamInfo {
	infos := make([]isolation.ParamInfo, 0, len(params))
	for _, p := range params {
		infos = append(infos, isolation.ParamInfo{
			ID:        p.ID,
			Title:     p.Name,
			Units:     p.Unit,
			StepCount: p.StepCount,
			Default:   p.Default,
			Flags:     p.Flags,
			Min:       p.Min,
			Max:       p.Max,
		})
	}
	return infos
}

// findByName matches a name or short name, ignoring case
func findByName(params []Parameter, name string) (Parameter, bool) {
	for _, p := range params {
		if strings.EqualFold(p.Name, name) || (p.ShortName != "" && strings.EqualFold(p.ShortName, name)) {
			return p, true
		}
	}
	return Parameter{}, false
}
