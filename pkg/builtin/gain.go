package builtin

import (
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Gain parameter ids
const (
	GainLevel vst3.ParamID = iota
	GainBypass
)

type gain struct {
	level  *Parameter
	bypass *Parameter
}

// NewGain creates a stereo effect scaling its input.
func NewGain() *Component {
	g := &gain{
		level: NewParam(GainLevel, "Gain").
			Range(-60, 12).Default(0).Unit("dB").
			Formatter(DecibelFormatter).Build(),
		bypass: NewParam(GainBypass, "Bypass").Toggle().Build(),
	}
	g.bypass.Flags |= vst3.ParameterIsBypass

	c := &Component{
		info:     classInfo("gain", vst3.SubCategoryFx),
		params:   NewRegistry(),
		kernel:   g,
		audioIn:  []vst3.BusInfo{audioBus("Input", vst3.BusDirectionInput, 2)},
		audioOut: []vst3.BusInfo{audioBus("Output", vst3.BusDirectionOutput, 2)},
	}
	c.params.Add(g.level, g.bypass)
	return c
}

func (g *gain) Setup(sampleRate float64, maxBlockSize int) {}

func (g *gain) Reset() {}

func (g *gain) Process(data *vst3.ProcessData) vst3.Result {
	out := data.Output(0)
	if out == nil {
		return vst3.ResultOK
	}
	in := data.Input(0)
	n := int(data.NumSamples)

	factor := float32(DBToGain(g.level.Plain()))
	if g.bypass.Value() >= 0.5 {
		factor = 1
	}
	for c := 0; c < int(out.NumChannels); c++ {
		dst := out.Channel(c)
		m := min(n, len(dst))
		var src []float32
		if in != nil {
			src = in.Channel(c)
		}
		if len(src) < m {
			clear(dst[:m])
			continue
		}
		for i := 0; i < m; i++ {
			dst[i] = src[i] * factor
		}
	}
	return vst3.ResultOK
}
