package builtin

import (
	"time"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Faulty parameter ids
const (
	FaultyCrash vst3.ParamID = iota
	FaultyStall
	FaultyFail
)

// FaultyLevel is the constant the faulty component writes while healthy
const FaultyLevel = 0.25

type faulty struct {
	crash *Parameter
	stall *Parameter
	fail  *Parameter
}

// NewFaulty creates a component that misbehaves on request: Crash panics
// inside Process, Stall sleeps for the given time in every block and Fail
// returns an error result. Otherwise it writes FaultyLevel to its stereo
// output.
func NewFaulty() *Component {
	f := &faulty{
		crash: NewParam(FaultyCrash, "Crash").Toggle().Build(),
		stall: NewParam(FaultyStall, "Stall").
			Range(0, 2).Default(0).Unit("s").
			Formatter(SecondsFormatter).Build(),
		fail: NewParam(FaultyFail, "Fail").Toggle().Build(),
	}
	c := &Component{
		info:     classInfo("faulty", vst3.SubCategoryFx+"|Tools"),
		params:   NewRegistry(),
		kernel:   f,
		audioOut: []vst3.BusInfo{audioBus("Output", vst3.BusDirectionOutput, 2)},
	}
	c.params.Add(f.crash, f.stall, f.fail)
	return c
}

func (f *faulty) Setup(sampleRate float64, maxBlockSize int) {}

func (f *faulty) Reset() {}

func (f *faulty) Process(data *vst3.ProcessData) vst3.Result {
	if f.crash.Value() >= 0.5 {
		panic("faulty: crash requested")
	}
	if d := f.stall.Plain(); d > 0 {
		time.Sleep(time.Duration(d * float64(time.Second)))
	}
	if f.fail.Value() >= 0.5 {
		return vst3.ResultInternalError
	}

	out := data.Output(0)
	if out == nil {
		return vst3.ResultOK
	}
	n := int(data.NumSamples)
	for c := 0; c < int(out.NumChannels); c++ {
		ch := out.Channel(c)
		for i := 0; i < n && i < len(ch); i++ {
			ch[i] = FaultyLevel
		}
	}
	return vst3.ResultOK
}
