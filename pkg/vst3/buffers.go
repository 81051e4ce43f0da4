package vst3

// AudioBusBuffers is the per-bus channel pointer table
type AudioBusBuffers struct {
	NumChannels      int32
	SilenceFlags     uint64
	ChannelBuffers32 [][]Sample32
}

// Channel returns a specific channel's buffer, or nil when out of range
func (b *AudioBusBuffers) Channel(index int) []Sample32 {
	if index < 0 || index >= len(b.ChannelBuffers32) {
		return nil
	}
	return b.ChannelBuffers32[index]
}

// Process context state flags
const (
	ContextPlaying          uint32 = 1 << 1
	ContextCycleActive      uint32 = 1 << 2
	ContextRecording        uint32 = 1 << 3
	ContextSystemTimeValid  uint32 = 1 << 8
	ContextProjectTimeValid uint32 = 1 << 9
	ContextTempoValid       uint32 = 1 << 10
	ContextBarPositionValid uint32 = 1 << 11
	ContextTimeSigValid     uint32 = 1 << 13
)

// ProcessContext carries transport and timing for one block
type ProcessContext struct {
	State              uint32
	SampleRate         float64
	ProjectTimeSamples int64
	SystemTime         int64
	ProjectTimeMusic   float64
	BarPositionMusic   float64
	Tempo              float64
	TimeSigNumerator   int32
	TimeSigDenominator int32
}

// IsPlaying reports whether the transport is running
func (c *ProcessContext) IsPlaying() bool {
	return c.State&ContextPlaying != 0
}

// ProcessData is everything the component sees for one block
type ProcessData struct {
	ProcessMode        int32
	SymbolicSampleSize int32
	NumSamples         int32
	NumInputs          int32
	NumOutputs         int32
	Inputs             []AudioBusBuffers
	Outputs            []AudioBusBuffers

	InputParameterChanges  IParameterChanges
	OutputParameterChanges IParameterChanges
	InputEvents            IEventList
	OutputEvents           IEventList
	ProcessContext         *ProcessContext
}

// Input returns an input bus by index
func (d *ProcessData) Input(index int) *AudioBusBuffers {
	if index < 0 || index >= int(d.NumInputs) || index >= len(d.Inputs) {
		return nil
	}
	return &d.Inputs[index]
}

// Output returns an output bus by index
func (d *ProcessData) Output(index int) *AudioBusBuffers {
	if index < 0 || index >= int(d.NumOutputs) || index >= len(d.Outputs) {
		return nil
	}
	return &d.Outputs[index]
}
