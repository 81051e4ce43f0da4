package arena

import (
	"math"
	"sync/atomic"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Transport is the running musical clock. The bridge owns one and hands it
// to every arena it builds; the audio thread advances it once per block.
type Transport struct {
	sampleRate atomic.Uint64
	tempo      atomic.Uint64
	playing    atomic.Bool
	position   atomic.Int64

	// Time signature is fixed while processing is active.
	TimeSigNumerator   int32
	TimeSigDenominator int32
}

// NewTransport creates a playing transport at 120 BPM in 4/4.
func NewTransport(sampleRate float64) *Transport {
	t := &Transport{TimeSigNumerator: 4, TimeSigDenominator: 4}
	t.SetSampleRate(sampleRate)
	t.SetTempo(120)
	t.playing.Store(true)
	return t
}

// SetSampleRate changes the rate used to convert samples to musical time.
func (t *Transport) SetSampleRate(sr float64) {
	t.sampleRate.Store(math.Float64bits(sr))
}

// SampleRate returns the current rate
func (t *Transport) SampleRate() float64 {
	return math.Float64frombits(t.sampleRate.Load())
}

// SetTempo sets beats per minute
func (t *Transport) SetTempo(bpm float64) {
	t.tempo.Store(math.Float64bits(bpm))
}

// Tempo returns beats per minute
func (t *Transport) Tempo() float64 {
	return math.Float64frombits(t.tempo.Load())
}

// SetPlaying starts or stops the transport
func (t *Transport) SetPlaying(playing bool) {
	t.playing.Store(playing)
}

// Playing reports whether the transport runs
func (t *Transport) Playing() bool {
	return t.playing.Load()
}

// Position returns the sample position of the next block.
func (t *Transport) Position() int64 {
	return t.position.Load()
}

// Advance moves the clock forward by n samples and returns the position
// the block started at. Position only moves while playing.
func (t *Transport) Advance(n int) int64 {
	if !t.playing.Load() {
		return t.position.Load()
	}
	return t.position.Add(int64(n)) - int64(n)
}

// Reset rewinds to sample zero
func (t *Transport) Reset() {
	t.position.Store(0)
}

// Fill writes the transport state for a block starting at pos into ctx.
func (t *Transport) Fill(ctx *vst3.ProcessContext, pos int64) {
	sr := t.SampleRate()
	tempo := t.Tempo()

	ctx.SampleRate = sr
	ctx.Tempo = tempo
	ctx.ProjectTimeSamples = pos
	ctx.TimeSigNumerator = t.TimeSigNumerator
	ctx.TimeSigDenominator = t.TimeSigDenominator
	ctx.State = vst3.ContextProjectTimeValid | vst3.ContextTempoValid |
		vst3.ContextTimeSigValid | vst3.ContextBarPositionValid
	if t.playing.Load() {
		ctx.State |= vst3.ContextPlaying
	}

	ctx.ProjectTimeMusic = 0
	ctx.BarPositionMusic = 0
	if sr > 0 {
		ppq := float64(pos) / sr * tempo / 60.0
		ctx.ProjectTimeMusic = ppq
		if t.TimeSigDenominator > 0 {
			barLen := float64(t.TimeSigNumerator) * 4.0 / float64(t.TimeSigDenominator)
			if barLen > 0 {
				ctx.BarPositionMusic = math.Floor(ppq/barLen) * barLen
			}
		}
	}
}
