package builtin

import (
	"math"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Synth parameter ids
const (
	SynthGain vst3.ParamID = iota
	SynthAttack
	SynthRelease
)

const synthVoices = 16

type synth struct {
	gain    *Parameter
	attack  *Parameter
	release *Parameter

	sampleRate  float64
	voices      *voiceAllocator
	lastAttack  float64
	lastRelease float64
}

// NewSynth creates the sine synthesizer: no audio input, one stereo output,
// one event input and an editor.
func NewSynth() *Component {
	s := &synth{
		gain: NewParam(SynthGain, "Gain").
			Range(-60, 6).Default(-6).Unit("dB").
			Formatter(DecibelFormatter).Build(),
		attack: NewParam(SynthAttack, "Attack").
			Range(0.001, 2).Default(0.005).Unit("s").
			Formatter(SecondsFormatter).Build(),
		release: NewParam(SynthRelease, "Release").
			Range(0.001, 5).Default(0.3).Unit("s").
			Formatter(SecondsFormatter).Build(),
	}
	s.Setup(44100, 512)

	c := &Component{
		info:      classInfo("synth", vst3.SubCategoryInstrument+"|Synth"),
		params:    NewRegistry(),
		kernel:    s,
		audioOut:  []vst3.BusInfo{audioBus("Output", vst3.BusDirectionOutput, 2)},
		eventIn:   []vst3.BusInfo{eventBus("MIDI In")},
		editor:    true,
		editorDim: vst3.ViewRect{Right: 400, Bottom: 300},
	}
	c.params.Add(s.gain, s.attack, s.release)
	return c
}

func (s *synth) Setup(sampleRate float64, maxBlockSize int) {
	if s.voices != nil && sampleRate == s.sampleRate {
		return
	}
	s.sampleRate = sampleRate
	s.voices = newVoiceAllocator(synthVoices, sampleRate)
	s.lastAttack, s.lastRelease = math.NaN(), math.NaN()
}

func (s *synth) Reset() {
	s.voices.reset()
}

func (s *synth) Process(data *vst3.ProcessData) vst3.Result {
	if a, r := s.attack.Plain(), s.release.Plain(); a != s.lastAttack || r != s.lastRelease {
		s.voices.setEnvelope(a, r)
		s.lastAttack, s.lastRelease = a, r
	}
	gain := DBToGain(s.gain.Plain())

	out := data.Output(0)
	var left []float32
	n := int(data.NumSamples)
	if out != nil && out.NumChannels > 0 {
		left = out.Channel(0)
		n = min(n, len(left))
		left = left[:n]
		clear(left)
	}

	pos := 0
	if ev := data.InputEvents; ev != nil {
		count := ev.GetEventCount()
		for i := int32(0); i < count; i++ {
			var e vst3.Event
			if ev.GetEvent(i, &e) != vst3.ResultOK {
				continue
			}
			off := max(pos, min(int(e.SampleOffset), n))
			s.render(left, pos, off, gain)
			pos = off
			s.handle(&e)
		}
	}
	s.render(left, pos, n, gain)

	if out == nil {
		return vst3.ResultOK
	}
	for c := 1; c < int(out.NumChannels); c++ {
		if ch := out.Channel(c); len(ch) >= n {
			copy(ch[:n], left)
		}
	}
	out.SilenceFlags = 0
	if s.voices.activeCount() == 0 {
		out.SilenceFlags = 1<<uint(out.NumChannels) - 1
	}
	return vst3.ResultOK
}

func (s *synth) render(out []float32, from, to int, gain float64) {
	if to <= from || out == nil {
		return
	}
	seg := out[from:to]
	for _, v := range s.voices.voices {
		if v.active() {
			v.render(seg, gain)
		}
	}
}

func (s *synth) handle(e *vst3.Event) {
	switch e.Type {
	case vst3.EventTypeNoteOn:
		on := e.NoteOn
		if on.Velocity <= 0 {
			s.voices.noteOff(on.Channel, on.Pitch, on.NoteID)
			return
		}
		s.voices.noteOn(on.Channel, on.Pitch, on.NoteID, float64(on.Velocity), float64(on.Tuning), s.sampleRate)
	case vst3.EventTypeNoteOff:
		off := e.NoteOff
		s.voices.noteOff(off.Channel, off.Pitch, off.NoteID)
	case vst3.EventTypeData:
		b := e.Data.Bytes
		if len(b) < 3 || b[0]&0xF0 != 0xB0 {
			return
		}
		switch b[1] {
		case 120: // all sound off
			s.voices.reset()
		case 123: // all notes off
			s.voices.releaseAll()
		}
	}
}
