package builtin

import (
	"math"

	"github.com/justyntemme/vst3host/pkg/midi"
)

// stage of an envelope
type stage int

const (
	stageIdle stage = iota
	stageAttack
	stageDecay
	stageSustain
	stageRelease
)

// adsr is an exponential attack/decay/sustain/release envelope
type adsr struct {
	sampleRate float64
	sustain    float64

	attackCoef  float64
	decayCoef   float64
	releaseCoef float64

	stage  stage
	value  float64
	target float64
}

func newADSR(sampleRate float64) *adsr {
	e := &adsr{sampleRate: sampleRate}
	e.set(0.005, 0.1, 0.8, 0.3)
	return e
}

// set takes times in seconds and sustain as 0..1
func (e *adsr) set(attack, decay, sustain, release float64) {
	e.attackCoef = coef(math.Max(0.001, attack), e.sampleRate)
	e.decayCoef = coef(math.Max(0.001, decay), e.sampleRate)
	e.releaseCoef = coef(math.Max(0.001, release), e.sampleRate)
	e.sustain = math.Max(0, math.Min(1, sustain))
}

func coef(seconds, sampleRate float64) float64 {
	return math.Exp(-1 / (seconds * sampleRate))
}

func (e *adsr) trigger() {
	e.stage = stageAttack
	e.target = 1
}

func (e *adsr) release() {
	if e.stage != stageIdle {
		e.stage = stageRelease
		e.target = 0
	}
}

func (e *adsr) reset() {
	e.stage = stageIdle
	e.value = 0
	e.target = 0
}

func (e *adsr) next() float64 {
	switch e.stage {
	case stageAttack:
		// Overshoot the target so the curve reaches 1 in finite time.
		e.value = 1.2 + (e.value-1.2)*e.attackCoef
		if e.value >= 1 {
			e.value = 1
			e.stage = stageDecay
			e.target = e.sustain
		}
	case stageDecay:
		e.value = e.target + (e.value-e.target)*e.decayCoef
		if e.value <= e.sustain+0.001 {
			e.value = e.sustain
			e.stage = stageSustain
		}
	case stageSustain:
		e.value = e.sustain
	case stageRelease:
		e.value = e.value * e.releaseCoef
		if e.value <= 0.0001 {
			e.value = 0
			e.stage = stageIdle
		}
	default:
		e.value = 0
	}
	return e.value
}

// sineVoice is one oscillator with its envelope
type sineVoice struct {
	env   *adsr
	phase float64
	inc   float64

	note     int16
	channel  int16
	noteID   int32
	velocity float64
	age      uint64
}

func newSineVoice(sampleRate float64) *sineVoice {
	return &sineVoice{env: newADSR(sampleRate), note: -1}
}

func (v *sineVoice) active() bool {
	return v.env.stage != stageIdle
}

func (v *sineVoice) start(channel, note int16, noteID int32, velocity float64, tuning float64, sampleRate float64, age uint64) {
	v.channel = channel
	v.note = note
	v.noteID = noteID
	v.velocity = velocity
	v.age = age
	v.phase = 0
	v.inc = midi.NoteToFrequency(float64(note)+tuning/100, 440) / sampleRate
	v.env.reset()
	v.env.trigger()
}

func (v *sineVoice) stop() {
	v.env.release()
}

func (v *sineVoice) kill() {
	v.env.reset()
	v.note = -1
}

// render adds n samples into out, scaled by gain
func (v *sineVoice) render(out []float32, gain float64) {
	for i := range out {
		if v.env.stage == stageIdle {
			v.note = -1
			return
		}
		s := math.Sin(2 * math.Pi * v.phase)
		v.phase += v.inc
		if v.phase >= 1 {
			v.phase -= math.Floor(v.phase)
		}
		out[i] += float32(s * v.env.next() * v.velocity * gain)
	}
}

// voiceAllocator hands out voices polyphonically and steals the oldest
// when every voice is busy.
type voiceAllocator struct {
	voices []*sineVoice
	clock  uint64
}

func newVoiceAllocator(count int, sampleRate float64) *voiceAllocator {
	a := &voiceAllocator{voices: make([]*sineVoice, count)}
	for i := range a.voices {
		a.voices[i] = newSineVoice(sampleRate)
	}
	return a
}

func (a *voiceAllocator) noteOn(channel, note int16, noteID int32, velocity, tuning, sampleRate float64) *sineVoice {
	a.clock++
	v := a.free()
	v.start(channel, note, noteID, velocity, tuning, sampleRate, a.clock)
	return v
}

func (a *voiceAllocator) free() *sineVoice {
	var oldest *sineVoice
	for _, v := range a.voices {
		if !v.active() {
			return v
		}
		if oldest == nil || v.age < oldest.age {
			oldest = v
		}
	}
	return oldest
}

// noteOff releases every voice playing the note. A note id other than -1
// matches by id instead.
func (a *voiceAllocator) noteOff(channel, note int16, noteID int32) {
	for _, v := range a.voices {
		if !v.active() || v.env.stage == stageRelease {
			continue
		}
		if noteID != -1 && v.noteID == noteID {
			v.stop()
			continue
		}
		if noteID == -1 && v.note == note && v.channel == channel {
			v.stop()
		}
	}
}

func (a *voiceAllocator) releaseAll() {
	for _, v := range a.voices {
		v.stop()
	}
}

func (a *voiceAllocator) reset() {
	for _, v := range a.voices {
		v.kill()
	}
}

func (a *voiceAllocator) activeCount() int {
	n := 0
	for _, v := range a.voices {
		if v.active() {
			n++
		}
	}
	return n
}

func (a *voiceAllocator) setEnvelope(attack, release float64) {
	for _, v := range a.voices {
		v.env.set(attack, 0.2, 0.8, release)
	}
}
