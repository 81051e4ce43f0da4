package bridge

import (
	"math"
	"sync"
)

// Meter defaults
const (
	DefaultHoldTime  = 3.0  // seconds
	DefaultDecayRate = 20.0 // dB per second
	meterFloor       = 1e-5 // -100 dB, shown as silence
)

// ChannelLevel is a snapshot of one channel's meter. Clipped latches when
// a sample exceeds full scale and stays set until ResetHold.
type ChannelLevel struct {
	Peak    float64
	Hold    float64
	RMS     float64
	Clipped bool
}

// PeakDB returns the peak in decibels
func (c ChannelLevel) PeakDB() float64 {
	return toDB(c.Peak)
}

// HoldDB returns the held peak in decibels
func (c ChannelLevel) HoldDB() float64 {
	return toDB(c.Hold)
}

func toDB(v float64) float64 {
	if v > 0 {
		return 20.0 * math.Log10(v)
	}
	return math.Inf(-1)
}

type channelMeter struct {
	peak      float64
	hold      float64
	rms       float64
	holdCount int
	clipped   bool
}

// Meter tracks peak, held peak and RMS per channel of the bridge output.
// The peak decays exponentially; the hold stays for holdTime and then
// follows the peak.
type Meter struct {
	mu         sync.Mutex
	sampleRate float64
	holdTime   float64
	decayRate  float64
	channels   []channelMeter
}

// NewMeter creates a meter for the given channel count
func NewMeter(channels int, sampleRate float64) *Meter {
	return &Meter{
		sampleRate: sampleRate,
		holdTime:   DefaultHoldTime,
		decayRate:  DefaultDecayRate,
		channels:   make([]channelMeter, max(channels, 0)),
	}
}

// SetHoldTime sets the peak hold time in seconds
func (m *Meter) SetHoldTime(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdTime = seconds
}

// SetDecayRate sets the peak decay rate in dB/second
func (m *Meter) SetDecayRate(dbPerSecond float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decayRate = dbPerSecond
}

// SetSampleRate changes the rate used for decay and hold timing
func (m *Meter) SetSampleRate(sr float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleRate = sr
}

// TryUpdate feeds one interleaved block. It gives up without waiting when a
// reader holds the meter, so the audio thread can call it.
func (m *Meter) TryUpdate(interleaved []float32, channels int) bool {
	if channels <= 0 || !m.mu.TryLock() {
		return false
	}
	defer m.mu.Unlock()
	m.update(interleaved, channels)
	return true
}

// Update feeds one interleaved block, waiting for the lock.
func (m *Meter) Update(interleaved []float32, channels int) {
	if channels <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update(interleaved, channels)
}

func (m *Meter) update(interleaved []float32, channels int) {
	frames := len(interleaved) / channels
	if frames == 0 || m.sampleRate <= 0 {
		return
	}
	decay := math.Exp(-m.decayRate / 20.0 * math.Ln10 * float64(frames) / m.sampleRate)
	holdSamples := int(m.holdTime * m.sampleRate)

	for c := range m.channels {
		if c >= channels {
			break
		}
		blockPeak := 0.0
		sum := 0.0
		for i := 0; i < frames; i++ {
			s := float64(interleaved[i*channels+c])
			sum += s * s
			if a := math.Abs(s); a > blockPeak {
				blockPeak = a
			}
		}

		cm := &m.channels[c]
		if blockPeak > 1 {
			cm.clipped = true
		}
		cm.rms = math.Sqrt(sum / float64(frames))
		cm.peak *= decay
		if blockPeak > cm.peak {
			cm.peak = blockPeak
		}
		if cm.peak < meterFloor {
			cm.peak = 0
		}

		if blockPeak > cm.hold {
			cm.hold = blockPeak
			cm.holdCount = holdSamples
		} else {
			cm.holdCount -= frames
			if cm.holdCount <= 0 {
				cm.hold = cm.peak
				cm.holdCount = 0
			}
		}
	}
}

// Levels returns a snapshot of every channel
func (m *Meter) Levels() []ChannelLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChannelLevel, len(m.channels))
	for i, c := range m.channels {
		out[i] = ChannelLevel{Peak: c.peak, Hold: c.hold, RMS: c.rms, Clipped: c.clipped}
	}
	return out
}

// Clipping reports whether any channel went past full scale since the last
// ResetHold.
func (m *Meter) Clipping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if c.clipped {
			return true
		}
	}
	return false
}

// ResetHold drops every held peak to the current peak and clears the clip
// indicators.
func (m *Meter) ResetHold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.channels {
		c := &m.channels[i]
		c.hold = c.peak
		c.holdCount = 0
		c.clipped = false
	}
}

// Reset clears every channel
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.channels)
}
