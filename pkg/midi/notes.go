package midi

import (
	"fmt"
	"math"
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName returns the name of a MIDI note using the C3 = 60 convention.
func NoteName(note uint8) string {
	note &= 0x7F
	octave := int(note/12) - 2
	return fmt.Sprintf("%s%d", noteNames[note%12], octave)
}

// NoteToFrequency converts a MIDI note to Hz. A zero tuning means 440 Hz.
func NoteToFrequency(note float64, tuningA4 float64) float64 {
	if tuningA4 == 0 {
		tuningA4 = 440.0
	}
	return tuningA4 * math.Exp2((note-69.0)/12.0)
}

// FrequencyToNote returns the nearest MIDI note for a frequency.
func FrequencyToNote(freq, tuningA4 float64) uint8 {
	if tuningA4 == 0 {
		tuningA4 = 440.0
	}
	if freq <= 0 {
		return 0
	}
	note := 69.0 + 12.0*math.Log2(freq/tuningA4)
	if note < 0 {
		return 0
	}
	if note > 127 {
		return 127
	}
	return uint8(note + 0.5)
}
