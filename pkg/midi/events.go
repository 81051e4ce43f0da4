// Package midi converts between wire MIDI messages and host events.
package midi

import (
	"math"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Controller numbers used by the host
const (
	CCModWheel     uint8 = 1
	CCVolume       uint8 = 7
	CCPan          uint8 = 10
	CCExpression   uint8 = 11
	CCSustain      uint8 = 64
	CCAllSoundOff  uint8 = 120
	CCResetAll     uint8 = 121
	CCLocalControl uint8 = 122
	CCAllNotesOff  uint8 = 123
)

// Channels is the number of MIDI channels
const Channels = 16

// NoteOn builds a note-on event from 7-bit MIDI values.
func NoteOn(channel, key, velocity uint8, offset int32) vst3.Event {
	return vst3.NewNoteOn(int16(channel&0x0F), int16(key&0x7F), float32(velocity&0x7F)/127.0, offset)
}

// NoteOff builds a note-off event from 7-bit MIDI values.
func NoteOff(channel, key, velocity uint8, offset int32) vst3.Event {
	return vst3.NewNoteOff(int16(channel&0x0F), int16(key&0x7F), float32(velocity&0x7F)/127.0, offset)
}

// FromMessage converts a wire message. Note on/off become note events; a
// note-on with velocity zero is a note-off. Everything else is carried as a
// raw data event. Empty messages are rejected.
func FromMessage(msg gomidi.Message, offset int32) (vst3.Event, bool) {
	if len(msg) == 0 {
		return vst3.Event{}, false
	}

	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return NoteOn(ch, key, vel, offset), true
	case msg.GetNoteOff(&ch, &key, &vel):
		return NoteOff(ch, key, vel, offset), true
	case msg.GetNoteEnd(&ch, &key):
		return NoteOff(ch, key, 0, offset), true
	case msg.GetPolyAfterTouch(&ch, &key, &vel):
		return vst3.Event{
			SampleOffset: offset,
			Flags:        vst3.EventIsLive,
			Type:         vst3.EventTypePolyPressure,
			PolyPressure: vst3.PolyPressureEvent{
				Channel:  int16(ch),
				Pitch:    int16(key),
				Pressure: float32(vel) / 127.0,
				NoteID:   -1,
			},
		}, true
	}
	return vst3.NewData(msg.Bytes(), offset), true
}

// FromBytes converts three raw status/data bytes, the form used by the
// isolation protocol.
func FromBytes(status, data1, data2 uint8, offset int32) (vst3.Event, bool) {
	return FromMessage(gomidi.Message([]byte{status, data1, data2}), offset)
}

// ToMessage converts an event back to a wire message.
func ToMessage(e vst3.Event) (gomidi.Message, bool) {
	switch e.Type {
	case vst3.EventTypeNoteOn:
		return gomidi.NoteOn(uint8(e.NoteOn.Channel), uint8(e.NoteOn.Pitch), to7bit(e.NoteOn.Velocity)), true
	case vst3.EventTypeNoteOff:
		return gomidi.NoteOffVelocity(uint8(e.NoteOff.Channel), uint8(e.NoteOff.Pitch), to7bit(e.NoteOff.Velocity)), true
	case vst3.EventTypePolyPressure:
		return gomidi.PolyAfterTouch(uint8(e.PolyPressure.Channel), uint8(e.PolyPressure.Pitch), to7bit(e.PolyPressure.Pressure)), true
	case vst3.EventTypeData:
		if len(e.Data.Bytes) == 0 {
			return nil, false
		}
		return gomidi.Message(e.Data.Bytes), true
	}
	return nil, false
}

func to7bit(v float32) uint8 {
	n := math.Round(float64(v) * 127)
	if n < 0 {
		return 0
	}
	if n > 127 {
		return 127
	}
	return uint8(n)
}

// PanicMessages returns all-notes-off, all-sound-off and reset-controllers
// for every channel.
func PanicMessages() []gomidi.Message {
	msgs := make([]gomidi.Message, 0, Channels*3)
	for ch := uint8(0); ch < Channels; ch++ {
		msgs = append(msgs,
			gomidi.ControlChange(ch, CCAllNotesOff, 0),
			gomidi.ControlChange(ch, CCAllSoundOff, 0),
			gomidi.ControlChange(ch, CCResetAll, 0),
		)
	}
	return msgs
}

// PanicEvents is PanicMessages converted to events at offset zero.
func PanicEvents() []vst3.Event {
	msgs := PanicMessages()
	events := make([]vst3.Event, 0, len(msgs))
	for _, m := range msgs {
		if e, ok := FromMessage(m, 0); ok {
			events = append(events, e)
		}
	}
	return events
}
