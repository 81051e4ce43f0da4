package vst3

import "fmt"

// EventType tags the payload carried by an Event
type EventType uint16

// Event types
const (
	EventTypeNoteOn              EventType = 0
	EventTypeNoteOff             EventType = 1
	EventTypeData                EventType = 2
	EventTypePolyPressure        EventType = 3
	EventTypeNoteExpressionValue EventType = 4
	EventTypeNoteExpressionText  EventType = 5
	EventTypeChord               EventType = 6
	EventTypeScale               EventType = 7
	EventTypeLegacyMIDICCOut     EventType = 65535
)

// Event flags
const (
	EventIsLive uint16 = 1 << 0
)

// DataEvent types
const (
	DataTypeMidiSysEx uint32 = 0
)

// NoteOnEvent payload
type NoteOnEvent struct {
	Channel  int16
	Pitch    int16
	Tuning   float32
	Velocity float32
	Length   int32
	NoteID   int32
}

// NoteOffEvent payload
type NoteOffEvent struct {
	Channel  int16
	Pitch    int16
	Velocity float32
	NoteID   int32
	Tuning   float32
}

// DataEvent carries a raw byte span
type DataEvent struct {
	Type  uint32
	Bytes []byte
}

// PolyPressureEvent payload
type PolyPressureEvent struct {
	Channel  int16
	Pitch    int16
	Pressure float32
	NoteID   int32
}

// Event is one timestamped entry in an event list. Only the payload matching
// Type is meaningful.
type Event struct {
	BusIndex     int32
	SampleOffset int32
	PPQPosition  float64
	Flags        uint16
	Type         EventType

	NoteOn       NoteOnEvent
	NoteOff      NoteOffEvent
	Data         DataEvent
	PolyPressure PolyPressureEvent
}

// NewNoteOn builds a note-on event. Velocity is normalized to 0..1.
func NewNoteOn(channel, pitch int16, velocity float32, offset int32) Event {
	return Event{
		SampleOffset: offset,
		Flags:        EventIsLive,
		Type:         EventTypeNoteOn,
		NoteOn: NoteOnEvent{
			Channel:  channel,
			Pitch:    pitch,
			Velocity: velocity,
			NoteID:   -1,
		},
	}
}

// NewNoteOff builds a note-off event
func NewNoteOff(channel, pitch int16, velocity float32, offset int32) Event {
	return Event{
		SampleOffset: offset,
		Flags:        EventIsLive,
		Type:         EventTypeNoteOff,
		NoteOff: NoteOffEvent{
			Channel:  channel,
			Pitch:    pitch,
			Velocity: velocity,
			NoteID:   -1,
		},
	}
}

// NewData builds a raw data event. The bytes are copied.
func NewData(data []byte, offset int32) Event {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Event{
		SampleOffset: offset,
		Flags:        EventIsLive,
		Type:         EventTypeData,
		Data:         DataEvent{Type: DataTypeMidiSysEx, Bytes: buf},
	}
}

// Channel returns the MIDI channel of note events, or -1
func (e *Event) Channel() int16 {
	switch e.Type {
	case EventTypeNoteOn:
		return e.NoteOn.Channel
	case EventTypeNoteOff:
		return e.NoteOff.Channel
	case EventTypePolyPressure:
		return e.PolyPressure.Channel
	default:
		return -1
	}
}

func (t EventType) String() string {
	switch t {
	case EventTypeNoteOn:
		return "NoteOn"
	case EventTypeNoteOff:
		return "NoteOff"
	case EventTypeData:
		return "Data"
	case EventTypePolyPressure:
		return "PolyPressure"
	case EventTypeNoteExpressionValue:
		return "NoteExpressionValue"
	case EventTypeNoteExpressionText:
		return "NoteExpressionText"
	case EventTypeChord:
		return "Chord"
	case EventTypeScale:
		return "Scale"
	case EventTypeLegacyMIDICCOut:
		return "LegacyMIDICCOut"
	default:
		return fmt.Sprintf("EventType(%d)", uint16(t))
	}
}

func (e Event) String() string {
	switch e.Type {
	case EventTypeNoteOn:
		return fmt.Sprintf("NoteOn ch=%d pitch=%d vel=%.3f @%d", e.NoteOn.Channel, e.NoteOn.Pitch, e.NoteOn.Velocity, e.SampleOffset)
	case EventTypeNoteOff:
		return fmt.Sprintf("NoteOff ch=%d pitch=%d vel=%.3f @%d", e.NoteOff.Channel, e.NoteOff.Pitch, e.NoteOff.Velocity, e.SampleOffset)
	case EventTypeData:
		return fmt.Sprintf("Data % X @%d", e.Data.Bytes, e.SampleOffset)
	default:
		return fmt.Sprintf("%s @%d", e.Type, e.SampleOffset)
	}
}
