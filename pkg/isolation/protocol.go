// Package isolation runs a component in a child process and talks to it over
// a line-delimited JSON protocol on the child's stdin and stdout.
//
// Every request line gets exactly one response line. Messages are externally
// tagged: a command without fields is a bare string ("Shutdown"), a command
// with fields is an object with a single key naming it
// ({"LoadPlugin":{"path":"/x.vst3"}}). Responses use the same encoding.
package isolation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/justyntemme/vst3host/pkg/hosterr"
)

// CommandKind names a request
type CommandKind string

// Requests
const (
	CmdLoadPlugin   CommandKind = "LoadPlugin"
	CmdUnloadPlugin CommandKind = "UnloadPlugin"
	CmdCreateGui    CommandKind = "CreateGui"
	CmdCloseGui     CommandKind = "CloseGui"
	CmdProcess      CommandKind = "Process"
	CmdShutdown     CommandKind = "Shutdown"
	CmdConfigure    CommandKind = "Configure"
	CmdSetParameter CommandKind = "SetParameter"
	CmdGetParameter CommandKind = "GetParameter"
	CmdSendMidi     CommandKind = "SendMidi"
)

// Command is one request. Only the fields of its kind are encoded.
type Command struct {
	Kind CommandKind

	Path string // LoadPlugin

	AudioData  []float32 // Process: interleaved input frames
	NumSamples int       // Process: frames to produce, needed without inputs

	SampleRate float64 // Configure
	BlockSize  int     // Configure

	ParamID uint32  // SetParameter, GetParameter
	Value   float64 // SetParameter

	Status, Data1, Data2 uint8 // SendMidi
}

type loadPluginBody struct {
	Path string `json:"path"`
}

type processBody struct {
	AudioData  []float32 `json:"audio_data"`
	NumSamples int       `json:"num_samples,omitempty"`
}

type configureBody struct {
	SampleRate float64 `json:"sample_rate"`
	BlockSize  int     `json:"block_size"`
}

type setParameterBody struct {
	ID    uint32  `json:"id"`
	Value float64 `json:"value"`
}

type getParameterBody struct {
	ID uint32 `json:"id"`
}

type sendMidiBody struct {
	Status uint8 `json:"status"`
	Data1  uint8 `json:"data1"`
	Data2  uint8 `json:"data2"`
}

// LoadPlugin asks the child to load the component at path
func LoadPlugin(path string) Command {
	return Command{Kind: CmdLoadPlugin, Path: path}
}

// Process sends one block of interleaved input and asks for frames of output
func Process(input []float32, frames int) Command {
	return Command{Kind: CmdProcess, AudioData: input, NumSamples: frames}
}

// Configure sets the processing format inside the child
func Configure(sampleRate float64, blockSize int) Command {
	return Command{Kind: CmdConfigure, SampleRate: sampleRate, BlockSize: blockSize}
}

// SetParameter sets a normalized parameter value
func SetParameter(id uint32, value float64) Command {
	return Command{Kind: CmdSetParameter, ParamID: id, Value: value}
}

// GetParameter reads a normalized parameter value
func GetParameter(id uint32) Command {
	return Command{Kind: CmdGetParameter, ParamID: id}
}

// SendMidi queues a short MIDI message for the next block
func SendMidi(status, data1, data2 uint8) Command {
	return Command{Kind: CmdSendMidi, Status: status, Data1: data1, Data2: data2}
}

// Simple returns a command without fields
func Simple(kind CommandKind) Command {
	return Command{Kind: kind}
}

// MarshalJSON implements json.Marshaler
func (c Command) MarshalJSON() ([]byte, error) {
	var body any
	switch c.Kind {
	case CmdUnloadPlugin, CmdCreateGui, CmdCloseGui, CmdShutdown:
		return json.Marshal(string(c.Kind))
	case CmdLoadPlugin:
		body = loadPluginBody{Path: c.Path}
	case CmdProcess:
		data := c.AudioData
		if data == nil {
			data = []float32{}
		}
		body = processBody{AudioData: data, NumSamples: c.NumSamples}
	case CmdConfigure:
		body = configureBody{SampleRate: c.SampleRate, BlockSize: c.BlockSize}
	case CmdSetParameter:
		body = setParameterBody{ID: c.ParamID, Value: c.Value}
	case CmdGetParameter:
		body = getParameterBody{ID: c.ParamID}
	case CmdSendMidi:
		body = sendMidiBody{Status: c.Status, Data1: c.Data1, Data2: c.Data2}
	default:
		return nil, fmt.Errorf("unknown command %q", c.Kind)
	}
	return json.Marshal(map[CommandKind]any{c.Kind: body})
}

// UnmarshalJSON implements json.Unmarshaler
func (c *Command) UnmarshalJSON(data []byte) error {
	tag, raw, err := splitTagged(data)
	if err != nil {
		return err
	}
	*c = Command{Kind: CommandKind(tag)}

	switch c.Kind {
	case CmdUnloadPlugin, CmdCreateGui, CmdCloseGui, CmdShutdown:
		return nil
	case CmdLoadPlugin:
		var b loadPluginBody
		err = decodeBody(raw, &b)
		c.Path = b.Path
	case CmdProcess:
		var b processBody
		err = decodeBody(raw, &b)
		c.AudioData, c.NumSamples = b.AudioData, b.NumSamples
	case CmdConfigure:
		var b configureBody
		err = decodeBody(raw, &b)
		c.SampleRate, c.BlockSize = b.SampleRate, b.BlockSize
	case CmdSetParameter:
		var b setParameterBody
		err = decodeBody(raw, &b)
		c.ParamID, c.Value = b.ID, b.Value
	case CmdGetParameter:
		var b getParameterBody
		err = decodeBody(raw, &b)
		c.ParamID = b.ID
	case CmdSendMidi:
		var b sendMidiBody
		err = decodeBody(raw, &b)
		c.Status, c.Data1, c.Data2 = b.Status, b.Data1, b.Data2
	default:
		return fmt.Errorf("unknown command %q", tag)
	}
	return err
}

// ResponseKind names a reply
type ResponseKind string

// Replies
const (
	RespSuccess        ResponseKind = "Success"
	RespError          ResponseKind = "Error"
	RespCrashed        ResponseKind = "Crashed"
	RespAudioOutput    ResponseKind = "AudioOutput"
	RespPluginInfo     ResponseKind = "PluginInfo"
	RespParameterValue ResponseKind = "ParameterValue"
)

// PluginInfo describes the component loaded in the child. Audio counts are
// channel counts over all buses.
type PluginInfo struct {
	Vendor       string `json:"vendor"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	HasGUI       bool   `json:"has_gui"`
	AudioInputs  int32  `json:"audio_inputs"`
	AudioOutputs int32  `json:"audio_outputs"`

	Category     string      `json:"category,omitempty"`
	HasMIDIInput bool        `json:"has_midi_input,omitempty"`
	Parameters   []ParamInfo `json:"parameters,omitempty"`
}

// ParamInfo describes one parameter of the component in the child. Default
// is normalized; Min and Max are plain values.
type ParamInfo struct {
	ID        uint32  `json:"id"`
	Title     string  `json:"title"`
	Units     string  `json:"units,omitempty"`
	StepCount int32   `json:"step_count"`
	Default   float64 `json:"default"`
	Flags     int32   `json:"flags"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// Response is one reply. Only the fields of its kind are encoded.
type Response struct {
	Kind ResponseKind

	Message string     // Success, Error, Crashed
	Data    []float32  // AudioOutput: interleaved output frames
	Info    PluginInfo // PluginInfo

	ParamID uint32  // ParameterValue
	Value   float64 // ParameterValue
}

type messageBody struct {
	Message string `json:"message"`
}

type audioOutputBody struct {
	Data []float32 `json:"data"`
}

type parameterValueBody struct {
	ID    uint32  `json:"id"`
	Value float64 `json:"value"`
}

// Success builds a Success reply
func Success(format string, args ...any) Response {
	return Response{Kind: RespSuccess, Message: fmt.Sprintf(format, args...)}
}

// Failure builds an Error reply
func Failure(err error) Response {
	return Response{Kind: RespError, Message: err.Error()}
}

// CrashedResponse builds a Crashed reply
func CrashedResponse(message string) Response {
	return Response{Kind: RespCrashed, Message: message}
}

// AudioOutput builds an AudioOutput reply
func AudioOutput(data []float32) Response {
	return Response{Kind: RespAudioOutput, Data: data}
}

// Err converts Error and Crashed replies into host errors.
func (r Response) Err() error {
	switch r.Kind {
	case RespError:
		return hosterr.New(hosterr.KindProcessingError, "helper", r.Message)
	case RespCrashed:
		return hosterr.New(hosterr.KindCrashed, "helper", r.Message)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (r Response) MarshalJSON() ([]byte, error) {
	var body any
	switch r.Kind {
	case RespSuccess, RespError, RespCrashed:
		body = messageBody{Message: r.Message}
	case RespAudioOutput:
		data := r.Data
		if data == nil {
			data = []float32{}
		}
		body = audioOutputBody{Data: data}
	case RespPluginInfo:
		body = r.Info
	case RespParameterValue:
		body = parameterValueBody{ID: r.ParamID, Value: r.Value}
	default:
		return nil, fmt.Errorf("unknown response %q", r.Kind)
	}
	return json.Marshal(map[ResponseKind]any{r.Kind: body})
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Response) UnmarshalJSON(data []byte) error {
	tag, raw, err := splitTagged(data)
	if err != nil {
		return err
	}
	*r = Response{Kind: ResponseKind(tag)}

	switch r.Kind {
	case RespSuccess, RespError, RespCrashed:
		var b messageBody
		err = decodeBody(raw, &b)
		r.Message = b.Message
	case RespAudioOutput:
		var b audioOutputBody
		err = decodeBody(raw, &b)
		r.Data = b.Data
	case RespPluginInfo:
		err = decodeBody(raw, &r.Info)
	case RespParameterValue:
		var b parameterValueBody
		err = decodeBody(raw, &b)
		r.ParamID, r.Value = b.ID, b.Value
	default:
		return fmt.Errorf("unknown response %q", tag)
	}
	return err
}

// splitTagged returns the variant name and its body. A bare string is a
// variant without a body.
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected one variant, got %d keys", len(obj))
	}
	for tag, raw := range obj {
		return tag, raw, nil
	}
	return "", nil, nil
}

func decodeBody(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("missing body")
	}
	return json.Unmarshal(raw, v)
}

// encodeLine marshals v followed by a newline.
func encodeLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
