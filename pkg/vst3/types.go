// Package vst3 models the hosted component binary interface as Go types.
//
// Every interface mirrors its native counterpart method for method. Interface
// queries are plain Go type assertions; reference counting is explicit through
// FUnknown and the Handle wrapper.
package vst3

import "fmt"

// Result is the tresult code returned by every interface method.
type Result int32

// Result codes
const (
	ResultOK              Result = 0
	ResultTrue            Result = 0 // Same as OK
	ResultFalse           Result = 1
	ResultInvalidArgument Result = 2
	ResultNotImplemented  Result = 3
	ResultInternalError   Result = 4
	ResultNotInitialized  Result = 5
	ResultOutOfMemory     Result = 6
	ResultNoInterface     Result = -1
)

// Basic type aliases
type (
	TUID       = [16]byte
	ParamID    = uint32
	ParamValue = float64
	Sample32   = float32
)

// Interface IDs
var (
	IIDFUnknown = TUID{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xC0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x46,
	}
	IIDIPluginFactory = TUID{
		0x7A, 0x4D, 0x81, 0x1C, 0x52, 0x11, 0x4A, 0x1F,
		0xAE, 0xD9, 0xD2, 0xEE, 0x0B, 0x43, 0xBF, 0x9F,
	}
	IIDIComponent = TUID{
		0xE8, 0x31, 0xFF, 0x31, 0xF2, 0xD5, 0x4B, 0x01,
		0x83, 0x6F, 0x5D, 0x38, 0x54, 0x34, 0xAE, 0xC6,
	}
	IIDIAudioProcessor = TUID{
		0x42, 0x04, 0x3F, 0x99, 0xB2, 0xA8, 0x4F, 0x3F,
		0xA2, 0x85, 0x7A, 0xA0, 0x39, 0x82, 0x15, 0xC1,
	}
	IIDIEditController = TUID{
		0xDD, 0xB1, 0x18, 0x8F, 0x2B, 0x0D, 0x43, 0x11,
		0x9E, 0xD0, 0xAE, 0xB4, 0x38, 0x95, 0x40, 0x52,
	}
)

// Class categories
const (
	CategoryAudioEffect   = "Audio Module Class"
	CategoryController    = "Component Controller Class"
	SubCategoryInstrument = "Instrument"
	SubCategoryFx         = "Fx"
)

// Error wraps a non-OK Result so it can travel as a Go error.
type Error struct {
	Code Result
}

func (e Error) Error() string {
	return fmt.Sprintf("vst3: %s", e.Code)
}

// Err returns nil for ResultOK and an Error otherwise.
func (r Result) Err() error {
	if r == ResultOK {
		return nil
	}
	return Error{Code: r}
}

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFalse:
		return "false"
	case ResultInvalidArgument:
		return "invalid argument"
	case ResultNotImplemented:
		return "not implemented"
	case ResultInternalError:
		return "internal error"
	case ResultNotInitialized:
		return "not initialized"
	case ResultOutOfMemory:
		return "out of memory"
	case ResultNoInterface:
		return "no interface"
	default:
		return fmt.Sprintf("result(%d)", int32(r))
	}
}

// BoolResult maps a boolean onto ResultTrue/ResultFalse.
func BoolResult(ok bool) Result {
	if ok {
		return ResultTrue
	}
	return ResultFalse
}
