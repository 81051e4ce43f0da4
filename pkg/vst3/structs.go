package vst3

// MediaType selects audio or event buses
type MediaType int32

// BusDirection selects input or output buses
type BusDirection int32

// BusType distinguishes main and auxiliary buses
type BusType int32

// Constants for media types
const (
	MediaTypeAudio MediaType = 0
	MediaTypeEvent MediaType = 1
)

// Constants for bus directions
const (
	BusDirectionInput  BusDirection = 0
	BusDirectionOutput BusDirection = 1
)

// Constants for bus types
const (
	BusTypeMain BusType = 0
	BusTypeAux  BusType = 1
)

// Bus flags
const (
	BusDefaultActive    uint32 = 1 << 0
	BusIsControlVoltage uint32 = 1 << 1
)

// Process modes
const (
	ProcessModeRealtime int32 = 0
	ProcessModePrefetch int32 = 1
	ProcessModeOffline  int32 = 2
)

// Symbolic sample sizes
const (
	SampleSize32 int32 = 0
	SampleSize64 int32 = 1
)

// Constants for parameter flags
const (
	ParameterCanAutomate     int32 = 1 << 0
	ParameterIsReadOnly      int32 = 1 << 1
	ParameterIsWrapAround    int32 = 1 << 2
	ParameterIsList          int32 = 1 << 3
	ParameterIsHidden        int32 = 1 << 4
	ParameterIsProgramChange int32 = 1 << 15
	ParameterIsBypass        int32 = 1 << 16
)

// Restart flags passed to IComponentHandler.RestartComponent
const (
	RestartReloadComponent    int32 = 1 << 0
	RestartIOChanged          int32 = 1 << 1
	RestartParamValuesChanged int32 = 1 << 2
	RestartLatencyChanged     int32 = 1 << 3
	RestartParamTitlesChanged int32 = 1 << 4
)

// SpeakerArrangement is a channel layout bitmask
type SpeakerArrangement uint64

// Common speaker arrangements
const (
	SpeakerMono   SpeakerArrangement = 1 << 19
	SpeakerStereo SpeakerArrangement = 0x3
)

// ProcessSetup contains audio processing configuration
type ProcessSetup struct {
	ProcessMode        int32
	SymbolicSampleSize int32
	MaxSamplesPerBlock int32
	SampleRate         float64
}

// ParameterInfo describes a parameter
type ParameterInfo struct {
	ID           ParamID
	Title        string
	ShortTitle   string
	Units        string
	StepCount    int32
	DefaultValue float64
	UnitID       int32
	Flags        int32
}

// BusInfo describes an audio or event bus
type BusInfo struct {
	MediaType    MediaType
	Direction    BusDirection
	ChannelCount int32
	Name         string
	BusType      BusType
	Flags        uint32
}

// FactoryInfo describes the vendor of a module
type FactoryInfo struct {
	Vendor string
	URL    string
	Email  string
	Flags  int32
}

// ClassInfo describes one class a factory can create
type ClassInfo struct {
	CID           TUID
	Cardinality   int32
	Category      string
	Name          string
	SubCategories string
	Vendor        string
	Version       string
	SDKVersion    string
}

// ViewRect is an editor view size
type ViewRect struct {
	Left, Top, Right, Bottom int32
}

// Width of the rectangle
func (r ViewRect) Width() int32 { return r.Right - r.Left }

// Height of the rectangle
func (r ViewRect) Height() int32 { return r.Bottom - r.Top }
