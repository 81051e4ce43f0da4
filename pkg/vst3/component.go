package vst3

// IPluginBase is the lifecycle part shared by components and controllers
type IPluginBase interface {
	FUnknown
	Initialize(context FUnknown) Result
	Terminate() Result
}

// IComponent represents the main plugin component interface
type IComponent interface {
	IPluginBase

	GetControllerClassID() (TUID, Result)
	SetIOMode(mode int32) Result
	GetBusCount(mediaType MediaType, dir BusDirection) int32
	GetBusInfo(mediaType MediaType, dir BusDirection, index int32, info *BusInfo) Result
	ActivateBus(mediaType MediaType, dir BusDirection, index int32, state bool) Result
	SetActive(state bool) Result
	SetState(state IBStream) Result
	GetState(state IBStream) Result
}

// IAudioProcessor represents the audio processing interface
type IAudioProcessor interface {
	FUnknown

	SetBusArrangements(inputs, outputs []SpeakerArrangement) Result
	CanProcessSampleSize(symbolicSampleSize int32) Result
	GetLatencySamples() uint32
	SetupProcessing(setup *ProcessSetup) Result
	SetProcessing(state bool) Result
	Process(data *ProcessData) Result
	GetTailSamples() uint32
}

// IEditController represents the parameter control interface
type IEditController interface {
	IPluginBase

	SetComponentState(state IBStream) Result
	GetParameterCount() int32
	GetParameterInfo(index int32, info *ParameterInfo) Result
	GetParamStringByValue(id ParamID, value ParamValue) (string, Result)
	NormalizedParamToPlain(id ParamID, normalized ParamValue) ParamValue
	PlainParamToNormalized(id ParamID, plain ParamValue) ParamValue
	GetParamNormalized(id ParamID) ParamValue
	SetParamNormalized(id ParamID, value ParamValue) Result
	SetComponentHandler(handler IComponentHandler) Result
	// CreateView returns nil when the controller has no editor.
	CreateView(name string) IPlugView
}

// IComponentHandler receives edit notifications from a controller
type IComponentHandler interface {
	FUnknown
	BeginEdit(id ParamID) Result
	PerformEdit(id ParamID, value ParamValue) Result
	EndEdit(id ParamID) Result
	RestartComponent(flags int32) Result
}

// IEventList is the event sink handed to Process
type IEventList interface {
	FUnknown
	GetEventCount() int32
	GetEvent(index int32, e *Event) Result
	AddEvent(e *Event) Result
}

// IParamValueQueue holds the automation points of one parameter in one block
type IParamValueQueue interface {
	FUnknown
	GetParameterID() ParamID
	GetPointCount() int32
	GetPoint(index int32, sampleOffset *int32, value *ParamValue) Result
	AddPoint(sampleOffset int32, value ParamValue, index *int32) Result
}

// IParameterChanges is the set of queues for one block
type IParameterChanges interface {
	FUnknown
	GetParameterCount() int32
	GetParameterData(index int32) IParamValueQueue
	AddParameterData(id ParamID, index *int32) IParamValueQueue
}

// Editor platform types
const (
	PlatformTypeHWND   = "HWND"
	PlatformTypeNSView = "NSView"
	PlatformTypeX11    = "X11EmbedWindowID"
)

// IPlugView is an editor view. Window embedding itself is the caller's job.
type IPlugView interface {
	FUnknown
	IsPlatformTypeSupported(platformType string) Result
	Attached(parent uintptr, platformType string) Result
	Removed() Result
	GetSize(size *ViewRect) Result
}

// IPluginFactory creates component instances from a loaded module
type IPluginFactory interface {
	FUnknown
	GetFactoryInfo(info *FactoryInfo) Result
	CountClasses() int32
	GetClassInfo(index int32, info *ClassInfo) Result
	CreateInstance(cid TUID, iid TUID) (FUnknown, Result)
}
