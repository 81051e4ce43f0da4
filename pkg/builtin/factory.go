package builtin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Scheme prefixes the path of every built-in component
const Scheme = "builtin:"

// Vendor of every built-in component
const Vendor = "vst3host"

// Version of every built-in component
const Version = "1.0.0"

var constructors = map[string]func() *Component{
	"synth":  NewSynth,
	"gain":   NewGain,
	"faulty": NewFaulty,
}

// Names lists the available components
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether path addresses a built-in component
func IsBuiltin(path string) bool {
	return strings.HasPrefix(path, Scheme)
}

// ClassID derives a stable class id from a component name
func ClassID(name string) vst3.TUID {
	return vst3.TUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(Scheme+name)))
}

func classInfo(name, subCategories string) vst3.ClassInfo {
	return vst3.ClassInfo{
		CID:           ClassID(name),
		Cardinality:   0x7FFFFFFF,
		Category:      vst3.CategoryAudioEffect,
		Name:          name,
		SubCategories: subCategories,
		Vendor:        Vendor,
		Version:       Version,
		SDKVersion:    "VST 3.7",
	}
}

// Factory creates instances of the classes of one module
type Factory struct {
	vst3.RefCount

	info    vst3.FactoryInfo
	classes []vst3.ClassInfo
	create  map[vst3.TUID]func() *Component
}

var _ vst3.IPluginFactory = (*Factory)(nil)

// NewFactory returns a factory for the named components. With no names it
// serves every component.
func NewFactory(names ...string) (*Factory, error) {
	if len(names) == 0 {
		names = Names()
	}
	f := &Factory{
		info:   vst3.FactoryInfo{Vendor: Vendor, URL: "https://github.com/justyntemme/vst3host"},
		create: make(map[vst3.TUID]func() *Component),
	}
	for _, name := range names {
		ctor, ok := constructors[name]
		if !ok {
			return nil, hosterr.Newf(hosterr.KindNotFound, "builtin.factory", "no built-in component %q", name)
		}
		info := ctor().Info()
		f.classes = append(f.classes, info)
		f.create[info.CID] = ctor
	}
	return f, nil
}

// GetFactoryInfo implements IPluginFactory
func (f *Factory) GetFactoryInfo(info *vst3.FactoryInfo) vst3.Result {
	if info == nil {
		return vst3.ResultInvalidArgument
	}
	*info = f.info
	return vst3.ResultOK
}

// CountClasses implements IPluginFactory
func (f *Factory) CountClasses() int32 {
	return int32(len(f.classes))
}

// GetClassInfo implements IPluginFactory
func (f *Factory) GetClassInfo(index int32, info *vst3.ClassInfo) vst3.Result {
	if info == nil || index < 0 || int(index) >= len(f.classes) {
		return vst3.ResultInvalidArgument
	}
	*info = f.classes[index]
	return vst3.ResultOK
}

// CreateInstance implements IPluginFactory. The caller owns the returned
// reference.
func (f *Factory) CreateInstance(cid vst3.TUID, iid vst3.TUID) (vst3.FUnknown, vst3.Result) {
	ctor, ok := f.create[cid]
	if !ok {
		return nil, vst3.ResultInvalidArgument
	}
	switch iid {
	case vst3.IIDFUnknown, vst3.IIDIComponent, vst3.IIDIAudioProcessor, vst3.IIDIEditController:
	default:
		return nil, vst3.ResultNoInterface
	}
	return ctor(), vst3.ResultOK
}

// Module is an opened built-in module
type Module struct {
	path    string
	factory *Factory
}

// Open resolves "builtin:<name>" to a module exposing that component.
func Open(path string) (*Module, error) {
	if !IsBuiltin(path) {
		return nil, hosterr.Newf(hosterr.KindLoadFailed, "builtin.open", "%s is not a built-in path", path)
	}
	f, err := NewFactory(strings.TrimPrefix(path, Scheme))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Module{path: path, factory: f}, nil
}

// Path returns the path the module was opened from
func (m *Module) Path() string {
	return m.path
}

// Factory returns the module's factory. The module keeps its reference.
func (m *Module) Factory() vst3.IPluginFactory {
	if m.factory == nil {
		return nil
	}
	return m.factory
}

// Close drops the module's factory reference
func (m *Module) Close() error {
	if m.factory != nil {
		m.factory.Release()
		m.factory = nil
	}
	return nil
}
