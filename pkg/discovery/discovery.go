// Package discovery finds component bundles on disk and reads their
// metadata without starting processing.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/justyntemme/vst3host/pkg/crash"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// BundleExt is the extension of a component bundle
const BundleExt = ".vst3"

// Module is an opened component library
type Module interface {
	// Factory returns the module's factory. The module keeps its reference.
	Factory() vst3.IPluginFactory
	Close() error
}

// Loader opens modules by path
type Loader interface {
	Open(path string) (Module, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(path string) (Module, error)

// Open implements Loader
func (f LoaderFunc) Open(path string) (Module, error) {
	return f(path)
}

// Info is the metadata of one component class. Bus counts are numbers of
// buses; channel counts are summed over them.
type Info struct {
	Path          string
	Name          string
	Vendor        string
	Version       string
	Category      string
	SubCategories string
	UID           string

	AudioInputs    int32
	AudioOutputs   int32
	InputChannels  int32
	OutputChannels int32
	HasMIDIInput   bool
	HasMIDIOutput  bool
	HasGUI         bool
}

// IsInstrument reports whether the class declares itself an instrument
func (i Info) IsInstrument() bool {
	return strings.Contains(i.SubCategories, vst3.SubCategoryInstrument)
}

// DefaultPaths returns the standard bundle directories of an OS
func DefaultPaths(goos string) []string {
	home, _ := os.UserHomeDir()
	var paths []string
	switch goos {
	case "darwin":
		paths = append(paths, "/Library/Audio/Plug-Ins/VST3")
		if home != "" {
			paths = append(paths, filepath.Join(home, "Library", "Audio", "Plug-Ins", "VST3"))
		}
	case "windows":
		paths = append(paths,
			`C:\Program Files\Common Files\VST3`,
			`C:\Program Files (x86)\Common Files\VST3`)
	default:
		paths = append(paths, "/usr/lib/vst3", "/usr/local/lib/vst3")
		if home != "" {
			paths = append(paths, filepath.Join(home, ".vst3"))
		}
	}
	return paths
}

// Scan lists the bundles below paths, sorted and without duplicates.
// Directories are searched recursively but bundles are not entered. Missing
// directories are skipped.
func Scan(paths []string) ([]string, error) {
	var found []string
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if path == root && errors.Is(err, os.ErrNotExist) {
					return filepath.SkipDir
				}
				// Unreadable subdirectories are not fatal.
				if d != nil && d.IsDir() && path != root {
					return filepath.SkipDir
				}
				return err
			}
			if path != root && strings.EqualFold(filepath.Ext(path), BundleExt) {
				found = append(found, path)
				if d.IsDir() {
					return filepath.SkipDir
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}
	slices.Sort(found)
	return slices.Compact(found), nil
}

// archDirs lists the per-OS binary folders inside Contents, in preference
// order, with the extension of the binary they hold.
func archDirs(goos string) ([]string, string) {
	switch goos {
	case "windows":
		return []string{"x86_64-win", "x86-win"}, ".vst3"
	case "darwin":
		return []string{"MacOS"}, ""
	default:
		return []string{"x86_64-linux", "i386-linux"}, ".so"
	}
}

// BinaryPath resolves a bundle to the library inside it for goos. A path
// that is already a file is returned unchanged.
func BinaryPath(bundle, goos string) (string, error) {
	if goos == "" {
		goos = runtime.GOOS
	}
	st, err := os.Stat(bundle)
	if err != nil {
		return "", hosterr.Wrap(hosterr.KindNotFound, "discovery.binary", err)
	}
	if !st.IsDir() {
		return bundle, nil
	}

	dirs, ext := archDirs(goos)
	for _, dir := range dirs {
		entries, err := os.ReadDir(filepath.Join(bundle, "Contents", dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if isBinary(e.Name(), ext) {
				return filepath.Join(bundle, "Contents", dir, e.Name()), nil
			}
		}
	}
	return "", hosterr.Newf(hosterr.KindNotFound, "discovery.binary", "no %s binary in bundle %s", goos, bundle)
}

func isBinary(name, ext string) bool {
	if ext != "" {
		return strings.EqualFold(filepath.Ext(name), ext)
	}
	// macOS bundles hold the binary next to metadata files.
	return !strings.HasPrefix(name, ".") &&
		!strings.HasSuffix(name, ".plist") &&
		!strings.HasSuffix(name, ".txt")
}

// FindAudioClass returns the index and info of the first Audio Module Class
func FindAudioClass(f vst3.IPluginFactory) (int32, vst3.ClassInfo, bool) {
	n := f.CountClasses()
	for i := int32(0); i < n; i++ {
		var ci vst3.ClassInfo
		if f.GetClassInfo(i, &ci) != vst3.ResultOK {
			continue
		}
		if ci.Category == vst3.CategoryAudioEffect {
			return i, ci, true
		}
	}
	return -1, vst3.ClassInfo{}, false
}

// BusSummary counts the buses and channels of one direction of a component.
func BusSummary(c vst3.IComponent, dir vst3.BusDirection) (buses, channels int32, events bool) {
	buses = c.GetBusCount(vst3.MediaTypeAudio, dir)
	for i := int32(0); i < buses; i++ {
		var bi vst3.BusInfo
		if c.GetBusInfo(vst3.MediaTypeAudio, dir, i, &bi) == vst3.ResultOK {
			channels += bi.ChannelCount
		}
	}
	events = c.GetBusCount(vst3.MediaTypeEvent, dir) > 0
	return buses, channels, events
}

// FormatUID renders a class id the way hosts print it
func FormatUID(id vst3.TUID) string {
	return fmt.Sprintf("%X", id[:])
}

// Probe opens path, instantiates its first audio class and reads its
// metadata. The component is initialized and terminated but never
// activated. A panic inside the component is returned as Crashed.
func Probe(loader Loader, path string) (Info, error) {
	if loader == nil {
		return Info{}, hosterr.New(hosterr.KindInvalidParameter, "discovery.probe", "loader is required")
	}
	mod, err := loader.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("probe %s: %w", path, err)
	}
	defer mod.Close()

	res, err := crash.Call(func() probeResult { return probe(mod, path) })
	if err != nil {
		return Info{}, hosterr.Wrap(hosterr.KindCrashed, "discovery.probe", err)
	}
	return res.info, res.err
}

type probeResult struct {
	info Info
	err  error
}

func probe(mod Module, path string) probeResult {
	f := mod.Factory()
	if f == nil {
		return probeResult{err: hosterr.New(hosterr.KindLoadFailed, "discovery.probe", "module has no factory")}
	}
	_, ci, ok := FindAudioClass(f)
	if !ok {
		return probeResult{err: hosterr.Newf(hosterr.KindLoadFailed, "discovery.probe", "%s has no audio module class", path)}
	}

	var fi vst3.FactoryInfo
	f.GetFactoryInfo(&fi)
	info := Info{
		Path:          path,
		Name:          ci.Name,
		Vendor:        ci.Vendor,
		Version:       ci.Version,
		Category:      ci.Category,
		SubCategories: ci.SubCategories,
		UID:           FormatUID(ci.CID),
	}
	if info.Vendor == "" {
		info.Vendor = fi.Vendor
	}

	obj, r := f.CreateInstance(ci.CID, vst3.IIDIComponent)
	if r != vst3.ResultOK || obj == nil {
		return probeResult{err: hosterr.Newf(hosterr.KindLoadFailed, "discovery.probe", "create instance: %s", r)}
	}
	defer obj.Release()

	comp, ok := obj.(vst3.IComponent)
	if !ok {
		return probeResult{err: hosterr.New(hosterr.KindInterfaceMissing, "discovery.probe", "instance is not a component")}
	}
	if r := comp.Initialize(nil); r != vst3.ResultOK {
		return probeResult{err: hosterr.Newf(hosterr.KindLoadFailed, "discovery.probe", "initialize: %s", r)}
	}
	defer comp.Terminate()

	info.AudioInputs, info.InputChannels, info.HasMIDIInput = BusSummary(comp, vst3.BusDirectionInput)
	info.AudioOutputs, info.OutputChannels, info.HasMIDIOutput = BusSummary(comp, vst3.BusDirectionOutput)

	if ctrl, ok := obj.(vst3.IEditController); ok {
		if view := ctrl.CreateView("editor"); view != nil {
			info.HasGUI = true
			view.Release()
		}
	}
	return probeResult{info: info}
}
