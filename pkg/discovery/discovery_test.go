package discovery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/justyntemme/vst3host/pkg/builtin"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestBinaryPath(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		goos  string
		files []string
		want  string
	}{
		{"linux", "linux", []string{"Contents/x86_64-linux/Synth.so"}, "Contents/x86_64-linux/Synth.so"},
		{"linux32", "linux", []string{"Contents/i386-linux/Synth.so"}, "Contents/i386-linux/Synth.so"},
		{"windows", "windows", []string{"Contents/x86_64-win/Synth.vst3"}, "Contents/x86_64-win/Synth.vst3"},
		{"darwin", "darwin", []string{"Contents/MacOS/.DS_Store", "Contents/MacOS/Info.plist", "Contents/MacOS/Synth"}, "Contents/MacOS/Synth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := filepath.Join(dir, tt.name+".vst3")
			for _, f := range tt.files {
				touch(t, filepath.Join(bundle, f))
			}
			got, err := BinaryPath(bundle, tt.goos)
			if err != nil {
				t.Fatalf("BinaryPath: %v", err)
			}
			if want := filepath.Join(bundle, tt.want); got != want {
				t.Errorf("Expected %s, got %s", want, got)
			}
		})
	}

	t.Run("File", func(t *testing.T) {
		file := filepath.Join(dir, "single.vst3")
		touch(t, file)
		got, err := BinaryPath(file, "windows")
		if err != nil || got != file {
			t.Errorf("Expected the file itself, got %q, %v", got, err)
		}
	})

	t.Run("WrongArch", func(t *testing.T) {
		bundle := filepath.Join(dir, "winonly.vst3")
		touch(t, filepath.Join(bundle, "Contents/x86_64-win/X.vst3"))
		if _, err := BinaryPath(bundle, "linux"); !errors.Is(err, hosterr.NotFound) {
			t.Errorf("Expected NotFound, got %v", err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := BinaryPath(filepath.Join(dir, "nope.vst3"), "linux"); !errors.Is(err, hosterr.NotFound) {
			t.Errorf("Expected NotFound, got %v", err)
		}
	})
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "A.vst3", "Contents", "x86_64-linux", "A.so"))
	touch(t, filepath.Join(root, "vendor", "B.vst3", "Contents", "x86_64-linux", "B.so"))
	touch(t, filepath.Join(root, "C.vst3"))
	touch(t, filepath.Join(root, "readme.txt"))
	// A bundle nested in a bundle is not a separate plugin.
	touch(t, filepath.Join(root, "A.vst3", "Contents", "Resources", "Inner.vst3"))

	got, err := Scan([]string{root, filepath.Join(root, "missing"), root})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{
		filepath.Join(root, "A.vst3"),
		filepath.Join(root, "C.vst3"),
		filepath.Join(root, "vendor", "B.vst3"),
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, got[i])
		}
	}
}

func TestDefaultPaths(t *testing.T) {
	for _, goos := range []string{"linux", "darwin", "windows"} {
		if len(DefaultPaths(goos)) < 2 {
			t.Errorf("Expected standard paths for %s", goos)
		}
	}
}

var builtinLoader = LoaderFunc(func(path string) (Module, error) {
	m, err := builtin.Open(path)
	if err != nil {
		return nil, err
	}
	return m, nil
})

func TestProbe(t *testing.T) {
	info, err := Probe(builtinLoader, "builtin:synth")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Name != "synth" || info.Vendor != builtin.Vendor {
		t.Errorf("Expected builtin synth, got %s by %s", info.Name, info.Vendor)
	}
	if info.AudioInputs != 0 || info.AudioOutputs != 1 || info.OutputChannels != 2 {
		t.Errorf("Expected 0 in / 1 stereo out, got %d/%d (%d ch)", info.AudioInputs, info.AudioOutputs, info.OutputChannels)
	}
	if !info.HasMIDIInput || !info.HasGUI || !info.IsInstrument() {
		t.Errorf("Expected a MIDI instrument with a GUI, got %+v", info)
	}
	if info.UID != FormatUID(builtin.ClassID("synth")) {
		t.Errorf("Expected uid %s, got %s", FormatUID(builtin.ClassID("synth")), info.UID)
	}

	t.Run("Effect", func(t *testing.T) {
		info, err := Probe(builtinLoader, "builtin:gain")
		if err != nil {
			t.Fatalf("Probe: %v", err)
		}
		if info.InputChannels != 2 || info.HasMIDIInput || info.HasGUI {
			t.Errorf("Expected a stereo effect without MIDI or GUI, got %+v", info)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := Probe(builtinLoader, "builtin:nope"); !errors.Is(err, hosterr.NotFound) {
			t.Errorf("Expected NotFound, got %v", err)
		}
	})

	t.Run("Panic", func(t *testing.T) {
		closed := false
		loader := LoaderFunc(func(string) (Module, error) {
			return &panicModule{closed: &closed}, nil
		})
		if _, err := Probe(loader, "boom"); !errors.Is(err, hosterr.Crashed) {
			t.Errorf("Expected Crashed, got %v", err)
		}
		if !closed {
			t.Error("Expected the module to be closed after a crash")
		}
	})
}

type panicFactory struct {
	vst3.RefCount
}

func (panicFactory) GetFactoryInfo(*vst3.FactoryInfo) vst3.Result { return vst3.ResultOK }
func (panicFactory) CountClasses() int32                         { panic("corrupt class table") }
func (panicFactory) GetClassInfo(int32, *vst3.ClassInfo) vst3.Result {
	return vst3.ResultFalse
}
func (panicFactory) CreateInstance(vst3.TUID, vst3.TUID) (vst3.FUnknown, vst3.Result) {
	return nil, vst3.ResultFalse
}

type panicModule struct {
	closed *bool
}

func (m *panicModule) Factory() vst3.IPluginFactory { return &panicFactory{} }
func (m *panicModule) Close() error {
	*m.closed = true
	return nil
}
