package arena

import (
	"bytes"
	"strings"
	"testing"

	"github.com/justyntemme/vst3host/pkg/adapter"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

type fakeBuses struct {
	inputs  []int32
	outputs []int32
	failOut map[int32]bool
}

func (f *fakeBuses) GetBusCount(mediaType vst3.MediaType, dir vst3.BusDirection) int32 {
	if mediaType != vst3.MediaTypeAudio {
		return 0
	}
	if dir == vst3.BusDirectionInput {
		return int32(len(f.inputs))
	}
	return int32(len(f.outputs))
}

func (f *fakeBuses) GetBusInfo(mediaType vst3.MediaType, dir vst3.BusDirection, index int32, info *vst3.BusInfo) vst3.Result {
	list := f.inputs
	if dir == vst3.BusDirectionOutput {
		if f.failOut[index] {
			return vst3.ResultInternalError
		}
		list = f.outputs
	}
	if index < 0 || int(index) >= len(list) {
		return vst3.ResultInvalidArgument
	}
	*info = vst3.BusInfo{MediaType: mediaType, Direction: dir, ChannelCount: list[index], Name: "bus"}
	return vst3.ResultOK
}

func quietLogger() *debug.Logger {
	return debug.Discard()
}

func TestPrepareInvariants(t *testing.T) {
	tests := []struct {
		name      string
		buses     *fakeBuses
		blockSize int
		wantOuts  int32
		wantChans int
	}{
		{"generator", &fakeBuses{outputs: []int32{2}}, 512, 1, 2},
		{"effect", &fakeBuses{inputs: []int32{2}, outputs: []int32{2}}, 64, 1, 2},
		{"multi out", &fakeBuses{outputs: []int32{2, 2, 1}}, 128, 3, 5},
		{"failed bus skipped", &fakeBuses{outputs: []int32{2, 2}, failOut: map[int32]bool{0: true}}, 256, 1, 2},
		{"no buses", &fakeBuses{}, 32, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Prepare(tt.buses, Config{BlockSize: tt.blockSize, Logger: quietLogger()})
			if err != nil {
				t.Fatalf("Prepare failed: %v", err)
			}
			defer a.Release()

			data := a.Data()
			if data.NumOutputs != tt.wantOuts {
				t.Errorf("Expected %d outputs, got %d", tt.wantOuts, data.NumOutputs)
			}
			if len(a.OutputChannels()) != tt.wantChans {
				t.Errorf("Expected %d output channels, got %d", tt.wantChans, len(a.OutputChannels()))
			}
			for b := 0; b < int(data.NumOutputs); b++ {
				bus := data.Output(b)
				if int(bus.NumChannels) != len(bus.ChannelBuffers32) {
					t.Errorf("Bus %d: NumChannels %d does not match table length %d", b, bus.NumChannels, len(bus.ChannelBuffers32))
				}
				for ch, buf := range bus.ChannelBuffers32 {
					if len(buf) != tt.blockSize {
						t.Errorf("Bus %d channel %d: expected %d samples, got %d", b, ch, tt.blockSize, len(buf))
					}
				}
			}
			if data.InputEvents == nil || data.OutputEvents == nil {
				t.Error("Event lists must be linked")
			}
			if data.ProcessContext == nil || data.ProcessContext.Tempo != 120 {
				t.Error("Expected a default transport context")
			}
		})
	}
}

func TestPrepareRejectsBadConfig(t *testing.T) {
	if _, err := Prepare(&fakeBuses{}, Config{BlockSize: 0}); err == nil {
		t.Error("Expected error for zero block size")
	}
	if _, err := Prepare(nil, Config{BlockSize: 64}); err == nil {
		t.Error("Expected error for nil component")
	}
}

func TestPrepareLogsSkippedBus(t *testing.T) {
	var buf bytes.Buffer
	log := debug.New(&buf, "", debug.FlagLevel)

	a, err := Prepare(&fakeBuses{outputs: []int32{2}, failOut: map[int32]bool{0: true}}, Config{BlockSize: 16, Logger: log})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()

	if !strings.Contains(buf.String(), "skipping output bus 0") {
		t.Errorf("Expected a warning, got %q", buf.String())
	}
}

func TestClear(t *testing.T) {
	a, err := Prepare(&fakeBuses{outputs: []int32{2}}, Config{BlockSize: 8, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()

	data := a.Data()
	data.Outputs[0].ChannelBuffers32[0][3] = 0.7
	e := vst3.NewNoteOn(0, 60, 1, 0)
	data.InputEvents.AddEvent(&e)
	data.InputParameterChanges.AddParameterData(1, nil).AddPoint(0, 0.5, nil)

	stray := make([]float32, 8)
	data.Outputs[0].ChannelBuffers32[1] = stray
	data.InputEvents = nil

	a.Clear()

	if data.InputEvents == nil {
		t.Fatal("Expected nulled event list to be relinked")
	}
	if data.InputEvents.GetEventCount() != 0 {
		t.Error("Expected input events to be emptied")
	}
	if data.InputParameterChanges.GetParameterCount() != 0 {
		t.Error("Expected parameter changes to be emptied")
	}
	if a.OutputChannels()[0][3] != 0 {
		t.Error("Expected output buffer to be silenced")
	}
	if &data.Outputs[0].ChannelBuffers32[1][0] != &a.OutputChannels()[1][0] {
		t.Error("Expected channel table to point back at the arena's buffer")
	}
}

func TestReleaseDropsClonedHandles(t *testing.T) {
	in := adapter.NewEventList(16)
	params := adapter.NewParameterChanges()

	a, err := Prepare(&fakeBuses{outputs: []int32{2}}, Config{
		BlockSize: 32,
		Logger:    quietLogger(),
		Adapters:  Adapters{InputEvents: in, InputParams: params},
	})
	if err != nil {
		t.Fatal(err)
	}

	if in.RefCountValue() != 2 {
		t.Errorf("Expected arena to hold a second reference, got %d", in.RefCountValue())
	}

	a.Release()
	a.Release()

	if in.RefCountValue() != 1 {
		t.Errorf("Expected reference count back at 1, got %d", in.RefCountValue())
	}
	if params.RefCountValue() != 1 {
		t.Errorf("Expected reference count back at 1, got %d", params.RefCountValue())
	}
	if a.Data().InputEvents != nil {
		t.Error("Released arena must not expose interfaces")
	}
	if !a.Released() {
		t.Error("Released should report true")
	}
}

func TestRebuildNeverSharesBuffers(t *testing.T) {
	buses := &fakeBuses{outputs: []int32{2}}
	tr := NewTransport(48000)

	first, err := Prepare(buses, Config{BlockSize: 64, Transport: tr, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	old := first.OutputChannels()[0]
	first.Release()

	second, err := Prepare(buses, Config{BlockSize: 128, Transport: tr, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer second.Release()

	if len(second.OutputChannels()[0]) != 128 {
		t.Errorf("Expected 128 samples, got %d", len(second.OutputChannels()[0]))
	}
	if &second.OutputChannels()[0][0] == &old[0] {
		t.Error("Rebuilt arena must not reuse the old buffer")
	}
}

func TestTransport(t *testing.T) {
	tr := NewTransport(48000)

	if start := tr.Advance(512); start != 0 {
		t.Errorf("Expected first block at 0, got %d", start)
	}
	if start := tr.Advance(512); start != 512 {
		t.Errorf("Expected second block at 512, got %d", start)
	}
	if tr.Position() != 1024 {
		t.Errorf("Expected position 1024, got %d", tr.Position())
	}

	var ctx vst3.ProcessContext
	// Five seconds at 120 BPM is ten quarter notes, two and a half bars.
	tr.Fill(&ctx, 5*48000)
	if ctx.ProjectTimeMusic != 10 {
		t.Errorf("Expected 10 quarter notes, got %f", ctx.ProjectTimeMusic)
	}
	if ctx.BarPositionMusic != 8 {
		t.Errorf("Expected bar start at 8, got %f", ctx.BarPositionMusic)
	}
	if !ctx.IsPlaying() {
		t.Error("Expected playing flag")
	}

	tr.SetPlaying(false)
	tr.Advance(512)
	if tr.Position() != 1024 {
		t.Error("Stopped transport must not advance")
	}
	tr.Fill(&ctx, tr.Position())
	if ctx.IsPlaying() {
		t.Error("Expected playing flag cleared")
	}
}
