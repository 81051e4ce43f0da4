package isolation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/justyntemme/vst3host/pkg/arena"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// fakeEngine outputs its gain parameter on two channels.
type fakeEngine struct {
	gain     float64
	notes    int
	gui      bool
	loadedAt string
}

func (e *fakeEngine) Load(path string) (PluginInfo, error) {
	switch path {
	case "missing":
		return PluginInfo{}, hosterr.New(hosterr.KindLoadFailed, "load", "no such plugin")
	case "explode":
		panic("load exploded")
	}
	e.loadedAt = path
	e.gain = 0.5
	return PluginInfo{Vendor: "Test", Name: "Fake", Version: "1.0.0", HasGUI: true, AudioOutputs: 1}, nil
}

func (e *fakeEngine) Unload() error {
	e.loadedAt = ""
	return nil
}

func (e *fakeEngine) Configure(sampleRate float64, blockSize int) error {
	if sampleRate <= 0 || blockSize <= 0 {
		return fmt.Errorf("invalid format %v/%d", sampleRate, blockSize)
	}
	return nil
}

func (e *fakeEngine) Process(input []float32, frames int) ([]float32, error) {
	if frames == 13 {
		panic("unlucky block")
	}
	out := make([]float32, frames*2)
	for i := range out {
		out[i] = float32(e.gain)
	}
	return out, nil
}

func (e *fakeEngine) SetParameter(id uint32, value float64) error {
	if id != 0 {
		return hosterr.Newf(hosterr.KindInvalidParameter, "set", "unknown parameter %d", id)
	}
	e.gain = value
	return nil
}

func (e *fakeEngine) GetParameter(id uint32) (float64, error) {
	if id != 0 {
		return 0, hosterr.Newf(hosterr.KindInvalidParameter, "get", "unknown parameter %d", id)
	}
	return e.gain, nil
}

func (e *fakeEngine) SendMIDI(status, data1, data2 byte) error {
	e.notes++
	return nil
}

func (e *fakeEngine) CreateGUI() error {
	e.gui = true
	return nil
}

func (e *fakeEngine) CloseGUI() error {
	e.gui = false
	return nil
}

// TestHelperProcess is the child side of the session tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	engine := &fakeEngine{}
	if os.Getenv("HELPER_MODE") == "silent" {
		// Read and never answer.
		io.Copy(io.Discard, os.Stdin)
		os.Exit(0)
	}
	log := debug.New(os.Stderr, "helper", 0)
	if err := Serve(context.Background(), os.Stdin, os.Stdout, engine, log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func helperConfig(mode string) Config {
	return Config{
		HelperPath:      os.Args[0],
		Args:            []string{"-test.run=^TestHelperProcess$"},
		Env:             []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		ResponseTimeout: 5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		Stderr:          io.Discard,
		Logger:          debug.Discard(),
	}
}

func spawn(t *testing.T, cfg Config) *Session {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pipe deadlines are not supported on windows")
	}
	s, err := Spawn(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestCommandEncoding(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Simple(CmdShutdown), `"Shutdown"`},
		{Simple(CmdUnloadPlugin), `"UnloadPlugin"`},
		{LoadPlugin("/a.vst3"), `{"LoadPlugin":{"path":"/a.vst3"}}`},
		{Process(nil, 4), `{"Process":{"audio_data":[],"num_samples":4}}`},
		{Process([]float32{0.5}, 0), `{"Process":{"audio_data":[0.5]}}`},
		{Configure(48000, 256), `{"Configure":{"sample_rate":48000,"block_size":256}}`},
		{SetParameter(2, 0.25), `{"SetParameter":{"id":2,"value":0.25}}`},
		{SendMidi(0x90, 60, 100), `{"SendMidi":{"status":144,"data1":60,"data2":100}}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.cmd.Kind), func(t *testing.T) {
			b, err := json.Marshal(tt.cmd)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, b)
			}
			var back Command
			if err := json.Unmarshal(b, &back); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if back.Kind != tt.cmd.Kind || back.Path != tt.cmd.Path || back.ParamID != tt.cmd.ParamID {
				t.Errorf("Expected %+v, got %+v", tt.cmd, back)
			}
		})
	}
}

func TestResponseDecoding(t *testing.T) {
	var r Response
	line := `{"PluginInfo":{"vendor":"V","name":"N","version":"2","has_gui":true,"audio_inputs":0,"audio_outputs":2}}`
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if r.Kind != RespPluginInfo || r.Info.Name != "N" || !r.Info.HasGUI || r.Info.AudioOutputs != 2 {
		t.Errorf("Unexpected response %+v", r)
	}

	if err := json.Unmarshal([]byte(`{"Crashed":{"message":"boom"}}`), &r); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(r.Err(), hosterr.Crashed) {
		t.Errorf("Expected Crashed error, got %v", r.Err())
	}

	bad := []string{`{"Success":{},"Error":{}}`, `"Nope"`, `{"AudioOutput":null}`, `[1]`}
	for _, b := range bad {
		if err := json.Unmarshal([]byte(b), &r); err == nil {
			t.Errorf("Expected error for %s", b)
		}
	}
}

func serveLines(t *testing.T, engine Engine, lines ...string) []Response {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := Serve(context.Background(), in, &out, engine, debug.Discard()); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	var resps []Response
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r Response
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("Bad response line %q: %v", sc.Text(), err)
		}
		resps = append(resps, r)
	}
	return resps
}

func TestServe(t *testing.T) {
	t.Run("OneResponsePerRequest", func(t *testing.T) {
		resps := serveLines(t, &fakeEngine{},
			`{"Process":{"audio_data":[],"num_samples":4}}`,
			`{"LoadPlugin":{"path":"/fake.vst3"}}`,
			`{"Process":{"audio_data":[],"num_samples":4}}`,
			`not json`,
			`"CreateGui"`,
			`"Shutdown"`,
			`"UnloadPlugin"`,
		)
		kinds := []ResponseKind{RespError, RespPluginInfo, RespAudioOutput, RespError, RespSuccess, RespSuccess}
		if len(resps) != len(kinds) {
			t.Fatalf("Expected %d responses, got %d", len(kinds), len(resps))
		}
		for i, k := range kinds {
			if resps[i].Kind != k {
				t.Errorf("Response %d: expected %s, got %s", i, k, resps[i].Kind)
			}
		}
		if len(resps[2].Data) != 8 {
			t.Errorf("Expected 8 samples, got %d", len(resps[2].Data))
		}
	})

	t.Run("PanicBecomesCrashed", func(t *testing.T) {
		resps := serveLines(t, &fakeEngine{},
			`{"LoadPlugin":{"path":"/fake.vst3"}}`,
			`{"Process":{"audio_data":[],"num_samples":13}}`,
			`{"Process":{"audio_data":[],"num_samples":4}}`,
			`{"LoadPlugin":{"path":"/fake.vst3"}}`,
			`{"Process":{"audio_data":[],"num_samples":4}}`,
		)
		kinds := []ResponseKind{RespPluginInfo, RespCrashed, RespCrashed, RespPluginInfo, RespAudioOutput}
		for i, k := range kinds {
			if resps[i].Kind != k {
				t.Errorf("Response %d: expected %s, got %s", i, k, resps[i].Kind)
			}
		}
		if !strings.Contains(resps[1].Message, "unlucky block") {
			t.Errorf("Expected panic reason in message, got %q", resps[1].Message)
		}
	})

	t.Run("LoadErrors", func(t *testing.T) {
		resps := serveLines(t, &fakeEngine{},
			`{"LoadPlugin":{"path":"missing"}}`,
			`{"LoadPlugin":{"path":"explode"}}`,
		)
		if resps[0].Kind != RespError || resps[1].Kind != RespCrashed {
			t.Errorf("Expected Error then Crashed, got %s and %s", resps[0].Kind, resps[1].Kind)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Serve(ctx, strings.NewReader(`"Shutdown"`+"\n"), io.Discard, &fakeEngine{}, debug.Discard())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

func TestSession(t *testing.T) {
	s := spawn(t, helperConfig(""))
	if !s.Alive() {
		t.Fatal("Session should be alive after spawn")
	}

	resp, err := s.SendCommand(LoadPlugin("/fake.vst3"))
	if err != nil {
		t.Fatalf("LoadPlugin failed: %v", err)
	}
	if resp.Kind != RespPluginInfo || resp.Info.Name != "Fake" {
		t.Fatalf("Expected plugin info, got %+v", resp)
	}

	for _, v := range []float64{0.0, 0.5, 1.0} {
		if _, err := s.SendCommand(SetParameter(0, v)); err != nil {
			t.Fatalf("SetParameter failed: %v", err)
		}
		resp, err := s.SendCommand(GetParameter(0))
		if err != nil {
			t.Fatalf("GetParameter failed: %v", err)
		}
		if resp.Kind != RespParameterValue || math.Abs(resp.Value-v) > 1e-9 {
			t.Errorf("Expected %f, got %+v", v, resp)
		}
	}

	resp, err = s.SendCommand(SetParameter(9, 1))
	if err != nil {
		t.Fatalf("Unexpected channel error: %v", err)
	}
	if !errors.Is(resp.Err(), hosterr.ProcessingError) {
		t.Errorf("Expected an Error reply, got %+v", resp)
	}

	resp, err = s.SendCommand(Process(nil, 32))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(resp.Data) != 64 || resp.Data[0] != 1 {
		t.Errorf("Expected 64 samples at 1.0, got %d", len(resp.Data))
	}

	if err := s.Shutdown(); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Errorf("Second shutdown should be a no-op, got %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Child should have exited after shutdown")
	}
	if s.ExitErr() != nil {
		t.Errorf("Expected clean exit, got %v", s.ExitErr())
	}
	if _, err := s.SendCommand(Simple(CmdCreateGui)); !errors.Is(err, hosterr.IpcError) {
		t.Errorf("Expected IpcError after shutdown, got %v", err)
	}
}

func TestSessionKilled(t *testing.T) {
	s := spawn(t, helperConfig(""))
	if _, err := s.SendCommand(LoadPlugin("/fake.vst3")); err != nil {
		t.Fatal(err)
	}

	if err := s.cmd.Process.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	<-s.Done()

	done := make(chan error, 1)
	go func() {
		_, err := s.SendCommand(Process(nil, 16))
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, hosterr.Crashed) && !errors.Is(err, hosterr.IpcError) {
			t.Errorf("Expected Crashed or IpcError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SendCommand hung on a dead child")
	}
	if s.Alive() {
		t.Error("Session should be discarded")
	}
	if _, err := s.SendCommand(Process(nil, 16)); !errors.Is(err, hosterr.IpcError) {
		t.Errorf("Expected IpcError on a discarded session, got %v", err)
	}
}

func TestSessionResponseTimeout(t *testing.T) {
	cfg := helperConfig("silent")
	cfg.ResponseTimeout = 200 * time.Millisecond
	cfg.ShutdownTimeout = 500 * time.Millisecond
	s := spawn(t, cfg)

	start := time.Now()
	_, err := s.SendCommand(LoadPlugin("/fake.vst3"))
	if !errors.Is(err, hosterr.Timeout) {
		t.Errorf("Expected Timeout, got %v", err)
	}
	if !errors.Is(err, hosterr.IpcError) {
		t.Errorf("A killed helper should discard the session, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}
	<-s.Done()
	if s.Alive() {
		t.Error("Hung helper should be killed")
	}
}

func TestSpawnErrors(t *testing.T) {
	if _, err := Spawn(context.Background(), Config{}); !errors.Is(err, hosterr.InvalidParameter) {
		t.Errorf("Expected InvalidParameter, got %v", err)
	}
	_, err := Spawn(context.Background(), Config{HelperPath: "/nonexistent/helper", Logger: debug.Discard()})
	if !errors.Is(err, hosterr.LoadFailed) {
		t.Errorf("Expected LoadFailed, got %v", err)
	}
}

type stereoOut struct{}

func (stereoOut) GetBusCount(mediaType vst3.MediaType, dir vst3.BusDirection) int32 {
	if mediaType == vst3.MediaTypeAudio && dir == vst3.BusDirectionOutput {
		return 1
	}
	return 0
}

func (stereoOut) GetBusInfo(mediaType vst3.MediaType, dir vst3.BusDirection, index int32, info *vst3.BusInfo) vst3.Result {
	*info = vst3.BusInfo{MediaType: mediaType, Direction: dir, ChannelCount: 2, Name: "out"}
	return vst3.ResultOK
}

func prepareArena(t *testing.T, blockSize int) *arena.Arena {
	t.Helper()
	a, err := arena.Prepare(stereoOut{}, arena.Config{BlockSize: blockSize, Logger: debug.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Release)
	return a
}

func TestRemoteProcessor(t *testing.T) {
	s := spawn(t, helperConfig(""))
	if _, err := s.SendCommand(LoadPlugin("/fake.vst3")); err != nil {
		t.Fatal(err)
	}
	a := prepareArena(t, 32)
	a.Clear()
	a.InputParameterChanges().AddParameterData(0, nil).AddPoint(0, 0.25, nil)
	a.Begin(32, 0)

	p := NewRemoteProcessor(s)
	if err := p.ProcessBlock(a.Data()); err != nil {
		t.Fatalf("ProcessBlock failed: %v", err)
	}
	for c, ch := range a.OutputChannels() {
		if ch[0] != 0.25 || ch[31] != 0.25 {
			t.Errorf("Channel %d: expected 0.25, got %f", c, ch[0])
		}
	}

	a.Clear()
	a.Begin(13, 0)
	if err := p.ProcessBlock(a.Data()); !errors.Is(err, hosterr.Crashed) {
		t.Errorf("Expected Crashed, got %v", err)
	}
}

func TestPipelinedProcessor(t *testing.T) {
	s := spawn(t, helperConfig(""))
	if _, err := s.SendCommand(LoadPlugin("/fake.vst3")); err != nil {
		t.Fatal(err)
	}
	a := prepareArena(t, 64)
	p := NewPipelinedProcessor(s, 64, 0, 2)
	defer p.Close()

	a.Clear()
	a.Begin(64, 0)
	if err := p.ProcessBlock(a.Data()); err != nil {
		t.Fatalf("ProcessBlock failed: %v", err)
	}
	if a.OutputChannels()[0][0] != 0 {
		t.Error("First block has no output yet")
	}
	if p.Late() != 1 {
		t.Errorf("Expected 1 late block, got %d", p.Late())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		time.Sleep(5 * time.Millisecond)
		a.Clear()
		a.Begin(64, 0)
		if err := p.ProcessBlock(a.Data()); err != nil {
			t.Fatalf("ProcessBlock failed: %v", err)
		}
		if a.OutputChannels()[1][63] == 0.5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Pipelined output never arrived")
		}
	}
}

func TestPipelinedProcessorFailure(t *testing.T) {
	s := spawn(t, helperConfig(""))
	if _, err := s.SendCommand(LoadPlugin("/fake.vst3")); err != nil {
		t.Fatal(err)
	}
	a := prepareArena(t, 64)
	p := NewPipelinedProcessor(s, 64, 0, 2)
	defer p.Close()

	a.Clear()
	a.Begin(13, 0)
	p.ProcessBlock(a.Data())

	deadline := time.Now().Add(5 * time.Second)
	for {
		time.Sleep(5 * time.Millisecond)
		a.Clear()
		a.Begin(64, 0)
		err := p.ProcessBlock(a.Data())
		if errors.Is(err, hosterr.Crashed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Crash was never reported")
		}
	}
	if err := p.ProcessBlock(a.Data()); !errors.Is(err, hosterr.Crashed) {
		t.Errorf("Crash should be sticky, got %v", err)
	}
}
