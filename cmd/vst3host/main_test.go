package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justyntemme/vst3host/pkg/bridge"
	"github.com/justyntemme/vst3host/pkg/builtin"
	"github.com/justyntemme/vst3host/pkg/config"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/host"
)

func loadSynth(t *testing.T) *host.Plugin {
	t.Helper()
	h, err := host.New(host.Options{Config: config.Default(), Logger: debug.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	p, err := h.LoadPlugin(context.Background(), "builtin:synth")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.5", 0.5},
		{"-6dB", -6},
		{"-6 dB", -6},
		{"3db", 3},
		{"-inf", -96},
		{"on", 1},
		{"Off", 0},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.in, tt.want, got)
		}
	}
	if _, err := parseValue("loud"); err == nil {
		t.Error("Expected an error for a non-number")
	}
}

func TestAssignments(t *testing.T) {
	var a assignments
	if err := a.Set("Gain"); err == nil {
		t.Error("Expected an error without '='")
	}
	if err := a.Set("Gain=-12dB"); err != nil {
		t.Fatal(err)
	}

	p := loadSynth(t)
	if err := applyAssignment(p, a[0]); err != nil {
		t.Fatalf("applyAssignment: %v", err)
	}
	pr, _ := p.Parameter(builtin.SynthGain)
	if got := pr.Plain(); got < -12.001 || got > -11.999 {
		t.Errorf("Expected -12 dB, got %v", got)
	}
	if err := applyAssignment(p, "Cutoff=100"); err == nil {
		t.Error("Expected an error for an unknown parameter")
	}
}

func TestParseAutomation(t *testing.T) {
	p := loadSynth(t)
	a, err := parseAutomation(p, []string{"Gain=0:0.2, 1:0.8/exp/loop", "attack=0:0.1"})
	if err != nil {
		t.Fatalf("parseAutomation: %v", err)
	}
	ids := a.Lanes()
	if len(ids) != 2 || ids[0] != builtin.SynthGain || ids[1] != builtin.SynthAttack {
		t.Errorf("Expected Gain and Attack lanes, got %v", ids)
	}
	if err := p.SetAutomation(a); err != nil {
		t.Errorf("SetAutomation: %v", err)
	}

	for _, bad := range []string{"Cutoff=0:1", "Gain=0", "Gain=0:x", "Gain=0:0/sine"} {
		if _, err := parseAutomation(p, []string{bad}); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

func TestMeterBar(t *testing.T) {
	tests := []struct {
		name  string
		level bridge.ChannelLevel
		fill  int
	}{
		{"silent", bridge.ChannelLevel{}, 0},
		{"full", bridge.ChannelLevel{Peak: 1, Hold: 1}, 20},
		{"floor", bridge.ChannelLevel{Peak: 0.001, Hold: 0.001}, 0},
		{"half", bridge.ChannelLevel{Peak: math.Pow(10, -1.5), Hold: math.Pow(10, -1.5)}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := meterBar(tt.level, 20)
			if n := utf8.RuneCountInString(bar); n != 20 {
				t.Fatalf("Expected 20 cells, got %d", n)
			}
			if got := strings.Count(bar, "█"); got != tt.fill {
				t.Errorf("Expected %d filled cells, got %d", tt.fill, got)
			}
		})
	}

	bar := meterBar(bridge.ChannelLevel{Peak: 0.01, Hold: 1}, 20)
	if !strings.HasSuffix(bar, "|") {
		t.Errorf("Expected the hold marker at the end, got %q", bar)
	}
}

func TestStatusLine(t *testing.T) {
	s := statusLine(host.Status{Blocks: 10, Crashes: 1, Isolated: true, Late: 2, Processing: true})
	for _, want := range []string{"blocks 10", "crashes 1", "late 2", "stopped"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected %q in %q", want, s)
		}
	}
	if channelName(1, 2) != "R" || channelName(2, 6) != "3" {
		t.Error("Unexpected channel names")
	}
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestMonitor(t *testing.T) {
	p := loadSynth(t)
	if err := p.StartProcessing(); err != nil {
		t.Fatal(err)
	}
	var model tea.Model = newMonitor(p)

	model, _ = model.Update(key(" "))
	if p.Bridge().PendingEvents() != 1 {
		t.Errorf("Expected a queued note, got %d events", p.Bridge().PendingEvents())
	}
	if !model.(monitor).noteOn {
		t.Error("Expected the note to be held")
	}

	model, _ = model.Update(key("j"))
	model, _ = model.Update(key("l"))
	if v, _ := p.GetParameter(builtin.SynthAttack); v < 0.05 {
		t.Errorf("Expected Attack to be raised, got %v", v)
	}

	model, _ = model.Update(key("c"))
	if m := model.(monitor); m.message != "meters reset" || p.Bridge().Clipping() {
		t.Errorf("Expected the meters to be reset, got %q", m.message)
	}

	model, _ = model.Update(key("x"))
	if m := model.(monitor); m.noteOn || m.message != "all notes off" {
		t.Errorf("Expected panic to release the note, got %+v", m.message)
	}

	view := model.View()
	for _, want := range []string{"synth", "in process", "Gain", "Attack", "Release"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected %q in the view", want)
		}
	}

	model, cmd := model.Update(key("q"))
	if cmd == nil || model.View() != "" {
		t.Error("Expected q to quit")
	}
}

func TestRenderToFile(t *testing.T) {
	p := loadSynth(t)
	path := filepath.Join(t.TempDir(), "out.f32")
	if err := renderToFile(p, path, 0.1); err != nil {
		t.Fatalf("renderToFile: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(4410 * 2 * 4); st.Size() != want {
		t.Errorf("Expected %d bytes, got %d", want, st.Size())
	}
}
