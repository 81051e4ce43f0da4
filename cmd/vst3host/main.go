// Command vst3host loads one plugin and runs it against an audio backend,
// live or rendered offline.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // registers the MIDI driver

	"github.com/justyntemme/vst3host/pkg/audio"
	"github.com/justyntemme/vst3host/pkg/builtin"
	"github.com/justyntemme/vst3host/pkg/config"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/host"
	"github.com/justyntemme/vst3host/pkg/midi"
	"github.com/justyntemme/vst3host/pkg/preset"
	"github.com/justyntemme/vst3host/pkg/render"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// assignments collects repeated -set flags
type assignments []string

func (a *assignments) String() string { return strings.Join(*a, ",") }

func (a *assignments) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected name=value, got %q", v)
	}
	*a = append(*a, v)
	return nil
}

type options struct {
	configPath string
	plugin     string
	isolated   bool
	midiIn     string
	tui        bool
	renderPath string
	seconds    float64
	scan       bool
	listMIDI   bool
	presetIn   string
	presetOut  string
	sets       assignments
	automate   assignments
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&o.plugin, "plugin", "", "Bundle path or builtin:<name> (default: last used)")
	flag.BoolVar(&o.isolated, "isolated", false, "Host the plugin in a helper process")
	flag.StringVar(&o.midiIn, "midi-in", "", "MIDI input port to listen on (substring match)")
	flag.BoolVar(&o.tui, "tui", false, "Show the terminal monitor")
	flag.StringVar(&o.renderPath, "render", "", "Render offline to a raw float32 file instead of running live")
	flag.Float64Var(&o.seconds, "seconds", 2, "Length of an offline render")
	flag.BoolVar(&o.scan, "scan", false, "List the plugins found in the scan paths and exit")
	flag.BoolVar(&o.listMIDI, "list-midi", false, "List MIDI input ports and exit")
	flag.StringVar(&o.presetIn, "preset", "", "Apply a preset file after loading")
	flag.StringVar(&o.presetOut, "save-preset", "", "Save a preset file before exiting")
	flag.Var(&o.sets, "set", "Set a parameter, e.g. -set Gain=-6dB (repeatable)")
	flag.Var(&o.automate, "automate", "Automate a parameter, e.g. -automate Gain=0:0,2:1/exp/loop (repeatable)")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "vst3host: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	if o.isolated {
		cfg.Isolation.Enabled = true
	}
	if o.midiIn != "" {
		cfg.MIDI.InputPort = o.midiIn
	}
	if o.renderPath != "" {
		cfg.Audio.Backend = config.BackendOffline
	}

	if o.listMIDI {
		for _, name := range midi.InputPorts() {
			fmt.Println(name)
		}
		return nil
	}

	log, err := newLogger(cfg, o.tui)
	if err != nil {
		return err
	}

	prefsPath, err := config.PreferencesPath()
	if err != nil {
		return err
	}
	prefs, err := config.LoadPreferences(prefsPath)
	if err != nil {
		log.Warn("preferences: %v", err)
		prefs = config.DefaultPreferences()
	}

	h, err := host.New(host.Options{Config: cfg, Logger: log})
	if err != nil {
		return err
	}

	if o.scan {
		return scan(h, prefs.ScanPaths)
	}

	path := o.plugin
	if path == "" {
		path = prefs.LastPlugin
	}
	if path == "" {
		path = builtin.Scheme + "synth"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := h.LoadPlugin(ctx, path)
	if err != nil {
		return err
	}
	defer p.Close()

	prefs.LastPlugin = path
	if filepath.IsAbs(path) {
		prefs.AddScanPath(filepath.Dir(path))
	}
	if err := prefs.Save(prefsPath); err != nil {
		log.Warn("saving preferences: %v", err)
	}

	if o.presetIn != "" {
		pr, err := preset.Load(o.presetIn)
		if err != nil {
			return err
		}
		if err := preset.Apply(p, pr); err != nil {
			return err
		}
		log.Info("applied preset %q", pr.Name)
	}
	for _, a := range o.sets {
		if err := applyAssignment(p, a); err != nil {
			return err
		}
	}

	if len(o.automate) > 0 {
		a, err := parseAutomation(p, o.automate)
		if err != nil {
			return err
		}
		if err := p.SetAutomation(a); err != nil {
			return err
		}
	}

	if o.renderPath != "" {
		err = renderToFile(p, o.renderPath, o.seconds)
	} else {
		err = live(ctx, cfg, p, o.tui, log)
	}
	if err != nil {
		return err
	}

	if o.presetOut != "" {
		pr, err := preset.Capture(p, strings.TrimSuffix(filepath.Base(o.presetOut), filepath.Ext(o.presetOut)))
		if err != nil {
			return err
		}
		if err := preset.Save(o.presetOut, pr); err != nil {
			return err
		}
	}
	return nil
}

// newLogger writes to stderr, or to a file next to the preferences while
// the monitor owns the terminal.
func newLogger(cfg config.Config, tui bool) (*debug.Logger, error) {
	log := debug.New(os.Stderr, "", debug.DefaultFlags)
	if tui {
		dir, err := config.PreferencesDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		if log, err = debug.NewFileLogger(filepath.Join(dir, "vst3host.log"), "", debug.DefaultFlags); err != nil {
			return nil, err
		}
	}
	level, err := debug.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	return log, nil
}

func scan(h *host.Host, paths []string) error {
	results, err := h.Scan(paths)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%-50s  error: %v\n", r.Info.Path, r.Err)
			continue
		}
		i := r.Info
		fmt.Printf("%-50s  %s by %s %s  in:%d out:%d midi:%t gui:%t\n",
			i.Path, i.Name, i.Vendor, i.Version, i.InputChannels, i.OutputChannels, i.HasMIDIInput, i.HasGUI)
	}
	return nil
}

// applyAssignment handles one -set flag. Values ending in dB are read as
// decibels; others as plain numbers in the parameter's units.
func applyAssignment(p *host.Plugin, a string) error {
	name, value, _ := strings.Cut(a, "=")
	param, ok := p.FindParameter(strings.TrimSpace(name))
	if !ok {
		return fmt.Errorf("no parameter %q", name)
	}
	plain, err := parseValue(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return p.SetParameterPlain(param.ID, plain)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "on", "true":
		return 1, nil
	case "off", "false":
		return 0, nil
	}
	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, "db") {
		return builtin.ParseDecibel(s[:len(s)-2])
	}
	if strings.Contains(lower, "inf") {
		return builtin.ParseDecibel(s)
	}
	return strconv.ParseFloat(s, 64)
}

// parseAutomation builds one lane per -automate flag. A lane is
// name=time:value[,time:value...] with optional /curve and /loop suffixes;
// times are seconds and values normalized.
func parseAutomation(p *host.Plugin, specs []string) (*host.Automation, error) {
	var lanes []*host.Lane
	for _, spec := range specs {
		name, rest, _ := strings.Cut(spec, "=")
		param, ok := p.FindParameter(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("no parameter %q", name)
		}
		parts := strings.Split(rest, "/")
		lane := host.NewLane(param.ID)
		curve := host.CurveLinear
		for _, opt := range parts[1:] {
			if opt == "loop" {
				lane.Loop = true
				continue
			}
			c, err := host.ParseCurve(opt)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			curve = c
		}
		for _, pt := range strings.Split(parts[0], ",") {
			ts, vs, ok := strings.Cut(pt, ":")
			if !ok {
				return nil, fmt.Errorf("%s: expected time:value, got %q", name, pt)
			}
			at, err := strconv.ParseFloat(strings.TrimSpace(ts), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(vs), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			lane.Add(at, v, curve)
		}
		lanes = append(lanes, lane)
	}
	return host.NewAutomation(lanes...), nil
}

// renderToFile renders an offline run as interleaved little-endian float32.
// Instruments get a middle C held for half the length.
func renderToFile(p *host.Plugin, path string, seconds float64) error {
	sampleRate, _ := p.Format()
	frames := int(seconds * sampleRate)

	var events []render.Event
	if p.Info().HasMIDIInput {
		events = []render.Event{
			render.At(0, midi.NoteOn(0, 60, 100, 0)),
			render.At(int64(frames/2), midi.NoteOff(0, 60, 0, 0)),
		}
	}
	buf, err := render.Render(p, frames, events)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, buf.Data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("rendered %d frames x %d channels at %.0f Hz to %s, peak %.3f\n",
		buf.NumFrames(), buf.Format.NumChannels, sampleRate, path, render.Peak(buf))
	return nil
}

// live runs the plugin on the configured backend until ctx ends or the
// monitor quits.
func live(ctx context.Context, cfg config.Config, p *host.Plugin, tui bool, log *debug.Logger) error {
	backend, err := audio.New(cfg.Audio, audio.Options{Logger: log})
	if err != nil {
		return err
	}
	backend.SetProcessCallback(func(out []float32) {
		p.ProcessAudio(out)
	})

	if err := p.StartProcessing(); err != nil {
		return err
	}
	if port := cfg.MIDI.InputPort; port != "" {
		in, err := midi.OpenInput(port, func(e vst3.Event) {
			if err := p.QueueEvent(e); err != nil {
				log.Warn("midi: %v", err)
			}
		}, log)
		if err != nil {
			return err
		}
		defer in.Close()
	}

	p.Bridge().SetOutputSink(func(e vst3.Event) {
		if msg, ok := midi.ToMessage(e); ok {
			log.Debug("midi out: %s", msg)
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		drain := time.NewTicker(20 * time.Millisecond)
		defer drain.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.Edits():
				p.ApplyPendingEdits()
			case <-drain.C:
				p.Bridge().DrainOutput()
			}
		}
	}()

	if err := backend.Start(ctx); err != nil {
		return err
	}
	defer backend.Stop()

	if tui {
		_, err := tea.NewProgram(newMonitor(p), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Bridge().DrainLog()
			log.Info("stopping: %s", statusLine(p.Status()))
			return nil
		case <-ticker.C:
			p.Bridge().DrainLog()
			log.Info("%s", statusLine(p.Status()))
		}
	}
}
