package host

import (
	"github.com/justyntemme/vst3host/pkg/arena"
	"github.com/justyntemme/vst3host/pkg/bridge"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/midi"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// StartProcessing sets the component up for the current format, activates
// it and attaches it to the bridge. It does nothing when already running.
func (p *Plugin) StartProcessing() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked()
}

// StopProcessing detaches the component from the bridge and deactivates it.
func (p *Plugin) StopProcessing() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

// IsProcessing reports whether StartProcessing is in effect
func (p *Plugin) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

func (p *Plugin) startLocked() error {
	if p.closed {
		return hosterr.New(hosterr.KindNotFound, "plugin.start", "plugin is closed")
	}
	if p.processing {
		return nil
	}

	var err error
	if p.session != nil {
		err = p.startRemote()
	} else {
		err = guard("plugin.start", p.startLocal)
	}
	if err != nil {
		return err
	}
	p.processing = true
	p.log.Debug("processing started: %.0f Hz, %d frames", p.sampleRate, p.blockSize)
	return nil
}

func (p *Plugin) arenaConfig() arena.Config {
	return arena.Config{
		BlockSize:   p.blockSize,
		ProcessMode: p.processMode,
		Transport:   p.bridge.Transport(),
		Adapters:    arena.Adapters{Monitor: p.monitor},
		Logger:      p.log,
		AudioLog:    p.bridge.AudioLog(),
	}
}

func (p *Plugin) startLocal() error {
	comp := p.component.Get()
	proc := p.processor

	if proc.CanProcessSampleSize(vst3.SampleSize32) != vst3.ResultOK {
		return hosterr.New(hosterr.KindProcessingError, "plugin.start", "32-bit float processing not supported")
	}
	setup := vst3.ProcessSetup{
		ProcessMode:        p.processMode,
		SymbolicSampleSize: vst3.SampleSize32,
		MaxSamplesPerBlock: int32(p.blockSize),
		SampleRate:         p.sampleRate,
	}
	if r := proc.SetupProcessing(&setup); r != vst3.ResultOK {
		return hosterr.Newf(hosterr.KindProcessingError, "plugin.start", "setup processing: %s", r)
	}
	for _, dir := range []vst3.BusDirection{vst3.BusDirectionInput, vst3.BusDirectionOutput} {
		for _, mt := range []vst3.MediaType{vst3.MediaTypeAudio, vst3.MediaTypeEvent} {
			for i := int32(0); i < comp.GetBusCount(mt, dir); i++ {
				comp.ActivateBus(mt, dir, i, true)
			}
		}
	}
	if r := comp.SetActive(true); r != vst3.ResultOK {
		return hosterr.Newf(hosterr.KindProcessingError, "plugin.start", "activate: %s", r)
	}

	a, err := arena.Prepare(comp, p.arenaConfig())
	if err != nil {
		comp.SetActive(false)
		return hosterr.Wrap(hosterr.KindProcessingError, "plugin.start", err)
	}
	// Not every component implements SetProcessing.
	if r := proc.SetProcessing(true); r != vst3.ResultOK && r != vst3.ResultNotImplemented {
		a.Release()
		comp.SetActive(false)
		return hosterr.Newf(hosterr.KindProcessingError, "plugin.start", "set processing: %s", r)
	}
	return p.bridge.Activate(a, bridge.Direct{Processor: proc})
}

func (p *Plugin) stopLocked() {
	if !p.processing {
		return
	}
	a := p.bridge.Deactivate()
	if p.pipeline != nil {
		p.pipeline.Close()
		p.pipeline = nil
	}
	if p.session == nil {
		proc, comp := p.processor, p.component.Get()
		p.safely("processor.SetProcessing", func() { proc.SetProcessing(false) })
		p.safely("component.SetActive", func() { comp.SetActive(false) })
	}
	a.Release()
	p.processing = false
	p.log.Debug("processing stopped")
}

// Reconfigure changes sample rate and block size. A running plugin is
// stopped and restarted around the change.
func (p *Plugin) Reconfigure(sampleRate float64, blockSize int) error {
	if sampleRate <= 0 || blockSize <= 0 {
		return hosterr.Newf(hosterr.KindInvalidParameter, "plugin.reconfigure", "invalid format %.0f Hz / %d frames", sampleRate, blockSize)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return hosterr.New(hosterr.KindNotFound, "plugin.reconfigure", "plugin is closed")
	}

	was := p.processing
	p.stopLocked()
	p.sampleRate = sampleRate
	p.blockSize = blockSize
	p.bridge.Transport().SetSampleRate(sampleRate)
	if p.session != nil {
		if err := p.configureRemote(); err != nil {
			return err
		}
	}
	if was {
		return p.startLocked()
	}
	return nil
}

// SetProcessMode switches between realtime and offline processing. Offline
// isolated plugins wait for every block instead of running one block late.
func (p *Plugin) SetProcessMode(mode int32) error {
	switch mode {
	case vst3.ProcessModeRealtime, vst3.ProcessModePrefetch, vst3.ProcessModeOffline:
	default:
		return hosterr.Newf(hosterr.KindInvalidParameter, "plugin.mode", "unknown process mode %d", mode)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processMode == mode {
		return nil
	}
	was := p.processing
	p.stopLocked()
	p.processMode = mode
	if was {
		return p.startLocked()
	}
	return nil
}

// ProcessMode returns the mode set by SetProcessMode or the configuration
func (p *Plugin) ProcessMode() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processMode
}

// Format returns the current sample rate and block size
func (p *Plugin) Format() (float64, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleRate, p.blockSize
}

// ProcessAudio renders one callback of interleaved output. It never blocks.
func (p *Plugin) ProcessAudio(out []float32) bool {
	return p.bridge.ProcessAudio(out)
}

// ProcessInterleaved renders out from interleaved input. It never blocks.
func (p *Plugin) ProcessInterleaved(in, out []float32) bool {
	return p.bridge.ProcessInterleaved(in, out)
}

// Levels returns the output meters
func (p *Plugin) Levels() []bridge.ChannelLevel {
	return p.bridge.Levels()
}

// Reset clears a crash or timeout and resumes processing. It fails when
// the helper process of an isolated plugin is gone; such a plugin must be
// reloaded.
func (p *Plugin) Reset() bool {
	if p.session != nil && !p.session.Alive() {
		return false
	}
	ok := p.bridge.Reset()
	if ok {
		p.log.Info("processing reset")
	}
	return ok
}

// SendNoteOn queues a note-on for the next block
func (p *Plugin) SendNoteOn(channel, note, velocity uint8) error {
	if err := checkMIDI(channel, note, velocity); err != nil {
		return err
	}
	return p.sendEvent(midi.NoteOn(channel, note, velocity, 0))
}

// SendNoteOff queues a note-off for the next block
func (p *Plugin) SendNoteOff(channel, note, velocity uint8) error {
	if err := checkMIDI(channel, note, velocity); err != nil {
		return err
	}
	return p.sendEvent(midi.NoteOff(channel, note, velocity, 0))
}

// SendMIDI queues a raw three byte message
func (p *Plugin) SendMIDI(status, data1, data2 byte) error {
	e, ok := midi.FromBytes(status, data1, data2, 0)
	if !ok || status < 0x80 {
		return hosterr.Newf(hosterr.KindInvalidParameter, "plugin.midi", "invalid message %02X %02X %02X", status, data1, data2)
	}
	return p.sendEvent(e)
}

// QueueEvent queues a prepared event for the next block
func (p *Plugin) QueueEvent(e vst3.Event) error {
	return p.sendEvent(e)
}

// MIDIPanic silences every note on every channel
func (p *Plugin) MIDIPanic() error {
	for _, e := range midi.PanicEvents() {
		if err := p.sendEvent(e); err != nil {
			return err
		}
	}
	p.log.Info("midi panic sent")
	return nil
}

func checkMIDI(channel, note, velocity uint8) error {
	if channel >= midi.Channels || note > 127 || velocity > 127 {
		return hosterr.Newf(hosterr.KindInvalidParameter, "plugin.midi", "channel %d note %d velocity %d out of range", channel, note, velocity)
	}
	return nil
}

// sendEvent queues e on the bridge. An isolated plugin that is not
// processing gets the event right away since no block will carry it.
func (p *Plugin) sendEvent(e vst3.Event) error {
	p.mu.Lock()
	direct := p.session != nil && !p.processing
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return hosterr.New(hosterr.KindNotFound, "plugin.event", "plugin is closed")
	}
	if direct {
		return p.sendRemoteEvent(e)
	}
	if !p.bridge.QueueEvent(e) {
		return hosterr.New(hosterr.KindProcessingError, "plugin.event", "event queue full")
	}
	return nil
}
