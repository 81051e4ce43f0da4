package host

import (
	"context"
	"strconv"

	"github.com/justyntemme/vst3host/pkg/arena"
	"github.com/justyntemme/vst3host/pkg/bridge"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/discovery"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/isolation"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

func (h *Host) loadIsolated(ctx context.Context, path string, log *debug.Logger) (*Plugin, error) {
	iso := h.cfg.Isolation
	args := append([]string(nil), h.helperArgs...)
	args = append(args,
		"-sample-rate", strconv.FormatFloat(h.cfg.Audio.SampleRate, 'f', -1, 64),
		"-block-size", strconv.Itoa(h.cfg.Audio.BlockSize))

	s, err := isolation.Spawn(ctx, isolation.Config{
		HelperPath:      iso.HelperPath,
		Args:            args,
		Env:             h.helperEnv,
		ResponseTimeout: iso.ResponseTimeout,
		ShutdownTimeout: iso.ShutdownTimeout,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}
	p := newPlugin(h, path, log)
	p.session = s

	resp, err := s.SendCommand(isolation.LoadPlugin(path))
	if err == nil {
		err = resp.Err()
	}
	if err == nil && resp.Kind != isolation.RespPluginInfo {
		err = hosterr.Newf(hosterr.KindIpcError, "host.load", "unexpected %s reply", resp.Kind)
	}
	if err != nil {
		s.Shutdown()
		if !hosterr.IsKind(err, hosterr.KindIpcError) {
			err = hosterr.Wrap(hosterr.KindLoadFailed, "host.load", err)
		}
		return nil, err
	}

	p.info = infoFromRemote(path, resp.Info)
	p.setParameters(fromRemote(resp.Info.Parameters))
	if err := p.configureRemote(); err != nil {
		s.Shutdown()
		return nil, err
	}
	p.newBridge()
	log.Info("loaded %s by %s in session %s", p.info.Name, p.info.Vendor, s.ID())
	return p, nil
}

func infoFromRemote(path string, ri isolation.PluginInfo) discovery.Info {
	info := discovery.Info{
		Path:           path,
		Name:           ri.Name,
		Vendor:         ri.Vendor,
		Version:        ri.Version,
		Category:       ri.Category,
		InputChannels:  ri.AudioInputs,
		OutputChannels: ri.AudioOutputs,
		HasMIDIInput:   ri.HasMIDIInput,
		HasGUI:         ri.HasGUI,
	}
	if ri.AudioInputs > 0 {
		info.AudioInputs = 1
	}
	if ri.AudioOutputs > 0 {
		info.AudioOutputs = 1
	}
	return info
}

// remoteBuses presents the helper's channels as one bus per direction, the
// layout the process command carries.
type remoteBuses struct {
	in, out int32
}

func (r remoteBuses) channels(dir vst3.BusDirection) int32 {
	if dir == vst3.BusDirectionInput {
		return r.in
	}
	return r.out
}

func (r remoteBuses) GetBusCount(mediaType vst3.MediaType, dir vst3.BusDirection) int32 {
	if mediaType != vst3.MediaTypeAudio || r.channels(dir) == 0 {
		return 0
	}
	return 1
}

func (r remoteBuses) GetBusInfo(mediaType vst3.MediaType, dir vst3.BusDirection, index int32, info *vst3.BusInfo) vst3.Result {
	if r.GetBusCount(mediaType, dir) == 0 || index != 0 {
		return vst3.ResultInvalidArgument
	}
	*info = vst3.BusInfo{
		MediaType:    mediaType,
		Direction:    dir,
		ChannelCount: r.channels(dir),
		Name:         "remote",
		BusType:      vst3.BusTypeMain,
		Flags:        vst3.BusDefaultActive,
	}
	return vst3.ResultOK
}

// startRemote runs blocks through the helper. Realtime processing is
// pipelined and one block late; offline processing waits for each block.
func (p *Plugin) startRemote() error {
	if !p.session.Alive() {
		return hosterr.New(hosterr.KindIpcError, "plugin.start", "helper process is gone")
	}
	buses := remoteBuses{in: p.info.InputChannels, out: p.info.OutputChannels}
	a, err := arena.Prepare(buses, p.arenaConfig())
	if err != nil {
		return hosterr.Wrap(hosterr.KindProcessingError, "plugin.start", err)
	}

	var proc bridge.Processor
	if p.processMode == vst3.ProcessModeOffline {
		proc = isolation.NewRemoteProcessor(p.session)
	} else {
		p.pipeline = isolation.NewPipelinedProcessor(p.session, p.blockSize, int(buses.in), int(buses.out))
		proc = p.pipeline
	}
	if err := p.bridge.Activate(a, proc); err != nil {
		a.Release()
		if p.pipeline != nil {
			p.pipeline.Close()
			p.pipeline = nil
		}
		return err
	}
	return nil
}

func (p *Plugin) configureRemote() error {
	return p.remoteCommand(isolation.Configure(p.sampleRate, p.blockSize))
}

func (p *Plugin) remoteCommand(cmd isolation.Command) error {
	resp, err := p.session.SendCommand(cmd)
	if err != nil {
		return err
	}
	return resp.Err()
}

func (p *Plugin) sendRemoteEvent(e vst3.Event) error {
	return isolation.NewRemoteProcessor(p.session).SendEvent(e)
}
