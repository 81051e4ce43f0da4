// Package render runs a plugin faster than real time into a buffer.
package render

import (
	"sort"

	"github.com/go-audio/audio"

	"github.com/justyntemme/vst3host/pkg/crash"
	"github.com/justyntemme/vst3host/pkg/host"
	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// Event is a host event scheduled at an absolute frame of the render
type Event struct {
	Frame int64
	Event vst3.Event
}

// At schedules e at frame
func At(frame int64, e vst3.Event) Event {
	return Event{Frame: frame, Event: e}
}

// Render processes frames of output with events delivered at their frames.
// The plugin is switched to offline mode for the run and restored after.
// When a block crashes the frames rendered so far are returned along with
// a Crashed error.
func Render(p *host.Plugin, frames int, events []Event) (*audio.Float32Buffer, error) {
	return run(p, frames, events, nil)
}

// Effect runs in through the plugin. The input's channel count must match
// the plugin's configured inputs.
func Effect(p *host.Plugin, in *audio.Float32Buffer, events []Event) (*audio.Float32Buffer, error) {
	if in == nil || in.Format == nil {
		return nil, hosterr.New(hosterr.KindInvalidParameter, "render.effect", "input has no format")
	}
	if want := p.Bridge().InputChannels(); in.Format.NumChannels != want {
		return nil, hosterr.Newf(hosterr.KindInvalidParameter, "render.effect", "input has %d channels, plugin takes %d", in.Format.NumChannels, want)
	}
	return run(p, in.NumFrames(), events, in.Data)
}

func run(p *host.Plugin, frames int, events []Event, input []float32) (*audio.Float32Buffer, error) {
	if frames < 0 {
		return nil, hosterr.Newf(hosterr.KindInvalidParameter, "render", "negative frame count %d", frames)
	}

	mode := p.ProcessMode()
	if err := p.SetProcessMode(vst3.ProcessModeOffline); err != nil {
		return nil, err
	}
	defer p.SetProcessMode(mode)
	if err := p.StartProcessing(); err != nil {
		return nil, err
	}

	sampleRate, blockSize := p.Format()
	channels := p.Bridge().Channels()
	inChannels := p.Bridge().InputChannels()
	buf := &audio.Float32Buffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: int(sampleRate)},
		Data:           make([]float32, frames*channels),
		SourceBitDepth: 32,
	}

	pending := append([]Event(nil), events...)
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Frame < pending[j].Frame })

	var in []float32
	if input != nil && inChannels > 0 {
		in = make([]float32, blockSize*inChannels)
	}
	for pos := 0; pos < frames; pos += blockSize {
		n := min(blockSize, frames-pos)
		for len(pending) > 0 && pending[0].Frame < int64(pos+n) {
			e := pending[0].Event
			e.SampleOffset = int32(max(pending[0].Frame-int64(pos), 0))
			if err := p.QueueEvent(e); err != nil {
				return buf, err
			}
			pending = pending[1:]
		}

		out := buf.Data[pos*channels : (pos+n)*channels]
		var ok bool
		if in != nil {
			chunk := in[:n*inChannels]
			clear(chunk)
			copy(chunk, input[min(pos*inChannels, len(input)):])
			ok = p.ProcessInterleaved(chunk, out)
		} else {
			ok = p.ProcessAudio(out)
		}
		if !ok {
			if st := p.Status().Health; st.State == crash.StateCrashed {
				buf.Data = buf.Data[:pos*channels]
				return buf, hosterr.Newf(hosterr.KindCrashed, "render", "crashed at frame %d: %s", pos, st.Reason)
			}
			return buf, hosterr.Newf(hosterr.KindProcessingError, "render", "block at frame %d was not processed", pos)
		}
	}
	return buf, nil
}

// Peak returns the largest absolute sample of b
func Peak(b *audio.Float32Buffer) float32 {
	var m float32
	for _, s := range b.Data {
		if s < 0 {
			s = -s
		}
		m = max(m, s)
	}
	return m
}
