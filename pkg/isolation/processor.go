package isolation

import (
	"sync"
	"sync/atomic"

	"github.com/justyntemme/vst3host/pkg/hosterr"
	"github.com/justyntemme/vst3host/pkg/midi"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// RemoteProcessor runs every block through the child and waits for the
// answer. A process round trip per block is not real-time safe; use it for
// offline work or wrap it in a PipelinedProcessor.
type RemoteProcessor struct {
	session *Session
	input   []float32
}

// NewRemoteProcessor processes through s
func NewRemoteProcessor(s *Session) *RemoteProcessor {
	return &RemoteProcessor{session: s}
}

// ProcessBlock sends pending events and parameter changes, then the block.
// Events reach the child without their sample offsets.
func (p *RemoteProcessor) ProcessBlock(data *vst3.ProcessData) error {
	frames := int(data.NumSamples)

	if ev := data.InputEvents; ev != nil {
		for i := int32(0); i < ev.GetEventCount(); i++ {
			var e vst3.Event
			if ev.GetEvent(i, &e) != vst3.ResultOK {
				continue
			}
			if err := p.sendEvent(&e); err != nil {
				return err
			}
		}
	}
	if pc := data.InputParameterChanges; pc != nil {
		for i := int32(0); i < pc.GetParameterCount(); i++ {
			id, v, ok := lastPoint(pc.GetParameterData(i))
			if !ok {
				continue
			}
			if err := p.sendParameter(id, v); err != nil {
				return err
			}
		}
	}

	p.input = interleave(p.input[:0], data.Inputs, frames)
	out, err := p.process(p.input, frames)
	if err != nil {
		return err
	}
	deinterleave(out, data.Outputs, frames)
	return nil
}

func (p *RemoteProcessor) process(input []float32, frames int) ([]float32, error) {
	resp, err := p.session.SendCommand(Process(input, frames))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if resp.Kind != RespAudioOutput {
		return nil, hosterr.Newf(hosterr.KindIpcError, "isolation.process", "unexpected %s reply", resp.Kind)
	}
	return resp.Data, nil
}

// SendEvent forwards one event right away, outside any block.
func (p *RemoteProcessor) SendEvent(e vst3.Event) error {
	return p.sendEvent(&e)
}

func (p *RemoteProcessor) sendEvent(e *vst3.Event) error {
	msg, ok := midi.ToMessage(*e)
	if !ok || len(msg) == 0 {
		return nil
	}
	var d1, d2 byte
	if len(msg) > 1 {
		d1 = msg[1]
	}
	if len(msg) > 2 {
		d2 = msg[2]
	}
	return p.expectSuccess(SendMidi(msg[0], d1, d2))
}

func (p *RemoteProcessor) sendParameter(id vst3.ParamID, v vst3.ParamValue) error {
	return p.expectSuccess(SetParameter(uint32(id), float64(v)))
}

func (p *RemoteProcessor) expectSuccess(cmd Command) error {
	resp, err := p.session.SendCommand(cmd)
	if err != nil {
		return err
	}
	return resp.Err()
}

func lastPoint(q vst3.IParamValueQueue) (vst3.ParamID, vst3.ParamValue, bool) {
	if q == nil || q.GetPointCount() == 0 {
		return 0, 0, false
	}
	var off int32
	var v vst3.ParamValue
	if q.GetPoint(q.GetPointCount()-1, &off, &v) != vst3.ResultOK {
		return 0, 0, false
	}
	return q.GetParameterID(), v, true
}

func channelCount(buses []vst3.AudioBusBuffers) int {
	n := 0
	for i := range buses {
		n += int(buses[i].NumChannels)
	}
	return n
}

// interleave appends frames of every bus channel, in bus order, to dst.
func interleave(dst []float32, buses []vst3.AudioBusBuffers, frames int) []float32 {
	channels := channelCount(buses)
	if channels == 0 {
		return dst
	}
	for f := 0; f < frames; f++ {
		for b := range buses {
			for c := 0; c < int(buses[b].NumChannels); c++ {
				ch := buses[b].Channel(c)
				if f < len(ch) {
					dst = append(dst, ch[f])
				} else {
					dst = append(dst, 0)
				}
			}
		}
	}
	return dst
}

// deinterleave spreads src over the bus channels. Missing samples stay
// silent.
func deinterleave(src []float32, buses []vst3.AudioBusBuffers, frames int) {
	channels := channelCount(buses)
	if channels == 0 {
		return
	}
	k := 0
	for b := range buses {
		for c := 0; c < int(buses[b].NumChannels); c++ {
			ch := buses[b].Channel(c)
			for f := 0; f < frames && f < len(ch); f++ {
				if i := f*channels + k; i < len(src) {
					ch[f] = src[i]
				}
			}
			k++
		}
	}
}

type paramPoint struct {
	id    vst3.ParamID
	value vst3.ParamValue
}

type job struct {
	input  []float32
	frames int
	events []vst3.Event
	params []paramPoint
	output []float32
	err    error
}

// pipelineDepth is the number of blocks in flight
const pipelineDepth = 2

// PipelinedProcessor hands blocks to a worker that talks to the child, so
// the audio thread never waits on the process boundary. Output is one block
// late; a block is silent when the worker has not finished in time.
type PipelinedProcessor struct {
	remote *RemoteProcessor

	free    chan *job
	pending chan *job
	done    chan *job
	stop    chan struct{}
	wg      sync.WaitGroup

	failure   atomic.Pointer[error]
	late      atomic.Uint64
	skipped   atomic.Uint64
	closeOnce sync.Once
}

// NewPipelinedProcessor starts the worker. Buffers are sized for
// blockSize frames of inChannels inputs and outChannels outputs.
func NewPipelinedProcessor(s *Session, blockSize, inChannels, outChannels int) *PipelinedProcessor {
	p := &PipelinedProcessor{
		remote:  NewRemoteProcessor(s),
		free:    make(chan *job, pipelineDepth),
		pending: make(chan *job, pipelineDepth),
		done:    make(chan *job, pipelineDepth),
		stop:    make(chan struct{}),
	}
	for i := 0; i < pipelineDepth; i++ {
		p.free <- &job{
			input:  make([]float32, 0, blockSize*inChannels),
			events: make([]vst3.Event, 0, 128),
			params: make([]paramPoint, 0, 64),
			output: make([]float32, 0, blockSize*outChannels),
		}
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

func (p *PipelinedProcessor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case j := <-p.pending:
			j.err = p.run(j)
			p.done <- j
		}
	}
}

func (p *PipelinedProcessor) run(j *job) error {
	for i := range j.events {
		if err := p.remote.sendEvent(&j.events[i]); err != nil {
			return err
		}
	}
	for _, pp := range j.params {
		if err := p.remote.sendParameter(pp.id, pp.value); err != nil {
			return err
		}
	}
	out, err := p.remote.process(j.input, j.frames)
	if err != nil {
		return err
	}
	j.output = append(j.output[:0], out...)
	return nil
}

// ProcessBlock writes the previous block's output and submits this one. It
// never blocks.
func (p *PipelinedProcessor) ProcessBlock(data *vst3.ProcessData) error {
	if errp := p.failure.Load(); errp != nil {
		return *errp
	}
	frames := int(data.NumSamples)

	var blockErr error
	select {
	case j := <-p.done:
		if j.err != nil {
			blockErr = j.err
			if hosterr.KindOf(j.err).Fatal() {
				err := j.err
				p.failure.Store(&err)
			}
		} else {
			deinterleave(j.output, data.Outputs, frames)
		}
		p.free <- j
	default:
		p.late.Add(1)
	}

	select {
	case j := <-p.free:
		p.fill(j, data, frames)
		p.pending <- j
	default:
		p.skipped.Add(1)
	}
	return blockErr
}

func (p *PipelinedProcessor) fill(j *job, data *vst3.ProcessData, frames int) {
	j.frames = frames
	j.err = nil
	j.input = interleave(j.input[:0], data.Inputs, frames)

	j.events = j.events[:0]
	if ev := data.InputEvents; ev != nil {
		n := int(ev.GetEventCount())
		for i := 0; i < n && len(j.events) < cap(j.events); i++ {
			j.events = j.events[:len(j.events)+1]
			if ev.GetEvent(int32(i), &j.events[len(j.events)-1]) != vst3.ResultOK {
				j.events = j.events[:len(j.events)-1]
			}
		}
	}

	j.params = j.params[:0]
	if pc := data.InputParameterChanges; pc != nil {
		for i := int32(0); i < pc.GetParameterCount() && len(j.params) < cap(j.params); i++ {
			if id, v, ok := lastPoint(pc.GetParameterData(i)); ok {
				j.params = append(j.params, paramPoint{id: id, value: v})
			}
		}
	}
}

// Late returns the number of blocks emitted silent because the worker had
// not finished.
func (p *PipelinedProcessor) Late() uint64 {
	return p.late.Load()
}

// Skipped returns the number of blocks not sent because every slot was busy.
func (p *PipelinedProcessor) Skipped() uint64 {
	return p.skipped.Load()
}

// Close stops the worker. The session stays open.
func (p *PipelinedProcessor) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
	})
}
