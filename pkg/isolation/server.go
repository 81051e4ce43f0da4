package isolation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/justyntemme/vst3host/pkg/crash"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/hosterr"
)

// Engine is the component host living inside the child.
type Engine interface {
	Load(path string) (PluginInfo, error)
	Unload() error
	Configure(sampleRate float64, blockSize int) error
	// Process consumes interleaved input and returns frames of interleaved
	// output.
	Process(input []float32, frames int) ([]float32, error)
	SetParameter(id uint32, value float64) error
	GetParameter(id uint32) (float64, error)
	SendMIDI(status, data1, data2 byte) error
	CreateGUI() error
	CloseGUI() error
}

// Serve answers commands read from r on w until Shutdown, end of input or
// ctx is done. A panic inside the engine is answered with Crashed and the
// component is not called again until it is reloaded.
func Serve(ctx context.Context, r io.Reader, w io.Writer, engine Engine, log *debug.Logger) error {
	log = debug.OrDefault(log)
	reader := bufio.NewReaderSize(r, 64*1024)
	bw := bufio.NewWriter(w)
	s := &server{engine: engine, log: log}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("helper: input closed")
				return nil
			}
			return err
		}

		var cmd Command
		var resp Response
		if jerr := json.Unmarshal(line, &cmd); jerr != nil {
			log.Warn("helper: invalid command: %v", jerr)
			resp = Failure(fmt.Errorf("invalid command: %w", jerr))
		} else {
			resp = s.handle(cmd)
		}

		out, merr := encodeLine(resp)
		if merr != nil {
			out, _ = encodeLine(Failure(merr))
		}
		if _, werr := bw.Write(out); werr != nil {
			return werr
		}
		if werr := bw.Flush(); werr != nil {
			return werr
		}

		if cmd.Kind == CmdShutdown {
			log.Info("helper: shutting down")
			return nil
		}
		if err != nil {
			return nil
		}
	}
}

type server struct {
	engine  Engine
	log     *debug.Logger
	loaded  bool
	crashed string
}

func (s *server) handle(cmd Command) Response {
	switch cmd.Kind {
	case CmdShutdown:
		if s.loaded {
			s.guard(func() error { return s.engine.Unload() })
		}
		return Success("shutting down")
	case CmdLoadPlugin:
		if s.loaded {
			s.guard(func() error { return s.engine.Unload() })
			s.loaded = false
		}
		s.crashed = ""
		var info PluginInfo
		if resp, ok := s.guard(func() (err error) {
			info, err = s.engine.Load(cmd.Path)
			return err
		}); !ok {
			return resp
		}
		s.loaded = true
		return Response{Kind: RespPluginInfo, Info: info}
	case CmdUnloadPlugin:
		if !s.loaded {
			return Success("no plugin loaded")
		}
		s.loaded = false
		s.crashed = ""
		if resp, ok := s.guard(s.engine.Unload); !ok {
			return resp
		}
		return Success("plugin unloaded")
	}

	if !s.loaded {
		return Failure(hosterr.New(hosterr.KindNotFound, string(cmd.Kind), "no plugin loaded"))
	}
	if s.crashed != "" {
		return CrashedResponse(s.crashed)
	}

	switch cmd.Kind {
	case CmdProcess:
		var out []float32
		if resp, ok := s.guard(func() (err error) {
			out, err = s.engine.Process(cmd.AudioData, cmd.NumSamples)
			return err
		}); !ok {
			return resp
		}
		return AudioOutput(out)
	case CmdConfigure:
		return s.run(func() error { return s.engine.Configure(cmd.SampleRate, cmd.BlockSize) }, "configured")
	case CmdSetParameter:
		return s.run(func() error { return s.engine.SetParameter(cmd.ParamID, cmd.Value) }, "parameter set")
	case CmdGetParameter:
		var v float64
		if resp, ok := s.guard(func() (err error) {
			v, err = s.engine.GetParameter(cmd.ParamID)
			return err
		}); !ok {
			return resp
		}
		return Response{Kind: RespParameterValue, ParamID: cmd.ParamID, Value: v}
	case CmdSendMidi:
		return s.run(func() error { return s.engine.SendMIDI(cmd.Status, cmd.Data1, cmd.Data2) }, "midi queued")
	case CmdCreateGui:
		return s.run(s.engine.CreateGUI, "gui created")
	case CmdCloseGui:
		return s.run(s.engine.CloseGUI, "gui closed")
	}
	return Failure(fmt.Errorf("command %s not implemented", cmd.Kind))
}

func (s *server) run(f func() error, ok string) Response {
	if resp, good := s.guard(f); !good {
		return resp
	}
	return Success("%s", ok)
}

// guard calls f and converts a panic into a Crashed reply.
func (s *server) guard(f func() error) (Response, bool) {
	err, cerr := crash.Call(f)
	if cerr != nil {
		s.crashed = cerr.Error()
		s.log.Error("helper: %v", cerr)
		return CrashedResponse(s.crashed), false
	}
	if err != nil {
		// The engine caught the crash itself.
		if errors.Is(err, hosterr.Crashed) {
			s.crashed = err.Error()
			s.log.Error("helper: %v", err)
			return CrashedResponse(s.crashed), false
		}
		return Failure(err), false
	}
	return Response{}, true
}
