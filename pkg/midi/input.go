package midi

import (
	"fmt"
	"strings"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/vst3"
)

// InputPorts lists the names of the available MIDI inputs. A driver must be
// registered by importing it, e.g. drivers/rtmididrv.
func InputPorts() []string {
	ports := gomidi.GetInPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names
}

// Input forwards messages from one MIDI input port as host events.
type Input struct {
	mu     sync.Mutex
	port   drivers.In
	stopFn func()
	log    *debug.Logger
}

// OpenInput opens the first input whose name contains name (case
// insensitive) and calls fn for each message. Events carry offset zero;
// they are placed at the start of the next block.
func OpenInput(name string, fn func(vst3.Event), log *debug.Logger) (*Input, error) {
	log = debug.OrDefault(log)

	var found drivers.In
	for _, in := range gomidi.GetInPorts() {
		if strings.Contains(strings.ToLower(in.String()), strings.ToLower(name)) {
			found = in
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("midi input %q not found", name)
	}

	in := &Input{port: found, log: log.With("port", found.String())}
	stop, err := gomidi.ListenTo(found, func(msg gomidi.Message, timestampms int32) {
		if e, ok := FromMessage(msg, 0); ok {
			fn(e)
		}
	}, gomidi.HandleError(func(err error) {
		in.log.Warn("midi input error: %v", err)
	}))
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", found, err)
	}
	in.stopFn = stop
	in.log.Info("midi input connected")
	return in, nil
}

// Name returns the port name
func (in *Input) Name() string {
	return in.port.String()
}

// Close stops listening and closes the port. Safe to call twice.
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.stopFn == nil {
		return nil
	}
	in.stopFn()
	in.stopFn = nil
	return in.port.Close()
}
