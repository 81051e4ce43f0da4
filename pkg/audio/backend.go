// Package audio supplies the periodic process callback a sound device
// would. Backends never open hardware; they pace, batch or swallow blocks.
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justyntemme/vst3host/pkg/config"
	"github.com/justyntemme/vst3host/pkg/debug"
)

// ProcessFunc fills one interleaved output block. It runs on the backend's
// audio goroutine and must not block.
type ProcessFunc func(out []float32)

// Backend is a source of process callbacks
type Backend interface {
	Start(ctx context.Context) error
	Stop() error
	SetProcessCallback(fn ProcessFunc)
}

// Format describes the blocks a backend hands out
type Format struct {
	SampleRate float64
	BlockSize  int
	Channels   int
}

// Samples is the interleaved length of one block
func (f Format) Samples() int {
	return f.BlockSize * f.Channels
}

// Period is the wall-clock length of one block
func (f Format) Period() time.Duration {
	return time.Duration(float64(f.BlockSize) / f.SampleRate * float64(time.Second))
}

// Options for New
type Options struct {
	// Blocks limits an offline run; zero runs until Stop.
	Blocks int
	// Sink receives every block after the callback filled it.
	Sink   func(out []float32)
	Logger *debug.Logger
}

// New creates the backend named by cfg.Backend.
func New(cfg config.AudioConfig, opts Options) (Backend, error) {
	f := Format{SampleRate: cfg.SampleRate, BlockSize: cfg.BlockSize, Channels: cfg.OutputChannels}
	if f.SampleRate <= 0 || f.BlockSize <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio format %.0f Hz / %d frames / %d channels", f.SampleRate, f.BlockSize, f.Channels)
	}
	switch cfg.Backend {
	case config.BackendClock:
		return NewClock(f, opts), nil
	case config.BackendOffline:
		return NewOffline(f, opts), nil
	case config.BackendNull:
		return NewNull(), nil
	}
	return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
}

// runner is the goroutine bookkeeping shared by the clock and offline
// backends.
type runner struct {
	format Format
	sink   func([]float32)
	log    *debug.Logger

	cb atomic.Pointer[ProcessFunc]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	callbacks atomic.Uint64
}

func newRunner(f Format, opts Options) runner {
	return runner{format: f, sink: opts.Sink, log: debug.OrDefault(opts.Logger)}
}

// SetProcessCallback installs fn. It may be called while running.
func (r *runner) SetProcessCallback(fn ProcessFunc) {
	if fn == nil {
		r.cb.Store(nil)
		return
	}
	r.cb.Store(&fn)
}

// Callbacks counts the blocks handed out so far
func (r *runner) Callbacks() uint64 {
	return r.callbacks.Load()
}

// Format returns the block format
func (r *runner) Format() Format {
	return r.format
}

func (r *runner) start(ctx context.Context, loop func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		select {
		case <-r.done:
			// A finished offline run may be started again.
			r.cancel()
		default:
			return fmt.Errorf("audio backend already running")
		}
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.running = true

	done := r.done
	go func() {
		defer close(done)
		loop(ctx)
	}()
	return nil
}

// Stop ends the run and waits for the last callback to return.
func (r *runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Done is closed when the current run ends, or nil before the first Start.
func (r *runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// tick fills buf through the callback, or with silence when none is set.
func (r *runner) tick(buf []float32) {
	if fn := r.cb.Load(); fn != nil {
		(*fn)(buf)
	} else {
		clear(buf)
	}
	r.callbacks.Add(1)
	if r.sink != nil {
		r.sink(buf)
	}
}

// ClockBackend calls back once per block period, like a device would.
type ClockBackend struct {
	runner
	overruns atomic.Uint64
}

// NewClock creates a ticker-paced backend
func NewClock(f Format, opts Options) *ClockBackend {
	return &ClockBackend{runner: newRunner(f, opts)}
}

// Start begins calling back every period until ctx ends or Stop is called.
func (c *ClockBackend) Start(ctx context.Context) error {
	return c.start(ctx, c.loop)
}

// Overruns counts callbacks that took longer than one period
func (c *ClockBackend) Overruns() uint64 {
	return c.overruns.Load()
}

func (c *ClockBackend) loop(ctx context.Context) {
	period := c.format.Period()
	buf := make([]float32, c.format.Samples())
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	c.log.Debug("clock backend running: %v per block", period)
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("clock backend stopped after %d blocks", c.Callbacks())
			return
		case <-ticker.C:
			start := time.Now()
			c.tick(buf)
			if time.Since(start) > period {
				c.overruns.Add(1)
			}
		}
	}
}

// OfflineBackend calls back as fast as the callback returns.
type OfflineBackend struct {
	runner
	blocks int
}

// NewOffline creates a backend that runs opts.Blocks blocks, or runs until
// stopped when opts.Blocks is zero.
func NewOffline(f Format, opts Options) *OfflineBackend {
	return &OfflineBackend{runner: newRunner(f, opts), blocks: opts.Blocks}
}

// Start begins the run. Done is closed once the block count is reached.
func (o *OfflineBackend) Start(ctx context.Context) error {
	return o.start(ctx, o.loop)
}

func (o *OfflineBackend) loop(ctx context.Context) {
	buf := make([]float32, o.format.Samples())
	for i := 0; o.blocks <= 0 || i < o.blocks; i++ {
		if ctx.Err() != nil {
			return
		}
		o.tick(buf)
	}
	o.log.Debug("offline backend finished %d blocks", o.blocks)
}

// NullBackend never calls back
type NullBackend struct {
	running atomic.Bool
}

// NewNull creates a backend that only tracks whether it was started
func NewNull() *NullBackend {
	return &NullBackend{}
}

// Start implements Backend
func (n *NullBackend) Start(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return fmt.Errorf("audio backend already running")
	}
	return nil
}

// Stop implements Backend
func (n *NullBackend) Stop() error {
	n.running.Store(false)
	return nil
}

// SetProcessCallback implements Backend
func (n *NullBackend) SetProcessCallback(fn ProcessFunc) {}

// Running reports whether Start was called without Stop
func (n *NullBackend) Running() bool {
	return n.running.Load()
}
