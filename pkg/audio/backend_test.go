package audio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justyntemme/vst3host/pkg/config"
	"github.com/justyntemme/vst3host/pkg/debug"
)

var testFormat = Format{SampleRate: 44100, BlockSize: 64, Channels: 2}

func TestFormat(t *testing.T) {
	if got := testFormat.Samples(); got != 128 {
		t.Errorf("Expected 128 samples, got %d", got)
	}
	f := Format{SampleRate: 48000, BlockSize: 480, Channels: 2}
	if got := f.Period(); got != 10*time.Millisecond {
		t.Errorf("Expected 10ms, got %v", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		backend string
		check   func(Backend) bool
	}{
		{config.BackendClock, func(b Backend) bool { _, ok := b.(*ClockBackend); return ok }},
		{config.BackendOffline, func(b Backend) bool { _, ok := b.(*OfflineBackend); return ok }},
		{config.BackendNull, func(b Backend) bool { _, ok := b.(*NullBackend); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.Default().Audio
			cfg.Backend = tt.backend
			b, err := New(cfg, Options{Logger: debug.Discard()})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !tt.check(b) {
				t.Errorf("Expected a %s backend, got %T", tt.backend, b)
			}
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		cfg := config.Default().Audio
		cfg.Backend = "alsa"
		if _, err := New(cfg, Options{}); err == nil {
			t.Error("Expected an error for an unknown backend")
		}
	})
	t.Run("BadFormat", func(t *testing.T) {
		cfg := config.Default().Audio
		cfg.OutputChannels = 0
		if _, err := New(cfg, Options{}); err == nil {
			t.Error("Expected an error for zero channels")
		}
	})
}

func TestOffline(t *testing.T) {
	var calls atomic.Int32
	var sunk atomic.Int32
	o := NewOffline(testFormat, Options{
		Blocks: 10,
		Sink: func(out []float32) {
			if out[0] == 1 {
				sunk.Add(1)
			}
		},
		Logger: debug.Discard(),
	})
	o.SetProcessCallback(func(out []float32) {
		if len(out) != testFormat.Samples() {
			t.Errorf("Expected %d samples, got %d", testFormat.Samples(), len(out))
		}
		out[0] = 1
		calls.Add(1)
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the offline run to finish")
	}
	if calls.Load() != 10 || o.Callbacks() != 10 {
		t.Errorf("Expected 10 callbacks, got %d/%d", calls.Load(), o.Callbacks())
	}
	if sunk.Load() != 10 {
		t.Errorf("Expected the sink to see 10 filled blocks, got %d", sunk.Load())
	}

	t.Run("Restart", func(t *testing.T) {
		if err := o.Start(context.Background()); err != nil {
			t.Fatalf("Expected a finished run to restart, got %v", err)
		}
		<-o.Done()
		o.Stop()
		if o.Callbacks() != 20 {
			t.Errorf("Expected 20 callbacks, got %d", o.Callbacks())
		}
	})
}

func TestOfflineUntilStopped(t *testing.T) {
	o := NewOffline(testFormat, Options{Logger: debug.Discard()})
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for o.Callbacks() < 100 {
		time.Sleep(time.Millisecond)
	}
	o.Stop()
	n := o.Callbacks()
	time.Sleep(10 * time.Millisecond)
	if o.Callbacks() != n {
		t.Error("Expected no callbacks after Stop")
	}
}

func TestClock(t *testing.T) {
	c := NewClock(testFormat, Options{Logger: debug.Discard()})
	var calls atomic.Int32
	c.SetProcessCallback(func(out []float32) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(ctx); err == nil {
		t.Error("Expected a second Start to fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 5 {
		t.Fatalf("Expected at least 5 callbacks, got %d", calls.Load())
	}

	c.Stop()
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != n {
		t.Error("Expected no callbacks after Stop")
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Expected a second Stop to be a no-op, got %v", err)
	}
}

func TestClockContextCancel(t *testing.T) {
	c := NewClock(testFormat, Options{Logger: debug.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected the clock to stop with its context")
	}
	c.Stop()
}

func TestSilenceWithoutCallback(t *testing.T) {
	var dirty atomic.Bool
	o := NewOffline(testFormat, Options{
		Blocks: 3,
		Sink: func(out []float32) {
			for _, s := range out {
				if s != 0 {
					dirty.Store(true)
				}
			}
		},
		Logger: debug.Discard(),
	})
	o.Start(context.Background())
	<-o.Done()
	if dirty.Load() {
		t.Error("Expected silence without a callback")
	}
}

func TestNull(t *testing.T) {
	n := NewNull()
	n.SetProcessCallback(func([]float32) { t.Error("Expected no callbacks") })
	if err := n.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !n.Running() {
		t.Error("Expected Running after Start")
	}
	if err := n.Start(context.Background()); err == nil {
		t.Error("Expected a second Start to fail")
	}
	n.Stop()
	if n.Running() {
		t.Error("Expected Running to clear after Stop")
	}
}
