// Command vst3host-helper hosts one plugin for an isolated session. It
// speaks the isolation protocol on stdin and stdout and logs to stderr.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/justyntemme/vst3host/pkg/config"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/host"
	"github.com/justyntemme/vst3host/pkg/isolation"
)

func main() {
	os.Exit(run())
}

func run() int {
	sampleRate := flag.Float64("sample-rate", 44100, "Sample rate in Hz")
	blockSize := flag.Int("block-size", 512, "Maximum frames per block")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log := debug.New(os.Stderr, "[helper] ", debug.DefaultFlags)
	if lv, err := debug.ParseLevel(*level); err == nil {
		log.SetLevel(lv)
	}

	cfg := config.Default()
	cfg.Audio.SampleRate = *sampleRate
	cfg.Audio.BlockSize = *blockSize
	cfg.Audio.Backend = config.BackendNull
	h, err := host.New(host.Options{Config: cfg, Logger: log})
	if err != nil {
		log.Error("%v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := host.NewEngine(h)
	defer engine.Unload()

	log.Info("helper ready, pid %d", os.Getpid())
	if err := isolation.Serve(ctx, os.Stdin, os.Stdout, engine, log); err != nil {
		log.Error("serve: %v", err)
		return 1
	}
	return 0
}
