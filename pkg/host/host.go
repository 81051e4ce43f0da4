// Package host loads components and drives their lifecycle, either inside
// this process or in an isolated helper process.
package host

import (
	"context"
	"fmt"
	"runtime"

	"github.com/justyntemme/vst3host/pkg/builtin"
	"github.com/justyntemme/vst3host/pkg/config"
	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/discovery"
	"github.com/justyntemme/vst3host/pkg/hosterr"
)

// Options configure a Host
type Options struct {
	Config config.Config
	// Loader opens modules for in-process hosting. Defaults to
	// DefaultLoader.
	Loader discovery.Loader
	Logger *debug.Logger

	// HelperArgs and HelperEnv are passed to every isolation helper in
	// addition to the format flags.
	HelperArgs []string
	HelperEnv  []string
}

// Host creates plugins according to its configuration
type Host struct {
	cfg    config.Config
	loader discovery.Loader
	log    *debug.Logger

	helperArgs []string
	helperEnv  []string

	// nativeChannels sizes each bridge to the component's own channel
	// counts instead of the configured device layout.
	nativeChannels bool
}

// DefaultLoader serves built-in components. Other paths are resolved to
// their binary and rejected, since this build has no native module loader.
func DefaultLoader() discovery.Loader {
	return discovery.LoaderFunc(func(path string) (discovery.Module, error) {
		if builtin.IsBuiltin(path) {
			m, err := builtin.Open(path)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
		bin, err := discovery.BinaryPath(path, runtime.GOOS)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return nil, hosterr.Newf(hosterr.KindLoadFailed, "host.open", "native module loading not supported: %s", bin)
	})
}

// New validates the configuration and creates a host.
func New(opts Options) (*Host, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, hosterr.Wrap(hosterr.KindInvalidParameter, "host.new", err)
	}
	h := &Host{
		cfg:        opts.Config,
		loader:     opts.Loader,
		log:        debug.OrDefault(opts.Logger),
		helperArgs: opts.HelperArgs,
		helperEnv:  opts.HelperEnv,
	}
	if h.loader == nil {
		h.loader = DefaultLoader()
	}
	return h, nil
}

// Config returns the host configuration
func (h *Host) Config() config.Config {
	return h.cfg
}

// Logger returns the host logger
func (h *Host) Logger() *debug.Logger {
	return h.log
}

// LoadPlugin loads path in process, or in a helper process when isolation
// is enabled. The plugin is configured but not processing.
func (h *Host) LoadPlugin(ctx context.Context, path string) (*Plugin, error) {
	if path == "" {
		return nil, hosterr.New(hosterr.KindNotFound, "host.load", "empty plugin path")
	}
	log := h.log.With("plugin", path)
	if h.cfg.Isolation.Enabled {
		log.Info("loading isolated")
		return h.loadIsolated(ctx, path, log)
	}
	log.Info("loading in process")
	return h.loadInProcess(path, log)
}

// Probe reads the metadata of path without processing
func (h *Host) Probe(path string) (discovery.Info, error) {
	return discovery.Probe(h.loader, path)
}

// ScanResult is one bundle found by Scan
type ScanResult struct {
	Info discovery.Info
	Err  error
}

// Scan lists the bundles in paths, or the standard locations when paths is
// empty, and probes each of them. A bundle that fails to probe is reported
// with its error instead of stopping the scan.
func (h *Host) Scan(paths []string) ([]ScanResult, error) {
	if len(paths) == 0 {
		paths = discovery.DefaultPaths(runtime.GOOS)
	}
	bundles, err := discovery.Scan(paths)
	if err != nil {
		return nil, err
	}
	results := make([]ScanResult, 0, len(bundles))
	for _, b := range bundles {
		info, err := h.Probe(b)
		if err != nil {
			h.log.Debug("scan: %s: %v", b, err)
			info.Path = b
		}
		results = append(results, ScanResult{Info: info, Err: err})
	}
	return results, nil
}
