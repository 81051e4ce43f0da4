// Package preset captures and restores a plugin's parameters and state.
package preset

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justyntemme/vst3host/pkg/host"
	"github.com/justyntemme/vst3host/pkg/hosterr"
)

// Version is the preset format written by Encode
const Version = 1

// Preset is a snapshot of one plugin
type Preset struct {
	Version    int       `msgpack:"version"`
	Name       string    `msgpack:"name"`
	Plugin     string    `msgpack:"plugin"`
	Vendor     string    `msgpack:"vendor"`
	UID        string    `msgpack:"uid,omitempty"`
	Created    time.Time `msgpack:"created"`
	Parameters []Value   `msgpack:"parameters"`
	// State is the component's opaque blob. Isolated plugins have none.
	State []byte `msgpack:"state,omitempty"`
}

// Value is one normalized parameter value
type Value struct {
	ID    uint32  `msgpack:"id"`
	Name  string  `msgpack:"name"`
	Value float64 `msgpack:"value"`
}

// Capture records the current parameter values and, when the plugin
// supports it, its state.
func Capture(p *host.Plugin, name string) (*Preset, error) {
	info := p.Info()
	pr := &Preset{
		Version: Version,
		Name:    name,
		Plugin:  info.Name,
		Vendor:  info.Vendor,
		UID:     info.UID,
		Created: time.Now().UTC(),
	}
	for _, param := range p.Parameters() {
		v, err := p.GetParameter(param.ID)
		if err != nil {
			return nil, fmt.Errorf("capture %q: %w", param.Name, err)
		}
		pr.Parameters = append(pr.Parameters, Value{ID: param.ID, Name: param.Name, Value: v})
	}

	state, err := p.SaveState()
	switch {
	case err == nil:
		pr.State = state
	case hosterr.IsKind(err, hosterr.KindInterfaceMissing):
	default:
		return nil, err
	}
	return pr, nil
}

// Apply restores pr on p. The state goes first so the parameter values
// win. Parameters the plugin no longer has are skipped.
func Apply(p *host.Plugin, pr *Preset) error {
	info := p.Info()
	if pr.Plugin != info.Name || pr.Vendor != info.Vendor {
		return hosterr.Newf(hosterr.KindInvalidParameter, "preset.apply", "preset is for %s by %s, not %s by %s", pr.Plugin, pr.Vendor, info.Name, info.Vendor)
	}
	if len(pr.State) > 0 && !p.Isolated() {
		if err := p.LoadState(pr.State); err != nil {
			return err
		}
	}
	for _, v := range pr.Parameters {
		param, err := p.Parameter(v.ID)
		if err != nil || param.IsReadOnly() {
			continue
		}
		if err := p.SetParameter(v.ID, v.Value); err != nil {
			return fmt.Errorf("apply %q: %w", v.Name, err)
		}
	}
	return nil
}

// Encode writes pr in msgpack
func Encode(w io.Writer, pr *Preset) error {
	return msgpack.NewEncoder(w).Encode(pr)
}

// Decode reads a preset written by Encode
func Decode(r io.Reader) (*Preset, error) {
	var pr Preset
	if err := msgpack.NewDecoder(r).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode preset: %w", err)
	}
	if pr.Version < 1 || pr.Version > Version {
		return nil, fmt.Errorf("unsupported preset version %d", pr.Version)
	}
	return &pr, nil
}

// Save writes pr to path
func Save(path string, pr *Preset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, pr); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a preset from path
func Load(path string) (*Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
