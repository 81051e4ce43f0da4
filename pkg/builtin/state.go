package builtin

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	stateMagic   = "VST3GO"
	stateVersion = uint32(1)
)

// writeState stores every parameter followed by an optional extra blob:
// magic, version, count, then (id, normalized value) pairs, then the extra
// length and bytes. Everything is little endian.
func writeState(w io.Writer, reg *Registry, extra []byte) error {
	if _, err := io.WriteString(w, stateMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, stateVersion); err != nil {
		return err
	}
	params := reg.All()
	if err := binary.Write(w, binary.LittleEndian, int32(len(params))); err != nil {
		return err
	}
	for _, p := range params {
		if err := binary.Write(w, binary.LittleEndian, p.ID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, p.Value()); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(extra))); err != nil {
		return err
	}
	_, err := w.Write(extra)
	return err
}

// readState applies a blob written by writeState. Unknown parameter ids are
// skipped. The extra blob is returned.
func readState(r io.Reader, reg *Registry) ([]byte, error) {
	header := make([]byte, len(stateMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(header) != stateMagic {
		return nil, fmt.Errorf("invalid state format")
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version > stateVersion {
		return nil, fmt.Errorf("state version %d is newer than supported version %d", version, stateVersion)
	}

	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count < 0 || count > 1<<16 {
		return nil, fmt.Errorf("invalid parameter count %d", count)
	}
	for i := int32(0); i < count; i++ {
		var id uint32
		var value float64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
			return nil, err
		}
		if p := reg.Get(id); p != nil {
			p.SetValue(value)
		}
	}

	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > 1<<20 {
		return nil, fmt.Errorf("extra state too large: %d bytes", n)
	}
	extra := make([]byte, n)
	if _, err := io.ReadFull(r, extra); err != nil {
		return nil, err
	}
	return extra, nil
}
