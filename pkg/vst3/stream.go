package vst3

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
)

// Seek modes
const (
	SeekSet int32 = 0
	SeekCur int32 = 1
	SeekEnd int32 = 2
)

// IBStream is the byte stream used for component state
type IBStream interface {
	FUnknown
	Read(buffer []byte, numBytesRead *int32) Result
	Write(buffer []byte, numBytesWritten *int32) Result
	Seek(pos int64, mode int32, result *int64) Result
	Tell(pos *int64) Result
}

// MemoryStream is an in-memory IBStream. State blobs are opaque to the host.
type MemoryStream struct {
	RefCount
	mu  sync.Mutex
	buf []byte
	pos int64
}

// NewMemoryStream creates a stream positioned at the start of data
func NewMemoryStream(data []byte) *MemoryStream {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &MemoryStream{buf: buf}
}

// Bytes returns a copy of the stream contents
func (m *MemoryStream) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.buf))
	copy(out, m.buf)
	return out
}

// Read implements IBStream
func (m *MemoryStream) Read(buffer []byte, numBytesRead *int32) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	if m.pos < int64(len(m.buf)) {
		n = copy(buffer, m.buf[m.pos:])
	}
	m.pos += int64(n)
	if numBytesRead != nil {
		*numBytesRead = int32(n)
	}
	return ResultOK
}

// Write implements IBStream
func (m *MemoryStream) Write(buffer []byte, numBytesWritten *int32) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.pos + int64(len(buffer))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], buffer)
	m.pos = end
	if numBytesWritten != nil {
		*numBytesWritten = int32(len(buffer))
	}
	return ResultOK
}

// Seek implements IBStream
func (m *MemoryStream) Seek(pos int64, mode int32, result *int64) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next int64
	switch mode {
	case SeekSet:
		next = pos
	case SeekCur:
		next = m.pos + pos
	case SeekEnd:
		next = int64(len(m.buf)) + pos
	default:
		return ResultInvalidArgument
	}
	if next < 0 {
		return ResultInvalidArgument
	}
	m.pos = next
	if result != nil {
		*result = next
	}
	return ResultOK
}

// Tell implements IBStream
func (m *MemoryStream) Tell(pos *int64) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos == nil {
		return ResultInvalidArgument
	}
	*pos = m.pos
	return ResultOK
}

// StreamWrapper adds typed little-endian helpers on top of any IBStream
type StreamWrapper struct {
	stream IBStream
}

// NewStreamWrapper creates a wrapper for an IBStream
func NewStreamWrapper(stream IBStream) *StreamWrapper {
	if stream == nil {
		return nil
	}
	return &StreamWrapper{stream: stream}
}

// Read reads data from the stream
func (s *StreamWrapper) Read(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}
	var n int32
	if err := s.stream.Read(buffer, &n).Err(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return int(n), nil
}

// Write writes data to the stream
func (s *StreamWrapper) Write(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}
	var n int32
	if err := s.stream.Write(buffer, &n).Err(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// WriteInt32 writes an int32 to the stream
func (s *StreamWrapper) WriteInt32(value int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(value))
	_, err := s.Write(buf[:])
	return err
}

// ReadInt32 reads an int32 from the stream
func (s *StreamWrapper) ReadInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(s, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteFloat64 writes a float64 to the stream
func (s *StreamWrapper) WriteFloat64(value float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(value))
	_, err := s.Write(buf[:])
	return err
}

// ReadFloat64 reads a float64 from the stream
func (s *StreamWrapper) ReadFloat64() (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(s, buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

// WriteString writes a string to the stream with length prefix
func (s *StreamWrapper) WriteString(str string) error {
	if err := s.WriteInt32(int32(len(str))); err != nil {
		return err
	}
	if str != "" {
		_, err := s.Write([]byte(str))
		return err
	}
	return nil
}

// ReadString reads a string from the stream with length prefix
func (s *StreamWrapper) ReadString() (string, error) {
	length, err := s.ReadInt32()
	if err != nil {
		return "", err
	}
	if length <= 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(s, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadAll reads all remaining data from the stream
func (s *StreamWrapper) ReadAll() ([]byte, error) {
	var result []byte
	chunk := make([]byte, 4096)
	for {
		n, err := s.Read(chunk)
		result = append(result, chunk[:n]...)
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
