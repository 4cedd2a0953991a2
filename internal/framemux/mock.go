package framemux

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/banshee-data/lightpos/internal/wire"
)

// MockPort implements Porter for testing. Reads are served from a fixed
// buffer and writes are captured.
type MockPort struct {
	mu sync.Mutex

	reader  io.Reader
	written bytes.Buffer

	// WriteError is returned by the next Write call if set
	WriteError error

	// Closed indicates whether Close was called
	Closed bool
}

// NewMockPort returns a port whose reads yield data followed by io.EOF.
func NewMockPort(data []byte) *MockPort {
	return &MockPort{reader: bytes.NewReader(data)}
}

// Read reads from the fixed buffer.
func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.Closed
	p.mu.Unlock()
	if closed {
		return 0, errors.New("port closed")
	}
	return p.reader.Read(b)
}

// Write captures b, or fails with WriteError.
func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errors.New("port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	return p.written.Write(b)
}

// Close marks the port as closed.
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Written returns a copy of all data written to the port.
func (p *MockPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

// EncodeStream encodes frames as a delimited stream.
func EncodeStream(frames ...*wire.Frame) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range frames {
		if err := wire.WriteFrame(&buf, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// NewMockFrameMux creates a FrameMux whose port yields the given frames and
// then ends.
func NewMockFrameMux(frames ...*wire.Frame) (*FrameMux[*MockPort], *MockPort, error) {
	data, err := EncodeStream(frames...)
	if err != nil {
		return nil, nil, err
	}
	port := NewMockPort(data)
	return NewFrameMux(port, 0), port, nil
}
