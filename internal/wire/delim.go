package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxMessageSize bounds a single delimited message. It fits a
// 1920x1080 rgb8 frame with room for padding.
const DefaultMaxMessageSize = 8 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds the reader limit.
var ErrFrameTooLarge = errors.New("message exceeds maximum size")

// WriteDelimited writes msg prefixed with its varint length.
func WriteDelimited(w io.Writer, msg []byte) error {
	buf := protowire.AppendVarint(make([]byte, 0, len(msg)+binaryVarintLen), uint64(len(msg)))
	buf = append(buf, msg...)
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

const binaryVarintLen = 10

// ReadDelimited reads one length-prefixed message. io.EOF is returned only
// when the stream ends cleanly between messages.
func ReadDelimited(r *bufio.Reader, maxSize int) ([]byte, error) {
	var prefix []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(prefix) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		prefix = append(prefix, c)
		if c < 0x80 {
			break
		}
		if len(prefix) >= binaryVarintLen {
			return nil, fmt.Errorf("invalid length prefix")
		}
	}

	size, n := protowire.ConsumeVarint(prefix)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	if maxSize > 0 && size > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxSize)
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(r, msg); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}

// WriteFrame encodes f and writes it as a delimited message.
func WriteFrame(w io.Writer, f *Frame) error {
	b, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	return WriteDelimited(w, b)
}

// ReadFrame reads and decodes one delimited Image message.
func ReadFrame(r *bufio.Reader, maxSize int) (*Frame, error) {
	b, err := ReadDelimited(r, maxSize)
	if err != nil {
		return nil, err
	}
	return UnmarshalFrame(b)
}
