// Package wire encodes frames and centroids as protobuf messages without
// generated code. The layouts mirror sensor_msgs/Image and a 2D point topic so
// bridges can forward them verbatim:
//
//	Header   { int64 stamp_unix_nanos = 1; string frame_id = 2; uint32 seq = 3; }
//	Image    { Header header = 1; uint32 height = 2; uint32 width = 3;
//	           string encoding = 4; bool is_bigendian = 5; uint32 step = 6;
//	           bytes data = 7; }
//	Centroid { Header header = 1; sint64 x = 2; sint64 y = 3; bool found = 4;
//	           uint32 bright_count = 5; }
package wire

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/lightpos/internal/imaging"
)

// Header carries the per-message metadata.
type Header struct {
	Stamp   time.Time
	FrameID string
	Seq     uint32
}

// Frame is one image message.
type Frame struct {
	Header Header
	Image  *imaging.Image
}

// Centroid is one centroid message.
type Centroid struct {
	Header      Header
	Point       imaging.Point2
	Found       bool
	BrightCount int
}

var errTruncated = errors.New("truncated message")

func appendHeader(b []byte, h Header) []byte {
	var hb []byte
	if !h.Stamp.IsZero() {
		hb = protowire.AppendTag(hb, 1, protowire.VarintType)
		hb = protowire.AppendVarint(hb, uint64(h.Stamp.UnixNano()))
	}
	if h.FrameID != "" {
		hb = protowire.AppendTag(hb, 2, protowire.BytesType)
		hb = protowire.AppendString(hb, h.FrameID)
	}
	if h.Seq != 0 {
		hb = protowire.AppendTag(hb, 3, protowire.VarintType)
		hb = protowire.AppendVarint(hb, uint64(h.Seq))
	}
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	return protowire.AppendBytes(b, hb)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// MarshalFrame encodes f as an Image message.
func MarshalFrame(f *Frame) ([]byte, error) {
	img := f.Image
	if img == nil {
		return nil, errors.New("frame has no image")
	}
	if img.Width < 0 || img.Height < 0 || img.Step < 0 {
		return nil, fmt.Errorf("negative image dimensions %dx%d step %d", img.Width, img.Height, img.Step)
	}

	b := make([]byte, 0, len(img.Data)+64+len(img.Encoding)+len(f.Header.FrameID))
	b = appendHeader(b, f.Header)
	b = appendUint(b, 2, uint64(img.Height))
	b = appendUint(b, 3, uint64(img.Width))
	if img.Encoding != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, img.Encoding)
	}
	if img.IsBigEndian {
		b = appendUint(b, 5, 1)
	}
	b = appendUint(b, 6, uint64(img.Step))
	if len(img.Data) > 0 {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, img.Data)
	}
	return b, nil
}

// MarshalCentroid encodes c as a Centroid message.
func MarshalCentroid(c *Centroid) []byte {
	b := appendHeader(nil, c.Header)
	if c.Point.X != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.Point.X)))
	}
	if c.Point.Y != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.Point.Y)))
	}
	if c.Found {
		b = appendUint(b, 4, 1)
	}
	return appendUint(b, 5, uint64(c.BrightCount))
}

// fieldFunc handles one decoded field. It returns the number of bytes it
// consumed from b, or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m < 0 {
			// unknown field, skip it
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeUint32(typ protowire.Type, b []byte, dst *int) (int, error) {
	v, n, err := consumeVarint(typ, b)
	if err != nil {
		return 0, err
	}
	if v > 1<<31-1 {
		return 0, fmt.Errorf("value %d out of range", v)
	}
	*dst = int(v)
	return n, nil
}

func unmarshalHeader(b []byte) (Header, error) {
	var h Header
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			if v != 0 {
				h.Stamp = time.Unix(0, int64(v)).UTC()
			}
			return n, nil
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			h.FrameID = string(v)
			return n, nil
		case 3:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			h.Seq = uint32(v)
			return n, nil
		}
		return -1, nil
	})
	return h, err
}

func consumeHeader(typ protowire.Type, b []byte, dst *Header) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	h, err := unmarshalHeader(v)
	if err != nil {
		return 0, fmt.Errorf("header: %w", err)
	}
	*dst = h
	return n, nil
}

// UnmarshalFrame decodes an Image message. The returned image owns a copy of
// the pixel data. The layout is not validated here; that is the accessor's job.
func UnmarshalFrame(b []byte) (*Frame, error) {
	if len(b) == 0 {
		return nil, errTruncated
	}
	f := &Frame{Image: &imaging.Image{}}
	img := f.Image
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeHeader(typ, b, &f.Header)
		case 2:
			return consumeUint32(typ, b, &img.Height)
		case 3:
			return consumeUint32(typ, b, &img.Width)
		case 4:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			img.Encoding = string(v)
			return n, nil
		case 5:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			img.IsBigEndian = v != 0
			return n, nil
		case 6:
			return consumeUint32(typ, b, &img.Step)
		case 7:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			img.Data = append([]byte(nil), v...)
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return f, nil
}

// UnmarshalCentroid decodes a Centroid message.
func UnmarshalCentroid(b []byte) (*Centroid, error) {
	c := &Centroid{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeHeader(typ, b, &c.Header)
		case 2, 3:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			if num == 2 {
				c.Point.X = int(protowire.DecodeZigZag(v))
			} else {
				c.Point.Y = int(protowire.DecodeZigZag(v))
			}
			return n, nil
		case 4:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			c.Found = v != 0
			return n, nil
		case 5:
			return consumeUint32(typ, b, &c.BrightCount)
		}
		return -1, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode centroid: %w", err)
	}
	return c, nil
}
