package imaging

import (
	"strconv"
	"strings"
)

// Encoding tags understood by the accessor. Names follow the ROS
// sensor_msgs/image_encodings conventions so frames from ROS bridges can be
// passed through without translation.
const (
	EncodingRGB8   = "rgb8"
	EncodingBGR8   = "bgr8"
	EncodingRGBA8  = "rgba8"
	EncodingBGRA8  = "bgra8"
	EncodingRGB16  = "rgb16"
	EncodingBGR16  = "bgr16"
	EncodingRGBA16 = "rgba16"
	EncodingBGRA16 = "bgra16"
	EncodingMono8  = "mono8"
	EncodingMono16 = "mono16"
	EncodingYUV422 = "yuv422"
)

type encodingInfo struct {
	channels int
	bitDepth int
}

var knownEncodings = map[string]encodingInfo{
	EncodingRGB8:   {3, 8},
	EncodingBGR8:   {3, 8},
	EncodingRGBA8:  {4, 8},
	EncodingBGRA8:  {4, 8},
	EncodingRGB16:  {3, 16},
	EncodingBGR16:  {3, 16},
	EncodingRGBA16: {4, 16},
	EncodingBGRA16: {4, 16},
	EncodingMono8:  {1, 8},
	EncodingMono16: {1, 16},
	EncodingYUV422: {2, 8},
}

// EncodingLayout returns the channel count and bit depth for an encoding tag.
// Besides the named encodings it accepts bayer patterns and the generic
// "<bits><U|S|F>C<channels>" form (for example "8UC3"). ok is false for tags
// it does not recognise.
func EncodingLayout(encoding string) (channels, bitDepth int, ok bool) {
	if info, found := knownEncodings[encoding]; found {
		return info.channels, info.bitDepth, true
	}

	if strings.HasPrefix(encoding, "bayer_") {
		switch {
		case strings.HasSuffix(encoding, "16"):
			return 1, 16, true
		case strings.HasSuffix(encoding, "8"):
			return 1, 8, true
		}
		return 0, 0, false
	}

	return parseGenericEncoding(encoding)
}

// parseGenericEncoding handles the OpenCV-style tags, e.g. 8UC3 or 32FC1.
// A missing channel suffix ("16U") means a single channel.
func parseGenericEncoding(encoding string) (channels, bitDepth int, ok bool) {
	i := 0
	for i < len(encoding) && encoding[i] >= '0' && encoding[i] <= '9' {
		i++
	}
	if i == 0 || i == len(encoding) {
		return 0, 0, false
	}
	depth, err := strconv.Atoi(encoding[:i])
	if err != nil {
		return 0, 0, false
	}
	switch depth {
	case 8, 16, 32, 64:
	default:
		return 0, 0, false
	}

	rest := encoding[i:]
	switch rest[0] {
	case 'U', 'S', 'F':
	default:
		return 0, 0, false
	}
	rest = rest[1:]
	if rest == "" {
		return 1, depth, true
	}
	if rest[0] != 'C' {
		return 0, 0, false
	}
	n, err := strconv.Atoi(rest[1:])
	if err != nil || n < 1 || n > 4 {
		return 0, 0, false
	}
	return n, depth, true
}
