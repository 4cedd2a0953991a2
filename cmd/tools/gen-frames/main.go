// Command gen-frames writes a synthetic frame recording for replay testing,
// either as a delimited stream (lightpos --source=file) or as a pcap capture
// of UDP datagrams (lightpos --source=pcap). With -still, every frame is a
// copy of a PNG or JPEG image instead of the moving spot.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"time"

	"github.com/banshee-data/lightpos/internal/framemux"
	"github.com/banshee-data/lightpos/internal/imaging"
	"github.com/banshee-data/lightpos/internal/network"
	"github.com/banshee-data/lightpos/internal/security"
	"github.com/banshee-data/lightpos/internal/wire"
)

func main() {
	output := flag.String("o", "frames.bin", "output path")
	format := flag.String("format", "stream", "output format: stream or pcap")
	frames := flag.Int("n", 120, "number of frames")
	width := flag.Int("width", 64, "frame width in pixels")
	height := flag.Int("height", 48, "frame height in pixels")
	radius := flag.Int("radius", 2, "spot radius in pixels")
	interval := flag.Duration("interval", 100*time.Millisecond, "time between frame stamps")
	udpPort := flag.Int("udp-port", network.DefaultUDPPort, "destination UDP port (pcap only)")
	still := flag.String("still", "", "PNG or JPEG image to repeat instead of the synthetic spot")
	flag.Parse()

	g := genOptions{
		Synthetic: framemux.SyntheticOptions{Width: *width, Height: *height, Radius: *radius, FrameID: "gen-frames"},
		Still:     *still,
		Interval:  *interval,
		UDPPort:   *udpPort,
	}
	if err := generate(*output, *format, *frames, g); err != nil {
		log.Fatalf("gen-frames: %v", err)
	}
	log.Printf("✓ Created: %s (%d frames)", *output, *frames)
}

// genOptions selects what gen-frames records.
type genOptions struct {
	Synthetic framemux.SyntheticOptions
	Still     string // image path; empty for the synthetic spot
	Interval  time.Duration
	UDPPort   int
}

func buildFrames(n int, opts framemux.SyntheticOptions, interval time.Duration, start time.Time) []*wire.Frame {
	out := make([]*wire.Frame, n)
	for i := range out {
		out[i] = framemux.SyntheticFrame(opts, uint32(i+1), start.Add(time.Duration(i)*interval))
	}
	return out
}

// loadStill decodes an image file into an rgb8 frame image.
func loadStill(path string) (*imaging.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open still image: %w", err)
	}
	defer f.Close()
	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode still image %s: %w", path, err)
	}
	log.Printf("loaded %s still %s (%dx%d)", format, path, src.Bounds().Dx(), src.Bounds().Dy())
	return imaging.FromImage(src, imaging.EncodingRGB8), nil
}

// stillFrames repeats img n times. Each frame owns its pixel buffer.
func stillFrames(img *imaging.Image, n int, frameID string, interval time.Duration, start time.Time) []*wire.Frame {
	out := make([]*wire.Frame, n)
	for i := range out {
		frame := imaging.NewImageLike(img)
		copy(frame.Data, img.Data)
		out[i] = &wire.Frame{
			Header: wire.Header{Stamp: start.Add(time.Duration(i) * interval), FrameID: frameID, Seq: uint32(i + 1)},
			Image:  frame,
		}
	}
	return out
}

func generate(path, format string, n int, g genOptions) error {
	if n < 1 {
		return fmt.Errorf("frame count must be positive, got %d", n)
	}
	if format != "stream" && format != "pcap" {
		return fmt.Errorf("unknown format %q (want stream or pcap)", format)
	}
	if err := security.ValidateExportPath(path); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	var frames []*wire.Frame
	if g.Still != "" {
		img, err := loadStill(g.Still)
		if err != nil {
			return err
		}
		frames = stillFrames(img, n, g.Synthetic.FrameID, g.Interval, time.Now())
	} else {
		frames = buildFrames(n, g.Synthetic, g.Interval, time.Now())
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	switch format {
	case "stream":
		for i, frame := range frames {
			if err := wire.WriteFrame(w, frame); err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			if (i+1)%100 == 0 {
				log.Printf("%d/%d frames", i+1, n)
			}
		}
	case "pcap":
		if err := network.WritePCAPFile(w, frames, network.PCAPWriteOptions{DstPort: g.UDPPort}); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
