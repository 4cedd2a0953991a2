package framemux

import (
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lightpos/internal/imaging"
	"github.com/banshee-data/lightpos/internal/monitoring"
	"github.com/banshee-data/lightpos/internal/wire"
)

// SyntheticPort generates frames of a bright spot circling a dark canvas. It
// stands in for a camera when running without hardware.
type SyntheticPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	published atomic.Uint64
	stopOnce  sync.Once
	done      chan struct{}
}

// SyntheticOptions controls the generated frames.
type SyntheticOptions struct {
	Width    int
	Height   int
	Radius   int           // spot radius in pixels
	Interval time.Duration // time between frames
	FrameID  string
}

func (o SyntheticOptions) withDefaults() SyntheticOptions {
	if o.Width <= 0 {
		o.Width = 64
	}
	if o.Height <= 0 {
		o.Height = 48
	}
	if o.Radius <= 0 {
		o.Radius = 2
	}
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	if o.FrameID == "" {
		o.FrameID = "synthetic"
	}
	return o
}

// NewSyntheticPort starts generating frames immediately. Frames are only
// produced as fast as they are read.
func NewSyntheticPort(opts SyntheticOptions) *SyntheticPort {
	opts = opts.withDefaults()
	r, w := io.Pipe()
	p := &SyntheticPort{r: r, w: w, done: make(chan struct{})}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		var seq uint32
		for {
			seq++
			f := SyntheticFrame(opts, seq, time.Now())
			if err := wire.WriteFrame(w, f); err != nil {
				return
			}
			select {
			case <-ticker.C:
			case <-p.done:
				return
			}
		}
	}()

	monitoring.Logf("synthetic source: %dx%d frames every %v", opts.Width, opts.Height, opts.Interval)
	return p
}

// SyntheticFrame returns frame seq of the circling spot sequence.
func SyntheticFrame(opts SyntheticOptions, seq uint32, stamp time.Time) *wire.Frame {
	opts = opts.withDefaults()
	return &wire.Frame{
		Header: wire.Header{Stamp: stamp, FrameID: opts.FrameID, Seq: seq},
		Image:  SpotImage(opts.Width, opts.Height, SpotCenter(opts, seq), opts.Radius),
	}
}

// SpotCenter is the spot position in frame seq. The spot completes one
// ellipse every 120 frames.
func SpotCenter(opts SyntheticOptions, seq uint32) imaging.Point2 {
	opts = opts.withDefaults()
	angle := float64(seq%120) / 120 * 2 * math.Pi
	rx := float64(opts.Width) / 3
	ry := float64(opts.Height) / 3
	return imaging.Point2{
		X: opts.Width/2 + int(math.Round(rx*math.Cos(angle))),
		Y: opts.Height/2 + int(math.Round(ry*math.Sin(angle))),
	}
}

// SpotImage returns an rgb8 image with a white disc of the given radius at
// center on a dark grey background. The disc is symmetric, so its centroid
// is center whenever the disc lies fully on the canvas.
func SpotImage(width, height int, center imaging.Point2, radius int) *imaging.Image {
	img := imaging.NewImage(width, height, imaging.EncodingRGB8)
	bg := imaging.Pixel{20, 20, 20}
	r2 := radius * radius
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := x-center.X, y-center.Y
			p := bg
			if dx*dx+dy*dy <= r2 {
				p = imaging.White
			}
			// coordinates are always on the canvas here
			_ = img.SetPixel(x, y, p)
		}
	}
	return img
}

// Read returns the next bytes of the generated stream.
func (p *SyntheticPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Write discards published messages.
func (p *SyntheticPort) Write(b []byte) (int, error) {
	p.published.Add(1)
	return len(b), nil
}

// Published returns the number of Write calls.
func (p *SyntheticPort) Published() uint64 {
	return p.published.Load()
}

// Close stops the generator.
func (p *SyntheticPort) Close() error {
	p.stopOnce.Do(func() { close(p.done) })
	return p.r.Close()
}
