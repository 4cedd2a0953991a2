// Package pipeline runs the light position routine over a stream of frames
// and hands each result to a set of sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lightpos/internal/imaging"
	"github.com/banshee-data/lightpos/internal/monitoring"
	"github.com/banshee-data/lightpos/internal/timeutil"
	"github.com/banshee-data/lightpos/internal/wire"
)

// ParamSource supplies the parameters for the next frame.
type ParamSource interface {
	Snapshot() imaging.Params
}

// Output is the outcome of processing one frame.
type Output struct {
	FrameID  uuid.UUID
	RunID    string
	Header   wire.Header // header of the input frame
	Received time.Time
	Params   imaging.Params
	Input    *imaging.Image
	Result   *imaging.Result
	Duration time.Duration
}

// Centroid returns the centroid message for o. It carries the input
// frame's header.
func (o *Output) Centroid() *wire.Centroid {
	return &wire.Centroid{
		Header:      o.Header,
		Point:       o.Result.Centroid,
		Found:       o.Result.Found,
		BrightCount: o.Result.BrightCount,
	}
}

// Sink consumes processed frames. Sinks are called in registration order
// from the pipeline goroutine and must not retain Input or Result.Output
// beyond the call unless they treat them as read-only.
type Sink interface {
	Consume(ctx context.Context, out *Output) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, out *Output) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, out *Output) error {
	return f(ctx, out)
}

// Config configures a Processor.
type Config struct {
	RunID  string
	Params ParamSource
	Sinks  []Sink
	// Window is the number of recent centroids summarised by Stats.
	Window int
	// LogInterval between stats log lines; zero disables periodic logging.
	LogInterval time.Duration
	Clock       timeutil.Clock
}

// Processor applies imaging.Process to frames.
type Processor struct {
	runID       string
	params      ParamSource
	clock       timeutil.Clock
	logInterval time.Duration
	stats       *Stats

	sinkMu sync.RWMutex
	sinks  []Sink
}

// ErrNoImage is returned for frames that carry no image.
var ErrNoImage = errors.New("frame has no image")

// NewProcessor returns a processor. A missing RunID is generated.
func NewProcessor(cfg Config) *Processor {
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Processor{
		runID:       runID,
		params:      cfg.Params,
		clock:       clock,
		logInterval: cfg.LogInterval,
		stats:       NewStats(cfg.Window),
		sinks:       append([]Sink(nil), cfg.Sinks...),
	}
}

// RunID identifies this processor's run.
func (p *Processor) RunID() string {
	return p.runID
}

// Stats returns the processor statistics.
func (p *Processor) Stats() *Stats {
	return p.stats
}

// AddSink registers s after the existing sinks.
func (p *Processor) AddSink(s Sink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sinks = append(p.sinks, s)
}

func (p *Processor) currentParams() imaging.Params {
	if p.params == nil {
		return imaging.DefaultParams()
	}
	return p.params.Snapshot()
}

// ProcessFrame processes one frame and delivers the output to every sink.
// A frame that cannot be processed is counted and its error returned; no
// sink sees it. Sink errors are logged and do not affect other sinks.
func (p *Processor) ProcessFrame(ctx context.Context, f *wire.Frame) (*Output, error) {
	if f == nil || f.Image == nil {
		p.stats.recordFailure()
		return nil, ErrNoImage
	}
	img := f.Image
	monitoring.LogOnce("pipeline:first-frame:"+p.runID,
		"First image received: encoding=%s %dx%d step=%d", img.Encoding, img.Width, img.Height, img.Step)

	params := p.currentParams()
	start := p.clock.Now()
	res, err := imaging.Process(img, params)
	if err != nil {
		p.stats.recordFailure()
		return nil, fmt.Errorf("frame %d (%s): %w", f.Header.Seq, f.Header.FrameID, err)
	}

	out := &Output{
		FrameID:  uuid.New(),
		RunID:    p.runID,
		Header:   f.Header,
		Received: start,
		Params:   params,
		Input:    img,
		Result:   res,
		Duration: p.clock.Since(start),
	}
	p.stats.record(out)

	p.sinkMu.RLock()
	sinks := p.sinks
	p.sinkMu.RUnlock()
	for _, s := range sinks {
		if err := s.Consume(ctx, out); err != nil {
			p.stats.recordSinkError()
			log.Printf("pipeline: sink %T failed for frame %d: %v", s, f.Header.Seq, err)
		}
	}
	return out, nil
}

// Run processes frames until the channel is closed (returns nil) or the
// context is cancelled (returns the context error).
func (p *Processor) Run(ctx context.Context, frames <-chan *wire.Frame) error {
	var tick <-chan time.Time
	if p.logInterval > 0 {
		ticker := p.clock.NewTicker(p.logInterval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	log.Printf("pipeline: run %s started", p.runID)
	for {
		select {
		case <-ctx.Done():
			p.stats.Log(p.runID)
			return ctx.Err()
		case <-tick:
			p.stats.Log(p.runID)
		case f, ok := <-frames:
			if !ok {
				p.stats.Log(p.runID)
				return nil
			}
			if _, err := p.ProcessFrame(ctx, f); err != nil {
				log.Printf("pipeline: dropping frame: %v", err)
			}
		}
	}
}
