package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/lightpos/internal/db"
	"github.com/banshee-data/lightpos/internal/wire"
)

// Latest keeps the most recent output for readers on other goroutines.
type Latest struct {
	mu  sync.RWMutex
	out *Output
}

// Consume stores out.
func (l *Latest) Consume(_ context.Context, out *Output) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = out
	return nil
}

// Get returns the most recent output, if any.
func (l *Latest) Get() (*Output, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.out, l.out != nil
}

// CentroidRecorder stores centroid rows.
type CentroidRecorder interface {
	RecordCentroid(rec *db.CentroidRecord) error
}

// CentroidStoreSink writes every centroid to a CentroidRecorder.
type CentroidStoreSink struct {
	Store CentroidRecorder
}

// Consume records out.
func (s CentroidStoreSink) Consume(_ context.Context, out *Output) error {
	return s.Store.RecordCentroid(&db.CentroidRecord{
		RunID:          out.RunID,
		FrameID:        out.FrameID.String(),
		SourceFrameID:  out.Header.FrameID,
		Seq:            out.Header.Seq,
		Stamp:          out.Header.Stamp,
		X:              out.Result.Centroid.X,
		Y:              out.Result.Centroid.Y,
		Found:          out.Result.Found,
		BrightCount:    out.Result.BrightCount,
		Threshold:      out.Params.Threshold,
		ProcessingTime: out.Duration,
		RecordedAt:     out.Received,
	})
}

// Publisher writes result messages back to a transport.
type Publisher interface {
	PublishCentroid(c *wire.Centroid) error
	PublishFrame(f *wire.Frame) error
}

// PublisherSink sends the centroid of every frame and, when Thresholded is
// set, the annotated binary image.
type PublisherSink struct {
	Publisher   Publisher
	Thresholded bool
}

// Consume publishes out.
func (s PublisherSink) Consume(_ context.Context, out *Output) error {
	if err := s.Publisher.PublishCentroid(out.Centroid()); err != nil {
		return fmt.Errorf("publish centroid: %w", err)
	}
	if !s.Thresholded {
		return nil
	}
	if err := s.Publisher.PublishFrame(&wire.Frame{Header: out.Header, Image: out.Result.Output}); err != nil {
		return fmt.Errorf("publish thresholded image: %w", err)
	}
	return nil
}
