package pipeline

import (
	"log"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of centroids summarised when no window is set.
const DefaultWindow = 100

// Stats accumulates counters and a sliding window of found centroids.
type Stats struct {
	mu sync.Mutex

	processed    uint64
	failed       uint64
	empty        uint64
	sinkErrors   uint64
	lastDuration time.Duration
	totalTime    time.Duration

	window int
	xs, ys []float64
	next   int
}

// Summary is a point-in-time copy of Stats. The jitter fields are the
// mean and standard deviation of the centroid coordinates in the window.
type Summary struct {
	Processed      uint64  `json:"processed"`
	Failed         uint64  `json:"failed"`
	Empty          uint64  `json:"empty"`
	SinkErrors     uint64  `json:"sink_errors"`
	LastDurationMs float64 `json:"last_duration_ms"`
	MeanDurationMs float64 `json:"mean_duration_ms"`
	Window         int     `json:"window"`
	Samples        int     `json:"samples"`
	MeanX          float64 `json:"mean_x"`
	MeanY          float64 `json:"mean_y"`
	StdDevX        float64 `json:"stddev_x"`
	StdDevY        float64 `json:"stddev_y"`
}

// NewStats returns Stats with the given window length.
func NewStats(window int) *Stats {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Stats{
		window: window,
		xs:     make([]float64, 0, window),
		ys:     make([]float64, 0, window),
	}
}

func (s *Stats) record(out *Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	s.lastDuration = out.Duration
	s.totalTime += out.Duration
	if !out.Result.Found {
		s.empty++
		return
	}
	x, y := float64(out.Result.Centroid.X), float64(out.Result.Centroid.Y)
	if len(s.xs) < s.window {
		s.xs = append(s.xs, x)
		s.ys = append(s.ys, y)
		return
	}
	s.xs[s.next] = x
	s.ys[s.next] = y
	s.next = (s.next + 1) % s.window
}

func (s *Stats) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

func (s *Stats) recordSinkError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinkErrors++
}

// Summary returns the current counters and window statistics.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Processed:      s.processed,
		Failed:         s.failed,
		Empty:          s.empty,
		SinkErrors:     s.sinkErrors,
		LastDurationMs: float64(s.lastDuration) / float64(time.Millisecond),
		Window:         s.window,
		Samples:        len(s.xs),
	}
	if s.processed > 0 {
		sum.MeanDurationMs = float64(s.totalTime) / float64(s.processed) / float64(time.Millisecond)
	}
	switch len(s.xs) {
	case 0:
	case 1:
		sum.MeanX, sum.MeanY = s.xs[0], s.ys[0]
	default:
		sum.MeanX, sum.StdDevX = stat.MeanStdDev(s.xs, nil)
		sum.MeanY, sum.StdDevY = stat.MeanStdDev(s.ys, nil)
	}
	return sum
}

// Log writes a one-line summary.
func (s *Stats) Log(runID string) {
	sum := s.Summary()
	log.Printf("pipeline %s: processed=%d failed=%d empty=%d sink_errors=%d last=%.2fms centroid mean=(%.1f,%.1f) stddev=(%.2f,%.2f) n=%d",
		runID, sum.Processed, sum.Failed, sum.Empty, sum.SinkErrors, sum.LastDurationMs,
		sum.MeanX, sum.MeanY, sum.StdDevX, sum.StdDevY, sum.Samples)
}
