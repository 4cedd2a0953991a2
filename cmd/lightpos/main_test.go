package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/lightpos/internal/db"
	"github.com/banshee-data/lightpos/internal/framemux"
	"github.com/banshee-data/lightpos/internal/imaging"
	"github.com/banshee-data/lightpos/internal/network"
	"github.com/banshee-data/lightpos/internal/wire"
)

func testFrames(n int) []*wire.Frame {
	frames := make([]*wire.Frame, n)
	for i := range frames {
		frames[i] = &wire.Frame{
			Header: wire.Header{FrameID: "camera", Seq: uint32(i + 1)},
			Image:  framemux.SpotImage(32, 24, imaging.Point2{X: 10 + i, Y: 12}, 2),
		}
	}
	return frames
}

func testOptions(t *testing.T, source string) *options {
	t.Helper()
	return &options{
		source:     source,
		udpPort:    network.DefaultUDPPort,
		listen:     "127.0.0.1:0",
		dbFile:     filepath.Join(t.TempDir(), "lightpos.db"),
		configFile: "",
	}
}

type storedRun struct {
	Source    string
	Frames    int64
	Stopped   bool
	Centroids int64
}

func readRun(t *testing.T, path string) storedRun {
	t.Helper()
	d, err := db.NewDB(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer d.Close()

	var (
		runID string
		r     storedRun
	)
	row := d.QueryRow(`SELECT run_id, source, frames, stopped_unix_nanos IS NOT NULL FROM runs`)
	if err := row.Scan(&runID, &r.Source, &r.Frames, &r.Stopped); err != nil {
		t.Fatalf("Failed to read run: %v", err)
	}
	if r.Centroids, err = d.CountCentroids(runID); err != nil {
		t.Fatalf("Failed to count centroids: %v", err)
	}
	return r
}

func runWithTimeout(t *testing.T, opts *options) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, opts) }()
	select {
	case err := <-done:
		if ctx.Err() != nil {
			t.Fatal("run did not stop when the source was exhausted")
		}
		return err
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return")
	}
	return nil
}

func TestRunPCAPReplayEndToEnd(t *testing.T) {
	opts := testOptions(t, sourcePCAP)
	opts.pcapFile = filepath.Join(t.TempDir(), "frames.pcap")

	f, err := os.Create(opts.pcapFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := network.WritePCAPFile(f, testFrames(3), network.PCAPWriteOptions{}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := runWithTimeout(t, opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := storedRun{Source: "pcap:" + opts.pcapFile, Frames: 3, Stopped: true, Centroids: 3}
	if diff := cmp.Diff(want, readRun(t, opts.dbFile)); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFileReplayEndToEnd(t *testing.T) {
	opts := testOptions(t, sourceFile)
	opts.replayFile = filepath.Join(t.TempDir(), "frames.bin")

	data, err := framemux.EncodeStream(testFrames(4)...)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(opts.replayFile, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runWithTimeout(t, opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// A fast replay may overwrite frames the pipeline has not taken yet, but
	// the last frame always survives.
	got := readRun(t, opts.dbFile)
	if !got.Stopped || got.Frames < 1 || got.Frames > 4 {
		t.Errorf("unexpected run %+v", got)
	}
	if got.Centroids != got.Frames {
		t.Errorf("stored %d centroids for %d frames", got.Centroids, got.Frames)
	}
}

func TestRunSyntheticStopsOnCancel(t *testing.T) {
	opts := testOptions(t, sourceSynthetic)
	opts.syntheticInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := run(ctx, opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	got := readRun(t, opts.dbFile)
	if got.Source != "synthetic" || !got.Stopped {
		t.Errorf("unexpected run %+v", got)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*options)
	}{
		{"unknown source", func(o *options) { o.source = "carrier-pigeon" }},
		{"file without path", func(o *options) { o.source = sourceFile }},
		{"pcap without path", func(o *options) { o.source = sourcePCAP }},
		{"bad serial format", func(o *options) {
			o.source = sourceSerial
			o.serialFormat = "9Q1"
		}},
		{"missing replay file", func(o *options) {
			o.source = sourceFile
			o.replayFile = filepath.Join(t.TempDir(), "missing.bin")
		}},
		{"missing explicit config", func(o *options) {
			o.configFile = filepath.Join(t.TempDir(), "missing.json")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t, sourceSynthetic)
			tt.mutate(opts)
			if err := run(context.Background(), opts); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if got := cfg.GetBrightnessThreshold(); got != 240 {
		t.Errorf("threshold = %d, want 240", got)
	}

	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(`{"brightness_threshold": 200}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := cfg.GetBrightnessThreshold(); got != 200 {
		t.Errorf("threshold = %d, want 200", got)
	}
}

func TestMuxSourceClose(t *testing.T) {
	m, port, err := framemux.NewMockFrameMux(testFrames(1)...)
	if err != nil {
		t.Fatal(err)
	}
	src := muxSource("mock", m)

	// Closing before run releases the port and ends the frame channel.
	if err := src.close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := src.close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !port.Closed {
		t.Error("port left open")
	}
	if _, ok := <-src.frames; ok {
		t.Error("frame channel still open")
	}
}

// openFiles counts this process's descriptors, or skips where /proc is
// unavailable.
func openFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot list open files: %v", err)
	}
	return len(entries)
}

func TestRunClosesSourceOnStartupError(t *testing.T) {
	opts := testOptions(t, sourceFile)
	opts.replayFile = filepath.Join(t.TempDir(), "frames.bin")
	data, err := framemux.EncodeStream(testFrames(2)...)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(opts.replayFile, data, 0o644); err != nil {
		t.Fatal(err)
	}
	opts.dbFile = filepath.Join(t.TempDir(), "missing", "dir", "lightpos.db")

	before := openFiles(t)
	if err := run(context.Background(), opts); err == nil {
		t.Fatal("expected a database error")
	}
	if after := openFiles(t); after != before {
		t.Errorf("open files went from %d to %d; replay file leaked", before, after)
	}
}
