package main

import (
	"bufio"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/lightpos/internal/framemux"
	"github.com/banshee-data/lightpos/internal/imaging"
	"github.com/banshee-data/lightpos/internal/network"
	"github.com/banshee-data/lightpos/internal/wire"
)

var testOpts = framemux.SyntheticOptions{Width: 24, Height: 18, Radius: 1, FrameID: "test"}

func testGen(interval time.Duration, udpPort int) genOptions {
	return genOptions{Synthetic: testOpts, Interval: interval, UDPPort: udpPort}
}

func TestGenerateStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.bin")
	if err := generate(path, "stream", 5, testGen(10*time.Millisecond, 0)); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var seqs []uint32
	for {
		frame, err := wire.ReadFrame(r, wire.DefaultMaxMessageSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if frame.Image.Width != 24 || frame.Header.FrameID != "test" {
			t.Errorf("unexpected frame %+v", frame.Header)
		}
		seqs = append(seqs, frame.Header.Seq)
	}
	if len(seqs) != 5 || seqs[0] != 1 || seqs[4] != 5 {
		t.Errorf("got seqs %v, want 1..5", seqs)
	}
}

func TestGeneratePCAP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.pcap")
	if err := generate(path, "pcap", 3, testGen(10*time.Millisecond, 6000)); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	var got []*wire.Frame
	err := network.ReadPCAPFile(context.Background(), path, network.PCAPReplayOptions{UDPPort: 6000}, func(f *wire.Frame) {
		got = append(got, f)
	})
	if err != nil {
		t.Fatalf("ReadPCAPFile failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	if d := got[1].Header.Stamp.Sub(got[0].Header.Stamp); d != 10*time.Millisecond {
		t.Errorf("stamp spacing = %v, want 10ms", d)
	}
}

func TestGenerateErrors(t *testing.T) {
	dir := t.TempDir()
	if err := generate(filepath.Join(dir, "a"), "stream", 0, testGen(time.Millisecond, 0)); err == nil {
		t.Error("expected error for zero frames")
	}
	if err := generate(filepath.Join(dir, "b"), "jpeg", 1, testGen(time.Millisecond, 0)); err == nil {
		t.Error("expected error for unknown format")
	}
	if err := generate("/etc/lightpos-frames.bin", "stream", 1, testGen(time.Millisecond, 0)); err == nil {
		t.Error("expected error for an output path outside the allowed directories")
	}
}

func TestGenerateStill(t *testing.T) {
	dir := t.TempDir()
	stillPath := filepath.Join(dir, "lamp.png")
	src := image.NewRGBA(image.Rect(0, 0, 8, 6))
	src.Set(5, 2, color.RGBA{R: 250, G: 240, B: 230, A: 255})
	f, err := os.Create(stillPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, src); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	g := testGen(10*time.Millisecond, 0)
	g.Still = stillPath
	path := filepath.Join(dir, "still.bin")
	if err := generate(path, "stream", 3, g); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	out, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	r := bufio.NewReader(out)
	for seq := uint32(1); seq <= 3; seq++ {
		frame, err := wire.ReadFrame(r, wire.DefaultMaxMessageSize)
		if err != nil {
			t.Fatalf("frame %d: %v", seq, err)
		}
		if frame.Header.Seq != seq || frame.Image.Width != 8 || frame.Image.Height != 6 {
			t.Errorf("frame %d: header %+v size %dx%d", seq, frame.Header, frame.Image.Width, frame.Image.Height)
		}
		if frame.Image.Encoding != imaging.EncodingRGB8 {
			t.Errorf("frame %d: encoding %q", seq, frame.Image.Encoding)
		}
		p, err := frame.Image.ReadPixel(5, 2)
		if err != nil {
			t.Fatal(err)
		}
		if p != (imaging.Pixel{250, 240, 230}) {
			t.Errorf("frame %d: pixel (5,2) = %v", seq, p)
		}
	}

	g.Still = filepath.Join(dir, "missing.png")
	if err := generate(filepath.Join(dir, "x.bin"), "stream", 1, g); err == nil {
		t.Error("expected error for a missing still image")
	}
}
