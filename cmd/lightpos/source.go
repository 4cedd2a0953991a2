package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/banshee-data/lightpos/internal/framemux"
	"github.com/banshee-data/lightpos/internal/network"
	"github.com/banshee-data/lightpos/internal/pipeline"
	"github.com/banshee-data/lightpos/internal/wire"
)

// Source kinds accepted by --source.
const (
	sourceSerial    = "serial"
	sourceFile      = "file"
	sourceUDP       = "udp"
	sourcePCAP      = "pcap"
	sourceSynthetic = "synthetic"
)

// frameSource produces frames for the pipeline. run blocks until the input
// ends or ctx is cancelled and closes frames before returning. close
// releases the underlying port or file; it is safe to call whether or not
// run was started, and more than once.
type frameSource struct {
	name      string
	frames    <-chan *wire.Frame
	run       func(ctx context.Context) error
	close     func() error
	publisher pipeline.Publisher
	stats     func() interface{}
	attach    func(mux *http.ServeMux)
}

// muxSource adapts a FrameMux. Closing the mux after Monitor returns closes
// the subscriber channel, which lets the pipeline drain and stop.
func muxSource[T framemux.Porter](name string, m *framemux.FrameMux[T]) *frameSource {
	_, frames := m.Subscribe()
	var once sync.Once
	var closeErr error
	closeMux := func() error {
		once.Do(func() { closeErr = m.Close() })
		return closeErr
	}
	return &frameSource{
		name:   name,
		frames: frames,
		run: func(ctx context.Context) error {
			defer closeMux()
			return m.Monitor(ctx)
		},
		close:     closeMux,
		publisher: m,
		stats:     func() interface{} { return m.Stats() },
		attach:    m.AttachAdminRoutes,
	}
}

// forward returns a handler that passes frames to ch, blocking until the
// pipeline takes them or done is closed.
func forward(done <-chan struct{}, ch chan<- *wire.Frame) network.FrameHandler {
	return func(f *wire.Frame) {
		select {
		case ch <- f:
		case <-done:
		}
	}
}

func openSource(opts *options) (*frameSource, error) {
	switch opts.source {
	case sourceSerial:
		portOpts, err := framemux.ParseFrameFormat(opts.serialFormat)
		if err != nil {
			return nil, err
		}
		portOpts.BaudRate = opts.baudRate
		m, err := framemux.NewRealFrameMux(opts.port, portOpts, opts.maxFrameBytes)
		if err != nil {
			return nil, err
		}
		return muxSource("serial:"+opts.port, m), nil

	case sourceFile:
		if opts.replayFile == "" {
			return nil, fmt.Errorf("--replay-file is required for source %q", sourceFile)
		}
		m, err := framemux.NewFileFrameMux(opts.replayFile, opts.maxFrameBytes)
		if err != nil {
			return nil, err
		}
		return muxSource("file:"+opts.replayFile, m), nil

	case sourceSynthetic:
		port := framemux.NewSyntheticPort(framemux.SyntheticOptions{Interval: opts.syntheticInterval})
		return muxSource("synthetic", framemux.NewFrameMux(port, opts.maxFrameBytes)), nil

	case sourceUDP:
		frames := make(chan *wire.Frame, 1)
		stop := make(chan struct{})
		addr := net.JoinHostPort(opts.udpAddress, strconv.Itoa(opts.udpPort))
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:     addr,
			RcvBuf:      opts.rcvBuf,
			LogInterval: opts.statsInterval,
			Handler:     forward(stop, frames),
		})
		return &frameSource{
			name:   "udp:" + addr,
			frames: frames,
			run: func(ctx context.Context) error {
				defer close(frames)
				go func() {
					<-ctx.Done()
					close(stop)
				}()
				return listener.Start(ctx)
			},
			close: func() error { return nil },
			stats: func() interface{} { return listener.Stats().Snapshot() },
		}, nil

	case sourcePCAP:
		if opts.pcapFile == "" {
			return nil, fmt.Errorf("--pcap is required for source %q", sourcePCAP)
		}
		frames := make(chan *wire.Frame, 1)
		stats := &network.PacketStats{}
		return &frameSource{
			name:   "pcap:" + opts.pcapFile,
			frames: frames,
			run: func(ctx context.Context) error {
				defer close(frames)
				return network.ReadPCAPFile(ctx, opts.pcapFile, network.PCAPReplayOptions{
					UDPPort:  opts.udpPort,
					Realtime: opts.pcapRealtime,
					Stats:    stats,
				}, forward(ctx.Done(), frames))
			},
			close: func() error { return nil },
			stats: func() interface{} { return stats.Snapshot() },
		}, nil
	}
	return nil, fmt.Errorf("unknown source %q (want serial, file, udp, pcap or synthetic)", opts.source)
}
