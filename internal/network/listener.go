// Package network receives frames over UDP, one Image message per datagram,
// and replays or records them as pcap captures.
package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lightpos/internal/wire"
)

// DefaultUDPPort is the port frames are sent to unless configured otherwise.
const DefaultUDPPort = 5600

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// FrameHandler receives each decoded frame. It is called from the read loop
// and should not block for long.
type FrameHandler func(*wire.Frame)

// PacketStats counts datagrams seen by a listener or pcap reader.
type PacketStats struct {
	Packets      atomic.Uint64
	Bytes        atomic.Uint64
	DecodeErrors atomic.Uint64
}

// PacketCounts is a point-in-time copy of PacketStats.
type PacketCounts struct {
	Packets      uint64 `json:"packets"`
	Bytes        uint64 `json:"bytes"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// Snapshot returns the current counters.
func (s *PacketStats) Snapshot() PacketCounts {
	return PacketCounts{
		Packets:      s.Packets.Load(),
		Bytes:        s.Bytes.Load(),
		DecodeErrors: s.DecodeErrors.Load(),
	}
}

// LogStats logs the counters with the given prefix.
func (s *PacketStats) LogStats(prefix string) {
	log.Printf("%s: packets=%d bytes=%d decode_errors=%d",
		prefix, s.Packets.Load(), s.Bytes.Load(), s.DecodeErrors.Load())
}

// handle decodes one datagram payload and passes it on.
func (s *PacketStats) handle(payload []byte, handler FrameHandler) {
	s.Packets.Add(1)
	s.Bytes.Add(uint64(len(payload)))
	frame, err := wire.UnmarshalFrame(payload)
	if err != nil {
		s.DecodeErrors.Add(1)
		log.Printf("Error decoding frame datagram (%d bytes): %v", len(payload), err)
		return
	}
	if handler != nil {
		handler(frame)
	}
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address       string
	RcvBuf        int
	LogInterval   time.Duration
	Handler       FrameHandler
	SocketFactory UDPSocketFactory
}

// UDPListener receives Image messages over UDP.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	handler     FrameHandler
	factory     UDPSocketFactory
	stats       *PacketStats
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		handler:     config.Handler,
		factory:     factory,
		stats:       &PacketStats{},
	}
}

// Stats returns the listener counters.
func (l *UDPListener) Stats() *PacketStats {
	return l.stats
}

// Start listens for datagrams until the context is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	log.Printf("UDP frame listener started on %s", conn.LocalAddr())

	go l.logStats(ctx)

	buffer := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			log.Print("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Set read deadline to allow checking context cancellation
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("UDP read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		l.stats.handle(buffer[:n], l.handler)
	}
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats("udp")
		}
	}
}

// SendFrame encodes f and sends it as a single datagram on conn.
func SendFrame(conn net.Conn, f *wire.Frame) error {
	b, err := wire.MarshalFrame(f)
	if err != nil {
		return err
	}
	if len(b) > MaxDatagramSize {
		return fmt.Errorf("%w: %d byte frame does not fit a datagram", wire.ErrFrameTooLarge, len(b))
	}
	_, err = conn.Write(b)
	return err
}
