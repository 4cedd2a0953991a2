package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lightpos/internal/wire"
)

// PCAPReplayOptions controls ReadPCAPFile.
type PCAPReplayOptions struct {
	// UDPPort selects datagrams by destination port. Zero accepts every port.
	UDPPort int
	// Realtime paces delivery by the capture timestamps.
	Realtime bool
	Stats    *PacketStats
}

// ReadPCAPFile replays frame datagrams from a classic pcap capture file.
func ReadPCAPFile(ctx context.Context, pcapFile string, opts PCAPReplayOptions, handler FrameHandler) error {
	f, err := os.Open(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read PCAP header from %s: %w", pcapFile, err)
	}
	return replay(ctx, r, r.LinkType(), opts, handler)
}

func replay(ctx context.Context, src gopacket.PacketDataSource, linkType layers.LinkType, opts PCAPReplayOptions, handler FrameHandler) error {
	stats := opts.Stats
	if stats == nil {
		stats = &PacketStats{}
	}

	var (
		eth     layers.Ethernet
		ip4     layers.IPv4
		udp     layers.UDP
		payload gopacket.Payload
	)
	first := layers.LayerTypeEthernet
	if linkType == layers.LinkTypeRaw || linkType == layers.LinkTypeIPv4 {
		first = layers.LayerTypeIPv4
	}
	parser := gopacket.NewDecodingLayerParser(first, &eth, &ip4, &udp, &payload)
	parser.IgnoreUnsupported = true
	decoded := make([]gopacket.LayerType, 0, 4)

	var (
		packetCount  int
		firstCapture time.Time
		startTime    = time.Now()
	)

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("PCAP reader stopping due to context cancellation (processed %d packets)", packetCount)
			return err
		}

		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			log.Printf("PCAP file reading complete: %d packets processed in %v", packetCount, time.Since(startTime))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read packet %d: %w", packetCount+1, err)
		}
		packetCount++

		if err := parser.DecodeLayers(data, &decoded); err != nil {
			continue
		}
		isUDP := false
		for _, lt := range decoded {
			if lt == layers.LayerTypeUDP {
				isUDP = true
			}
		}
		if !isUDP {
			continue
		}
		if opts.UDPPort != 0 && int(udp.DstPort) != opts.UDPPort {
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}

		if opts.Realtime {
			if firstCapture.IsZero() {
				firstCapture = ci.Timestamp
			}
			due := startTime.Add(ci.Timestamp.Sub(firstCapture))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		stats.handle(udp.Payload, handler)
	}
}

// PCAPWriteOptions addresses the packets written by WritePCAPFile.
type PCAPWriteOptions struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort int
	DstPort int
}

func (o PCAPWriteOptions) withDefaults() PCAPWriteOptions {
	if o.SrcIP == nil {
		o.SrcIP = net.IPv4(192, 168, 1, 10)
	}
	if o.DstIP == nil {
		o.DstIP = net.IPv4(192, 168, 1, 20)
	}
	if o.SrcPort == 0 {
		o.SrcPort = 40000
	}
	if o.DstPort == 0 {
		o.DstPort = DefaultUDPPort
	}
	return o
}

// WritePCAPFile writes frames as Ethernet/IPv4/UDP packets in classic pcap
// format, one frame per datagram, timestamped with each frame's stamp.
func WritePCAPFile(w io.Writer, frames []*wire.Frame, opts PCAPWriteOptions) error {
	opts = opts.withDefaults()

	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}

	serializeOpts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	buf := gopacket.NewSerializeBuffer()
	base := time.Now()

	for i, f := range frames {
		payload, err := wire.MarshalFrame(f)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if len(payload) > MaxDatagramSize {
			return fmt.Errorf("frame %d: %w: %d bytes", i, wire.ErrFrameTooLarge, len(payload))
		}

		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    opts.SrcIP.To4(),
			DstIP:    opts.DstIP.To4(),
		}
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(opts.SrcPort),
			DstPort: layers.UDPPort(opts.DstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		if err := gopacket.SerializeLayers(buf, serializeOpts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
			return fmt.Errorf("frame %d: serialize: %w", i, err)
		}

		stamp := f.Header.Stamp
		if stamp.IsZero() {
			stamp = base.Add(time.Duration(i) * time.Millisecond)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: stamp, CaptureLength: len(data), Length: len(data)}
		if err := pw.WritePacket(ci, data); err != nil {
			return fmt.Errorf("frame %d: write packet: %w", i, err)
		}
	}
	return nil
}
