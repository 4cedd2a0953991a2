package network

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightpos/internal/imaging"
	"github.com/banshee-data/lightpos/internal/wire"
)

func testFrame(seq uint32) *wire.Frame {
	img := imaging.NewImage(8, 6, imaging.EncodingRGB8)
	return &wire.Frame{
		Header: wire.Header{Stamp: time.Unix(1700000000, int64(seq)*1e6).UTC(), FrameID: "cam", Seq: seq},
		Image:  img,
	}
}

type collector struct {
	mu     sync.Mutex
	frames []*wire.Frame
}

func (c *collector) handle(f *wire.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *collector) seqs() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint32
	for _, f := range c.frames {
		out = append(out, f.Header.Seq)
	}
	return out
}

func TestUDPListener_DecodesDatagrams(t *testing.T) {
	good1, err := wire.MarshalFrame(testFrame(1))
	require.NoError(t, err)
	good2, err := wire.MarshalFrame(testFrame(2))
	require.NoError(t, err)

	sock := NewMockUDPSocket(good1, []byte{0xff, 0xff}, good2)
	var got collector
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:0",
		RcvBuf:        1 << 20,
		Handler:       got.handle,
		SocketFactory: &MockUDPSocketFactory{Socket: sock},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	select {
	case <-sock.Drained:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not drain the socket")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []uint32{1, 2}, got.seqs())
	assert.Equal(t, uint64(3), l.Stats().Packets.Load())
	assert.Equal(t, uint64(1), l.Stats().DecodeErrors.Load())
	snap := l.Stats().Snapshot()
	assert.Equal(t, uint64(3), snap.Packets)
	assert.Equal(t, l.Stats().Bytes.Load(), snap.Bytes)
	assert.True(t, sock.Closed)
	assert.Equal(t, 1<<20, sock.ReadBufferSize)
}

func TestUDPListener_ListenError(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:0",
		SocketFactory: &MockUDPSocketFactory{Error: errors.New("address in use")},
	})
	err := l.Start(context.Background())
	assert.ErrorContains(t, err, "address in use")
}

func TestUDPListener_ClosedSocketEndsLoop(t *testing.T) {
	sock := NewMockUDPSocket()
	sock.ReadError = net.ErrClosed
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0", SocketFactory: &MockUDPSocketFactory{Socket: sock}})
	err := l.Start(context.Background())
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestUDPListener_RealSocket(t *testing.T) {
	var got collector
	received := make(chan struct{}, 1)
	l := NewUDPListener(UDPListenerConfig{
		Address: "127.0.0.1:0",
		Handler: func(f *wire.Frame) {
			got.handle(f)
			received <- struct{}{}
		},
		SocketFactory: &recordingFactory{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Start(ctx)

	factory := l.factory.(*recordingFactory)
	addr := factory.waitAddr(t)

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, SendFrame(conn, testFrame(9)))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received over loopback")
	}
	assert.Equal(t, []uint32{9}, got.seqs())
}

// recordingFactory opens real sockets and reports the bound address.
type recordingFactory struct {
	once sync.Once
	addr chan net.Addr
}

func (f *recordingFactory) init() {
	f.once.Do(func() { f.addr = make(chan net.Addr, 1) })
}

func (f *recordingFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.init()
	sock, err := RealUDPSocketFactory{}.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	f.addr <- sock.LocalAddr()
	return sock, nil
}

func (f *recordingFactory) waitAddr(t *testing.T) net.Addr {
	t.Helper()
	f.init()
	select {
	case a := <-f.addr:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("listener never bound")
		return nil
	}
}

func TestSendFrame_TooLarge(t *testing.T) {
	f := &wire.Frame{Image: imaging.NewImage(200, 200, imaging.EncodingRGB8)}
	err := SendFrame(nil, f)
	assert.ErrorIs(t, err, wire.ErrFrameTooLarge)
}

func TestPCAPRoundTrip(t *testing.T) {
	frames := []*wire.Frame{testFrame(1), testFrame(2), testFrame(3)}

	var buf bytes.Buffer
	require.NoError(t, WritePCAPFile(&buf, frames, PCAPWriteOptions{DstPort: 6000}))

	path := filepath.Join(t.TempDir(), "frames.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	var got collector
	stats := &PacketStats{}
	err := ReadPCAPFile(context.Background(), path, PCAPReplayOptions{UDPPort: 6000, Stats: stats}, got.handle)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, got.seqs())
	assert.Equal(t, uint64(3), stats.Packets.Load())

	got.mu.Lock()
	first := got.frames[0]
	got.mu.Unlock()
	assert.Equal(t, frames[0].Image.Data, first.Image.Data)
	assert.Equal(t, "cam", first.Header.FrameID)
}

func TestPCAP_PortFilter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePCAPFile(&buf, []*wire.Frame{testFrame(1)}, PCAPWriteOptions{}))
	path := filepath.Join(t.TempDir(), "frames.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	var got collector
	require.NoError(t, ReadPCAPFile(context.Background(), path, PCAPReplayOptions{UDPPort: DefaultUDPPort + 1}, got.handle))
	assert.Empty(t, got.seqs())

	require.NoError(t, ReadPCAPFile(context.Background(), path, PCAPReplayOptions{}, got.handle))
	assert.Equal(t, []uint32{1}, got.seqs())
}

func TestPCAP_Errors(t *testing.T) {
	err := ReadPCAPFile(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"), PCAPReplayOptions{}, nil)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pcap")
	require.NoError(t, os.WriteFile(bad, []byte("not a capture"), 0644))
	err = ReadPCAPFile(context.Background(), bad, PCAPReplayOptions{}, nil)
	assert.Error(t, err)

	err = WritePCAPFile(&bytes.Buffer{}, []*wire.Frame{{}}, PCAPWriteOptions{})
	assert.Error(t, err)
}

func TestPCAP_ContextCancelled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePCAPFile(&buf, []*wire.Frame{testFrame(1)}, PCAPWriteOptions{}))
	path := filepath.Join(t.TempDir(), "frames.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadPCAPFile(ctx, path, PCAPReplayOptions{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
