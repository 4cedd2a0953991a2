// Package framemux reads delimited image messages from a single port and fans
// the decoded frames out to any number of subscribers. Centroid and
// thresholded image messages are written back to the same port.
package framemux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/lightpos/internal/monitoring"
	"github.com/banshee-data/lightpos/internal/wire"
)

// ErrWriteFailed wraps port errors from the publish methods.
var ErrWriteFailed = errors.New("framemux: write failed")

// recentHeaders is the number of frame headers kept for the admin page.
const recentHeaders = 32

// FrameMux is a generic frame multiplexer that allows multiple clients to
// subscribe to frames from a single port. Subscribers share the decoded
// frame and must treat it as read-only.
type FrameMux[T Porter] struct {
	port    T
	reader  *bufio.Reader
	maxSize int

	subscribers  map[string]chan *wire.Frame
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	received     atomic.Uint64
	dropped      atomic.Uint64
	decodeErrors atomic.Uint64

	recentMu sync.Mutex
	recent   []wire.Header
}

// Stats is a snapshot of the multiplexer counters.
type Stats struct {
	Received     uint64 `json:"received"`
	Dropped      uint64 `json:"dropped"`
	DecodeErrors uint64 `json:"decode_errors"`
	Subscribers  int    `json:"subscribers"`
}

// NewFrameMux creates a FrameMux reading from port. A maxSize of zero uses
// wire.DefaultMaxMessageSize.
func NewFrameMux[T Porter](port T, maxSize int) *FrameMux[T] {
	if maxSize <= 0 {
		maxSize = wire.DefaultMaxMessageSize
	}
	return &FrameMux[T]{
		port:        port,
		reader:      bufio.NewReaderSize(port, 64*1024),
		maxSize:     maxSize,
		subscribers: make(map[string]chan *wire.Frame),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving frames. The channel holds at
// most one pending frame; frames arriving while it is full are dropped for
// that subscriber so a slow consumer always sees the newest data next.
func (m *FrameMux[T]) Subscribe() (string, chan *wire.Frame) {
	id := randomID()
	ch := make(chan *wire.Frame, 1)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *FrameMux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Monitor reads frames from the port and sends them to subscribers until the
// context is cancelled or the stream ends. A clean end of stream returns nil.
// Messages that fail to decode are counted and skipped; a framing error ends
// the stream since the reader can no longer find message boundaries.
func (m *FrameMux[T]) Monitor(ctx context.Context) error {
	frameChan := make(chan *wire.Frame)
	readErrChan := make(chan error, 1)

	// The blocking read runs in its own goroutine so the loop below can
	// react to context cancellation.
	go func() {
		defer close(frameChan)
		for {
			msg, err := wire.ReadDelimited(m.reader, m.maxSize)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case readErrChan <- err:
					case <-ctx.Done():
					}
				}
				return
			}
			frame, err := wire.UnmarshalFrame(msg)
			if err != nil {
				m.decodeErrors.Add(1)
				monitoring.Warnf("framemux: dropping message: %v", err)
				continue
			}
			select {
			case frameChan <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if m.isClosing() {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)

		case frame, ok := <-frameChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if !m.isClosing() {
						return fmt.Errorf("read frame: %w", err)
					}
				default:
				}
				return nil
			}
			if m.isClosing() {
				return nil
			}
			m.received.Add(1)
			m.remember(frame.Header)
			m.broadcast(frame)
		}
	}
}

func (m *FrameMux[T]) isClosing() bool {
	m.closingMu.Lock()
	defer m.closingMu.Unlock()
	return m.closing
}

func (m *FrameMux[T]) broadcast(frame *wire.Frame) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- frame:
		default:
			// replace the stale pending frame with the new one
			select {
			case <-ch:
				m.dropped.Add(1)
			default:
			}
			select {
			case ch <- frame:
			default:
				m.dropped.Add(1)
			}
		}
	}
}

func (m *FrameMux[T]) remember(h wire.Header) {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	m.recent = append(m.recent, h)
	if len(m.recent) > recentHeaders {
		m.recent = m.recent[len(m.recent)-recentHeaders:]
	}
}

// RecentHeaders returns the headers of the most recently received frames,
// oldest first.
func (m *FrameMux[T]) RecentHeaders() []wire.Header {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	return append([]wire.Header(nil), m.recent...)
}

// Stats returns the current counters.
func (m *FrameMux[T]) Stats() Stats {
	m.subscriberMu.Lock()
	n := len(m.subscribers)
	m.subscriberMu.Unlock()
	return Stats{
		Received:     m.received.Load(),
		Dropped:      m.dropped.Load(),
		DecodeErrors: m.decodeErrors.Load(),
		Subscribers:  n,
	}
}

func (m *FrameMux[T]) write(msg []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := wire.WriteDelimited(m.port, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// PublishCentroid writes a delimited Centroid message to the port.
func (m *FrameMux[T]) PublishCentroid(c *wire.Centroid) error {
	return m.write(wire.MarshalCentroid(c))
}

// PublishFrame writes a delimited Image message to the port.
func (m *FrameMux[T]) PublishFrame(f *wire.Frame) error {
	b, err := wire.MarshalFrame(f)
	if err != nil {
		return err
	}
	return m.write(b)
}

// Close closes all subscribed channels and closes the port.
func (m *FrameMux[T]) Close() error {
	m.closingMu.Lock()
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()
	return m.port.Close()
}

type headerJSON struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
	Seq     uint32    `json:"seq"`
}

func toHeaderJSON(h wire.Header) headerJSON {
	return headerJSON{Stamp: h.Stamp, FrameID: h.FrameID, Seq: h.Seq}
}

// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP mux
// served at /debug/.
func (m *FrameMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("frames", "recently received frame headers", func(w http.ResponseWriter, r *http.Request) {
		recent := m.RecentHeaders()
		headers := make([]headerJSON, 0, len(recent))
		for _, h := range recent {
			headers = append(headers, toHeaderJSON(h))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Stats  Stats        `json:"stats"`
			Frames []headerJSON `json:"frames"`
		}{m.Stats(), headers})
	})

	// Server-Sent Events with the header of every frame as it arrives.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(struct {
					headerJSON
					Width    int    `json:"width"`
					Height   int    `json:"height"`
					Encoding string `json:"encoding"`
				}{toHeaderJSON(frame.Header), frame.Image.Width, frame.Image.Height, frame.Image.Encoding})
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
