package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/framing"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/metrics"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/protocol"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/transport"
)

// PacketCallback receives each decoded packet in stream order. Callbacks
// run on the session's receive goroutine; a slow callback delays the stream.
type PacketCallback func(*protocol.Packet)

// Stats is a snapshot of session counters.
type Stats struct {
	PacketsDecoded uint64        `json:"packets_decoded"`
	DecodeErrors   uint64        `json:"decode_errors"`
	PacketGaps     uint64        `json:"packet_gaps"`
	AscanLength    int           `json:"ascan_length"`
	Framing        framing.Stats `json:"framing"`
}

// Controller owns one instrument connection: it reads chunks, frames them
// into packets, decodes each packet and dispatches it to the registered
// callbacks in order.
type Controller struct {
	conn    transport.Connection
	acc     *framing.Accumulator
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	ascanLength int
	callbacks   []PacketCallback

	packetsDecoded uint64
	decodeErrors   uint64
	packetGaps     uint64
	lastNumber     uint8
	seenFirst      bool

	wg sync.WaitGroup
}

// NewController creates a session over conn expecting packets of the given
// ascan length. The metrics recorder may be nil.
func NewController(conn transport.Connection, ascanLength int, logger *slog.Logger, m *metrics.Metrics) (*Controller, error) {
	if ascanLength <= 0 {
		return nil, fmt.Errorf("invalid ascan length: %d", ascanLength)
	}
	return &Controller{
		conn:        conn,
		acc:         framing.NewAccumulator(protocol.Magic[:]),
		logger:      logger,
		metrics:     m,
		ascanLength: ascanLength,
	}, nil
}

// OnPacket registers a callback for decoded packets. Callbacks registered
// after Start still receive subsequent packets.
func (c *Controller) OnPacket(cb PacketCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// SetAscanLength changes the expected packet size and clears any buffered
// bytes. Packets already in flight with the old length frame incorrectly
// until the device switches, so the buffer restarts from a marker scan.
func (c *Controller) SetAscanLength(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid ascan length: %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if n != c.ascanLength {
		c.logger.Info("A-scan length changed, resetting stream buffer",
			"old", c.ascanLength,
			"new", n)
		c.ascanLength = n
		c.acc.Reset()
		c.seenFirst = false
	}
	return nil
}

// AscanLength returns the currently configured ascan length.
func (c *Controller) AscanLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ascanLength
}

// Start launches the receive loop. It returns immediately; the loop ends
// when ctx is cancelled or the connection fails.
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.receiveLoop(ctx)
	}()
}

// Stop closes the connection and waits for the receive loop to exit.
func (c *Controller) Stop() {
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("Connection close", "error", err)
	}
	c.wg.Wait()
}

// Stats returns a snapshot of the session counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		PacketsDecoded: c.packetsDecoded,
		DecodeErrors:   c.decodeErrors,
		PacketGaps:     c.packetGaps,
		AscanLength:    c.ascanLength,
		Framing:        c.acc.Stats(),
	}
}

func (c *Controller) receiveLoop(ctx context.Context) {
	c.logger.Info("Session started", "remote", c.conn.RemoteAddr())

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Session stopped", "reason", "context cancelled")
			return
		default:
		}

		chunk, err := c.conn.ReadChunk()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				c.logger.Info("Session stopped", "reason", "connection closed")
			} else {
				c.logger.Error("Stream read failed", "error", err)
			}
			return
		}

		c.processChunk(chunk)
	}
}

func (c *Controller) processChunk(chunk []byte) {
	c.mu.Lock()
	packetSize := protocol.PacketSize(c.ascanLength)
	c.mu.Unlock()

	c.acc.Ingest(chunk)
	c.metrics.RecordBytesReceived(len(chunk))

	for _, raw := range c.acc.ExtractReady(packetSize) {
		c.handlePacket(raw)
	}
	c.recordFramingStats()
}

// ProcessChunk feeds a chunk through the framing and decode pipeline
// directly, bypassing the receive loop.
func (c *Controller) ProcessChunk(chunk []byte) {
	c.processChunk(chunk)
}

func (c *Controller) handlePacket(raw []byte) {
	packet, err := protocol.Decode(raw)
	if err != nil {
		c.mu.Lock()
		c.decodeErrors++
		c.mu.Unlock()
		c.metrics.RecordDecodeError()
		c.logger.Warn("Packet decode failed", "size", len(raw), "error", err)
		return
	}

	c.mu.Lock()
	if c.seenFirst {
		expected := c.lastNumber + 1 // wraps mod 256
		if packet.Header.PacketNumber != expected {
			c.packetGaps++
			c.metrics.RecordPacketGap()
			c.logger.Warn("Packet number gap",
				"expected", expected,
				"received", packet.Header.PacketNumber)
		}
	}
	c.lastNumber = packet.Header.PacketNumber
	c.seenFirst = true
	c.packetsDecoded++
	callbacks := c.callbacks
	c.mu.Unlock()

	c.metrics.RecordPacketDecoded(len(packet.Samples))

	for _, cb := range callbacks {
		c.dispatch(cb, packet)
	}
}

// dispatch isolates callback panics so one consumer cannot kill the stream.
func (c *Controller) dispatch(cb PacketCallback, packet *protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Packet callback panicked", "panic", r)
		}
	}()
	cb(packet)
}

func (c *Controller) recordFramingStats() {
	s := c.acc.Stats()
	c.metrics.RecordFraming(s.GarbageBytes, s.Resyncs, s.Truncations, c.acc.Len())
}
