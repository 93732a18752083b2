package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/protocol"
)

// fakeConn delivers scripted chunks and then blocks until closed.
type fakeConn struct {
	chunks chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		chunks: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadChunk() ([]byte, error) {
	select {
	case chunk, ok := <-f.chunks:
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	case <-f.closed:
		return nil, errors.New("connection closed")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestControllerSplitPacket(t *testing.T) {
	const ascanLength = 4
	wantSamples := []int16{100, -100, 32767, -32768}
	packet := protocol.EncodePacket(protocol.Header{PacketNumber: 7}, wantSamples)
	if len(packet) != 36 {
		t.Fatalf("Expected 36-byte packet, got %d", len(packet))
	}

	ctrl, err := NewController(newFakeConn(), ascanLength, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	var decoded []*protocol.Packet
	ctrl.OnPacket(func(p *protocol.Packet) {
		decoded = append(decoded, p)
	})

	// The packet arrives split across three chunks.
	ctrl.ProcessChunk(packet[:10])
	ctrl.ProcessChunk(packet[10:20])
	ctrl.ProcessChunk(packet[20:])

	if len(decoded) != 1 {
		t.Fatalf("Expected 1 decoded packet, got %d", len(decoded))
	}
	got := decoded[0]
	if got.Header.PacketNumber != 7 {
		t.Errorf("Expected packet_number 7, got %d", got.Header.PacketNumber)
	}
	if len(got.Samples) != len(wantSamples) {
		t.Fatalf("Expected %d samples, got %d", len(wantSamples), len(got.Samples))
	}
	for i, want := range wantSamples {
		if got.Samples[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, got.Samples[i])
		}
	}

	stats := ctrl.Stats()
	if stats.PacketsDecoded != 1 {
		t.Errorf("Expected 1 packet decoded in stats, got %d", stats.PacketsDecoded)
	}
}

func TestControllerReceiveLoop(t *testing.T) {
	const ascanLength = 8
	const numPackets = 4

	conn := newFakeConn()
	ctrl, err := NewController(conn, ascanLength, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	var mu sync.Mutex
	var numbers []uint8
	done := make(chan struct{})
	ctrl.OnPacket(func(p *protocol.Packet) {
		mu.Lock()
		numbers = append(numbers, p.Header.PacketNumber)
		if len(numbers) == numPackets {
			close(done)
		}
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	samples := make([]int16, ascanLength)
	for i := 0; i < numPackets; i++ {
		conn.chunks <- protocol.EncodePacket(protocol.Header{PacketNumber: uint8(i)}, samples)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for packets")
	}
	ctrl.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i, n := range numbers {
		if n != uint8(i) {
			t.Errorf("Packet %d: expected number %d, got %d", i, i, n)
		}
	}
}

func TestControllerCallbackPanicIsolation(t *testing.T) {
	const ascanLength = 4
	ctrl, err := NewController(newFakeConn(), ascanLength, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	var delivered int
	ctrl.OnPacket(func(p *protocol.Packet) {
		panic("consumer bug")
	})
	ctrl.OnPacket(func(p *protocol.Packet) {
		delivered++
	})

	ctrl.ProcessChunk(protocol.EncodePacket(protocol.Header{}, make([]int16, ascanLength)))

	if delivered != 1 {
		t.Errorf("Expected second callback to run despite panic, delivered=%d", delivered)
	}
	if got := ctrl.Stats().PacketsDecoded; got != 1 {
		t.Errorf("Expected 1 packet decoded, got %d", got)
	}
}

func TestControllerSetAscanLength(t *testing.T) {
	ctrl, err := NewController(newFakeConn(), 4, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	var decoded int
	ctrl.OnPacket(func(p *protocol.Packet) { decoded++ })

	// Half a packet at the old length, then a switch: the buffered
	// fragment must not pollute the new stream.
	old := protocol.EncodePacket(protocol.Header{}, make([]int16, 4))
	ctrl.ProcessChunk(old[:18])

	if err := ctrl.SetAscanLength(16); err != nil {
		t.Fatalf("SetAscanLength failed: %v", err)
	}
	if got := ctrl.AscanLength(); got != 16 {
		t.Errorf("Expected ascan length 16, got %d", got)
	}

	fresh := protocol.EncodePacket(protocol.Header{PacketNumber: 1}, make([]int16, 16))
	ctrl.ProcessChunk(fresh)

	if decoded != 1 {
		t.Errorf("Expected exactly 1 packet after length change, got %d", decoded)
	}

	if err := ctrl.SetAscanLength(0); err == nil {
		t.Error("Expected error for zero ascan length")
	}
}

func TestControllerPacketGapDetection(t *testing.T) {
	const ascanLength = 4
	ctrl, err := NewController(newFakeConn(), ascanLength, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	samples := make([]int16, ascanLength)
	for _, n := range []uint8{10, 11, 13, 14} {
		ctrl.ProcessChunk(protocol.EncodePacket(protocol.Header{PacketNumber: n}, samples))
	}

	stats := ctrl.Stats()
	if stats.PacketsDecoded != 4 {
		t.Errorf("Expected 4 packets decoded, got %d", stats.PacketsDecoded)
	}
	if stats.PacketGaps != 1 {
		t.Errorf("Expected 1 packet gap, got %d", stats.PacketGaps)
	}
}

func TestControllerPacketNumberWrap(t *testing.T) {
	const ascanLength = 4
	ctrl, err := NewController(newFakeConn(), ascanLength, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	samples := make([]int16, ascanLength)
	for _, n := range []uint8{254, 255, 0, 1} {
		ctrl.ProcessChunk(protocol.EncodePacket(protocol.Header{PacketNumber: n}, samples))
	}

	if gaps := ctrl.Stats().PacketGaps; gaps != 0 {
		t.Errorf("255 to 0 wrap must not count as a gap, got %d", gaps)
	}
}

func TestNewControllerInvalidLength(t *testing.T) {
	if _, err := NewController(newFakeConn(), 0, testLogger(), nil); err == nil {
		t.Error("Expected error for zero ascan length")
	}
	if _, err := NewController(newFakeConn(), -5, testLogger(), nil); err == nil {
		t.Error("Expected error for negative ascan length")
	}
}
