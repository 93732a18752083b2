package protocol

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid header",
			data: buildHeaderBytes(t, Header{
				Magic:        Magic,
				CTP:          [3]uint32{1, 2, 3},
				LengthLo:     0x1234,
				LengthHi:     0x05,
				PacketNumber: 42,
				TelemetryA:   1,
				TelemetryB:   2,
				TelemetryC:   3,
				IsFull:       1,
				BufferFill:   200,
				AscanCount:   16,
			}),
			expected: Header{
				Magic:        Magic,
				CTP:          [3]uint32{1, 2, 3},
				LengthLo:     0x1234,
				LengthHi:     0x05,
				PacketNumber: 42,
				TelemetryA:   1,
				TelemetryB:   2,
				TelemetryC:   3,
				IsFull:       1,
				BufferFill:   200,
				AscanCount:   16,
			},
			expectError: false,
		},
		{
			name:        "header too short",
			data:        []byte{'F', 't', 'H', '1', 0x00},
			expectError: true,
			errorMsg:    "packet too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "packet too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !errors.Is(err, ErrTooShort) {
					t.Errorf("Expected ErrTooShort, got %v", err)
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	samples := []int16{100, -100, 32767, -32768}
	packet := EncodePacket(Header{PacketNumber: 7, AscanCount: 1}, samples)

	if len(packet) != PacketSize(len(samples)) {
		t.Fatalf("Expected encoded size %d, got %d", PacketSize(len(samples)), len(packet))
	}

	decoded, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Header.PacketNumber != 7 {
		t.Errorf("Expected packet number 7, got %d", decoded.Header.PacketNumber)
	}
	if !decoded.Header.MagicValid() {
		t.Errorf("Expected valid magic, got %q", decoded.Header.Magic[:])
	}
	if len(decoded.Samples) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded.Samples))
	}
	for i, want := range samples {
		if decoded.Samples[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, decoded.Samples[i])
		}
	}
	if decoded.PacketSize != len(packet) {
		t.Errorf("Expected packet size %d, got %d", len(packet), decoded.PacketSize)
	}
	if decoded.Timestamp.IsZero() {
		t.Error("Expected decode timestamp to be set")
	}
}

func TestDecodeTooShort(t *testing.T) {
	for _, n := range []int{0, 1, 27} {
		data := make([]byte, n)
		copy(data, Magic[:])
		if _, err := Decode(data); !errors.Is(err, ErrTooShort) {
			t.Errorf("Decode(%d bytes): expected ErrTooShort, got %v", n, err)
		}
	}
}

func TestDecodeOddPayload(t *testing.T) {
	// 3-byte payload: one full sample plus a trailing byte that must be
	// ignored without error.
	packet := EncodePacket(Header{}, []int16{-42})
	packet = append(packet, 0xFF)

	decoded, err := Decode(packet)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded.Samples) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(decoded.Samples))
	}
	if decoded.Samples[0] != -42 {
		t.Errorf("Expected sample -42, got %d", decoded.Samples[0])
	}
}

func TestDecodeHeaderOnly(t *testing.T) {
	decoded, err := Decode(EncodePacket(Header{PacketNumber: 3}, nil))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded.Samples) != 0 {
		t.Errorf("Expected 0 samples, got %d", len(decoded.Samples))
	}
}

func TestHeaderLength(t *testing.T) {
	tests := []struct {
		lo       uint16
		hi       uint8
		expected uint32
	}{
		{0, 0, 0},
		{0xFFFF, 0, 0xFFFF},
		{0x0000, 0x01, 0x10000},
		{0x1234, 0xAB, 0xAB1234},
	}

	for _, tt := range tests {
		h := Header{LengthLo: tt.lo, LengthHi: tt.hi}
		if got := h.Length(); got != tt.expected {
			t.Errorf("Length(lo=%#x, hi=%#x) = %#x, expected %#x", tt.lo, tt.hi, got, tt.expected)
		}
	}
}

func TestPacketSize(t *testing.T) {
	tests := []struct {
		ascanLength int
		expected    int
	}{
		{0, 28},
		{4, 36},
		{1024, 2076},
		{2048, 4124},
	}

	for _, tt := range tests {
		if got := PacketSize(tt.ascanLength); got != tt.expected {
			t.Errorf("PacketSize(%d) = %d, expected %d", tt.ascanLength, got, tt.expected)
		}
	}
}

func TestStringMethods(t *testing.T) {
	h := Header{Magic: Magic, PacketNumber: 13, LengthLo: 100}
	s := h.String()
	if !strings.Contains(s, "FtH1") || !strings.Contains(s, "13") {
		t.Errorf("Header.String() missing expected content: %s", s)
	}

	p := Packet{Header: h, Samples: make([]int16, 8), PacketSize: 44}
	ps := p.String()
	if !strings.Contains(ps, "13") || !strings.Contains(ps, "8") {
		t.Errorf("Packet.String() missing expected content: %s", ps)
	}
}

// buildHeaderBytes serializes a header by hand, independently of
// EncodeHeader, so parse and encode are checked against each other.
func buildHeaderBytes(t *testing.T, h Header) []byte {
	t.Helper()

	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:], h.CTP[0])
	binary.LittleEndian.PutUint32(buf[8:], h.CTP[1])
	binary.LittleEndian.PutUint32(buf[12:], h.CTP[2])
	binary.LittleEndian.PutUint16(buf[16:], h.LengthLo)
	buf[18] = h.LengthHi
	buf[19] = h.PacketNumber
	buf[20] = h.TelemetryA
	buf[21] = h.TelemetryB
	buf[22] = h.TelemetryC
	buf[23] = h.IsFull
	buf[24] = h.BufferFill
	buf[25] = h.AscanCount
	copy(buf[26:28], h.Reserved[:])
	return buf
}
