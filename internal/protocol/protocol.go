package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Protocol constants - must match the A1580 device firmware
const (
	// HeaderSize is the fixed size of the packet header in bytes
	HeaderSize = 28

	// SampleSize is the size of one waveform sample in bytes (int16)
	SampleSize = 2
)

// Magic is the 4-byte packet start marker 'FtH1' (0x46, 0x74, 0x48, 0x31)
var Magic = [4]byte{'F', 't', 'H', '1'}

// ErrTooShort reports a slice shorter than the fixed header size.
// Callers can test for it with errors.Is.
var ErrTooShort = errors.New("packet too short")

// Header represents the 28-byte A-scan packet header
// Layout (all multi-byte fields little-endian):
// [Magic:4][CTP:12][LengthLo:2][LengthHi:1][PacketNumber:1]
// [TelemetryA:1][TelemetryB:1][TelemetryC:1][IsFull:1][BufferFill:1]
// [AscanCount:1][Reserved:2]
type Header struct {
	Magic        [4]byte   // Packet start marker 'FtH1'
	CTP          [3]uint32 // CTP timing/coordinate values
	LengthLo     uint16    // Length low word
	LengthHi     uint8     // Length high byte
	PacketNumber uint8     // Sequential packet counter, wraps at 256
	TelemetryA   uint8     // Telemetry byte A
	TelemetryB   uint8     // Telemetry byte B
	TelemetryC   uint8     // Telemetry byte C
	IsFull       uint8     // Device buffer full flag (0 or 1)
	BufferFill   uint8     // Device buffer fill level (0-255)
	AscanCount   uint8     // Number of A-scans accumulated
	Reserved     [2]byte   // Reserved for future use
}

// Packet represents one fully decoded A-scan packet
type Packet struct {
	Header     Header
	Samples    []int16   // Int16 waveform samples
	PacketSize int       // Original slice length in bytes
	Timestamp  time.Time // Assigned at decode time, not receipt time
}

// PacketSize returns the total packet size in bytes for the given
// ascan length: header plus two bytes per sample.
func PacketSize(ascanLength int) int {
	return HeaderSize + SampleSize*ascanLength
}

// ParseHeader parses the 28-byte packet header
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTooShort, HeaderSize, len(data))
	}

	copy(h.Magic[:], data[0:4])
	h.CTP[0] = binary.LittleEndian.Uint32(data[4:8])
	h.CTP[1] = binary.LittleEndian.Uint32(data[8:12])
	h.CTP[2] = binary.LittleEndian.Uint32(data[12:16])
	h.LengthLo = binary.LittleEndian.Uint16(data[16:18])
	h.LengthHi = data[18]
	h.PacketNumber = data[19]
	h.TelemetryA = data[20]
	h.TelemetryB = data[21]
	h.TelemetryC = data[22]
	h.IsFull = data[23]
	h.BufferFill = data[24]
	h.AscanCount = data[25]
	copy(h.Reserved[:], data[26:28])

	return h, nil
}

// Decode deserializes one packet-sized slice into a Packet.
//
// The marker is not validated here: the framing layer already aligns
// slices on the magic bytes, and the two components must stay usable
// independently. Callers that want the check can use Header.MagicValid.
// If the payload length is odd the trailing byte is ignored; that
// indicates a slice-size mismatch upstream, which the caller should
// surface via a counter.
func Decode(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	payload := data[HeaderSize:]
	numSamples := len(payload) / SampleSize

	samples := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*SampleSize:]))
	}

	return &Packet{
		Header:     header,
		Samples:    samples,
		PacketSize: len(data),
		Timestamp:  time.Now(),
	}, nil
}

// EncodeHeader serializes a header into a fresh 28-byte slice
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.CTP[0])
	binary.LittleEndian.PutUint32(buf[8:12], h.CTP[1])
	binary.LittleEndian.PutUint32(buf[12:16], h.CTP[2])
	binary.LittleEndian.PutUint16(buf[16:18], h.LengthLo)
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

// EncodePacket builds a complete wire packet from a header and samples.
// The magic marker is always written regardless of h.Magic so that
// generated packets are framable.
func EncodePacket(h Header, samples []int16) []byte {
	h.Magic = Magic
	buf := make([]byte, HeaderSize+SampleSize*len(samples))
	copy(buf, EncodeHeader(h))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[HeaderSize+i*SampleSize:], uint16(s))
	}
	return buf
}

// Length combines the split length encoding into the full 24-bit value.
// The device reports it for diagnostics; framing never relies on it.
func (h *Header) Length() uint32 {
	return uint32(h.LengthLo) | uint32(h.LengthHi)<<16
}

// MagicValid reports whether the header carries the expected marker
func (h *Header) MagicValid() bool {
	return h.Magic == Magic
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Magic:%q, PacketNumber:%d, Length:%d, AscanCount:%d, BufferFill:%d, IsFull:%d}",
		h.Magic[:], h.PacketNumber, h.Length(), h.AscanCount, h.BufferFill, h.IsFull)
}

// String returns a human-readable representation of the packet
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{PacketNumber:%d, Samples:%d, Size:%d}",
		p.Header.PacketNumber, len(p.Samples), p.PacketSize)
}
