// Package protocol implements encoding and decoding of A1580 A-scan
// data packets: a fixed 28-byte little-endian header marked by the
// 'FtH1' magic bytes, followed by int16 waveform samples. Packet size
// depends on the externally configured ascan length, never on the
// header's own length field.
package protocol
