package framing

import (
	"bytes"
	"sync"
)

// Accumulator reassembles fixed-size packets from an unstructured byte
// stream. Transport chunks are appended with Ingest; ExtractReady scans
// for the marker and slices out complete packets, retaining any partial
// tail for the next call.
//
// One accumulator serves one connection. The ingest/extract cycle is
// expected to run on a single goroutine; the mutex exists so monitoring
// code may read Stats concurrently.
type Accumulator struct {
	marker []byte
	buf    []byte

	// Counters for observability. Garbage and truncation rates are the
	// main symptom of an ascan_length mismatch with the device.
	bytesIngested    uint64
	packetsExtracted uint64
	garbageBytes     uint64
	resyncs          uint64
	truncations      uint64

	mu sync.Mutex
}

// Stats represents accumulator counters for monitoring
type Stats struct {
	BufferedBytes    int    `json:"buffered_bytes"`
	BytesIngested    uint64 `json:"bytes_ingested"`
	PacketsExtracted uint64 `json:"packets_extracted"`
	GarbageBytes     uint64 `json:"garbage_bytes"`
	Resyncs          uint64 `json:"resyncs"`
	Truncations      uint64 `json:"truncations"`
}

// NewAccumulator creates an accumulator that frames on the given marker
func NewAccumulator(marker []byte) *Accumulator {
	m := make([]byte, len(marker))
	copy(m, marker)
	return &Accumulator{marker: m}
}

// Ingest appends a transport chunk to the internal buffer. Chunks of
// any size are accepted, including empty ones.
func (a *Accumulator) Ingest(chunk []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = append(a.buf, chunk...)
	a.bytesIngested += uint64(len(chunk))
}

// ExtractReady returns all complete packets of packetSize bytes
// currently framable, in stream order. Bytes preceding a marker are
// discarded as inter-packet noise. If no marker is present and the
// buffer exceeds twice the packet size, only the trailing packetSize
// bytes are kept, assuming any genuine packet start is recent; this is
// a lossy recovery policy, visible through the truncation counter.
//
// A partial marker-aligned packet stays buffered until more data
// arrives. No call ever fails: corruption degrades to counters and the
// stream resynchronizes on the next marker.
func (a *Accumulator) ExtractReady(packetSize int) [][]byte {
	if packetSize <= len(a.marker) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var ready [][]byte
	for {
		start := bytes.Index(a.buf, a.marker)
		if start < 0 {
			if len(a.buf) > 2*packetSize {
				dropped := len(a.buf) - packetSize
				a.discard(dropped)
				a.garbageBytes += uint64(dropped)
				a.truncations++
			}
			break
		}

		if start > 0 {
			a.discard(start)
			a.garbageBytes += uint64(start)
			a.resyncs++
		}

		if len(a.buf) < packetSize {
			// Partial packet, wait for more data
			break
		}

		packet := make([]byte, packetSize)
		copy(packet, a.buf[:packetSize])
		a.discard(packetSize)

		ready = append(ready, packet)
		a.packetsExtracted++
	}

	return ready
}

// Reset drops all buffered bytes. Required whenever the expected packet
// size changes: a partial packet framed for the old size is invalid.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = a.buf[:0]
}

// Len returns the number of currently buffered bytes
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Stats returns a snapshot of the accumulator counters
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		BufferedBytes:    len(a.buf),
		BytesIngested:    a.bytesIngested,
		PacketsExtracted: a.packetsExtracted,
		GarbageBytes:     a.garbageBytes,
		Resyncs:          a.resyncs,
		Truncations:      a.truncations,
	}
}

// discard removes n leading bytes, shifting in place so the backing
// array is reused instead of reallocated on every packet.
func (a *Accumulator) discard(n int) {
	remaining := copy(a.buf, a.buf[n:])
	a.buf = a.buf[:remaining]
}
