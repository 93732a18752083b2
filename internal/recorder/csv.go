package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/protocol"
)

// CSV writes decoded packets to a CSV file. The file opens with '#'
// comment lines describing the capture, followed by one row per packet:
// packet_number, timestamp, then the samples.
type CSV struct {
	path        string
	ascanLength int
	maxPackets  int

	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	written int
	closed  bool
}

// NewCSV creates the output file and writes the capture preamble.
// maxPackets limits the recording; zero means unlimited.
func NewCSV(path string, ascanLength int, samplingFreqMHz float64, maxPackets int) (*CSV, error) {
	if ascanLength <= 0 {
		return nil, fmt.Errorf("invalid ascan length: %d", ascanLength)
	}
	if maxPackets < 0 {
		return nil, fmt.Errorf("invalid max packets: %d", maxPackets)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording %s: %w", path, err)
	}

	preamble := fmt.Sprintf(
		"# A-scan recording\n# created: %s\n# ascan_length: %d\n# sampling_freq_mhz: %g\n",
		time.Now().UTC().Format(time.RFC3339), ascanLength, samplingFreqMHz)
	if _, err := file.WriteString(preamble); err != nil {
		file.Close()
		return nil, fmt.Errorf("write recording preamble: %w", err)
	}

	r := &CSV{
		path:        path,
		ascanLength: ascanLength,
		maxPackets:  maxPackets,
		file:        file,
		writer:      csv.NewWriter(file),
	}
	if err := r.writeHeaderRow(); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *CSV) writeHeaderRow() error {
	row := make([]string, 0, 2+r.ascanLength)
	row = append(row, "packet_number", "timestamp")
	for i := 0; i < r.ascanLength; i++ {
		row = append(row, "s"+strconv.Itoa(i))
	}
	if err := r.writer.Write(row); err != nil {
		return fmt.Errorf("write recording header: %w", err)
	}
	return nil
}

// Record appends one packet. Once maxPackets is reached further packets
// are dropped silently; Done reports when the limit is hit.
func (r *CSV) Record(p *protocol.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || (r.maxPackets > 0 && r.written >= r.maxPackets) {
		return nil
	}

	row := make([]string, 0, 2+len(p.Samples))
	row = append(row,
		strconv.Itoa(int(p.Header.PacketNumber)),
		p.Timestamp.UTC().Format(time.RFC3339Nano))
	for _, s := range p.Samples {
		row = append(row, strconv.Itoa(int(s)))
	}

	if err := r.writer.Write(row); err != nil {
		return fmt.Errorf("write recording row: %w", err)
	}
	r.written++
	return nil
}

// Done reports whether the packet limit has been reached.
func (r *CSV) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxPackets > 0 && r.written >= r.maxPackets
}

// Written returns the number of packets recorded so far.
func (r *CSV) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close flushes and closes the recording file.
func (r *CSV) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.writer.Flush()
	if err := r.writer.Error(); err != nil {
		r.file.Close()
		return fmt.Errorf("flush recording %s: %w", r.path, err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close recording %s: %w", r.path, err)
	}
	return nil
}
