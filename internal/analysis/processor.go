package analysis

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/metrics"
)

// Result holds the measurements extracted from one A-scan.
type Result struct {
	PeakAmplitude float64 `json:"peak_amplitude"`
	PeakIndex     int     `json:"peak_index"`
	PeakTimeUS    float64 `json:"peak_time_us"`
	RMS           float64 `json:"rms"`
	// Time of flight: the first sample whose absolute amplitude crosses
	// the detection threshold, converted to microseconds.
	TOFIndex  int     `json:"tof_index"`
	TOFTimeUS float64 `json:"tof_time_us"`
	Threshold float64 `json:"threshold"`
	EchoFound bool    `json:"echo_found"`
}

// Stats is a snapshot of processor counters.
type Stats struct {
	AscansAnalyzed uint64 `json:"ascans_analyzed"`
	EchoesFound    uint64 `json:"echoes_found"`
}

// Processor computes peak, RMS and time-of-flight measurements on decoded
// A-scans. Safe for concurrent use.
type Processor struct {
	samplingFreqMHz float64
	thresholdRatio  float64
	metrics         *metrics.Metrics

	mu             sync.Mutex
	ascansAnalyzed uint64
	echoesFound    uint64
	buf            []float64
}

// NewProcessor creates a processor for the given sampling frequency (MHz).
// thresholdRatio sets the echo detection threshold as a fraction of the
// peak amplitude; zero selects the default of 0.2. The metrics recorder
// may be nil.
func NewProcessor(samplingFreqMHz, thresholdRatio float64, m *metrics.Metrics) (*Processor, error) {
	if samplingFreqMHz <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency: %f MHz", samplingFreqMHz)
	}
	if thresholdRatio == 0 {
		thresholdRatio = 0.2
	}
	if thresholdRatio < 0 || thresholdRatio >= 1 {
		return nil, fmt.Errorf("threshold ratio must be in (0, 1), got %f", thresholdRatio)
	}
	return &Processor{
		samplingFreqMHz: samplingFreqMHz,
		thresholdRatio:  thresholdRatio,
		metrics:         m,
	}, nil
}

// Analyze measures one A-scan.
func (p *Processor) Analyze(samples []int16) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cap(p.buf) < len(samples) {
		p.buf = make([]float64, len(samples))
	}
	abs := p.buf[:len(samples)]
	for i, s := range samples {
		abs[i] = math.Abs(float64(s))
	}

	result := Result{PeakIndex: -1, TOFIndex: -1}
	if len(abs) > 0 {
		result.PeakIndex = floats.MaxIdx(abs)
		result.PeakAmplitude = abs[result.PeakIndex]
		result.PeakTimeUS = p.sampleTimeUS(result.PeakIndex)
		result.RMS = floats.Norm(abs, 2) / math.Sqrt(float64(len(abs)))
	}

	if result.PeakAmplitude > 0 {
		result.Threshold = p.thresholdRatio * result.PeakAmplitude
		for i, v := range abs {
			if v >= result.Threshold {
				result.TOFIndex = i
				result.TOFTimeUS = p.sampleTimeUS(i)
				result.EchoFound = true
				break
			}
		}
	}

	p.ascansAnalyzed++
	if result.EchoFound {
		p.echoesFound++
	}
	p.metrics.RecordAnalysis(result.PeakAmplitude, result.EchoFound)

	return result
}

// sampleTimeUS converts a sample index to microseconds since the start of
// the A-scan.
func (p *Processor) sampleTimeUS(index int) float64 {
	return float64(index) / p.samplingFreqMHz
}

// Stats returns a snapshot of processor counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		AscansAnalyzed: p.ascansAnalyzed,
		EchoesFound:    p.echoesFound,
	}
}
