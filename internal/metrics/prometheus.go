package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the A-scan gateway.
// All Record methods are safe to call on a nil receiver so components
// can run without metrics wired in.
type Metrics struct {
	// Stream metrics
	BytesReceived  prometheus.Counter
	PacketsDecoded prometheus.Counter
	DecodeErrors   prometheus.Counter
	PacketGaps     prometheus.Counter
	SampleCount    prometheus.Histogram

	// Framing noise metrics
	GarbageBytes prometheus.Counter
	Resyncs      prometheus.Counter
	Truncations  prometheus.Counter
	BufferBytes  prometheus.Gauge

	// Analysis metrics
	AscansAnalyzed prometheus.Counter
	EchoesFound    prometheus.Counter
	PeakAmplitude  prometheus.Histogram

	// Device API metrics
	DeviceRequests prometheus.Counter
	DeviceFailures prometheus.Counter
	DeviceRetries  prometheus.Counter
	DeviceDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Framing counters arrive as cumulative snapshots; the previous
	// snapshot is kept to add only the delta.
	mu              sync.Mutex
	lastGarbage     uint64
	lastResyncs     uint64
	lastTruncations uint64
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Stream metrics
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_bytes_received_total",
			Help: "Total number of stream bytes received from the instrument",
		}),
		PacketsDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_packets_decoded_total",
			Help: "Total number of A-scan packets successfully decoded",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_decode_errors_total",
			Help: "Total number of packet decode errors",
		}),
		PacketGaps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_packet_gaps_total",
			Help: "Total number of packet number discontinuities",
		}),
		SampleCount: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ascan_packet_samples",
			Help:    "Number of samples per decoded packet",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8), // 64 to ~8k samples
		}),

		// Framing noise metrics
		GarbageBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_garbage_bytes_total",
			Help: "Total number of stream bytes discarded during resynchronization",
		}),
		Resyncs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_resyncs_total",
			Help: "Total number of marker resynchronizations",
		}),
		Truncations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_truncations_total",
			Help: "Total number of buffer truncations with no marker present",
		}),
		BufferBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ascan_buffer_bytes",
			Help: "Current number of bytes in the reassembly buffer",
		}),

		// Analysis metrics
		AscansAnalyzed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_analyses_total",
			Help: "Total number of A-scans analyzed",
		}),
		EchoesFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_echoes_found_total",
			Help: "Total number of A-scans with an echo above threshold",
		}),
		PeakAmplitude: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ascan_peak_amplitude",
			Help:    "Peak absolute amplitude per analyzed A-scan",
			Buckets: prometheus.ExponentialBuckets(128, 2, 9), // 128 to 32768
		}),

		// Device API metrics
		DeviceRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_device_requests_total",
			Help: "Total number of device REST API requests",
		}),
		DeviceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_device_failures_total",
			Help: "Total number of failed device REST API requests",
		}),
		DeviceRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ascan_device_retries_total",
			Help: "Total number of device REST API request retries",
		}),
		DeviceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ascan_device_request_duration_seconds",
			Help:    "Duration of device REST API requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ascan_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ascan_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordBytesReceived adds to the bytes received counter
func (m *Metrics) RecordBytesReceived(n int) {
	if m == nil {
		return
	}
	m.BytesReceived.Add(float64(n))
}

// RecordPacketDecoded records one decoded packet and its sample count
func (m *Metrics) RecordPacketDecoded(samples int) {
	if m == nil {
		return
	}
	m.PacketsDecoded.Inc()
	m.SampleCount.Observe(float64(samples))
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordPacketGap increments the packet gap counter
func (m *Metrics) RecordPacketGap() {
	if m == nil {
		return
	}
	m.PacketGaps.Inc()
}

// RecordFraming updates the framing noise metrics from a cumulative
// accumulator snapshot.
func (m *Metrics) RecordFraming(garbageBytes, resyncs, truncations uint64, bufferBytes int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GarbageBytes.Add(float64(garbageBytes - m.lastGarbage))
	m.Resyncs.Add(float64(resyncs - m.lastResyncs))
	m.Truncations.Add(float64(truncations - m.lastTruncations))
	m.lastGarbage = garbageBytes
	m.lastResyncs = resyncs
	m.lastTruncations = truncations
	m.BufferBytes.Set(float64(bufferBytes))
}

// RecordAnalysis records one analyzed A-scan
func (m *Metrics) RecordAnalysis(peakAmplitude float64, echoFound bool) {
	if m == nil {
		return
	}
	m.AscansAnalyzed.Inc()
	m.PeakAmplitude.Observe(peakAmplitude)
	if echoFound {
		m.EchoesFound.Inc()
	}
}

// RecordDeviceRequest records a device API request outcome
func (m *Metrics) RecordDeviceRequest(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DeviceRequests.Inc()
	m.DeviceDuration.Observe(durationSeconds)
	if !success {
		m.DeviceFailures.Inc()
	}
}

// RecordDeviceRetry increments the device retry counter
func (m *Metrics) RecordDeviceRetry() {
	if m == nil {
		return
	}
	m.DeviceRetries.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
