package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/analysis"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/config"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/device"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/metrics"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/session"
)

// HTTPServer provides HTTP API endpoints for monitoring the gateway
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	controller *session.Controller
	deviceAPI  *device.Client
	processor  *analysis.Processor
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. deviceAPI and processor
// may be nil when those components are disabled.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, controller *session.Controller,
	deviceAPI *device.Client, processor *analysis.Processor, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		controller: controller,
		deviceAPI:  deviceAPI,
		processor:  processor,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoint
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionStats := h.controller.Stats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "a1580-gateway",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session": map[string]interface{}{
				"status":          "running",
				"packets_decoded": sessionStats.PacketsDecoded,
				"decode_errors":   sessionStats.DecodeErrors,
				"ascan_length":    sessionStats.AscanLength,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"session":   h.controller.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitizedConfig := map[string]interface{}{
		"device": map[string]interface{}{
			"base_url":      h.config.Device.BaseURL,
			"websocket_url": h.config.Device.WebSocketURL,
			"scpi_address":  h.config.Device.SCPIAddress,
			"transport":     h.config.Device.Transport,
			"timeout":       h.config.Device.Timeout,
			"max_retries":   h.config.Device.MaxRetries,
		},
		"stream": map[string]interface{}{
			"ascan_length":     h.config.Stream.AscanLength,
			"read_from_device": h.config.Stream.ReadFromDevice,
		},
		"analysis": map[string]interface{}{
			"enabled":           h.config.Analysis.Enabled,
			"sampling_freq_mhz": h.config.Analysis.SamplingFreqMHz,
			"threshold_ratio":   h.config.Analysis.ThresholdRatio,
		},
		"recorder": map[string]interface{}{
			"enabled":     h.config.Recorder.Enabled,
			"output_path": h.config.Recorder.OutputPath,
			"max_packets": h.config.Recorder.MaxPackets,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionStats := h.controller.Stats()

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"stream": map[string]interface{}{
			"packets_decoded": sessionStats.PacketsDecoded,
			"decode_errors":   sessionStats.DecodeErrors,
			"packet_gaps":     sessionStats.PacketGaps,
			"ascan_length":    sessionStats.AscanLength,
		},
		"framing": map[string]interface{}{
			"bytes_ingested":    sessionStats.Framing.BytesIngested,
			"packets_extracted": sessionStats.Framing.PacketsExtracted,
			"garbage_bytes":     sessionStats.Framing.GarbageBytes,
			"resyncs":           sessionStats.Framing.Resyncs,
			"truncations":       sessionStats.Framing.Truncations,
		},
	}

	if h.deviceAPI != nil {
		stats["device"] = h.deviceAPI.Stats()
	}
	if h.processor != nil {
		stats["analysis"] = h.processor.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doc := map[string]interface{}{
		"service": "a1580-gateway",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"/health":  "Service health and component status",
			"/session": "Stream session counters",
			"/stats":   "Stream, framing, device and analysis statistics",
			"/config":  "Active configuration",
			"/metrics": "Prometheus metrics",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}
