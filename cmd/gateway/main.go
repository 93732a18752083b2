package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/analysis"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/config"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/device"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/metrics"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/protocol"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/recorder"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/scpi"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/server"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/session"
	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "a1580-gateway"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("transport", cfg.Device.Transport),
		slog.String("base_url", cfg.Device.BaseURL),
		slog.Int("ascan_length", cfg.Stream.AscanLength),
		slog.Bool("read_from_device", cfg.Stream.ReadFromDevice),
		slog.Bool("analysis_enabled", cfg.Analysis.Enabled),
		slog.Bool("recorder_enabled", cfg.Recorder.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize device REST client (if configured)
	var deviceAPI *device.Client
	if cfg.Device.BaseURL != "" {
		deviceAPI, err = device.NewClient(device.Config{
			BaseURL:    cfg.Device.BaseURL,
			Timeout:    cfg.Device.GetTimeoutDuration(),
			MaxRetries: cfg.Device.MaxRetries,
		}, appMetrics)
		if err != nil {
			logger.Error("Failed to create device client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		identifyDevice(ctx, deviceAPI, logger)
	}

	// Resolve stream parameters, from the instrument when requested
	ascanLength := cfg.Stream.AscanLength
	samplingFreqMHz := cfg.Analysis.SamplingFreqMHz
	if cfg.Stream.ReadFromDevice {
		if deviceAPI == nil {
			logger.Error("read_from_device requires device base_url")
			os.Exit(1)
		}
		ascanLength, err = deviceAPI.AscanLength(ctx)
		if err != nil {
			logger.Error("Failed to read ascan_length from device", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if freq, err := deviceAPI.SamplingFreq(ctx); err == nil {
			samplingFreqMHz = freq
		} else {
			logger.Warn("Failed to read sampling_freq from device", slog.String("error", err.Error()))
		}
		logger.Info("Stream parameters read from device",
			slog.Int("ascan_length", ascanLength),
			slog.Float64("sampling_freq_mhz", samplingFreqMHz),
		)
	}

	// Connect the data stream
	conn, err := dialStream(ctx, cfg.Device, logger)
	if err != nil {
		logger.Error("Failed to connect data stream", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize session controller
	controller, err := session.NewController(conn, ascanLength, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create session controller", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session controller initialized",
		slog.Int("ascan_length", ascanLength),
		slog.Int("packet_size", protocol.PacketSize(ascanLength)),
	)

	// Initialize analysis processor (if enabled)
	var processor *analysis.Processor
	if cfg.Analysis.Enabled {
		processor, err = analysis.NewProcessor(samplingFreqMHz, cfg.Analysis.ThresholdRatio, appMetrics)
		if err != nil {
			logger.Error("Failed to create analysis processor", slog.String("error", err.Error()))
			os.Exit(1)
		}
		controller.OnPacket(func(p *protocol.Packet) {
			result := processor.Analyze(p.Samples)
			if result.EchoFound {
				logger.Debug("Echo detected",
					slog.Int("packet_number", int(p.Header.PacketNumber)),
					slog.Float64("peak_amplitude", result.PeakAmplitude),
					slog.Float64("tof_us", result.TOFTimeUS),
				)
			}
		})
		logger.Info("Analysis processor initialized",
			slog.Float64("sampling_freq_mhz", samplingFreqMHz),
			slog.Float64("threshold_ratio", cfg.Analysis.ThresholdRatio),
		)
	}

	// Initialize CSV recorder (if enabled)
	var csvRecorder *recorder.CSV
	if cfg.Recorder.Enabled {
		csvRecorder, err = recorder.NewCSV(cfg.Recorder.OutputPath, ascanLength, samplingFreqMHz, cfg.Recorder.MaxPackets)
		if err != nil {
			logger.Error("Failed to create recorder", slog.String("error", err.Error()))
			os.Exit(1)
		}
		controller.OnPacket(func(p *protocol.Packet) {
			if err := csvRecorder.Record(p); err != nil {
				logger.Error("Recording failed", slog.String("error", err.Error()))
			}
		})
		logger.Info("CSV recorder initialized",
			slog.String("output_path", cfg.Recorder.OutputPath),
			slog.Int("max_packets", cfg.Recorder.MaxPackets),
		)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, controller, deviceAPI, processor, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start the receive loop
	controller.Start(ctx)

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Ask the instrument to stream continuously
	if deviceAPI != nil {
		if err := deviceAPI.StartAutoAscan(ctx); err != nil {
			logger.Error("Failed to start auto A-scan", slog.String("error", err.Error()))
		} else {
			logger.Info("Continuous A-scan streaming started")
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Ask the instrument to stop streaming first
	if deviceAPI != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := deviceAPI.StopAutoAscan(stopCtx); err != nil {
			logger.Error("Error stopping auto A-scan", slog.String("error", err.Error()))
		}
		stopCancel()
	}

	// Stop HTTP server (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop the session (close connection, drain the receive loop)
	cancel()
	controller.Stop()

	// Flush the recording
	if csvRecorder != nil {
		if err := csvRecorder.Close(); err != nil {
			logger.Error("Error closing recording", slog.String("error", err.Error()))
		} else {
			logger.Info("Recording closed", slog.Int("packets_written", csvRecorder.Written()))
		}
	}

	// Get final statistics
	stats := controller.Stats()
	logger.Info("Final session statistics",
		slog.Uint64("packets_decoded", stats.PacketsDecoded),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("packet_gaps", stats.PacketGaps),
		slog.Uint64("garbage_bytes", stats.Framing.GarbageBytes),
		slog.Uint64("resyncs", stats.Framing.Resyncs),
		slog.Uint64("truncations", stats.Framing.Truncations),
	)

	logger.Info("Service stopped")
}

// identifyDevice logs the instrument identity; failures are not fatal.
func identifyDevice(ctx context.Context, deviceAPI *device.Client, logger *slog.Logger) {
	serial, err := deviceAPI.SerialNumber(ctx)
	if err != nil {
		logger.Warn("Failed to read device serial number", slog.String("error", err.Error()))
		return
	}
	firmware, err := deviceAPI.FirmwareVersion(ctx)
	if err != nil {
		logger.Warn("Failed to read device firmware version", slog.String("error", err.Error()))
		return
	}
	logger.Info("Device identified",
		slog.String("serial_number", serial),
		slog.String("firmware_version", firmware),
	)
}

// dialStream connects the A-scan data stream using the configured transport.
// For TCP without an explicit data address the port is discovered over SCPI.
func dialStream(ctx context.Context, cfg config.DeviceConfig, logger *slog.Logger) (transport.Connection, error) {
	switch cfg.Transport {
	case "websocket":
		return transport.DialWebSocket(ctx, cfg.WebSocketURL, logger)

	case "tcp":
		address := cfg.DataAddress
		if address == "" {
			control, err := scpi.Dial(ctx, cfg.SCPIAddress, cfg.GetTimeoutDuration(), logger)
			if err != nil {
				return nil, err
			}
			defer control.Close()

			port, err := control.DataPort()
			if err != nil {
				return nil, err
			}
			host, _, err := net.SplitHostPort(cfg.SCPIAddress)
			if err != nil {
				return nil, fmt.Errorf("invalid scpi_address %q: %w", cfg.SCPIAddress, err)
			}
			address = net.JoinHostPort(host, strconv.Itoa(port))
			logger.Info("Data port discovered over SCPI", slog.String("address", address))
		}
		return transport.DialTCP(ctx, address, logger)

	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}
