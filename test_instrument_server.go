package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Acoustic-Control-Systems/a1580-gateway/internal/protocol"
)

// Mock A1580 instrument: serves the parameter REST API and streams
// synthetic A-scan packets over WebSocket. Useful for exercising the
// gateway without hardware.

type instrument struct {
	mu           sync.Mutex
	ascanLength  int
	samplingFreq float64
	streaming    bool
	packetNumber uint8
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{"server-websocket"},
}

func (ins *instrument) writeSuccess(w http.ResponseWriter, param string, value any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "success",
		"data":    map[string]any{param: value},
		"message": "ok",
	})
}

func (ins *instrument) writeError(w http.ResponseWriter, status int, message, code, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "error",
		"message": message,
		"details": map[string]any{"code": code, "field": field},
	})
}

func (ins *instrument) parameterHandler(w http.ResponseWriter, r *http.Request) {
	param := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	if param == "" || strings.Contains(param, "/") {
		ins.writeError(w, http.StatusNotFound, "unknown parameter", "UNKNOWN_PARAMETER", param)
		return
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		switch param {
		case "ascan_length":
			ins.writeSuccess(w, param, ins.ascanLength)
		case "sampling_freq":
			ins.writeSuccess(w, param, ins.samplingFreq)
		case "serial_number":
			ins.writeSuccess(w, param, "A1580-TEST-001")
		case "firmware_version":
			ins.writeSuccess(w, param, "1.2.3-mock")
		default:
			ins.writeError(w, http.StatusNotFound, "unknown parameter", "UNKNOWN_PARAMETER", param)
		}

	case http.MethodPost:
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			ins.writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_BODY", param)
			return
		}

		switch param {
		case "ascan_length":
			var n int
			if err := json.Unmarshal(body[param], &n); err != nil || n < 1 || n > 65536 {
				ins.writeError(w, http.StatusBadRequest, "ascan_length out of range", "INVALID_VALUE", param)
				return
			}
			ins.ascanLength = n
			log.Printf("ascan_length set to %d", n)
			ins.writeSuccess(w, param, n)
		case "start_auto_ascan":
			ins.streaming = true
			log.Printf("auto A-scan streaming started")
			ins.writeSuccess(w, param, true)
		case "stop_auto_ascan":
			ins.streaming = false
			log.Printf("auto A-scan streaming stopped")
			ins.writeSuccess(w, param, true)
		default:
			ins.writeError(w, http.StatusNotFound, "unknown parameter", "UNKNOWN_PARAMETER", param)
		}

	default:
		ins.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED", param)
	}
}

// nextPacket builds one synthetic packet: a decaying sine burst with a
// delayed echo, roughly what a transducer facing a steel block returns.
func (ins *instrument) nextPacket() []byte {
	ins.mu.Lock()
	length := ins.ascanLength
	number := ins.packetNumber
	ins.packetNumber++
	ins.mu.Unlock()

	samples := make([]int16, length)
	echoStart := length / 3
	for i := echoStart; i < length; i++ {
		t := float64(i - echoStart)
		amplitude := 12000 * math.Exp(-t/40) * math.Sin(t/2)
		samples[i] = int16(amplitude)
	}

	header := protocol.Header{
		PacketNumber: number,
		LengthLo:     uint16(length * protocol.SampleSize & 0xFFFF),
		LengthHi:     uint8(length * protocol.SampleSize >> 16),
		AscanCount:   1,
	}
	return protocol.EncodePacket(header, samples)
}

func (ins *instrument) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("stream client connected: %s", conn.RemoteAddr())

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		ins.mu.Lock()
		streaming := ins.streaming
		ins.mu.Unlock()
		if !streaming {
			continue
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, ins.nextPacket()); err != nil {
			log.Printf("stream client disconnected: %v", err)
			return
		}
	}
}

func main() {
	restAddr := flag.String("rest", ":8000", "REST API listen address")
	wsAddr := flag.String("ws", ":8765", "WebSocket stream listen address")
	ascanLength := flag.Int("ascan-length", 1024, "initial A-scan length in samples")
	flag.Parse()

	ins := &instrument{
		ascanLength:  *ascanLength,
		samplingFreq: 100.0,
	}

	restMux := http.NewServeMux()
	restMux.HandleFunc("/api/v1/", ins.parameterHandler)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", ins.streamHandler)

	go func() {
		log.Printf("mock instrument REST API on %s", *restAddr)
		if err := http.ListenAndServe(*restAddr, restMux); err != nil {
			log.Fatalf("REST server failed: %v", err)
		}
	}()

	log.Printf("mock instrument stream on %s (packet size %d)", *wsAddr, protocol.PacketSize(*ascanLength))
	if err := http.ListenAndServe(*wsAddr, wsMux); err != nil {
		log.Fatalf("stream server failed: %v", err)
	}
}
