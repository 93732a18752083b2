package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func successResponse(param string, value any) string {
	data, _ := json.Marshal(map[string]any{
		"status":  "success",
		"data":    map[string]any{param: value},
		"message": "ok",
	})
	return string(data)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, srv
}

func TestGetParameters(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		switch r.URL.Path {
		case "/api/v1/ascan_length":
			w.Write([]byte(successResponse("ascan_length", 1024)))
		case "/api/v1/sampling_freq":
			w.Write([]byte(successResponse("sampling_freq", 100.0)))
		case "/api/v1/serial_number":
			w.Write([]byte(successResponse("serial_number", "A1580-00042")))
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := context.Background()

	length, err := client.AscanLength(ctx)
	if err != nil {
		t.Fatalf("AscanLength failed: %v", err)
	}
	if length != 1024 {
		t.Errorf("Expected ascan_length 1024, got %d", length)
	}

	freq, err := client.SamplingFreq(ctx)
	if err != nil {
		t.Fatalf("SamplingFreq failed: %v", err)
	}
	if freq != 100.0 {
		t.Errorf("Expected sampling_freq 100.0, got %f", freq)
	}

	serial, err := client.SerialNumber(ctx)
	if err != nil {
		t.Fatalf("SerialNumber failed: %v", err)
	}
	if serial != "A1580-00042" {
		t.Errorf("Expected serial A1580-00042, got %q", serial)
	}
}

func TestSetParameter(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Request body decode failed: %v", err)
		}
		w.Write([]byte(successResponse("ascan_length", 2048)))
	}))

	if err := client.SetAscanLength(context.Background(), 2048); err != nil {
		t.Fatalf("SetAscanLength failed: %v", err)
	}
	if v, ok := gotBody["ascan_length"].(float64); !ok || v != 2048 {
		t.Errorf("Expected request body ascan_length=2048, got %v", gotBody)
	}
}

func TestStartStopAutoAscan(t *testing.T) {
	var paths []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		param := r.URL.Path[len("/api/v1/"):]
		w.Write([]byte(successResponse(param, true)))
	}))

	ctx := context.Background()
	if err := client.StartAutoAscan(ctx); err != nil {
		t.Fatalf("StartAutoAscan failed: %v", err)
	}
	if err := client.StopAutoAscan(ctx); err != nil {
		t.Fatalf("StopAutoAscan failed: %v", err)
	}

	want := []string{"/api/v1/start_auto_ascan", "/api/v1/stop_auto_ascan"}
	if len(paths) != len(want) {
		t.Fatalf("Expected %d requests, got %d", len(want), len(paths))
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("Request %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
}

func TestAPIErrorNotRetried(t *testing.T) {
	var requests int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "error",
			"message": "value out of range",
			"details": map[string]any{
				"code":     "INVALID_VALUE",
				"field":    "ascan_length",
				"expected": "1..8192",
				"received": "100000",
			},
		})
	}))

	err := client.SetAscanLength(context.Background(), 100000)
	if err == nil {
		t.Fatal("Expected error for rejected parameter")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T: %v", err, err)
	}
	if apiErr.Details == nil || apiErr.Details.Code != "INVALID_VALUE" {
		t.Errorf("Expected INVALID_VALUE details, got %+v", apiErr.Details)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("Client error must not be retried: got %d requests", got)
	}
}

func TestServerErrorRetried(t *testing.T) {
	var requests int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "busy"})
			return
		}
		w.Write([]byte(successResponse("ascan_length", 512)))
	}))

	length, err := client.AscanLength(context.Background())
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if length != 512 {
		t.Errorf("Expected ascan_length 512, got %d", length)
	}
	if got := atomic.LoadInt32(&requests); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}

	stats := client.Stats()
	if stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries in stats, got %d", stats.TotalRetries)
	}
	if stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 success in stats, got %d", stats.SuccessRequests)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("Expected error for empty base URL")
	}
}
