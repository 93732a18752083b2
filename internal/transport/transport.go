package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Connection is a byte-stream source for instrument data. Implementations
// deliver raw chunks in arrival order; framing happens downstream.
type Connection interface {
	// ReadChunk blocks until the next chunk of stream data arrives.
	ReadChunk() ([]byte, error)
	// Close terminates the connection. ReadChunk calls in flight return
	// an error after Close.
	Close() error
	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// WebSocketConn wraps a gorilla websocket connection and exposes binary
// frames as stream chunks. Non-binary frames are skipped.
type WebSocketConn struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// DialWebSocket connects to an instrument WebSocket endpoint. The device
// firmware requires the "server-websocket" subprotocol during the handshake.
func DialWebSocket(ctx context.Context, url string, logger *slog.Logger) (*WebSocketConn, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"server-websocket"},
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}

	logger.Info("WebSocket connected",
		"url", url,
		"subprotocol", conn.Subprotocol())

	return &WebSocketConn{conn: conn, logger: logger}, nil
}

// ReadChunk returns the payload of the next binary frame.
func (w *WebSocketConn) ReadChunk() ([]byte, error) {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("websocket read: %w", err)
		}
		if messageType != websocket.BinaryMessage {
			w.logger.Debug("Skipping non-binary frame", "type", messageType, "size", len(data))
			continue
		}
		return data, nil
	}
}

// Close sends a close frame and tears down the connection.
func (w *WebSocketConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}

// RemoteAddr returns the peer address.
func (w *WebSocketConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// TCPConn reads raw stream bytes from an instrument data port.
type TCPConn struct {
	conn   net.Conn
	buf    []byte
	logger *slog.Logger
}

// DialTCP connects to a raw instrument data port (host:port).
func DialTCP(ctx context.Context, address string, logger *slog.Logger) (*TCPConn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", address, err)
	}

	logger.Info("TCP data port connected", "address", address)

	return &TCPConn{
		conn:   conn,
		buf:    make([]byte, 64*1024),
		logger: logger,
	}, nil
}

// ReadChunk returns whatever bytes the next read delivers. Chunk boundaries
// carry no meaning on TCP.
func (t *TCPConn) ReadChunk() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, fmt.Errorf("tcp read: %w", err)
	}
	chunk := make([]byte, n)
	copy(chunk, t.buf[:n])
	return chunk, nil
}

// Close terminates the TCP connection.
func (t *TCPConn) Close() error {
	return t.conn.Close()
}

// RemoteAddr returns the peer address.
func (t *TCPConn) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
