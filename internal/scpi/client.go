package scpi

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// terminator ends every SCPI command and response line.
const terminator = "\r\n"

// Error is one entry from the instrument error queue, as returned by
// SYSTem:ERRor? in "<code>,<message>" form.
type Error struct {
	Code    int
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("scpi error %d: %s", e.Code, e.Message)
}

// IsNone reports whether the entry means "no error" (code 0).
func (e Error) IsNone() bool {
	return e.Code == 0
}

// Client speaks the instrument's SCPI control protocol over TCP. All
// methods are safe for concurrent use; commands are serialized on the
// single connection.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	logger  *slog.Logger
	timeout time.Duration

	mu sync.Mutex
}

// Dial connects to the instrument control port (host:port).
func Dial(ctx context.Context, address string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("scpi dial %s: %w", address, err)
	}

	logger.Info("SCPI control port connected", "address", address)

	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Close terminates the control connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes a command that produces no response.
func (c *Client) Send(command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(command)
}

// Query writes a command and reads one response line.
func (c *Client) Query(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write(command); err != nil {
		return "", err
	}
	return c.readLine(command)
}

func (c *Client) write(command string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("scpi set deadline: %w", err)
	}
	if _, err := c.conn.Write([]byte(command + terminator)); err != nil {
		return fmt.Errorf("scpi write %q: %w", command, err)
	}
	c.logger.Debug("SCPI command sent", "command", command)
	return nil
}

func (c *Client) readLine(command string) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", fmt.Errorf("scpi set deadline: %w", err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("scpi read response to %q: %w", command, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Identify queries *IDN? and returns the raw identification string.
func (c *Client) Identify() (string, error) {
	return c.Query("*IDN?")
}

// NextError pops one entry from the instrument error queue.
func (c *Client) NextError() (Error, error) {
	line, err := c.Query("SYSTem:ERRor?")
	if err != nil {
		return Error{}, err
	}
	return parseError(line)
}

// DrainErrorQueue reads the error queue until a "no error" entry and
// returns the accumulated errors.
func (c *Client) DrainErrorQueue() ([]Error, error) {
	var errs []Error
	// Bounded so a misbehaving instrument cannot loop forever.
	for i := 0; i < 32; i++ {
		e, err := c.NextError()
		if err != nil {
			return errs, err
		}
		if e.IsNone() {
			return errs, nil
		}
		errs = append(errs, e)
	}
	return errs, fmt.Errorf("error queue did not drain after %d entries", len(errs))
}

// DataPort queries the TCP port the instrument streams A-scan data on.
func (c *Client) DataPort() (int, error) {
	line, err := c.Query("DATA:PORT?")
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("scpi parse data port %q: %w", line, err)
	}
	return port, nil
}

// DataLength queries the configured A-scan length in samples.
func (c *Client) DataLength() (int, error) {
	line, err := c.Query("DATA:LENG?")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("scpi parse data length %q: %w", line, err)
	}
	return n, nil
}

// SetDataLength configures the A-scan length in samples.
func (c *Client) SetDataLength(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid data length: %d", n)
	}
	return c.Send(fmt.Sprintf("DATA:LENG %d", n))
}

// StartAuto starts continuous measurement.
func (c *Client) StartAuto() error {
	return c.Send("STAR AUTO")
}

// Stop halts continuous measurement.
func (c *Client) Stop() error {
	return c.Send("STOP")
}

// parseError splits a "<code>,<message>" error queue line.
func parseError(line string) (Error, error) {
	code, message, found := strings.Cut(line, ",")
	if !found {
		return Error{}, fmt.Errorf("scpi malformed error entry %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return Error{}, fmt.Errorf("scpi malformed error code %q: %w", code, err)
	}
	return Error{
		Code:    n,
		Message: strings.Trim(strings.TrimSpace(message), `"`),
	}, nil
}
