package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// ErrRemote wraps a Response whose OK field was false, carrying the
// daemon-reported error text.
var ErrRemote = errors.New("control: remote error")

// Client is a single connection to a peervpn daemon's control socket,
// issuing one request and reading one response at a time.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	enc     *json.Encoder
}

// Dial connects to the control socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial control socket %s: %w", socketPath, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	return &Client{conn: conn, scanner: scanner, enc: json.NewEncoder(conn)}, nil
}

// Call sends a verb with its arguments and waits for one response line.
// If the daemon reports OK=false, the error wraps ErrRemote with the
// daemon's message; the caller must still inspect resp.Data on success.
func (c *Client) Call(verb string, args ...string) (Response, error) {
	if err := c.enc.Encode(Request{Verb: verb, Args: args}); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, fmt.Errorf("read response: %w", errors.New("connection closed"))
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	if !resp.OK {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close control connection: %w", err)
	}
	return nil
}
