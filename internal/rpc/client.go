package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const defaultCallTimeout = 30 * time.Second

// Client talks to a running server over its Unix socket. It is not safe
// for concurrent use; open one per goroutine.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to the server socket.
func Dial(sockPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", sockPath, err)
	}
	reader := bufio.NewReaderSize(conn, 64*1024)
	return &Client{conn: conn, reader: reader, timeout: defaultCallTimeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one request and decodes the response Data into out (skipped
// when out is nil). Server-side failures come back as errors carrying the
// server's code and message.
func (c *Client) Call(operation string, args, out any) error {
	req := &Request{Operation: operation}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to marshal arguments: %w", err)
		}
		req.Args = data
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	if _, err := c.conn.Write(append(reqJSON, '\n')); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if !resp.Success {
		return &CallError{Code: resp.Code, Message: resp.Error}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// Ping checks server liveness.
func (c *Client) Ping() error {
	return c.Call(OpPing, nil, nil)
}

// CallError is a failure reported by the server.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
