package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/highbeam/changeguard/internal/verdict"
)

// Client communicates with the daemon over a Unix domain socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client that connects to the given socket path.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// IsAlive reports whether a daemon answers ping on socketPath.
func IsAlive(socketPath string) bool {
	c := NewClient(socketPath, time.Second)
	return c.Ping(context.Background()) == nil
}

// Ping tests if the daemon is alive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, Request{Command: CmdPing})
	return err
}

// Status returns the daemon's status data.
func (c *Client) Status(ctx context.Context) (*StatusData, error) {
	resp, err := c.send(ctx, Request{Command: CmdStatus})
	if err != nil {
		return nil, err
	}
	var status StatusData
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal status data: %w", err)
	}
	return &status, nil
}

// Invoke runs tool on the daemon with args as its JSON arguments.
func (c *Client) Invoke(ctx context.Context, tool string, args json.RawMessage) (*verdict.Result, error) {
	resp, err := c.send(ctx, Request{Command: CmdInvoke, Tool: tool, Args: args})
	if err != nil {
		return nil, err
	}
	var res verdict.Result
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal %s result: %w", tool, err)
	}
	return &res, nil
}

// RequestStop asks the daemon to shut down gracefully.
func (c *Client) RequestStop(ctx context.Context) error {
	_, err := c.send(ctx, Request{Command: CmdStop})
	return err
}

// send dials the socket, sends a JSON request, reads the JSON response.
func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("empty response from daemon")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return &resp, nil
}
