package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/tools"
	"github.com/highbeam/changeguard/internal/verdict"
)

// maxRequestBytes bounds one request line. Shield payloads and brief
// documents travel inline.
const maxRequestBytes = 4 << 20

// DaemonQuerier is the interface the IPC server uses to query daemon state.
type DaemonQuerier interface {
	Uptime() time.Duration
	Stop()
}

// StatsSource reports database statistics.
type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

// Invoker runs a named tool against raw JSON arguments.
type Invoker interface {
	Invoke(ctx context.Context, name string, raw json.RawMessage) *verdict.Result
}

// Server is a Unix domain socket server for CLI-to-daemon communication.
type Server struct {
	stats   StatsSource
	invoker Invoker
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	daemon   DaemonQuerier
	listener net.Listener
	stopped  bool
	wg       sync.WaitGroup
}

// NewServer creates a new IPC server. timeout bounds each connection,
// including the tool call it carries.
func NewServer(stats StatsSource, invoker Invoker, timeout time.Duration, logger *zap.Logger) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		stats:   stats,
		invoker: invoker,
		logger:  logger,
		timeout: timeout,
	}
}

// SetDaemon sets the daemon reference. The daemon owns the server, so it
// registers itself after construction.
func (s *Server) SetDaemon(d DaemonQuerier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daemon = d
}

// Listen starts accepting connections on the given Unix socket path.
// It blocks until the context is cancelled, Stop is called, or accept fails.
func (s *Server) Listen(ctx context.Context, socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		if IsAlive(socketPath) {
			return fmt.Errorf("listen %s: another daemon is running", socketPath)
		}
		_ = os.Remove(socketPath)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.stopped = false
	s.mu.Unlock()

	s.logger.Info("ipc server listening", zap.String("socket", socketPath))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Stop stops accepting connections and waits for in-flight connections to drain.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(s.timeout):
		return fmt.Errorf("drain timeout: connections still open after %s", s.timeout)
	}
}

// handleConn reads a single JSON request, dispatches it, and writes the response.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			s.writeError(conn, fmt.Sprintf("read request: %v", err))
			return
		}
		s.writeError(conn, "empty request")
		return
	}

	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	s.logger.Debug("ipc request", zap.String("command", req.Command), zap.String("tool", req.Tool))

	switch req.Command {
	case CmdPing:
		s.writeData(conn, "pong")

	case CmdStatus:
		s.handleStatus(ctx, conn)

	case CmdInvoke:
		if req.Tool == "" {
			s.writeError(conn, "invoke: tool is required")
			return
		}
		s.writeData(conn, s.invoker.Invoke(ctx, req.Tool, req.Args))

	case CmdStop:
		s.writeData(conn, "shutting down")
		s.mu.Lock()
		d := s.daemon
		s.mu.Unlock()
		if d != nil {
			d.Stop()
		}

	default:
		s.writeError(conn, fmt.Sprintf("unknown command: %q", req.Command))
	}
}

func (s *Server) handleStatus(ctx context.Context, conn net.Conn) {
	data := StatusData{PID: os.Getpid()}
	for _, sp := range tools.Specs() {
		data.Tools = append(data.Tools, sp.Name)
	}

	s.mu.Lock()
	d := s.daemon
	s.mu.Unlock()
	if d != nil {
		data.Uptime = d.Uptime().Truncate(time.Second).String()
	}

	st, err := s.stats.Stats(ctx)
	if err != nil {
		s.writeError(conn, fmt.Sprintf("status: %v", err))
		return
	}
	data.Store = st
	s.writeData(conn, data)
}

func (s *Server) writeData(conn net.Conn, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.writeError(conn, fmt.Sprintf("encode response: %v", err))
		return
	}
	s.writeResponse(conn, Response{OK: true, Data: raw})
}

func (s *Server) writeError(conn net.Conn, msg string) {
	s.writeResponse(conn, Response{OK: false, Error: msg})
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Debug("ipc write failed", zap.Error(err))
	}
}
