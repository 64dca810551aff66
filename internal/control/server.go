// Package control exposes running controllers over a unix socket so a second
// process (`pdca decide`, `pdca cancel`, `pdca status`) can inspect a run and
// answer its pending decisions.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Command types understood by the Dispatcher
const (
	CommandStatus  = "status"
	CommandResolve = "resolve"
	CommandCancel  = "cancel"
)

// Command represents a control command sent to a running engine
type Command struct {
	Type       string                 `json:"type"`                  // "status", "resolve", "cancel"
	RunID      string                 `json:"run_id,omitempty"`      // Target run (optional with one run)
	DecisionID string                 `json:"decision_id,omitempty"` // Expected pending decision (resolve)
	Approve    bool                   `json:"approve,omitempty"`     // Verdict (resolve)
	Reason     string                 `json:"reason,omitempty"`      // Optional reason (cancel)
	Timestamp  time.Time              `json:"timestamp"`             // When command was sent
	Metadata   map[string]interface{} `json:"metadata,omitempty"`    // Additional metadata
}

// Response represents a response to a control command
type Response struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Decode converts Data into v (for example a *Status)
func (r *Response) Decode(v interface{}) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("failed to encode response data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// Handler answers one command. The returned map becomes Response.Data.
type Handler func(ctx context.Context, cmd Command) (map[string]interface{}, error)

// Server manages the control socket
type Server struct {
	socketPath string
	listener   net.Listener
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	logger     *zap.Logger

	onCommand Handler
}

// NewServer creates a new control server
// socketPath should be something like /tmp/pdca-<run-id>.sock
func NewServer(socketPath string, onCommand Handler, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove a stale socket left by a crashed process
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		onCommand:  onCommand,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     logger.With(zap.String("socket", socketPath)),
	}, nil
}

// Start begins listening for control commands
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create control socket: %w", err)
	}

	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("control server listening")

	go s.acceptLoop(ctx)

	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		// Accept timeout lets the loop observe stopCh and ctx
		if err := s.listener.(*net.UnixListener).SetDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Warn("failed to set accept deadline", zap.Error(err))
			continue
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("accept error", zap.Error(err))
			continue
		}

		go s.handleConnection(ctx, conn)
	}
}

// handleConnection processes a single control connection
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Read deadline keeps a bad client from pinning the goroutine
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.logger.Warn("failed to set read deadline", zap.Error(err))
		return
	}

	decoder := json.NewDecoder(conn)
	var cmd Command
	if err := decoder.Decode(&cmd); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to decode command: %v", err))
		return
	}

	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	s.logger.Debug("control command received",
		zap.String("type", cmd.Type),
		zap.String("run_id", cmd.RunID))

	var resp Response
	if s.onCommand != nil {
		data, err := s.onCommand(ctx, cmd)
		if err != nil {
			resp = Response{
				Success: false,
				Message: fmt.Sprintf("Command failed: %v", err),
				Error:   err.Error(),
			}
		} else {
			resp = Response{
				Success: true,
				Message: fmt.Sprintf("Command '%s' completed successfully", cmd.Type),
				Data:    data,
			}
		}
	} else {
		resp = Response{
			Success: false,
			Message: "No command handler registered",
			Error:   "server misconfiguration",
		}
	}

	if err := s.sendResponse(conn, resp); err != nil {
		s.logger.Warn("failed to send response", zap.Error(err))
	}
}

// sendError sends an error response to the client
func (s *Server) sendError(conn net.Conn, message string) {
	resp := Response{
		Success: false,
		Message: message,
		Error:   message,
	}
	_ = s.sendResponse(conn, resp) // Ignore errors on error path
}

// sendResponse sends a response to the client
func (s *Server) sendResponse(conn net.Conn, resp Response) error {
	encoder := json.NewEncoder(conn)
	return encoder.Encode(resp)
}

// Stop stops the control server and removes the socket file
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	// Closing the listener unblocks Accept
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("error closing listener", zap.Error(err))
		}
	}

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timeout waiting for server shutdown")
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.logger.Warn("failed to remove socket file", zap.Error(err))
	}

	s.logger.Info("control server stopped")
	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path to the control socket
func (s *Server) SocketPath() string {
	return s.socketPath
}

// DefaultSocketPath returns the socket path used for runID under dir
// (os.TempDir() when dir is empty)
func DefaultSocketPath(dir, runID string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("pdca-%s.sock", runID))
}
