package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client sends control commands to a running engine
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new control client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    10 * time.Second,
	}
}

// SetTimeout sets the client timeout for commands
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends a command and waits for the response
func (c *Client) SendCommand(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine (is a run active?): %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &resp, nil
}

// Status requests the status of runID (empty for the only active run)
func (c *Client) Status(runID string) (*Response, error) {
	return c.SendCommand(Command{
		Type:      CommandStatus,
		RunID:     runID,
		Timestamp: time.Now(),
	})
}

// Resolve answers the pending decision of runID. decisionID may be empty to
// answer whatever is pending.
func (c *Client) Resolve(runID, decisionID string, approve bool) (*Response, error) {
	return c.SendCommand(Command{
		Type:       CommandResolve,
		RunID:      runID,
		DecisionID: decisionID,
		Approve:    approve,
		Timestamp:  time.Now(),
	})
}

// Cancel stops runID
func (c *Client) Cancel(runID, reason string) (*Response, error) {
	return c.SendCommand(Command{
		Type:      CommandCancel,
		RunID:     runID,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}
