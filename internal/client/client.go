// Package client provides a client library for communicating with the siteblock agent.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkowalczyk/siteblock/internal/accesslog"
	"github.com/pkowalczyk/siteblock/internal/protocol"
)

// Client is a client for the siteblock agent.
type Client struct {
	socketPath string
	conn       net.Conn
	reader     *bufio.Reader
	timeout    time.Duration
	mu         sync.Mutex
}

// New creates a new client.
func New(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

// NewWithTimeout creates a new client with a custom timeout. Mutating
// requests can block on the elevation prompt, so the timeout has to
// cover a human answering it.
func NewWithTimeout(socketPath string, timeout time.Duration) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Connect establishes a connection to the agent.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to agent: %w", err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.reader = nil
		return err
	}
	return nil
}

// send sends a request and receives a response.
func (c *Client) send(req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := c.conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &resp, nil
}

// Ping checks if the agent is responsive.
func (c *Client) Ping() error {
	req, _ := protocol.NewRequest(protocol.RequestPing, nil)
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return fmt.Errorf("ping failed: %s", resp.Message)
	}
	return nil
}

// Status returns the agent's status snapshot.
func (c *Client) Status() (*protocol.StatusData, error) {
	req, _ := protocol.NewRequest(protocol.RequestStatus, nil)
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, fmt.Errorf("status failed: %s", resp.Message)
	}

	var data protocol.StatusData
	if err := resp.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// List returns the blocked domains.
func (c *Client) List() ([]string, error) {
	req, _ := protocol.NewRequest(protocol.RequestList, nil)
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, fmt.Errorf("list failed: %s", resp.Message)
	}

	var data protocol.ListData
	if err := resp.ParseData(&data); err != nil {
		return nil, err
	}
	return data.Domains, nil
}

// Add records domains in the blocklist. Returns the domains actually
// added, after normalization and deduplication.
func (c *Client) Add(domains []string) ([]string, error) {
	return c.sendDomains(protocol.RequestAdd, domains)
}

// Remove drops domains from the blocklist. Returns the domains actually
// removed.
func (c *Client) Remove(domains []string) ([]string, error) {
	return c.sendDomains(protocol.RequestRemove, domains)
}

func (c *Client) sendDomains(reqType protocol.RequestType, domains []string) ([]string, error) {
	req, _ := protocol.NewRequest(reqType, protocol.DomainsPayload{Domains: domains})
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, fmt.Errorf("%s: %s", resp.Code, resp.Message)
	}

	var data protocol.DomainsData
	if err := resp.ParseData(&data); err != nil {
		return nil, err
	}
	return data.Domains, nil
}

// Enable turns blocking on for the recorded blocklist.
func (c *Client) Enable() error {
	return c.sendSimple(protocol.RequestEnable)
}

// Disable turns blocking off and strips the managed block.
func (c *Client) Disable() error {
	return c.sendSimple(protocol.RequestDisable)
}

func (c *Client) sendSimple(reqType protocol.RequestType) error {
	req, _ := protocol.NewRequest(reqType, nil)
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	if !resp.IsOK() {
		return fmt.Errorf("%s: %s", resp.Code, resp.Message)
	}
	return nil
}

// AccessLog returns recorded accesses. Days of zero asks for the whole
// history.
func (c *Client) AccessLog(days int) ([]accesslog.Entry, error) {
	req, _ := protocol.NewRequest(protocol.RequestLog, protocol.LogPayload{Days: days})
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, fmt.Errorf("log failed: %s", resp.Message)
	}

	var data protocol.LogData
	if err := resp.ParseData(&data); err != nil {
		return nil, err
	}
	return data.Entries, nil
}

// IsConnected checks if the agent is reachable.
func IsConnected(socketPath string) bool {
	client := New(socketPath)
	if err := client.Connect(); err != nil {
		return false
	}
	defer client.Close()

	return client.Ping() == nil
}
