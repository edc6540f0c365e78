package socket

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client talks to the curserve daemon. Requests go out on the shared request
// socket; after Alloc, responses for tenant operations arrive on this
// client's private reply socket.
type Client struct {
	sockPath string
	replyDir string
	clientID string

	conn  net.Conn // shared request socket
	reply net.Conn // private reply socket, established by Alloc
}

// NewClient creates a client for the given shared socket, reply directory and
// client identifier.
func NewClient(sockPath, replyDir, clientID string) *Client {
	return &Client{sockPath: sockPath, replyDir: replyDir, clientID: clientID}
}

// Ping checks whether the daemon is reachable.
func (c *Client) Ping() bool {
	conn, err := net.DialTimeout("unix", c.sockPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Close tears down both connections.
func (c *Client) Close() {
	if c.reply != nil {
		c.reply.Close()
		c.reply = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", c.sockPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.conn = conn
	return nil
}

func (c *Client) send(req Request) error {
	if err := c.connect(); err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func readResponse(conn net.Conn, timeout time.Duration) (*Response, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		return nil, fmt.Errorf("connection closed")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// dialReply connects to this client's reply socket, retrying until the server
// has finished building the codebase and bound the listener.
func (c *Client) dialReply(timeout time.Duration) error {
	path := ReplyPath(c.replyDir, c.clientID)
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
		if err == nil {
			if c.reply != nil {
				c.reply.Close()
			}
			c.reply = conn
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("reply socket %s: %w", path, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Alloc asks the daemon to build (or refresh) this client's codebase and
// establishes the private reply channel. Building a large tree can take a
// while, so the reply wait is generous.
func (c *Client) Alloc(root string) (*Response, error) {
	err := c.send(Request{Type: TypeAllocPID, ClientID: c.clientID, RootPath: root})
	if err != nil {
		return nil, err
	}
	if err := c.dialReply(30 * time.Second); err != nil {
		return nil, err
	}
	return c.readReply(60 * time.Second)
}

// Search runs a pattern search against this client's codebase. Alloc must
// have succeeded first.
func (c *Client) Search(pattern string, caseSensitive bool, maxResults int) (*Response, error) {
	if c.reply == nil {
		return nil, fmt.Errorf("not allocated: call Alloc first")
	}
	err := c.send(Request{
		Type:          TypeRequestRipgrep,
		ClientID:      c.clientID,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
		MaxResults:    maxResults,
	})
	if err != nil {
		return nil, err
	}
	return c.readReply(60 * time.Second)
}

// Reload rebuilds this client's codebase against its bound root. When no
// reply channel is bound the response arrives on the request connection.
func (c *Client) Reload() (*Response, error) {
	if err := c.send(Request{Type: TypeRefresh, ClientID: c.clientID}); err != nil {
		return nil, err
	}
	if c.reply == nil {
		return c.readRequestConn(60 * time.Second)
	}
	return c.readReply(60 * time.Second)
}

// Dealloc releases this client's codebase on the daemon. When no reply
// channel is bound the response arrives on the request connection instead.
func (c *Client) Dealloc() (*Response, error) {
	if err := c.send(Request{Type: TypeDeallocPID, ClientID: c.clientID}); err != nil {
		return nil, err
	}
	if c.reply == nil {
		return c.readRequestConn(10 * time.Second)
	}
	resp, err := c.readReply(10 * time.Second)
	c.reply.Close()
	c.reply = nil
	return resp, err
}

// Health queries daemon status. Answered on the request connection, so it
// works without an allocation.
func (c *Client) Health() (*Response, error) {
	if err := c.send(Request{Type: TypeHealth}); err != nil {
		return nil, err
	}
	return c.readRequestConn(5 * time.Second)
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	if err := c.send(Request{Type: TypeShutdown}); err != nil {
		return err
	}
	_, err := c.readRequestConn(5 * time.Second)
	return err
}

func (c *Client) readReply(timeout time.Duration) (*Response, error) {
	resp, err := readResponse(c.reply, timeout)
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return resp, fmt.Errorf("server error (%s): %s", resp.Kind, resp.Error)
	}
	return resp, nil
}

func (c *Client) readRequestConn(timeout time.Duration) (*Response, error) {
	resp, err := readResponse(c.conn, timeout)
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusOK {
		return resp, fmt.Errorf("server error (%s): %s", resp.Kind, resp.Error)
	}
	return resp, nil
}
