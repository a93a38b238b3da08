// Copyright 2015 Apcera Inc. All rights reserved.

package control

import (
	"fmt"
	"net"
)

// Client is a thin synchronous wrapper over the control socket wire
// protocol, the daemon-side counterpart of whatever CLI tool drives
// this socket (out of scope here, per spec.md's Out-of-scope note on
// the control-plane CLI).
type Client struct {
	conn net.Conn
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Call sends req and returns the daemon's Response.
func (c *Client) Call(req *Request) (*Response, error) {
	if err := writeFrame(c.conn, req); err != nil {
		return nil, err
	}
	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
