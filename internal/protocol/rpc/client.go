package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client issues calls over a single TCP connection, one at a time.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	xid  uint32
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, xid: uint32(time.Now().UnixNano())}, nil
}

// Call sends one request and returns the procedure results of its reply.
func (c *Client) Call(ctx context.Context, program, version, procedure uint32, args []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.xid++
	xid := c.xid

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	msg, err := MakeCall(xid, program, version, procedure, args)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(msg); err != nil {
		return nil, fmt.Errorf("write call: %w", err)
	}

	record, err := ReadRecord(c.conn)
	if err != nil {
		return nil, err
	}
	return ReadReply(xid, record)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
