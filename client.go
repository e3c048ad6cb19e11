package echoserver

import (
	"bufio"
	"net"
	"time"

	"github.com/pkg/errors"
)

// ErrClientClosed is returned when operating on a closed client.
var ErrClientClosed = errors.New("client closed")

// Client is a thin synchronous client for the echo/add protocol: one
// request frame out, one response frame in. It is not safe for concurrent
// use; open one Client per goroutine.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	closed  bool
}

// Dial connects to a server within timeout. The same timeout bounds each
// subsequent send and receive.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", addr)
	}

	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// SendReceive writes one request frame and reads the matching response
// frame, each bounded by the dial timeout.
func (c *Client) SendReceive(request ClientMessage) (ServerMessage, error) {
	if c.closed {
		return nil, ErrClientClosed
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(EncodeClientMessage(request)); err != nil {
		return nil, errors.Wrap(err, "send request")
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	response, err := DecodeServerMessage(c.reader, defaultMaxFrameSize)
	if err != nil {
		return nil, errors.Wrap(err, "receive response")
	}

	return response, nil
}

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
