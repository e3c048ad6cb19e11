// Package echoserver implements a minimal request/response TCP server:
// clients send echo or addition requests as length-prefixed binary frames
// and receive one typed response per request. The package provides the
// server lifecycle (bind, accept loop, worker pool dispatch, graceful stop)
// and a small synchronous client for tests and tools.
package echoserver

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// readBufferSize is the size of the buffered reader in front of each
// connection.
const readBufferSize = 4 * 1024

// Conn handles one accepted connection. It runs independent
// decode-compute-encode-write cycles until the peer closes the stream or an
// error ends it. A Conn holds no state across cycles and never touches
// another connection.
type Conn struct {
	rawConn *net.TCPConn
	reader  *bufio.Reader
	logger  Logger

	opts options
}

// NewConn creates a connection handler around the given TCP connection.
// Unset options fall back to their defaults.
func NewConn(conn *net.TCPConn, opt ...Option) *Conn {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	return newConnWithOptions(conn, opts)
}

func newConnWithOptions(c *net.TCPConn, opts options) *Conn {
	return &Conn{
		rawConn: c,
		reader:  bufio.NewReaderSize(c, readBufferSize),
		logger:  opts.logger,
		opts:    opts,
	}
}

// Run serves request/response cycles until the peer closes the connection.
// A malformed frame is answered with an ErrorResponse before the connection
// is closed; a transport failure drops the connection without a frame.
// The socket is closed on every exit path.
func (c *Conn) Run() error {
	defer c.rawConn.Close()

	c.logger.Debug("connection established", "addr", c.Addr())

	for {
		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.ioTimeout))

		request, err := DecodeClientMessage(c.reader, c.opts.maxFrameSize)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Debug("malformed frame", "addr", c.Addr(), "error", err)
				_ = c.reply(ErrorResponse{Detail: decodeErr.Reason})
				return nil
			}
			if errors.Is(err, io.EOF) {
				c.logger.Debug("connection closed by peer", "addr", c.Addr())
				return nil
			}
			c.logger.Debug("read error", "addr", c.Addr(), "error", err)
			return err
		}

		if err := c.reply(respond(request)); err != nil {
			c.logger.Debug("write error", "addr", c.Addr(), "error", err)
			return err
		}
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// respond computes the reply for one decoded request.
func respond(request ClientMessage) ServerMessage {
	switch m := request.(type) {
	case EchoMessage:
		return EchoResponse{Content: m.Content}
	case AddRequest:
		// int32 addition wraps around on overflow.
		return AddResponse{Result: m.A + m.B}
	default:
		return ErrorResponse{Detail: "unsupported message type"}
	}
}

// reply encodes and writes one response frame with a write deadline.
func (c *Conn) reply(msg ServerMessage) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.ioTimeout))

	_, err := c.rawConn.Write(EncodeServerMessage(msg))
	return errors.Wrap(err, "write response")
}
