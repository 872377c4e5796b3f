package transport

import (
	"net"

	"github.com/golang/snappy"
)

// snappyConn wraps a net.Conn in snappy's streaming frame format, used
// optionally on the transport bridge's outer connection (never on
// individual 252-byte protocol frames, which are too small to benefit).
type snappyConn struct {
	net.Conn
	w *snappy.Writer
	r *snappy.Reader
}

func newSnappyConn(conn net.Conn) *snappyConn {
	return &snappyConn{
		Conn: conn,
		w:    snappy.NewBufferedWriter(conn),
		r:    snappy.NewReader(conn),
	}
}

func (c *snappyConn) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, c.w.Flush()
}

func (c *snappyConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
