package transport

import (
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// quicConn carries a session over the single bidirectional stream of a
// QUIC connection. The server opens the stream and speaks first.
type quicConn struct {
	qconn  *quic.Conn
	stream *quic.Stream
	tr     *quic.Transport // dialer side only; keeps the UDP socket alive

	// peerDone is closed once a read has failed, normally because the peer
	// finished its side of the stream.
	peerDone  chan struct{}
	readOnce  sync.Once
	closeOnce sync.Once
}

// closeLinger bounds how long Close waits for the peer to read what was
// written before it tears the connection down.
var closeLinger = time.Second

func newQUICConn(qconn *quic.Conn, stream *quic.Stream, tr *quic.Transport) *quicConn {
	return &quicConn{qconn: qconn, stream: stream, tr: tr, peerDone: make(chan struct{})}
}

func (c *quicConn) Read(p []byte) (int, error) {
	n, err := c.stream.Read(p)
	if err != nil {
		c.readOnce.Do(func() { close(c.peerDone) })
	}
	return n, err
}

func (c *quicConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

func (c *quicConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.qconn.RemoteAddr()
}

// Close finishes the send side of the stream and returns. Closing the QUIC
// connection itself would discard data still in flight, such as a refusal
// written just before Close, so that happens in the background once the
// peer has finished its side, the peer has closed the connection, or
// closeLinger has passed. A reader still blocked on the stream is released
// by the same deadline.
func (c *quicConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.stream.Close()
		c.stream.SetReadDeadline(time.Now().Add(closeLinger))
		go c.linger()
	})
	return err
}

func (c *quicConn) linger() {
	t := time.NewTimer(closeLinger)
	defer t.Stop()
	select {
	case <-c.peerDone:
	case <-c.qconn.Context().Done():
	case <-t.C:
	}
	c.qconn.CloseWithError(0, "closed")
	if c.tr != nil {
		c.tr.Close()
	}
}

// ConnectionStats returns QUIC-level connection statistics.
// Satisfies the ProfileableConn optional interface.
func (c *quicConn) ConnectionStats() quic.ConnectionStats {
	return c.qconn.ConnectionStats()
}
