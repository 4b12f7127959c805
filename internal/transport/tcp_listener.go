package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

const tcpKeepAlive = 30 * time.Second

// tcpListener accepts plain TCP connections.
type tcpListener struct {
	ln   *net.TCPListener
	port int
}

func listenTCP(addr string) (*tcpListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP listen: %w", err)
	}
	tl := ln.(*net.TCPListener)
	return &tcpListener{
		ln:   tl,
		port: tl.Addr().(*net.TCPAddr).Port,
	}, nil
}

// Port returns the TCP port the listener is bound to.
func (l *tcpListener) Port() int {
	return l.port
}

// Accept waits for a new TCP connection.
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	// Use a channel so we can respect context cancellation
	type result struct {
		conn *net.TCPConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.AcceptTCP()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("accept TCP connection: %w", res.err)
		}
		tune(res.conn)
		return res.conn, nil
	case <-ctx.Done():
		// The goroutine may still be blocked in AcceptTCP. It unblocks when
		// the listener is closed; a connection accepted before that is
		// closed so it does not leak.
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close shuts down the TCP listener.
func (l *tcpListener) Close() error {
	return l.ln.Close()
}

// tune disables Nagle so small input events are not delayed, and enables
// TCP keep-alive.
func tune(c *net.TCPConn) {
	c.SetNoDelay(true)
	c.SetKeepAlive(true)
	c.SetKeepAlivePeriod(tcpKeepAlive)
}
