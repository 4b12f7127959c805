package transport

import (
	"context"
	"fmt"
	"net"
)

// dialTCP connects to a server's TCP listener.
func dialTCP(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP dial: %w", err)
	}
	tc := c.(*net.TCPConn)
	tune(tc)
	return tc, nil
}
