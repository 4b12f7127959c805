package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// dialQUIC connects to a server's QUIC listener and waits for the stream
// the server opens. The stream becomes visible once the server has written
// its greeting.
func dialQUIC(ctx context.Context, addr string) (Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	// Use a fresh UDP socket for the client
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	qconn, err := tr.Dial(ctx, raddr, clientTLSConfig(), quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		qconn.CloseWithError(1, "no stream")
		tr.Close()
		return nil, fmt.Errorf("accept stream: %w", err)
	}

	return newQUICConn(qconn, stream, tr), nil
}
