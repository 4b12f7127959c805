// Package transport provides the raw byte streams glide sessions run over:
// plain TCP, a single QUIC stream, or both on the same port.
package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
)

// Mode selects the transport for listening and dialing.
type Mode int

const (
	ModeTCP Mode = iota
	ModeQUIC
	ModeDual
)

func (m Mode) String() string {
	switch m {
	case ModeTCP:
		return "tcp"
	case ModeQUIC:
		return "quic"
	case ModeDual:
		return "dual"
	default:
		return "unknown"
	}
}

// ParseMode accepts "tcp", "quic" or "dual". The empty string means TCP.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "tcp":
		return ModeTCP, nil
	case "quic":
		return ModeQUIC, nil
	case "dual":
		return ModeDual, nil
	}
	return 0, fmt.Errorf("unknown transport %q (want tcp, quic or dual)", s)
}

// Conn is an ordered, reliable byte stream between a server and a client.
// Framing and message semantics live above it.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Listener accepts raw connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Port() int
	Close() error
}

// ProfileableConn is an optional interface for connections that can
// provide QUIC-level connection statistics.
type ProfileableConn interface {
	ConnectionStats() quic.ConnectionStats
}

// Listen opens a listener for mode on addr ("host:port"; port 0 picks one).
func Listen(mode Mode, addr string) (Listener, error) {
	switch mode {
	case ModeTCP:
		return listenTCP(addr)
	case ModeQUIC:
		cert, err := GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("generate TLS cert: %w", err)
		}
		return listenQUIC(addr, cert)
	case ModeDual:
		return ListenDual(addr)
	}
	return nil, fmt.Errorf("listen: unsupported transport %s", mode)
}

// quicFallbackDelay bounds how long a dual-mode dial waits for QUIC before
// trying TCP.
const quicFallbackDelay = 2 * time.Second

// Dial connects to addr using mode. In dual mode QUIC is tried first and
// TCP is used if QUIC does not come up within a short delay.
func Dial(ctx context.Context, mode Mode, addr string) (Conn, error) {
	switch mode {
	case ModeTCP:
		return dialTCP(ctx, addr)
	case ModeQUIC:
		return dialQUIC(ctx, addr)
	case ModeDual:
		qctx, cancel := context.WithTimeout(ctx, quicFallbackDelay)
		conn, err := dialQUIC(qctx, addr)
		cancel()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return dialTCP(ctx, addr)
	}
	return nil, fmt.Errorf("dial: unsupported transport %s", mode)
}
