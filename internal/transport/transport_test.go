package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologos/glide/internal/protocol"
)

// setupConnPair listens with lmode, dials with dmode and returns both sides.
// The server writes a greeting packet as soon as it accepts, as a glide
// server does; QUIC dials complete only once that write has happened.
func setupConnPair(t *testing.T, lmode, dmode Mode) (serverConn, clientConn Conn) {
	t.Helper()

	ln, err := Listen(lmode, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	serverDone := make(chan Conn, 1)
	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		if err := protocol.WriteMessage(conn, &protocol.Hello{Major: 1, Minor: 8}, protocol.Current); err != nil {
			serverErr <- err
			return
		}
		serverDone <- conn
	}()

	cc, err := Dial(ctx, dmode, net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })

	select {
	case sc := <-serverDone:
		t.Cleanup(func() { sc.Close() })
		return sc, cc
	case err := <-serverErr:
		t.Fatalf("server accept: %v", err)
	case <-ctx.Done():
		t.Fatal("timeout waiting for server accept")
	}
	return nil, nil
}

func exchange(t *testing.T, sc, cc Conn) {
	t.Helper()

	payload, err := protocol.ReadPacket(cc, protocol.MaxHelloLength)
	require.NoError(t, err)
	msg, err := protocol.Unmarshal(payload, protocol.Current, protocol.PhaseHello, protocol.RoleServer)
	require.NoError(t, err)
	assert.Equal(t, &protocol.Hello{Major: 1, Minor: 8}, msg)

	back := &protocol.HelloBack{Major: 1, Minor: 8, Name: "laptop"}
	require.NoError(t, protocol.WriteMessage(cc, back, protocol.Current))
	payload, err = protocol.ReadPacket(sc, protocol.MaxHelloLength)
	require.NoError(t, err)
	msg, err = protocol.Unmarshal(payload, protocol.Current, protocol.PhaseHello, protocol.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, back, msg)
}

func TestExchange(t *testing.T) {
	tests := []struct {
		name         string
		listen, dial Mode
		quic         bool
	}{
		{"tcp", ModeTCP, ModeTCP, false},
		{"quic", ModeQUIC, ModeQUIC, true},
		{"dual accepts quic", ModeDual, ModeQUIC, true},
		{"dual accepts tcp", ModeDual, ModeTCP, false},
		{"dual dial prefers quic", ModeDual, ModeDual, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, cc := setupConnPair(t, tt.listen, tt.dial)
			exchange(t, sc, cc)

			_, ok := sc.(ProfileableConn)
			assert.Equal(t, tt.quic, ok)
			_, ok = cc.(ProfileableConn)
			assert.Equal(t, tt.quic, ok)
			assert.NotNil(t, sc.RemoteAddr())
		})
	}
}

func TestDualDialFallsBackToTCP(t *testing.T) {
	sc, cc := setupConnPair(t, ModeTCP, ModeDual)
	exchange(t, sc, cc)
	_, ok := cc.(ProfileableConn)
	assert.False(t, ok)
}

func TestReadDeadline(t *testing.T) {
	for _, mode := range []Mode{ModeTCP, ModeQUIC} {
		t.Run(mode.String(), func(t *testing.T) {
			sc, cc := setupConnPair(t, mode, mode)
			exchange(t, sc, cc)

			require.NoError(t, sc.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
			var buf [1]byte
			_, err := sc.Read(buf[:])
			require.Error(t, err)
			assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), "got %v", err)
		})
	}
}

func TestCloseIsSeenByPeer(t *testing.T) {
	for _, mode := range []Mode{ModeTCP, ModeQUIC} {
		t.Run(mode.String(), func(t *testing.T) {
			sc, cc := setupConnPair(t, mode, mode)
			exchange(t, sc, cc)

			require.NoError(t, cc.Close())
			require.NoError(t, sc.SetReadDeadline(time.Now().Add(2*time.Second)))
			var buf [1]byte
			_, err := sc.Read(buf[:])
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

// A refusal written right before Close must still reach the peer.
func TestCloseDeliversLastWrite(t *testing.T) {
	for _, mode := range []Mode{ModeTCP, ModeQUIC} {
		t.Run(mode.String(), func(t *testing.T) {
			sc, cc := setupConnPair(t, mode, mode)

			require.NoError(t, protocol.WriteMessage(sc, &protocol.Busy{}, protocol.Current))
			require.NoError(t, sc.Close())

			require.NoError(t, cc.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, err := protocol.ReadPacket(cc, protocol.MaxHelloLength)
			require.NoError(t, err)
			payload, err := protocol.ReadPacket(cc, protocol.MaxHelloLength)
			require.NoError(t, err)
			assert.Equal(t, []byte(protocol.CodeBusy), payload)

			var buf [1]byte
			_, err = cc.Read(buf[:])
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestAcceptHonorsContext(t *testing.T) {
	for _, mode := range []Mode{ModeTCP, ModeQUIC, ModeDual} {
		t.Run(mode.String(), func(t *testing.T) {
			ln, err := Listen(mode, "127.0.0.1:0")
			require.NoError(t, err)
			defer ln.Close()
			assert.NotZero(t, ln.Port())

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = ln.Accept(ctx)
			assert.Error(t, err)
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"", ModeTCP},
		{"tcp", ModeTCP},
		{"QUIC", ModeQUIC},
		{"dual", ModeDual},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParseMode("sctp")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Mode(9).String())
}

func TestSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	require.NoError(t, err)
	assert.Len(t, cert.Certificate, 1)
	assert.NotNil(t, cert.PrivateKey)
}
