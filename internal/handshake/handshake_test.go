package handshake

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/transport"
)

type serverOutcome struct {
	res Result
	err error
}

// startServer runs Server on one end of a pipe and returns the other end.
// On success the server sends QINF so the client has a first message.
func startServer(t *testing.T, cfg ServerConfig) (net.Conn, <-chan serverOutcome) {
	t.Helper()
	sconn, cconn := net.Pipe()
	t.Cleanup(func() {
		sconn.Close()
		cconn.Close()
	})
	cfg.Logger = zerolog.Nop()
	out := make(chan serverOutcome, 1)
	go func() {
		res, err := Server(sconn, cfg)
		if err == nil {
			protocol.WriteMessage(sconn, &protocol.QueryInfo{}, res.Version)
		}
		out <- serverOutcome{res, err}
	}()
	return cconn, out
}

func wait(t *testing.T, ch <-chan serverOutcome) serverOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("server handshake did not finish")
		return serverOutcome{}
	}
}

func readHello(t *testing.T, c net.Conn) {
	t.Helper()
	payload, err := protocol.ReadPacket(c, protocol.MaxHelloLength)
	require.NoError(t, err)
	m, err := protocol.Unmarshal(payload, protocol.Current, protocol.PhaseHello, protocol.RoleServer)
	require.NoError(t, err)
	assert.Equal(t, &protocol.Hello{Major: 1, Minor: 8}, m)
}

func readCode(t *testing.T, c net.Conn) protocol.Code {
	t.Helper()
	payload, err := protocol.ReadPacket(c, protocol.MaxPayloadSize)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(payload), protocol.CodeSize)
	return protocol.Code(payload[:protocol.CodeSize])
}

func assertClosed(t *testing.T, c net.Conn) {
	t.Helper()
	_, err := c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientServer(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{})

	res, err := Client(cconn, ClientConfig{Name: "laptop", Minor: 6, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, "laptop", res.Name)
	assert.Equal(t, protocol.Version{Major: 1, Minor: 6}, res.Version)
	assert.Equal(t, []byte("QINF"), res.First)

	o := wait(t, out)
	require.NoError(t, o.err)
	assert.Equal(t, "laptop", o.res.Name)
	assert.Equal(t, protocol.Version{Major: 1, Minor: 6}, o.res.Version)
	assert.False(t, o.res.Legacy)
}

func TestClientRequestsNewest(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{})

	res, err := Client(cconn, ClientConfig{Name: "desk", Minor: -1, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, protocol.Current, res.Version)
	assert.Equal(t, protocol.Current, wait(t, out).res.Version)
}

func TestLegacyLogin(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{})
	readHello(t, cconn)

	_, err := cconn.Write([]byte("GLIDELOGN\x06laptop"))
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeQueryInfo, readCode(t, cconn))

	o := wait(t, out)
	require.NoError(t, o.err)
	assert.Equal(t, "laptop", o.res.Name)
	assert.True(t, o.res.Legacy)
	assert.Equal(t, protocol.Version{Major: 1, Minor: 0}, o.res.Version)
}

func TestLegacyClient(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{})

	res, err := Client(cconn, ClientConfig{Name: "old", Legacy: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.True(t, res.Legacy)
	assert.Equal(t, protocol.Version{Major: 1}, res.Version)

	o := wait(t, out)
	require.NoError(t, o.err)
	assert.True(t, o.res.Legacy)
	assert.Equal(t, "old", o.res.Name)
}

func TestNameTooLongIsRefused(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{})
	readHello(t, cconn)

	name := strings.Repeat("a", 65)
	require.NoError(t, protocol.WriteMessage(cconn, &protocol.HelloBack{Major: 1, Minor: 8, Name: name}, protocol.Current))

	assert.Equal(t, protocol.CodeProtocolError, readCode(t, cconn))
	assertClosed(t, cconn)

	o := wait(t, out)
	assert.True(t, IsKind(o.err, KindBadName), "got %v", o.err)
	assert.Empty(t, o.res.Name)
}

func TestBadNameCharacters(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{})
	readHello(t, cconn)

	require.NoError(t, protocol.WriteMessage(cconn, &protocol.HelloBack{Major: 1, Minor: 8, Name: "my laptop"}, protocol.Current))
	assert.Equal(t, protocol.CodeProtocolError, readCode(t, cconn))
	assert.True(t, IsKind(wait(t, out).err, KindBadName))
}

func TestSilentClientTimesOut(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{Timeout: 50 * time.Millisecond})
	readHello(t, cconn)

	// No refusal is sent on timeout; the connection is simply closed.
	assertClosed(t, cconn)

	o := wait(t, out)
	assert.True(t, IsKind(o.err, KindTimeout), "got %v", o.err)
}

func TestIncompatibleMajor(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{})
	readHello(t, cconn)

	require.NoError(t, protocol.WriteMessage(cconn, &protocol.HelloBack{Major: 2, Minor: 0, Name: "future"}, protocol.Current))

	payload, err := protocol.ReadPacket(cconn, protocol.MaxHelloLength)
	require.NoError(t, err)
	m, err := protocol.Unmarshal(payload, protocol.Current, protocol.PhaseHello, protocol.RoleServer)
	require.NoError(t, err)
	assert.Equal(t, &protocol.Incompatible{Major: 1, Minor: 8}, m)
	assertClosed(t, cconn)

	assert.True(t, IsKind(wait(t, out).err, KindIncompatible))
}

func TestOversizedGreeting(t *testing.T) {
	cconn, out := startServer(t, ServerConfig{})
	readHello(t, cconn)

	_, err := cconn.Write([]byte{0, 0, 0x08, 0})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeProtocolError, readCode(t, cconn))

	o := wait(t, out)
	assert.True(t, IsKind(o.err, KindProtocol))
	assert.ErrorIs(t, o.err, protocol.ErrMessageTooLarge)
}

func TestAdmitRefusals(t *testing.T) {
	tests := []struct {
		kind Kind
		code protocol.Code
	}{
		{KindBusy, protocol.CodeBusy},
		{KindUnknown, protocol.CodeUnknownClient},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			var asked string
			cconn, out := startServer(t, ServerConfig{Admit: func(name string) Kind {
				asked = name
				return tt.kind
			}})

			_, err := Client(cconn, ClientConfig{Name: "laptop", Minor: -1, Logger: zerolog.Nop()})
			assert.True(t, IsKind(err, tt.kind), "client got %v", err)

			o := wait(t, out)
			assert.True(t, IsKind(o.err, tt.kind), "server got %v", o.err)
			assert.Equal(t, "laptop", asked)
			assert.Equal(t, tt.code, tt.kind.Refusal().Code())
		})
	}
}

func TestRefusalCrossesTransports(t *testing.T) {
	for _, mode := range []transport.Mode{transport.ModeTCP, transport.ModeQUIC} {
		t.Run(mode.String(), func(t *testing.T) {
			ln, err := transport.Listen(mode, "127.0.0.1:0")
			require.NoError(t, err)
			defer ln.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			out := make(chan serverOutcome, 1)
			go func() {
				conn, err := ln.Accept(ctx)
				if err != nil {
					out <- serverOutcome{err: err}
					return
				}
				res, err := Server(conn, ServerConfig{
					Admit:  func(string) Kind { return KindUnknown },
					Logger: zerolog.Nop(),
				})
				out <- serverOutcome{res, err}
			}()

			conn, err := transport.Dial(ctx, mode, net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Port())))
			require.NoError(t, err)
			defer conn.Close()

			_, err = Client(conn, ClientConfig{Name: "laptop", Minor: -1, Logger: zerolog.Nop()})
			assert.True(t, IsKind(err, KindUnknown), "client got %v", err)
			assert.True(t, IsKind(wait(t, out).err, KindUnknown))
		})
	}
}

func TestClientSeesIncompatibleServer(t *testing.T) {
	sconn, cconn := net.Pipe()
	defer sconn.Close()
	go func() {
		protocol.WriteMessage(sconn, &protocol.Hello{Major: 1, Minor: 8}, protocol.Current)
		protocol.ReadPacket(sconn, protocol.MaxHelloLength)
		protocol.WriteMessage(sconn, &protocol.Incompatible{Major: 1, Minor: 8}, protocol.Current)
	}()

	_, err := Client(cconn, ClientConfig{Name: "laptop", Minor: -1, Logger: zerolog.Nop()})
	require.True(t, IsKind(err, KindIncompatible), "got %v", err)
	assert.Contains(t, err.Error(), "1.8")
}

func TestClientRejectsWrongServerMajor(t *testing.T) {
	sconn, cconn := net.Pipe()
	defer sconn.Close()
	go protocol.WriteMessage(sconn, &protocol.Hello{Major: 2, Minor: 0}, protocol.Current)

	_, err := Client(cconn, ClientConfig{Name: "laptop", Minor: -1, Logger: zerolog.Nop()})
	assert.True(t, IsKind(err, KindIncompatible), "got %v", err)
}

func TestClientTimesOutWaitingForHello(t *testing.T) {
	sconn, cconn := net.Pipe()
	defer sconn.Close()

	_, err := Client(cconn, ClientConfig{Name: "laptop", Timeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	assert.True(t, IsKind(err, KindTimeout), "got %v", err)
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"laptop", true},
		{"Desk2", true},
		{strings.Repeat("x", 64), true},
		{"", false},
		{strings.Repeat("x", 65), false},
		{"my-laptop", false},
		{"café", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, ValidName(tt.name), "%q", tt.name)
	}
}

func TestRefusalMessages(t *testing.T) {
	assert.Nil(t, KindTimeout.Refusal())
	assert.Nil(t, KindIO.Refusal())
	assert.Equal(t, &protocol.Incompatible{Major: 1, Minor: 8}, KindIncompatible.Refusal())
	assert.Equal(t, protocol.CodeProtocolError, KindBadName.Refusal().Code())
	assert.Equal(t, protocol.CodeProtocolError, KindProtocol.Refusal().Code())
}
