package server

import (
	"context"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologos/glide/internal/handshake"
	"github.com/chronologos/glide/internal/metrics"
	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/reactor"
	"github.com/chronologos/glide/internal/screen"
	"github.com/chronologos/glide/internal/switcher"
	"github.com/chronologos/glide/internal/topology"
	"github.com/chronologos/glide/internal/transport"
)

type fixture struct {
	srv   *Server
	local *screen.Headless
	m     *metrics.Metrics
	addr  string
}

// startServer runs a server with local screen "desk" and remote screen
// "laptop" to its right.
func startServer(t *testing.T) *fixture {
	t.Helper()
	topo := topology.New()
	_, err := topo.AddScreen("desk", 0, 0, true)
	require.NoError(t, err)
	_, err = topo.AddScreen("laptop", 0, 0, false)
	require.NoError(t, err)
	require.NoError(t, topo.ConnectEdge("desk", topology.Right, "laptop"))
	require.NoError(t, topo.ConnectEdge("laptop", topology.Left, "desk"))

	local := screen.NewHeadless(1920, 1080, zerolog.Nop())
	m := metrics.New("server")
	rt := reactor.NewRuntime(zerolog.Nop(), m, transport.ModeTCP)
	srv, err := New(rt, Config{
		Addr:      "127.0.0.1:0",
		Topology:  topo,
		Local:     local,
		Options:   switcher.Options{ClipboardSharing: true},
		KeepAlive: 2 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	select {
	case <-srv.Ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}
	return &fixture{srv: srv, local: local, m: m, addr: "127.0.0.1:" + strconv.Itoa(srv.Port)}
}

func (f *fixture) dial(t *testing.T, name string) (transport.Conn, handshake.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, transport.ModeTCP, f.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	res, err := handshake.Client(conn, handshake.ClientConfig{Name: name, Minor: -1, Logger: zerolog.Nop()})
	return conn, res, err
}

// next reads the next message from the server, skipping keep-alives.
func next(t *testing.T, conn transport.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		payload, err := protocol.ReadPacket(conn, protocol.MaxPayloadSize)
		require.NoError(t, err)
		m, err := protocol.Unmarshal(payload, protocol.Current, protocol.PhaseEstablished, protocol.RoleServer)
		require.NoError(t, err)
		if _, ok := m.(*protocol.KeepAlive); ok {
			continue
		}
		return m
	}
}

// establish connects name and completes the info and options exchange.
func (f *fixture) establish(t *testing.T, name string) transport.Conn {
	t.Helper()
	conn, res, err := f.dial(t, name)
	require.NoError(t, err)
	require.Equal(t, []byte("QINF"), res.First)

	info := &protocol.Info{Width: 1280, Height: 800, MouseX: 5, MouseY: 5}
	require.NoError(t, protocol.WriteMessage(conn, info, res.Version))

	assert.IsType(t, &protocol.InfoAck{}, next(t, conn))
	assert.IsType(t, &protocol.ResetOptions{}, next(t, conn))
	opts, ok := next(t, conn).(*protocol.SetOptions)
	require.True(t, ok)
	assert.Equal(t, uint32(2000), opts.Map()[protocol.OptionHeartbeat])
	return conn
}

func TestClientConnectsAndReceivesInput(t *testing.T) {
	f := startServer(t)
	conn := f.establish(t, "laptop")
	assert.Equal(t, []string{"laptop"}, f.srv.Connected())

	require.True(t, f.local.Inject(screen.Event{Kind: screen.EventMouseMove, X: 1919, Y: 540}))

	enter, ok := next(t, conn).(*protocol.Enter)
	require.True(t, ok)
	assert.Equal(t, &protocol.Enter{X: 0, Y: 400, Seq: 1}, enter)
	assert.Equal(t, "laptop", f.srv.Active())
	assert.Contains(t, f.local.Ops(), "leave")

	require.True(t, f.local.Inject(screen.Event{Kind: screen.EventKeyDown, Key: 'a', Button: 38}))
	assert.Equal(t, &protocol.KeyDown{Key: 'a', Button: 38}, next(t, conn))
}

func TestDisconnectJumpsBackToLocal(t *testing.T) {
	f := startServer(t)
	conn := f.establish(t, "laptop")

	require.True(t, f.local.Inject(screen.Event{Kind: screen.EventMouseMove, X: 1919, Y: 540}))
	assert.IsType(t, &protocol.Enter{}, next(t, conn))

	conn.Close()
	assert.Eventually(t, func() bool { return f.srv.Active() == "desk" }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.srv.Connected())

	// The name is free again.
	f.establish(t, "laptop")
}

func TestSecondLoginWithSameNameIsBusy(t *testing.T) {
	f := startServer(t)
	f.establish(t, "laptop")

	_, _, err := f.dial(t, "laptop")
	assert.True(t, handshake.IsKind(err, handshake.KindBusy), "got %v", err)

	_, _, err = f.dial(t, "desk")
	assert.True(t, handshake.IsKind(err, handshake.KindBusy), "local screen name: got %v", err)
}

func TestUndeclaredScreenIsUnknown(t *testing.T) {
	f := startServer(t)

	_, _, err := f.dial(t, "phone")
	assert.True(t, handshake.IsKind(err, handshake.KindUnknown), "got %v", err)

	assert.Eventually(t, func() bool {
		return strings.Contains(scrape(t, f.m), `glide_handshake_failures_total{reason="unknown-client",role="server"} 1`)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClipboardGrabFromClient(t *testing.T) {
	f := startServer(t)
	conn := f.establish(t, "laptop")

	require.True(t, f.local.Inject(screen.Event{Kind: screen.EventMouseMove, X: 1919, Y: 540}))
	enter := next(t, conn).(*protocol.Enter)

	v := protocol.Current
	require.NoError(t, protocol.WriteMessage(conn, &protocol.ClipboardGrab{ID: 0, Seq: enter.Seq}, v))
	size := []byte("5")
	require.NoError(t, protocol.WriteMessage(conn, &protocol.Clipboard{ID: 0, Seq: enter.Seq, Mark: protocol.ChunkStart, Data: size}, v))
	require.NoError(t, protocol.WriteMessage(conn, &protocol.Clipboard{ID: 0, Seq: enter.Seq, Mark: protocol.ChunkData, Data: []byte("hello")}, v))
	require.NoError(t, protocol.WriteMessage(conn, &protocol.Clipboard{ID: 0, Seq: enter.Seq, Mark: protocol.ChunkEnd}, v))

	// Moving back to the desk hands the clipboard to the local screen.
	require.True(t, f.local.Inject(screen.Event{Kind: screen.EventMouseRelMove, X: -10, Y: 0}))
	assert.IsType(t, &protocol.Leave{}, next(t, conn))
	assert.Eventually(t, func() bool { return string(f.local.Clipboard(0)) == "hello" }, 5*time.Second, 10*time.Millisecond)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
