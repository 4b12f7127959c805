package client

import (
	"context"
	"io"
	"net/http/httptest"
	"strconv"
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
	"github.com/chronologos/glide/internal/transport"
)

// fakeServer accepts clients and speaks the server side of the protocol
// by hand.
type fakeServer struct {
	ln    transport.Listener
	admit func(string) handshake.Kind
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := transport.Listen(transport.ModeTCP, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return &fakeServer{ln: ln}
}

func (f *fakeServer) addr() string {
	return "127.0.0.1:" + strconv.Itoa(f.ln.Port())
}

type peer struct {
	conn transport.Conn
	v    protocol.Version
}

// accept runs the greeting for the next client and, if admitted, asks for
// its info and completes the options exchange.
func (f *fakeServer) accept(t *testing.T) (*peer, *protocol.Info) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := f.ln.Accept(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	res, err := handshake.Server(conn, handshake.ServerConfig{Admit: f.admit, Logger: zerolog.Nop()})
	if err != nil {
		return nil, nil
	}
	p := &peer{conn: conn, v: res.Version}
	p.send(t, &protocol.QueryInfo{})
	info, ok := p.next(t).(*protocol.Info)
	require.True(t, ok)
	p.send(t, &protocol.InfoAck{})
	p.send(t, &protocol.ResetOptions{})
	p.send(t, &protocol.SetOptions{Options: []uint32{protocol.OptionHeartbeat, 5000}})
	return p, info
}

func (p *peer) send(t *testing.T, m protocol.Message) {
	t.Helper()
	require.NoError(t, protocol.WriteMessage(p.conn, m, p.v))
}

// next reads the next message from the client, skipping no-ops and
// keep-alives.
func (p *peer) next(t *testing.T) protocol.Message {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		payload, err := protocol.ReadPacket(p.conn, protocol.MaxPayloadSize)
		require.NoError(t, err)
		m, err := protocol.Unmarshal(payload, p.v, protocol.PhaseEstablished, protocol.RoleClient)
		require.NoError(t, err)
		switch m.(type) {
		case *protocol.NoOp, *protocol.KeepAlive:
			continue
		}
		return m
	}
}

type running struct {
	c       *Client
	backend *screen.Headless
	m       *metrics.Metrics
	cancel  context.CancelFunc
	errCh   chan error
}

func startClient(t *testing.T, addr string) *running {
	t.Helper()
	backend := screen.NewHeadless(1280, 800, zerolog.Nop())
	m := metrics.New("client")
	rt := reactor.NewRuntime(zerolog.Nop(), m, transport.ModeTCP)
	c := New(rt, Config{
		Name:           "laptop",
		Addr:           addr,
		Minor:          -1,
		ReconnectDelay: 10 * time.Millisecond,
	}, backend)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{c: c, backend: backend, m: m, cancel: cancel, errCh: make(chan error, 1)}
	go func() { r.errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.errCh:
		case <-time.After(5 * time.Second):
			t.Error("client did not stop")
		}
	})
	return r
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errCh:
		r.errCh <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("client did not return")
		return nil
	}
}

func TestClientAppliesServerInput(t *testing.T) {
	srv := newFakeServer(t)
	r := startClient(t, srv.addr())

	p, info := srv.accept(t)
	require.NotNil(t, p)
	assert.Equal(t, protocol.Current, p.v)
	assert.Equal(t, int16(1280), info.Width)
	assert.Equal(t, int16(800), info.Height)
	assert.Equal(t, int16(640), info.MouseX)

	p.send(t, &protocol.Enter{X: 10, Y: 20, Seq: 3})
	p.send(t, &protocol.MouseMove{X: 11, Y: 21})
	p.send(t, &protocol.KeyDownLang{Key: 'z', Button: 52, Lang: "de"})
	p.send(t, &protocol.Leave{})

	assert.Eventually(t, func() bool {
		ops := r.backend.Ops()
		return len(ops) == 4
	}, 5*time.Second, 10*time.Millisecond)
	calls := r.backend.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "enter[10 20 3 0]", calls[0].String())
	assert.Equal(t, "mouse-move[11 21]", calls[1].String())
	assert.Equal(t, "key-down[122 0 52 de]", calls[2].String())
	assert.Equal(t, "leave[]", calls[3].String())
}

func TestClientRepliesWithNoOp(t *testing.T) {
	srv := newFakeServer(t)
	startClient(t, srv.addr())
	p, _ := srv.accept(t)
	require.NotNil(t, p)

	p.send(t, &protocol.ScreenSaver{On: true})
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	payload, err := protocol.ReadPacket(p.conn, protocol.MaxPayloadSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("CNOP"), payload)
}

func TestClientSendsShapeChange(t *testing.T) {
	srv := newFakeServer(t)
	r := startClient(t, srv.addr())
	p, _ := srv.accept(t)
	require.NotNil(t, p)

	// Wait until the options have been applied before resizing.
	p.send(t, &protocol.NoOp{})
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := protocol.ReadPacket(p.conn, protocol.MaxPayloadSize)
	require.NoError(t, err)

	r.backend.Resize(1024, 768)
	info, ok := p.next(t).(*protocol.Info)
	require.True(t, ok)
	assert.Equal(t, int16(1024), info.Width)
	assert.Equal(t, int16(768), info.Height)
}

func TestClientSendsClipboard(t *testing.T) {
	srv := newFakeServer(t)
	r := startClient(t, srv.addr())
	p, _ := srv.accept(t)
	require.NotNil(t, p)

	p.send(t, &protocol.Enter{X: 1, Y: 1, Seq: 9})
	require.Eventually(t, r.backend.Active, 5*time.Second, 10*time.Millisecond)

	r.backend.Inject(screen.Event{Kind: screen.EventClipboardGrab, ClipboardID: 1})
	r.backend.Inject(screen.Event{Kind: screen.EventClipboardData, ClipboardID: 1, Data: []byte("copied")})

	assert.Equal(t, &protocol.ClipboardGrab{ID: 1, Seq: 9}, p.next(t))
	assert.Equal(t, &protocol.Clipboard{ID: 1, Seq: 9, Mark: protocol.ChunkStart, Data: []byte("6")}, p.next(t))
	assert.Equal(t, &protocol.Clipboard{ID: 1, Seq: 9, Mark: protocol.ChunkData, Data: []byte("copied")}, p.next(t))
	assert.Equal(t, &protocol.Clipboard{ID: 1, Seq: 9, Mark: protocol.ChunkEnd}, p.next(t))
}

func TestClientReconnects(t *testing.T) {
	srv := newFakeServer(t)
	r := startClient(t, srv.addr())

	p, _ := srv.accept(t)
	require.NotNil(t, p)
	p.conn.Close()

	p2, _ := srv.accept(t)
	require.NotNil(t, p2)

	body := scrape(t, r.m)
	assert.Contains(t, body, `glide_reconnects_total{role="client"} 1`)
}

func TestClientStopsWhenUnknown(t *testing.T) {
	srv := newFakeServer(t)
	srv.admit = func(string) handshake.Kind { return handshake.KindUnknown }
	r := startClient(t, srv.addr())

	p, _ := srv.accept(t)
	assert.Nil(t, p)

	err := r.wait(t)
	assert.True(t, handshake.IsKind(err, handshake.KindUnknown), "got %v", err)
}

func TestClientRetriesWhenBusy(t *testing.T) {
	srv := newFakeServer(t)
	busy := true
	srv.admit = func(string) handshake.Kind {
		if busy {
			busy = false
			return handshake.KindBusy
		}
		return 0
	}
	startClient(t, srv.addr())

	p, _ := srv.accept(t)
	assert.Nil(t, p)
	p, _ = srv.accept(t)
	assert.NotNil(t, p)
}

func TestClientSaysGoodbyeOnCancel(t *testing.T) {
	srv := newFakeServer(t)
	r := startClient(t, srv.addr())
	p, _ := srv.accept(t)
	require.NotNil(t, p)

	// Make sure the session is established before cancelling.
	p.send(t, &protocol.NoOp{})
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := protocol.ReadPacket(p.conn, protocol.MaxPayloadSize)
	require.NoError(t, err)

	r.cancel()
	assert.IsType(t, &protocol.Close{}, p.next(t))
	assert.ErrorIs(t, r.wait(t), context.Canceled)
}

func TestFatal(t *testing.T) {
	assert.True(t, fatal(&handshake.Error{Kind: handshake.KindIncompatible}))
	assert.True(t, fatal(&handshake.Error{Kind: handshake.KindUnknown}))
	assert.False(t, fatal(&handshake.Error{Kind: handshake.KindBusy}))
	assert.False(t, fatal(&handshake.Error{Kind: handshake.KindTimeout}))
	assert.False(t, fatal(nil))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.5KB", formatBytes(1536))
	assert.Equal(t, "2.0MB", formatBytes(2<<20))
	assert.Equal(t, "0ms", formatDuration(0))
	assert.Equal(t, "1.5ms", formatDuration(1500*time.Microsecond))
}

func TestInputCounts(t *testing.T) {
	c := &Client{backend: screen.NewHeadless(800, 600, zerolog.Nop()), log: zerolog.Nop()}
	for _, m := range []protocol.Message{
		&protocol.Enter{X: 1, Y: 1, Seq: 1},
		&protocol.MouseMove{X: 2, Y: 2},
		&protocol.MouseRelMove{DX: 1},
		&protocol.KeyDown{Key: 'a'},
		&protocol.KeyUp{Key: 'a'},
		&protocol.MouseDown{Button: 1},
		&protocol.MouseWheel{YDelta: 120},
		&protocol.ScreenSaver{On: true},
	} {
		c.Message(nil, m)
	}
	assert.Equal(t, profileInput{Enters: 1, Moves: 2, Keys: 2, Buttons: 1, Wheels: 1}, c.inputs.snapshot())
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
