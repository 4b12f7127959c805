// Package client runs the controlled side of glide: it connects to a
// server, applies the input it receives to a local screen backend and
// reconnects when the connection is lost.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologos/glide/internal/handshake"
	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/reactor"
	"github.com/chronologos/glide/internal/screen"
	"github.com/chronologos/glide/internal/session"
	"github.com/chronologos/glide/internal/transport"
)

const (
	dialTimeout     = 10 * time.Second
	reconnectDelay  = 1 * time.Second
	shutdownTimeout = time.Second
	profileInterval = 5 * time.Second
)

// Config holds client configuration.
type Config struct {
	// Name is this screen's name as declared on the server.
	Name string
	// Addr is the server address, host:port.
	Addr string

	// Minor is the protocol minor version to request. Negative means the
	// newest.
	Minor  int
	Legacy bool

	KeepAlive        time.Duration
	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration

	Profile bool // emit RTT/traffic stats to stderr (QUIC only)
}

// Client is one controlled screen. Session state lives on the runtime's
// loop; Run drives connection attempts from the calling goroutine.
type Client struct {
	cfg     Config
	rt      *reactor.Runtime
	log     zerolog.Logger
	backend screen.Screen
	stderr  io.Writer

	// Loop-owned.
	sess *session.Session
	done chan error

	profileStart time.Time
	negotiated   protocol.Version
	inputs       inputCounts
}

// New creates a client that drives backend.
func New(rt *reactor.Runtime, cfg Config, backend screen.Screen) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = reconnectDelay
	}
	return &Client{
		cfg:     cfg,
		rt:      rt,
		log:     rt.Log.With().Str("component", "client").Str("screen", cfg.Name).Logger(),
		backend: backend,
		stderr:  os.Stderr,
	}
}

// fatal reports whether a failed attempt should not be retried.
func fatal(err error) bool {
	if handshake.IsKind(err, handshake.KindIncompatible) ||
		handshake.IsKind(err, handshake.KindUnknown) ||
		handshake.IsKind(err, handshake.KindBadName) {
		return true
	}
	var refused *session.RefusedError
	return errors.As(err, &refused) &&
		(refused.Code == protocol.CodeIncompatible || refused.Code == protocol.CodeUnknownClient)
}

// Run is the client's main entry point. It connects, serves the session
// and reconnects after failures until ctx is cancelled or the server
// refuses the screen for good.
func (c *Client) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go c.rt.Loop.Run(loopCtx)

	if p, ok := c.backend.(screen.Primary); ok {
		go c.pumpEvents(ctx, p.Events())
	}

	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal(err) {
			return err
		}
		c.log.Warn().Err(err).Dur("delay", c.cfg.ReconnectDelay).Msg("connection lost, reconnecting")
		c.rt.Metrics.Reconnected()
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectOnce dials, negotiates and serves one session until it closes.
func (c *Client) connectOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := c.rt.Dial(dialCtx, c.cfg.Addr)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}

	res, err := handshake.Client(conn, handshake.ClientConfig{
		Name:    c.cfg.Name,
		Minor:   c.cfg.Minor,
		Legacy:  c.cfg.Legacy,
		Timeout: c.cfg.HandshakeTimeout,
		Logger:  c.rt.Log,
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("server", c.cfg.Addr).Stringer("version", res.Version).Msg("connected")

	c.negotiated = res.Version
	if c.profileStart.IsZero() {
		c.profileStart = time.Now()
	}
	if pc, ok := conn.(transport.ProfileableConn); ok && c.cfg.Profile {
		stop := c.startProfiling(pc)
		defer stop()
	}

	done := make(chan error, 1)
	if !c.rt.Loop.Post(func() { c.startSession(conn, res, done) }) {
		conn.Close()
		return session.ErrClosed
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.rt.Loop.Post(func() {
			if c.sess != nil {
				c.sess.Shutdown()
			}
		})
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			conn.Close()
		}
		return ctx.Err()
	}
}

func (c *Client) startSession(conn transport.Conn, res handshake.Result, done chan error) {
	c.done = done
	c.sess = session.New(conn, session.Config{
		Role:      protocol.RoleClient,
		Version:   res.Version,
		Name:      res.Name,
		ID:        conn.RemoteAddr().String(),
		KeepAlive: c.cfg.KeepAlive,
		Info:      c.info,
		Scheduler: c.rt.Loop,
		Handler:   c,
		Logger:    c.rt.Log,
		Metrics:   c.rt.Metrics,
	})
	c.sess.Start()
	c.sess.HandlePayload(res.First, false)
	if c.sess != nil && c.sess.State() != session.Closed {
		c.rt.Loop.Watch(conn, protocol.MaxPayloadSize, c.sess.HandlePayload, c.sess.HandleClose)
	}
}

// info describes the backend for the server.
func (c *Client) info() protocol.Info {
	x, y, w, h := c.backend.Shape()
	mx, my := w/2, h/2
	if cur, ok := c.backend.(screen.Cursor); ok {
		mx, my = cur.Cursor()
	}
	return protocol.Info{
		X: int16(x), Y: int16(y),
		Width: int16(w), Height: int16(h),
		MouseX: int16(mx), MouseY: int16(my),
	}
}

// pumpEvents forwards backend events that concern the server.
func (c *Client) pumpEvents(ctx context.Context, events <-chan screen.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !c.rt.Loop.Post(func() { c.handleEvent(ev) }) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleEvent(ev screen.Event) {
	s := c.sess
	if s == nil || s.State() != session.Established {
		return
	}
	switch ev.Kind {
	case screen.EventShapeChanged:
		if err := s.UpdateInfo(c.info()); err != nil {
			c.log.Debug().Err(err).Msg("shape update not sent")
		}
	case screen.EventClipboardGrab:
		s.Send(&protocol.ClipboardGrab{ID: ev.ClipboardID, Seq: s.EnterSeq()})
	case screen.EventClipboardData:
		s.SendClipboard(ev.ClipboardID, s.EnterSeq(), ev.Data)
	default:
		c.log.Trace().Stringer("kind", ev.Kind).Msg("ignoring local event")
	}
}
