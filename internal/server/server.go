// Package server runs the coordinating side of glide: it accepts client
// connections, negotiates a session for each declared screen and relays
// the local keyboard and mouse to whichever screen is active.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chronologos/glide/internal/handshake"
	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/reactor"
	"github.com/chronologos/glide/internal/screen"
	"github.com/chronologos/glide/internal/session"
	"github.com/chronologos/glide/internal/switcher"
	"github.com/chronologos/glide/internal/topology"
	"github.com/chronologos/glide/internal/transport"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, host:port. Port 0 picks a free port.
	Addr string

	// Topology holds every declared screen and link. It must contain the
	// local screen. The server owns it once Run starts.
	Topology *topology.Topology

	// Local is the backend of the local screen.
	Local screen.Primary

	Hotkeys *switcher.Hotkeys
	Options switcher.Options

	KeepAlive        time.Duration
	HandshakeTimeout time.Duration

	// MetricsAddr, if set, serves Prometheus metrics at /metrics.
	MetricsAddr string
}

// Server accepts clients and owns the topology, the switch controller and
// every session. All of that state lives on the runtime's loop.
type Server struct {
	cfg  Config
	rt   *reactor.Runtime
	log  zerolog.Logger
	ctrl *switcher.Controller

	sessions map[string]*session.Session
	pending  map[string]bool // names admitted but not yet handed to the loop

	// Ready is closed once the listener is bound; Port is valid after.
	Ready chan struct{}
	Port  int
}

// New creates a server. It fails if the topology has no local screen.
func New(rt *reactor.Runtime, cfg Config) (*Server, error) {
	if cfg.Topology == nil || cfg.Topology.Local() == nil {
		return nil, fmt.Errorf("server: %w: topology has no local screen", topology.ErrUnknownScreen)
	}
	if cfg.Local == nil {
		return nil, errors.New("server: no local screen backend")
	}
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", protocol.DefaultPort)
	}
	l := cfg.Topology.Local()
	_, _, w, h := cfg.Local.Shape()
	if err := cfg.Topology.SetShape(l.Name, 0, 0, w, h); err != nil {
		return nil, err
	}

	log := rt.Log.With().Str("component", "server").Logger()
	ctrl, err := switcher.New(cfg.Topology, cfg.Local, cfg.Hotkeys, cfg.Options, rt.Log)
	if err != nil {
		return nil, err
	}
	ctrl.Scheduler = rt.Loop
	ctrl.OnSwitch = func(sw switcher.Switch) {
		rt.Metrics.Switched(sw.To)
	}
	return &Server{
		cfg:      cfg,
		rt:       rt,
		log:      log,
		ctrl:     ctrl,
		sessions: make(map[string]*session.Session),
		pending:  make(map[string]bool),
		Ready:    make(chan struct{}),
	}, nil
}

// Run listens for clients and drives the loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.rt.Listen(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	s.Port = ln.Port()
	close(s.Ready)
	s.log.Info().Int("port", s.Port).Stringer("transport", s.rt.Transport).Msg("listening")

	s.cfg.Topology.SetRunning(true)
	defer s.cfg.Topology.SetRunning(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.MetricsAddr != "" {
		go s.serveMetrics(ctx)
	}
	go s.acceptLoop(ctx, ln)
	go s.pumpEvents(ctx)

	err = s.rt.Loop.Run(ctx)

	// The loop has stopped; nothing else touches sessions now.
	for _, sess := range s.sessions {
		sess.Shutdown()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// acceptLoop accepts connections and negotiates each in its own goroutine.
func (s *Server) acceptLoop(ctx context.Context, ln transport.Listener) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.rt.Metrics.Accepted()
		go s.negotiate(conn)
	}
}

// negotiate runs the greeting for conn and hands a successful connection
// to the loop.
func (s *Server) negotiate(conn transport.Conn) {
	var admitted string
	res, err := handshake.Server(conn, handshake.ServerConfig{
		Timeout: s.cfg.HandshakeTimeout,
		Logger:  s.rt.Log,
		Admit: func(name string) handshake.Kind {
			k := s.admit(name)
			if k == 0 {
				admitted = name
			}
			return k
		},
	})
	if err != nil {
		var he *handshake.Error
		reason := "io"
		if errors.As(err, &he) {
			reason = he.Kind.String()
		}
		s.rt.Metrics.HandshakeFailed(reason)
		if admitted != "" {
			s.rt.Loop.Post(func() { delete(s.pending, admitted) })
		}
		return
	}
	if !s.rt.Loop.Post(func() { s.startSession(conn, res) }) {
		conn.Close()
	}
}

// admit asks the loop whether name may log in and reserves it if so.
func (s *Server) admit(name string) handshake.Kind {
	ch := make(chan handshake.Kind, 1)
	if !s.rt.Loop.Post(func() { ch <- s.reserve(name) }) {
		return handshake.KindBusy
	}
	select {
	case k := <-ch:
		return k
	case <-s.rt.Loop.Done():
		return handshake.KindBusy
	}
}

func (s *Server) reserve(name string) handshake.Kind {
	scr, ok := s.cfg.Topology.Screen(name)
	switch {
	case !ok:
		return handshake.KindUnknown
	case scr.Local, scr.Connected, s.pending[name], s.sessions[name] != nil:
		return handshake.KindBusy
	}
	s.pending[name] = true
	return 0
}

func (s *Server) startSession(conn transport.Conn, res handshake.Result) {
	delete(s.pending, res.Name)
	sess := session.New(conn, session.Config{
		Role:      protocol.RoleServer,
		Version:   res.Version,
		Name:      res.Name,
		ID:        uuid.NewString(),
		KeepAlive: s.cfg.KeepAlive,
		Options:   s.options(),
		Scheduler: s.rt.Loop,
		Handler:   s,
		Logger:    s.rt.Log,
		Metrics:   s.rt.Metrics,
	})
	s.sessions[res.Name] = sess
	s.log.Info().Str("screen", res.Name).Str("id", sess.ID()).Stringer("version", res.Version).
		Bool("legacy", res.Legacy).Str("peer", conn.RemoteAddr().String()).Msg("client connected")

	s.rt.Loop.Watch(conn, protocol.MaxPayloadSize, sess.HandlePayload, sess.HandleClose)
	sess.Start()
}

// options returns the option pairs announced to every client.
func (s *Server) options() []uint32 {
	var opts []uint32
	flag := func(id uint32, on bool) {
		if on {
			opts = append(opts, id, 1)
		}
	}
	flag(protocol.OptionRelativeMoves, s.cfg.Options.RelativeMoves)
	flag(protocol.OptionScreenSaver, s.cfg.Options.ScreenSaverSync)
	flag(protocol.OptionClipboardShare, s.cfg.Options.ClipboardSharing)
	return opts
}

// pumpEvents forwards captured local input to the loop.
func (s *Server) pumpEvents(ctx context.Context) {
	events := s.cfg.Local.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !s.rt.Loop.Post(func() { s.ctrl.HandleEvent(ev) }) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.rt.Metrics.Handler())
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	s.log.Info().Str("addr", s.cfg.MetricsAddr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn().Err(err).Msg("metrics server failed")
	}
}

// Do runs fn on the loop and waits for it. It returns false if the loop
// has stopped.
func (s *Server) Do(fn func()) bool {
	done := make(chan struct{})
	if !s.rt.Loop.Post(func() { fn(); close(done) }) {
		return false
	}
	select {
	case <-done:
		return true
	case <-s.rt.Loop.Done():
		return false
	}
}

// Connected returns the names of screens with an established session.
func (s *Server) Connected() []string {
	var names []string
	s.Do(func() {
		for _, name := range s.cfg.Topology.Names() {
			if scr, _ := s.cfg.Topology.Screen(name); scr.Connected && !scr.Local {
				names = append(names, name)
			}
		}
	})
	return names
}

// Active returns the name of the active screen.
func (s *Server) Active() string {
	var name string
	s.Do(func() { _, name = s.ctrl.State() })
	return name
}
