// Package session implements one side of an established glide connection:
// the versioned message state machine, keep-alives, mouse motion
// compression and clipboard chunking.
//
// A Session is driven entirely from one event loop. Payloads arrive through
// HandlePayload, timers fire through the configured Scheduler, and every
// method must be called on that loop.
package session

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologos/glide/internal/coalesce"
	"github.com/chronologos/glide/internal/metrics"
	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/reactor"
)

var (
	ErrClosed           = errors.New("session closed")
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
	ErrPeerClosed       = errors.New("peer closed the session")
)

// RefusedError reports that the peer ended the session with an error
// message (EICV, EBSY, EUNK or EBAD).
type RefusedError struct {
	Code protocol.Code
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("refused by peer (%s)", e.Code)
}

// State is the session lifecycle state.
type State int

const (
	AwaitingHandshake State = iota
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingHandshake:
		return "handshake"
	case Established:
		return "established"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Handler receives session events on the event loop.
type Handler interface {
	// Established is called once, when the options exchange completes.
	Established(s *Session)
	// Message delivers every message the session does not consume itself.
	// Clipboard data arrives reassembled, with Mark zero.
	Message(s *Session, m protocol.Message)
	// Closed is called once. err is nil after a local Shutdown.
	Closed(s *Session, err error)
}

// Config holds session configuration.
type Config struct {
	// Role is the local role. A server session sends input; a client
	// session receives it.
	Role    protocol.Role
	Version protocol.Version

	// Name is the client's screen name, on both sides.
	Name string
	// ID tags log lines for this connection.
	ID string

	// KeepAlive is the keep-alive interval. A server announces it to the
	// client in its options; a client uses it until told otherwise. Zero
	// means protocol.DefaultKeepAliveInterval.
	KeepAlive time.Duration

	// Options are extra (id, value) pairs a server sends after the info
	// exchange.
	Options []uint32

	// Info answers QINF on a client.
	Info func() protocol.Info

	Scheduler reactor.Scheduler
	Handler   Handler
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// clipboardStream reassembles one chunked clipboard transfer.
type clipboardStream struct {
	seq  uint32
	size int
	data []byte
}

// Session is one side of an established connection.
type Session struct {
	cfg   Config
	conn  io.WriteCloser
	log   zerolog.Logger
	state State

	interval  time.Duration
	alarm     reactor.Timer // death alarm
	keepAlive reactor.Timer // server: periodic CALV

	info     protocol.Info
	hasInfo  bool
	enterSeq uint32

	coal         *coalesce.Coalescer
	ignoreMotion bool // client: shape sent, waiting for CIAK

	clipboards map[uint8]*clipboardStream
}

// New creates a session over conn. Call Start to begin the options
// exchange.
func New(conn io.WriteCloser, cfg Config) *Session {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = protocol.DefaultKeepAliveInterval
	}
	return &Session{
		cfg:      cfg,
		conn:     conn,
		log:      cfg.Logger.With().Str("component", "session").Str("screen", cfg.Name).Str("id", cfg.ID).Logger(),
		interval: cfg.KeepAlive,
		coal:     coalesce.New(),

		clipboards: make(map[uint8]*clipboardStream),
	}
}

func (s *Session) Name() string                    { return s.cfg.Name }
func (s *Session) ID() string                      { return s.cfg.ID }
func (s *Session) Version() protocol.Version       { return s.cfg.Version }
func (s *Session) State() State                    { return s.state }
func (s *Session) KeepAlive() time.Duration        { return s.interval }
func (s *Session) PeerInfo() (protocol.Info, bool) { return s.info, s.hasInfo }

func (s *Session) isServer() bool { return s.cfg.Role == protocol.RoleServer }

// keepAlives reports whether the negotiated version has CALV.
func (s *Session) keepAlives() bool {
	return s.cfg.Version.AtLeast(3) && s.interval > 0
}

// Start arms keep-alive timers and, on a server, asks the client for its
// screen info.
func (s *Session) Start() {
	s.log.Debug().Stringer("version", s.cfg.Version).Stringer("role", s.cfg.Role).Msg("session started")
	s.cfg.Metrics.SessionOpened()
	s.resetAlarm()
	if s.isServer() {
		if s.keepAlives() {
			s.keepAlive = s.cfg.Scheduler.AfterFunc(s.interval, s.sendKeepAlive)
		}
		s.Send(&protocol.QueryInfo{})
	}
}

func (s *Session) resetAlarm() {
	if !s.keepAlives() {
		if s.alarm != nil {
			s.alarm.Stop()
		}
		return
	}
	d := s.interval * protocol.KeepAlivesUntilDeath
	if s.alarm == nil {
		s.alarm = s.cfg.Scheduler.AfterFunc(d, s.keepAliveExpired)
		return
	}
	s.alarm.Reset(d)
}

func (s *Session) keepAliveExpired() {
	if s.state == Closed {
		return
	}
	s.log.Warn().Dur("interval", s.interval).Msg("keep-alive timeout")
	s.close(ErrKeepAliveTimeout)
}

func (s *Session) sendKeepAlive() {
	if s.state == Closed {
		return
	}
	if s.Send(&protocol.KeepAlive{}) == nil {
		s.keepAlive.Reset(s.interval)
	}
}

// Send marshals m for the negotiated version and writes it. A message the
// version does not know is not sent and the error is returned; a write
// failure closes the session.
func (s *Session) Send(m protocol.Message) error {
	if s.state == Closed {
		return ErrClosed
	}
	payload, err := protocol.Marshal(m, s.cfg.Version)
	if err != nil {
		s.log.Debug().Err(err).Msg("not sent")
		return err
	}
	if err := protocol.WritePacket(s.conn, payload); err != nil {
		s.close(fmt.Errorf("write %s: %w", m.Code(), err))
		return err
	}
	s.log.Trace().Stringer("code", m.Code()).Msg("sent")
	s.cfg.Metrics.Sent(string(m.Code()))
	return nil
}

// HandlePayload processes one framed payload. more reports that another
// complete packet was already buffered behind it.
func (s *Session) HandlePayload(payload []byte, more bool) {
	if s.state == Closed {
		return
	}
	phase := protocol.PhaseHandshake
	if s.state == Established {
		phase = protocol.PhaseEstablished
	}
	m, err := protocol.Unmarshal(payload, s.cfg.Version, phase, s.cfg.Role.Peer())
	if err != nil {
		s.protocolError(err)
		return
	}
	s.log.Trace().Stringer("code", m.Code()).Bool("more", more).Msg("received")
	s.cfg.Metrics.Received(string(m.Code()))

	if s.state == AwaitingHandshake {
		s.handshakeMessage(m)
		return
	}
	if !s.establishedMessage(m, more) {
		return
	}
	if !s.isServer() && s.state == Established {
		s.Send(&protocol.NoOp{})
	}
}

// HandleClose is called when the byte stream ends or fails to frame.
func (s *Session) HandleClose(err error) {
	if s.state == Closed {
		return
	}
	if errors.Is(err, protocol.ErrMessageTooLarge) {
		s.protocolError(err)
		return
	}
	if err == nil {
		err = io.EOF
	}
	s.close(err)
}

// protocolError answers an illegal or malformed message with EBAD and
// closes the session.
func (s *Session) protocolError(err error) {
	kind := "format"
	if errors.Is(err, protocol.ErrUnknownMessage) {
		kind = "unknown"
	} else if errors.Is(err, protocol.ErrMessageTooLarge) {
		kind = "too-large"
	}
	s.cfg.Metrics.ProtocolError(kind)
	s.log.Warn().Err(err).Msg("protocol error")
	s.Send(&protocol.ProtocolError{})
	s.close(err)
}

// common handles messages that mean the same thing in every phase. It
// reports whether m was consumed.
func (s *Session) common(m protocol.Message) bool {
	switch m.(type) {
	case *protocol.NoOp:
	case *protocol.KeepAlive:
		s.resetAlarm()
		if !s.isServer() {
			s.Send(&protocol.KeepAlive{})
		}
	case *protocol.Close:
		s.log.Debug().Msg("peer closed session")
		s.close(ErrPeerClosed)
	case *protocol.Incompatible, *protocol.Busy, *protocol.UnknownClient, *protocol.ProtocolError:
		s.close(&RefusedError{Code: m.Code()})
	default:
		return false
	}
	return true
}

func (s *Session) handshakeMessage(m protocol.Message) {
	if s.common(m) {
		return
	}
	switch msg := m.(type) {
	case *protocol.QueryInfo:
		s.sendInfo()
	case *protocol.Info:
		s.setInfo(msg)
		s.Send(&protocol.InfoAck{})
		s.Send(&protocol.ResetOptions{})
		s.Send(&protocol.SetOptions{Options: s.options()})
		s.establish()
	case *protocol.InfoAck:
		s.ignoreMotion = false
	case *protocol.ResetOptions:
		s.resetOptions()
		s.cfg.Handler.Message(s, m)
	case *protocol.SetOptions:
		s.setOptions(msg)
		s.establish()
		s.cfg.Handler.Message(s, m)
	default:
		s.cfg.Handler.Message(s, m)
	}
}

// establishedMessage handles m and reports whether the session is still
// open and m was not a goodbye.
func (s *Session) establishedMessage(m protocol.Message, more bool) bool {
	switch msg := m.(type) {
	case *protocol.MouseMove:
		if !s.ignoreMotion {
			s.queueMotion(coalesce.Motion{Kind: coalesce.Absolute, X: int32(msg.X), Y: int32(msg.Y)}, more)
		}
		return true
	case *protocol.MouseRelMove:
		if !s.ignoreMotion {
			s.queueMotion(coalesce.Motion{Kind: coalesce.Relative, X: int32(msg.DX), Y: int32(msg.DY)}, more)
		}
		return true
	case *protocol.Enter:
		s.coal.Discard()
		s.enterSeq = msg.Seq
	default:
		s.flushMotion()
	}

	if s.common(m) {
		return s.state != Closed
	}

	switch msg := m.(type) {
	case *protocol.QueryInfo:
		s.sendInfo()
		return true
	case *protocol.InfoAck:
		s.ignoreMotion = false
		return true
	case *protocol.Info:
		s.setInfo(msg)
		s.Send(&protocol.InfoAck{})
	case *protocol.ResetOptions:
		s.resetOptions()
	case *protocol.SetOptions:
		s.setOptions(msg)
	case *protocol.ClipboardGrab:
		s.resetClipboard(msg.ID)
	case *protocol.Clipboard:
		full, ok := s.clipboardChunk(msg)
		if !ok {
			return true
		}
		m = full
	}
	s.cfg.Handler.Message(s, m)
	return s.state != Closed
}

func (s *Session) establish() {
	if s.state != AwaitingHandshake {
		return
	}
	s.state = Established
	s.log.Info().Stringer("version", s.cfg.Version).Msg("session established")
	s.cfg.Handler.Established(s)
}

func (s *Session) setInfo(m *protocol.Info) {
	s.info, s.hasInfo = *m, true
}

// options returns the server's option list: the keep-alive interval
// followed by the configured pairs.
func (s *Session) options() []uint32 {
	opts := make([]uint32, 0, len(s.cfg.Options)+2)
	if s.cfg.Version.AtLeast(3) {
		opts = append(opts, protocol.OptionHeartbeat, uint32(s.interval/time.Millisecond))
	}
	return append(opts, s.cfg.Options...)
}

func (s *Session) resetOptions() {
	s.interval = s.cfg.KeepAlive
	s.resetAlarm()
}

func (s *Session) setOptions(m *protocol.SetOptions) {
	if ms, ok := m.Map()[protocol.OptionHeartbeat]; ok {
		s.interval = time.Duration(ms) * time.Millisecond
		s.log.Debug().Dur("interval", s.interval).Msg("keep-alive interval set")
		s.resetAlarm()
	}
}

// queueMotion merges a move into the pending one and delivers whatever can
// no longer be held back.
func (s *Session) queueMotion(m coalesce.Motion, more bool) {
	prev, ok, full := s.coal.Add(m)
	if ok {
		s.deliverMotion(prev)
	}
	if more && !full {
		s.cfg.Metrics.Merged()
		return
	}
	s.flushMotion()
}

func (s *Session) flushMotion() {
	if m, ok := s.coal.Flush(); ok {
		s.deliverMotion(m)
	}
}

func (s *Session) deliverMotion(m coalesce.Motion) {
	switch m.Kind {
	case coalesce.Absolute:
		s.cfg.Handler.Message(s, &protocol.MouseMove{X: int16(m.X), Y: int16(m.Y)})
	case coalesce.Relative:
		s.cfg.Handler.Message(s, &protocol.MouseRelMove{DX: clamp16(m.X), DY: clamp16(m.Y)})
	}
}

func clamp16(v int32) int16 {
	return int16(max(-32768, min(v, 32767)))
}

// sendInfo answers QINF with the local screen's info.
func (s *Session) sendInfo() {
	if s.cfg.Info == nil {
		return
	}
	info := s.cfg.Info()
	s.Send(&info)
}

// UpdateInfo tells the server the local screen changed shape. Motion from
// the server is ignored until it acknowledges, since it was computed for
// the old shape.
func (s *Session) UpdateInfo(info protocol.Info) error {
	if err := s.Send(&info); err != nil {
		return err
	}
	s.ignoreMotion = true
	return nil
}

func (s *Session) resetClipboard(id uint8) {
	delete(s.clipboards, id)
}

// clipboardChunk feeds one DCLP message into the reassembly for its
// clipboard. Before 1.6 every message is complete. ok is set when a whole
// clipboard is available.
func (s *Session) clipboardChunk(m *protocol.Clipboard) (*protocol.Clipboard, bool) {
	if !s.cfg.Version.AtLeast(6) {
		return &protocol.Clipboard{ID: m.ID, Seq: m.Seq, Data: m.Data}, true
	}
	switch m.Mark {
	case protocol.ChunkStart:
		size, err := strconv.Atoi(string(m.Data))
		if err != nil || size < 0 {
			s.log.Warn().Uint8("clipboard", m.ID).Msg("bad clipboard size")
			delete(s.clipboards, m.ID)
			return nil, false
		}
		s.clipboards[m.ID] = &clipboardStream{seq: m.Seq, size: size, data: make([]byte, 0, min(size, protocol.MaxPayloadSize))}
	case protocol.ChunkData:
		cs := s.clipboards[m.ID]
		if cs == nil || cs.seq != m.Seq {
			return nil, false
		}
		if len(cs.data)+len(m.Data) > cs.size {
			s.log.Warn().Uint8("clipboard", m.ID).Int("size", cs.size).Msg("clipboard overruns announced size")
			delete(s.clipboards, m.ID)
			return nil, false
		}
		cs.data = append(cs.data, m.Data...)
	case protocol.ChunkEnd:
		cs := s.clipboards[m.ID]
		delete(s.clipboards, m.ID)
		if cs == nil || cs.seq != m.Seq {
			return nil, false
		}
		if len(cs.data) != cs.size {
			s.log.Warn().Uint8("clipboard", m.ID).Int("size", cs.size).Int("got", len(cs.data)).Msg("short clipboard")
			return nil, false
		}
		return &protocol.Clipboard{ID: m.ID, Seq: m.Seq, Data: cs.data}, true
	}
	return nil, false
}

// SendClipboard sends clipboard data, in chunks from 1.6 on.
func (s *Session) SendClipboard(id uint8, seq uint32, data []byte) error {
	if !s.cfg.Version.AtLeast(6) {
		return s.Send(&protocol.Clipboard{ID: id, Seq: seq, Data: data})
	}
	size := []byte(strconv.Itoa(len(data)))
	if err := s.Send(&protocol.Clipboard{ID: id, Seq: seq, Mark: protocol.ChunkStart, Data: size}); err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), protocol.ClipboardChunkSize)
		if err := s.Send(&protocol.Clipboard{ID: id, Seq: seq, Mark: protocol.ChunkData, Data: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
	}
	return s.Send(&protocol.Clipboard{ID: id, Seq: seq, Mark: protocol.ChunkEnd})
}

// EnterSeq returns the sequence number of the last enter sent or received.
func (s *Session) EnterSeq() uint32 { return s.enterSeq }

// Shutdown says goodbye and closes the session.
func (s *Session) Shutdown() {
	if s.state == Closed {
		return
	}
	s.Send(&protocol.Close{})
	s.close(nil)
}

func (s *Session) close(err error) {
	if s.state == Closed {
		return
	}
	s.state = Closed
	if s.alarm != nil {
		s.alarm.Stop()
	}
	if s.keepAlive != nil {
		s.keepAlive.Stop()
	}
	s.coal.Discard()
	s.conn.Close()
	s.cfg.Metrics.SessionClosed(closeReason(err))
	s.log.Debug().Err(err).Msg("session closed")
	s.cfg.Handler.Closed(s, err)
}

func closeReason(err error) string {
	var refused *RefusedError
	switch {
	case err == nil:
		return "shutdown"
	case errors.Is(err, ErrKeepAliveTimeout):
		return "keepalive"
	case errors.Is(err, ErrPeerClosed):
		return "bye"
	case errors.As(err, &refused):
		return "refused"
	case errors.Is(err, protocol.ErrUnknownMessage), errors.Is(err, protocol.ErrFormatMismatch),
		errors.Is(err, protocol.ErrMessageTooLarge):
		return "protocol"
	case errors.Is(err, io.EOF):
		return "eof"
	}
	return "io"
}
