package server

import (
	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/session"
)

// Established attaches a client's screen once its shape is known.
func (s *Server) Established(sess *session.Session) {
	name := sess.Name()
	if info, ok := sess.PeerInfo(); ok {
		s.setShape(name, &info)
	}
	if err := s.ctrl.Attach(name, sess); err != nil {
		s.log.Warn().Err(err).Str("screen", name).Msg("attach failed")
		sess.Shutdown()
	}
}

// Message handles what a client tells the server after the handshake.
func (s *Server) Message(sess *session.Session, m protocol.Message) {
	name := sess.Name()
	switch msg := m.(type) {
	case *protocol.Info:
		s.setShape(name, msg)
		s.ctrl.ShapeChanged(name)
	case *protocol.ClipboardGrab:
		if !s.ctrl.OnClipboardGrab(name, msg.ID, msg.Seq) {
			s.log.Debug().Str("screen", name).Uint32("seq", msg.Seq).Msg("stale clipboard grab")
		}
	case *protocol.Clipboard:
		s.ctrl.OnClipboardData(name, msg.ID, msg.Seq, msg.Data)
	case *protocol.WakeOnLAN:
		s.cfg.Topology.SetMAC(name, msg.MAC)
		s.log.Info().Str("screen", name).Str("mac", msg.MAC).Msg("wake-on-lan registered")
	case *protocol.SecureInput:
		s.log.Info().Str("screen", name).Str("app", msg.App).Msg("secure input enabled on client")
	case *protocol.LanguageSync:
		s.log.Debug().Str("screen", name).Str("languages", msg.Languages).Msg("client languages")
	default:
		s.log.Debug().Str("screen", name).Stringer("code", m.Code()).Msg("ignoring message")
	}
}

// Closed detaches a client's screen.
func (s *Server) Closed(sess *session.Session, err error) {
	name := sess.Name()
	if s.sessions[name] != sess {
		return
	}
	delete(s.sessions, name)
	s.ctrl.ScreenDisconnected(name)
	s.log.Info().Err(err).Str("screen", name).Str("id", sess.ID()).Msg("client disconnected")
}

func (s *Server) setShape(name string, info *protocol.Info) {
	t := s.cfg.Topology
	t.SetShape(name, int32(info.X), int32(info.Y), int32(info.Width), int32(info.Height))
	t.SetCursor(name, int32(info.MouseX), int32(info.MouseY))
}
