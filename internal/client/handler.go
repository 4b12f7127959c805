package client

import (
	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/session"
)

func (c *Client) Established(s *session.Session) {
	c.log.Info().Stringer("version", s.Version()).Dur("keepalive", s.KeepAlive()).Msg("session established")
}

// Message applies what the server sends to the backend.
func (c *Client) Message(s *session.Session, m protocol.Message) {
	b := c.backend
	c.count(m)
	switch msg := m.(type) {
	case *protocol.Enter:
		b.Enter(int32(msg.X), int32(msg.Y), msg.Seq, msg.Mask)
	case *protocol.Leave:
		b.Leave()
	case *protocol.KeyDown:
		b.KeyDown(msg.Key, msg.Mask, msg.Button, "")
	case *protocol.KeyDownLang:
		b.KeyDown(msg.Key, msg.Mask, msg.Button, msg.Lang)
	case *protocol.KeyRepeat:
		b.KeyRepeat(msg.Key, msg.Mask, msg.Count, msg.Button, msg.Lang)
	case *protocol.KeyUp:
		b.KeyUp(msg.Key, msg.Mask, msg.Button)
	case *protocol.MouseDown:
		b.MouseDown(msg.Button)
	case *protocol.MouseUp:
		b.MouseUp(msg.Button)
	case *protocol.MouseMove:
		b.MouseMove(int32(msg.X), int32(msg.Y))
	case *protocol.MouseRelMove:
		b.MouseRelativeMove(int32(msg.DX), int32(msg.DY))
	case *protocol.MouseWheel:
		b.MouseWheel(int32(msg.XDelta), int32(msg.YDelta))
	case *protocol.ScreenSaver:
		b.Screensaver(msg.On)
	case *protocol.ClipboardGrab:
		b.GrabClipboard(msg.ID)
	case *protocol.Clipboard:
		b.SetClipboard(msg.ID, msg.Data)
	case *protocol.ResetOptions:
		c.log.Debug().Msg("options reset")
	case *protocol.SetOptions:
		opts := msg.Map()
		c.log.Debug().Bool("relative", opts[protocol.OptionRelativeMoves] != 0).
			Bool("screensaver", opts[protocol.OptionScreenSaver] != 0).
			Bool("clipboard", opts[protocol.OptionClipboardShare] != 0).
			Msg("options set")
	case *protocol.LanguageSync:
		c.log.Debug().Str("languages", msg.Languages).Msg("server languages")
	default:
		c.log.Debug().Stringer("code", m.Code()).Msg("ignoring message")
	}
}

func (c *Client) count(m protocol.Message) {
	switch m.(type) {
	case *protocol.Enter:
		c.inputs.enters.Add(1)
	case *protocol.MouseMove, *protocol.MouseRelMove:
		c.inputs.moves.Add(1)
	case *protocol.KeyDown, *protocol.KeyDownLang, *protocol.KeyRepeat, *protocol.KeyUp:
		c.inputs.keys.Add(1)
	case *protocol.MouseDown, *protocol.MouseUp:
		c.inputs.buttons.Add(1)
	case *protocol.MouseWheel:
		c.inputs.wheels.Add(1)
	}
}

func (c *Client) Closed(s *session.Session, err error) {
	if c.sess == s {
		c.sess = nil
	}
	c.log.Info().Err(err).Msg("session closed")
	if c.done != nil {
		c.done <- err
		c.done = nil
	}
}
