package session

import (
	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/screen"
)

// A server session is the switcher's view of a remote screen.
var _ screen.Screen = (*Session)(nil)

// Shape returns the shape the client last reported.
func (s *Session) Shape() (x, y, w, h int32) {
	return int32(s.info.X), int32(s.info.Y), int32(s.info.Width), int32(s.info.Height)
}

func (s *Session) Enter(x, y int32, seq uint32, mask uint16) {
	s.enterSeq = seq
	s.Send(&protocol.Enter{X: int16(x), Y: int16(y), Seq: seq, Mask: mask})
}

func (s *Session) Leave() {
	s.Send(&protocol.Leave{})
}

func (s *Session) Warp(x, y int32) {
	s.Send(&protocol.MouseMove{X: int16(x), Y: int16(y)})
}

// KeyDown sends DKDL when a language is known and the peer understands it.
func (s *Session) KeyDown(key, mask, button uint16, lang string) {
	if lang != "" && s.cfg.Version.AtLeast(8) {
		s.Send(&protocol.KeyDownLang{Key: key, Mask: mask, Button: button, Lang: lang})
		return
	}
	s.Send(&protocol.KeyDown{Key: key, Mask: mask, Button: button})
}

func (s *Session) KeyRepeat(key, mask, count, button uint16, lang string) {
	s.Send(&protocol.KeyRepeat{Key: key, Mask: mask, Count: count, Button: button, Lang: lang})
}

func (s *Session) KeyUp(key, mask, button uint16) {
	s.Send(&protocol.KeyUp{Key: key, Mask: mask, Button: button})
}

func (s *Session) MouseDown(button uint8) {
	s.Send(&protocol.MouseDown{Button: button})
}

func (s *Session) MouseUp(button uint8) {
	s.Send(&protocol.MouseUp{Button: button})
}

func (s *Session) MouseMove(x, y int32) {
	s.Send(&protocol.MouseMove{X: int16(x), Y: int16(y)})
}

// MouseRelativeMove needs 1.2. Older peers get nothing; the switcher only
// sends relative motion when the client asked for it.
func (s *Session) MouseRelativeMove(dx, dy int32) {
	s.Send(&protocol.MouseRelMove{DX: clamp16(dx), DY: clamp16(dy)})
}

func (s *Session) MouseWheel(xDelta, yDelta int32) {
	s.Send(&protocol.MouseWheel{XDelta: clamp16(xDelta), YDelta: clamp16(yDelta)})
}

func (s *Session) Screensaver(on bool) {
	s.Send(&protocol.ScreenSaver{On: on})
}

// GrabClipboard announces a new clipboard owner, tagged with the last
// enter sequence number.
func (s *Session) GrabClipboard(id uint8) {
	s.Send(&protocol.ClipboardGrab{ID: id, Seq: s.enterSeq})
}

func (s *Session) SetClipboard(id uint8, data []byte) {
	s.SendClipboard(id, s.enterSeq, data)
}
