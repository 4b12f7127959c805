package protocol

import (
	"fmt"
	"sort"
)

// layout is the body format used from minor version since onwards.
type layout struct {
	since  int
	format string
}

// entry describes one message code: when it was introduced, who may send
// it, which phases accept it, and how its body is laid out per version.
type entry struct {
	since   int
	from    Role // bitmask of roles allowed to send
	phases  Phase
	layouts []layout // newest first
	newMsg  func() Message
}

func (e *entry) format(minor int) string {
	for _, l := range e.layouts {
		if minor >= l.since {
			return l.format
		}
	}
	return e.layouts[len(e.layouts)-1].format
}

const (
	both    = RoleServer | RoleClient
	session = PhaseHandshake | PhaseEstablished
	refusal = PhaseHello | PhaseHandshake | PhaseEstablished
)

func one(format string) []layout { return []layout{{0, format}} }

// table is the single source of truth for what each version understands.
var table = map[Code]*entry{
	CodeHello:     {0, RoleServer, PhaseHello, one("%2i%2i"), func() Message { return &Hello{} }},
	CodeHelloBack: {0, RoleClient, PhaseHello, one("%2i%2i%s"), func() Message { return &HelloBack{} }},

	CodeNoOp:          {0, both, session, one(""), func() Message { return &NoOp{} }},
	CodeClose:         {0, both, session, one(""), func() Message { return &Close{} }},
	CodeEnter:         {0, RoleServer, PhaseEstablished, one("%2i%2i%4i%2i"), func() Message { return &Enter{} }},
	CodeLeave:         {0, RoleServer, PhaseEstablished, one(""), func() Message { return &Leave{} }},
	CodeClipboardGrab: {0, both, PhaseEstablished, one("%1i%4i"), func() Message { return &ClipboardGrab{} }},
	CodeScreenSaver:   {0, RoleServer, PhaseEstablished, one("%1i"), func() Message { return &ScreenSaver{} }},
	CodeResetOptions:  {0, RoleServer, session, one(""), func() Message { return &ResetOptions{} }},
	CodeInfoAck:       {0, RoleServer, session, one(""), func() Message { return &InfoAck{} }},
	CodeKeepAlive:     {3, both, session, one(""), func() Message { return &KeepAlive{} }},

	CodeKeyDown: {0, RoleServer, PhaseEstablished,
		[]layout{{1, "%2i%2i%2i"}, {0, "%2i%2i"}}, func() Message { return &KeyDown{} }},
	CodeKeyDownLang: {8, RoleServer, PhaseEstablished, one("%2i%2i%2i%s"), func() Message { return &KeyDownLang{} }},
	CodeKeyRepeat: {0, RoleServer, PhaseEstablished,
		[]layout{{8, "%2i%2i%2i%2i%s"}, {1, "%2i%2i%2i%2i"}, {0, "%2i%2i%2i"}}, func() Message { return &KeyRepeat{} }},
	CodeKeyUp: {0, RoleServer, PhaseEstablished,
		[]layout{{1, "%2i%2i%2i"}, {0, "%2i%2i"}}, func() Message { return &KeyUp{} }},
	CodeMouseDown:    {0, RoleServer, PhaseEstablished, one("%1i"), func() Message { return &MouseDown{} }},
	CodeMouseUp:      {0, RoleServer, PhaseEstablished, one("%1i"), func() Message { return &MouseUp{} }},
	CodeMouseMove:    {0, RoleServer, PhaseEstablished, one("%2i%2i"), func() Message { return &MouseMove{} }},
	CodeMouseRelMove: {2, RoleServer, PhaseEstablished, one("%2i%2i"), func() Message { return &MouseRelMove{} }},
	CodeMouseWheel: {0, RoleServer, PhaseEstablished,
		[]layout{{3, "%2i%2i"}, {0, "%2i"}}, func() Message { return &MouseWheel{} }},

	CodeClipboard: {0, both, PhaseEstablished,
		[]layout{{6, "%1i%4i%1i%s"}, {0, "%1i%4i%s"}}, func() Message { return &Clipboard{} }},
	CodeInfo:         {0, RoleClient, session, one("%2i%2i%2i%2i%2i%2i%2i"), func() Message { return &Info{} }},
	CodeSetOptions:   {0, RoleServer, session, one("%4I"), func() Message { return &SetOptions{} }},
	CodeFileTransfer: {5, both, PhaseEstablished, one("%1i%s"), func() Message { return &FileTransfer{} }},
	CodeDragInfo:     {5, both, PhaseEstablished, one("%2i%s"), func() Message { return &DragInfo{} }},
	CodeSecureInput:  {7, RoleClient, PhaseEstablished, one("%s"), func() Message { return &SecureInput{} }},
	CodeWakeOnLAN:    {7, RoleClient, PhaseEstablished, one("%s"), func() Message { return &WakeOnLAN{} }},
	CodeLanguageSync: {8, both, session, one("%s"), func() Message { return &LanguageSync{} }},
	CodeQueryInfo:    {0, RoleServer, session, one(""), func() Message { return &QueryInfo{} }},

	CodeIncompatible:  {0, RoleServer, refusal, one("%2i%2i"), func() Message { return &Incompatible{} }},
	CodeBusy:          {0, RoleServer, refusal, one(""), func() Message { return &Busy{} }},
	CodeUnknownClient: {0, RoleServer, refusal, one(""), func() Message { return &UnknownClient{} }},
	CodeProtocolError: {0, both, refusal, one(""), func() Message { return &ProtocolError{} }},
}

// allows reports whether a message with this entry may be received by a
// session at version v, in phase p, from a peer acting as from.
func (e *entry) allows(v Version, p Phase, from Role) bool {
	if e.phases&p == 0 || e.from&from == 0 {
		return false
	}
	if p == PhaseHello {
		return true
	}
	return v.AtLeast(e.since)
}

// Supported returns every code a session at version v accepts in phase p
// from a peer acting as from, sorted.
func Supported(v Version, p Phase, from Role) []Code {
	var out []Code
	for code, e := range table {
		if e.allows(v, p, from) {
			out = append(out, code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Since returns the minor version that introduced code.
func Since(code Code) (int, bool) {
	e, ok := table[code]
	if !ok {
		return 0, false
	}
	return e.since, true
}

// Marshal encodes m using the layout of version v. Messages newer than v
// cannot be sent.
func Marshal(m Message, v Version) ([]byte, error) {
	code := m.Code()
	e, ok := table[code]
	if !ok || (e.phases != PhaseHello && !v.AtLeast(e.since)) {
		return nil, &UnknownMessageError{Code: code, Version: v}
	}
	var b Buffer
	b.PutRaw([]byte(code))
	if err := AppendEncode(&b, e.format(v.Minor), m.fields(v.Minor)...); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", code, err)
	}
	if b.Len() > MaxPayloadSize {
		return nil, fmt.Errorf("marshal %s: %w", code, ErrMessageTooLarge)
	}
	return b.Bytes(), nil
}

// Unmarshal decodes a payload received by a session at version v in phase
// p from a peer acting as from. A code that is unknown, too new, out of
// phase or sent by the wrong role yields *UnknownMessageError.
func Unmarshal(payload []byte, v Version, p Phase, from Role) (Message, error) {
	if len(payload) < CodeSize {
		return nil, fmt.Errorf("%w: payload of %d bytes has no code", ErrFormatMismatch, len(payload))
	}
	code := Code(payload[:CodeSize])
	e, ok := table[code]
	if !ok || !e.allows(v, p, from) {
		return nil, &UnknownMessageError{Code: code, Version: v, Phase: p}
	}
	m := e.newMsg()
	if err := Decode(payload[CodeSize:], e.format(v.Minor), m.fields(v.Minor)...); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", code, err)
	}
	return m, nil
}
