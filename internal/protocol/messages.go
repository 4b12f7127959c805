package protocol

// Message is one decoded protocol message. The set of implementations is
// closed; each maps to exactly one Code.
type Message interface {
	Code() Code
	// fields returns pointers to the wire fields in the order of the
	// layout used at the given minor version.
	fields(minor int) []any
}

// --- Greeting ---

// Hello is the server's greeting.
type Hello struct {
	Major int16
	Minor int16
}

// HelloBack is the client's reply to Hello.
type HelloBack struct {
	Major int16
	Minor int16
	Name  string
}

// --- Commands ---

type NoOp struct{}

type Close struct{}

// Enter tells a client the cursor entered its screen at (X, Y). Seq is
// echoed in clipboard grabs so stale grabs can be discarded.
type Enter struct {
	X, Y int16
	Seq  uint32
	Mask uint16 // modifier toggle state
}

type Leave struct{}

// ClipboardGrab announces a new owner of clipboard ID.
type ClipboardGrab struct {
	ID  uint8
	Seq uint32
}

type ScreenSaver struct {
	On bool
}

type ResetOptions struct{}

type InfoAck struct{}

type KeepAlive struct{}

// --- Input ---

type KeyDown struct {
	Key, Mask, Button uint16
}

// KeyDownLang is KeyDown tagged with the input language.
type KeyDownLang struct {
	Key, Mask, Button uint16
	Lang              string
}

type KeyRepeat struct {
	Key, Mask, Count, Button uint16
	Lang                     string
}

type KeyUp struct {
	Key, Mask, Button uint16
}

type MouseDown struct {
	Button uint8
}

type MouseUp struct {
	Button uint8
}

// MouseMove is an absolute move on the receiving screen.
type MouseMove struct {
	X, Y int16
}

type MouseRelMove struct {
	DX, DY int16
}

type MouseWheel struct {
	XDelta, YDelta int16
}

// --- Data ---

// Clipboard carries clipboard data. From minor 6 on, data is streamed as a
// ChunkStart message holding the decimal total size, any number of
// ChunkData messages, and a ChunkEnd message.
type Clipboard struct {
	ID   uint8
	Seq  uint32
	Mark uint8
	Data []byte
}

// Info describes the client screen: origin, shape and cursor position.
type Info struct {
	X, Y          int16
	Width, Height int16
	warp          int16 // obsolete, always zero
	MouseX        int16
	MouseY        int16
}

// SetOptions carries (id, value) pairs.
type SetOptions struct {
	Options []uint32
}

type FileTransfer struct {
	Mark uint8
	Data []byte
}

type DragInfo struct {
	Count uint16
	Files []byte
}

type SecureInput struct {
	App string
}

type LanguageSync struct {
	Languages string
}

// WakeOnLAN registers the client's MAC address with the server.
type WakeOnLAN struct {
	MAC string
}

type QueryInfo struct{}

// --- Errors ---

// Incompatible refuses a client; it carries the server's own version.
type Incompatible struct {
	Major, Minor int16
}

type Busy struct{}

type UnknownClient struct{}

type ProtocolError struct{}

func (*Hello) Code() Code         { return CodeHello }
func (*HelloBack) Code() Code     { return CodeHelloBack }
func (*NoOp) Code() Code          { return CodeNoOp }
func (*Close) Code() Code         { return CodeClose }
func (*Enter) Code() Code         { return CodeEnter }
func (*Leave) Code() Code         { return CodeLeave }
func (*ClipboardGrab) Code() Code { return CodeClipboardGrab }
func (*ScreenSaver) Code() Code   { return CodeScreenSaver }
func (*ResetOptions) Code() Code  { return CodeResetOptions }
func (*InfoAck) Code() Code       { return CodeInfoAck }
func (*KeepAlive) Code() Code     { return CodeKeepAlive }
func (*KeyDown) Code() Code       { return CodeKeyDown }
func (*KeyDownLang) Code() Code   { return CodeKeyDownLang }
func (*KeyRepeat) Code() Code     { return CodeKeyRepeat }
func (*KeyUp) Code() Code         { return CodeKeyUp }
func (*MouseDown) Code() Code     { return CodeMouseDown }
func (*MouseUp) Code() Code       { return CodeMouseUp }
func (*MouseMove) Code() Code     { return CodeMouseMove }
func (*MouseRelMove) Code() Code  { return CodeMouseRelMove }
func (*MouseWheel) Code() Code    { return CodeMouseWheel }
func (*Clipboard) Code() Code     { return CodeClipboard }
func (*Info) Code() Code          { return CodeInfo }
func (*SetOptions) Code() Code    { return CodeSetOptions }
func (*FileTransfer) Code() Code  { return CodeFileTransfer }
func (*DragInfo) Code() Code      { return CodeDragInfo }
func (*SecureInput) Code() Code   { return CodeSecureInput }
func (*LanguageSync) Code() Code  { return CodeLanguageSync }
func (*WakeOnLAN) Code() Code     { return CodeWakeOnLAN }
func (*QueryInfo) Code() Code     { return CodeQueryInfo }
func (*Incompatible) Code() Code  { return CodeIncompatible }
func (*Busy) Code() Code          { return CodeBusy }
func (*UnknownClient) Code() Code { return CodeUnknownClient }
func (*ProtocolError) Code() Code { return CodeProtocolError }

func (m *Hello) fields(int) []any     { return []any{&m.Major, &m.Minor} }
func (m *HelloBack) fields(int) []any { return []any{&m.Major, &m.Minor, &m.Name} }
func (*NoOp) fields(int) []any        { return nil }
func (*Close) fields(int) []any       { return nil }
func (m *Enter) fields(int) []any     { return []any{&m.X, &m.Y, &m.Seq, &m.Mask} }
func (*Leave) fields(int) []any       { return nil }

func (m *ClipboardGrab) fields(int) []any { return []any{&m.ID, &m.Seq} }
func (m *ScreenSaver) fields(int) []any   { return []any{&m.On} }
func (*ResetOptions) fields(int) []any    { return nil }
func (*InfoAck) fields(int) []any         { return nil }
func (*KeepAlive) fields(int) []any       { return nil }

func (m *KeyDown) fields(minor int) []any {
	if minor < 1 {
		return []any{&m.Key, &m.Mask}
	}
	return []any{&m.Key, &m.Mask, &m.Button}
}

func (m *KeyDownLang) fields(int) []any {
	return []any{&m.Key, &m.Mask, &m.Button, &m.Lang}
}

func (m *KeyRepeat) fields(minor int) []any {
	switch {
	case minor < 1:
		return []any{&m.Key, &m.Mask, &m.Count}
	case minor < 8:
		return []any{&m.Key, &m.Mask, &m.Count, &m.Button}
	}
	return []any{&m.Key, &m.Mask, &m.Count, &m.Button, &m.Lang}
}

func (m *KeyUp) fields(minor int) []any {
	if minor < 1 {
		return []any{&m.Key, &m.Mask}
	}
	return []any{&m.Key, &m.Mask, &m.Button}
}

func (m *MouseDown) fields(int) []any    { return []any{&m.Button} }
func (m *MouseUp) fields(int) []any      { return []any{&m.Button} }
func (m *MouseMove) fields(int) []any    { return []any{&m.X, &m.Y} }
func (m *MouseRelMove) fields(int) []any { return []any{&m.DX, &m.DY} }

func (m *MouseWheel) fields(minor int) []any {
	if minor < 3 {
		return []any{&m.YDelta}
	}
	return []any{&m.XDelta, &m.YDelta}
}

func (m *Clipboard) fields(minor int) []any {
	if minor < 6 {
		return []any{&m.ID, &m.Seq, &m.Data}
	}
	return []any{&m.ID, &m.Seq, &m.Mark, &m.Data}
}

func (m *Info) fields(int) []any {
	return []any{&m.X, &m.Y, &m.Width, &m.Height, &m.warp, &m.MouseX, &m.MouseY}
}

func (m *SetOptions) fields(int) []any   { return []any{&m.Options} }
func (m *FileTransfer) fields(int) []any { return []any{&m.Mark, &m.Data} }
func (m *DragInfo) fields(int) []any     { return []any{&m.Count, &m.Files} }
func (m *SecureInput) fields(int) []any  { return []any{&m.App} }
func (m *LanguageSync) fields(int) []any { return []any{&m.Languages} }
func (m *WakeOnLAN) fields(int) []any    { return []any{&m.MAC} }
func (*QueryInfo) fields(int) []any      { return nil }

func (m *Incompatible) fields(int) []any { return []any{&m.Major, &m.Minor} }
func (*Busy) fields(int) []any           { return nil }
func (*UnknownClient) fields(int) []any  { return nil }
func (*ProtocolError) fields(int) []any  { return nil }

// Map decodes the option pairs into a map. A trailing unpaired id is
// ignored.
func (m *SetOptions) Map() map[uint32]uint32 {
	out := make(map[uint32]uint32, len(m.Options)/2)
	for i := 0; i+1 < len(m.Options); i += 2 {
		out[m.Options[i]] = m.Options[i+1]
	}
	return out
}
