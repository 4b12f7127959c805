package screen

// Modifier mask bits carried with key events.
const (
	ModShift      uint16 = 0x0001
	ModControl    uint16 = 0x0002
	ModAlt        uint16 = 0x0004
	ModMeta       uint16 = 0x0008
	ModSuper      uint16 = 0x0010
	ModAltGr      uint16 = 0x0020
	ModCapsLock   uint16 = 0x1000
	ModNumLock    uint16 = 0x2000
	ModScrollLock uint16 = 0x4000

	// ModHeld are the modifiers a hotkey must match exactly.
	ModHeld = ModShift | ModControl | ModAlt | ModMeta | ModSuper
	// ModToggles are the lock states sent with Enter.
	ModToggles = ModCapsLock | ModNumLock | ModScrollLock
)

// Key identifiers for non-printing keys. Printable keys use their Unicode
// code point.
const (
	KeyNone       uint16 = 0x0000
	KeyBackSpace  uint16 = 0xEF08
	KeyTab        uint16 = 0xEF09
	KeyReturn     uint16 = 0xEF0D
	KeyPause      uint16 = 0xEF13
	KeyScrollLock uint16 = 0xEF14
	KeyEscape     uint16 = 0xEF1B
	KeyHome       uint16 = 0xEF50
	KeyLeft       uint16 = 0xEF51
	KeyUp         uint16 = 0xEF52
	KeyRight      uint16 = 0xEF53
	KeyDown       uint16 = 0xEF54
	KeyPageUp     uint16 = 0xEF55
	KeyPageDown   uint16 = 0xEF56
	KeyEnd        uint16 = 0xEF57
	KeyF1         uint16 = 0xEFBE
	KeyF12        uint16 = KeyF1 + 11
	KeyDelete     uint16 = 0xEFFF
)

// Mouse buttons.
const (
	ButtonNone   uint8 = 0
	ButtonLeft   uint8 = 1
	ButtonMiddle uint8 = 2
	ButtonRight  uint8 = 3
)
