package switcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chronologos/glide/internal/screen"
	"github.com/chronologos/glide/internal/topology"
)

// HotkeyAction is what a matched hotkey asks the controller to do.
type HotkeyAction int

const (
	HotkeyLockToggle        HotkeyAction = iota + 1 // lock or unlock the cursor to the active screen
	HotkeySwitchToScreen                            // jump to Binding.Screen
	HotkeySwitchInDirection                         // jump across Binding.Direction
)

// Binding maps a key plus held modifiers to an action.
type Binding struct {
	Key       uint16
	Mask      uint16 // held modifiers, compared exactly
	Action    HotkeyAction
	Screen    string
	Direction topology.Direction
}

// Hotkeys intercepts bound keys before they are relayed. A key whose press
// was consumed has its repeats and release consumed too, so the active
// screen never sees half a keystroke.
type Hotkeys struct {
	bindings []Binding
	held     map[uint16]bool
}

func NewHotkeys(bindings ...Binding) *Hotkeys {
	return &Hotkeys{bindings: bindings, held: make(map[uint16]bool)}
}

// Bind adds a binding. A later binding for the same chord wins.
func (h *Hotkeys) Bind(b Binding) {
	h.bindings = append(h.bindings, b)
}

// KeyDown returns the binding for the chord, if any, and marks the key as
// consumed until it is released.
func (h *Hotkeys) KeyDown(key, mask uint16) (Binding, bool) {
	for i := len(h.bindings) - 1; i >= 0; i-- {
		b := h.bindings[i]
		if b.Key == key && b.Mask == mask&screen.ModHeld {
			h.held[key] = true
			return b, true
		}
	}
	return Binding{}, false
}

// KeyRepeat reports whether the repeat belongs to a consumed press.
func (h *Hotkeys) KeyRepeat(key uint16) bool {
	return h.held[key]
}

// KeyUp reports whether the release belongs to a consumed press.
func (h *Hotkeys) KeyUp(key uint16) bool {
	if !h.held[key] {
		return false
	}
	delete(h.held, key)
	return true
}

// Reset forgets consumed presses.
func (h *Hotkeys) Reset() {
	clear(h.held)
}

var modifierNames = map[string]uint16{
	"shift":   screen.ModShift,
	"ctrl":    screen.ModControl,
	"control": screen.ModControl,
	"alt":     screen.ModAlt,
	"meta":    screen.ModMeta,
	"super":   screen.ModSuper,
	"win":     screen.ModSuper,
}

var keyNames = map[string]uint16{
	"left":       screen.KeyLeft,
	"right":      screen.KeyRight,
	"up":         screen.KeyUp,
	"down":       screen.KeyDown,
	"home":       screen.KeyHome,
	"end":        screen.KeyEnd,
	"pageup":     screen.KeyPageUp,
	"pagedown":   screen.KeyPageDown,
	"scrolllock": screen.KeyScrollLock,
	"pause":      screen.KeyPause,
	"escape":     screen.KeyEscape,
	"esc":        screen.KeyEscape,
	"tab":        screen.KeyTab,
	"return":     screen.KeyReturn,
	"enter":      screen.KeyReturn,
	"backspace":  screen.KeyBackSpace,
	"delete":     screen.KeyDelete,
	"space":      ' ',
}

// ParseChord parses a chord such as "ctrl+alt+right", "scrolllock" or
// "shift+f3" into a key and modifier mask.
func ParseChord(s string) (key, mask uint16, err error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i < len(parts)-1 {
			m, ok := modifierNames[p]
			if !ok {
				return 0, 0, fmt.Errorf("hotkey %q: unknown modifier %q", s, p)
			}
			mask |= m
			continue
		}
		key, err = parseKey(p)
		if err != nil {
			return 0, 0, fmt.Errorf("hotkey %q: %w", s, err)
		}
	}
	return key, mask, nil
}

func parseKey(p string) (uint16, error) {
	if k, ok := keyNames[p]; ok {
		return k, nil
	}
	if len(p) > 1 && p[0] == 'f' {
		n, err := strconv.Atoi(p[1:])
		if err == nil && n >= 1 && n <= 12 {
			return screen.KeyF1 + uint16(n-1), nil
		}
	}
	if len(p) == 1 && p[0] > ' ' && p[0] < 0x7f {
		return uint16(p[0]), nil
	}
	return 0, fmt.Errorf("unknown key %q", p)
}
