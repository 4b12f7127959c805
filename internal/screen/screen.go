// Package screen defines the boundary between the protocol core and the
// platform code that captures and injects input.
package screen

// Screen receives input and cursor control for one display. The server
// treats each remote session as a Screen; a client drives its platform
// backend through the same interface.
type Screen interface {
	// Shape returns the screen origin and size in pixels.
	Shape() (x, y, w, h int32)

	// Enter is called when the cursor arrives at (x, y). seq identifies
	// the entry and mask carries the lock-key toggle state.
	Enter(x, y int32, seq uint32, mask uint16)
	Leave()
	Warp(x, y int32)

	KeyDown(key, mask, button uint16, lang string)
	KeyRepeat(key, mask, count, button uint16, lang string)
	KeyUp(key, mask, button uint16)

	MouseDown(button uint8)
	MouseUp(button uint8)
	MouseMove(x, y int32)
	MouseRelativeMove(dx, dy int32)
	MouseWheel(xDelta, yDelta int32)

	Screensaver(on bool)
	GrabClipboard(id uint8)
	SetClipboard(id uint8, data []byte)
}

// Primary is the screen physically attached to the shared keyboard and
// mouse. It reports captured input as events.
type Primary interface {
	Screen
	Events() <-chan Event
}

// Cursor is implemented by screens that can report the pointer position.
type Cursor interface {
	Cursor() (x, y int32)
}

// EventKind identifies a captured input event.
type EventKind uint8

const (
	EventMouseMove EventKind = iota + 1 // absolute, local coordinates
	EventMouseRelMove                   // raw deltas while on a remote screen
	EventKeyDown
	EventKeyRepeat
	EventKeyUp
	EventMouseDown
	EventMouseUp
	EventMouseWheel
	EventScreenSaver
	EventClipboardGrab
	EventClipboardData
	EventShapeChanged
)

var eventNames = map[EventKind]string{
	EventMouseMove:     "mouse-move",
	EventMouseRelMove:  "mouse-rel-move",
	EventKeyDown:       "key-down",
	EventKeyRepeat:     "key-repeat",
	EventKeyUp:         "key-up",
	EventMouseDown:     "mouse-down",
	EventMouseUp:       "mouse-up",
	EventMouseWheel:    "mouse-wheel",
	EventScreenSaver:   "screensaver",
	EventClipboardGrab: "clipboard-grab",
	EventClipboardData: "clipboard-data",
	EventShapeChanged:  "shape-changed",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one captured input event. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind EventKind

	X, Y int32 // position, deltas, or wheel deltas

	Key    uint16
	Mask   uint16
	Button uint16 // physical key button
	Count  uint16
	Lang   string

	MouseButton uint8

	On bool // screensaver state

	ClipboardID uint8
	Data        []byte
}
