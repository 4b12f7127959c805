package screen

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Call is one recorded invocation on a Headless screen.
type Call struct {
	Op   string
	Args []any
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Op, c.Args)
}

// Headless is an in-memory screen with no display. It records every call,
// tracks the cursor, and delivers injected events. It backs the client when
// no platform backend is available and stands in for real screens in tests.
type Headless struct {
	mu        sync.Mutex
	w, h      int32
	x, y      int32
	active    bool
	calls     []Call
	clipboard map[uint8][]byte
	events    chan Event
	log       zerolog.Logger
}

func NewHeadless(w, h int32, logger zerolog.Logger) *Headless {
	return &Headless{
		w:         w,
		h:         h,
		x:         w / 2,
		y:         h / 2,
		clipboard: make(map[uint8][]byte),
		events:    make(chan Event, 256),
		log:       logger.With().Str("component", "headless").Logger(),
	}
}

func (s *Headless) record(op string, args ...any) {
	s.calls = append(s.calls, Call{Op: op, Args: args})
	s.log.Trace().Str("op", op).Interface("args", args).Msg("screen call")
}

// Calls returns a copy of the recorded calls.
func (s *Headless) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Ops returns the recorded operation names in order.
func (s *Headless) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.calls))
	for i, c := range s.calls {
		ops[i] = c.Op
	}
	return ops
}

// Reset clears the recorded calls.
func (s *Headless) Reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

// Active reports whether the cursor is on this screen.
func (s *Headless) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Clipboard returns the last data set for id.
func (s *Headless) Clipboard(id uint8) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipboard[id]
}

// Resize changes the shape and queues a shape-changed event.
func (s *Headless) Resize(w, h int32) {
	s.mu.Lock()
	s.w, s.h = w, h
	s.x, s.y = min(s.x, w-1), min(s.y, h-1)
	s.mu.Unlock()
	s.Inject(Event{Kind: EventShapeChanged, X: w, Y: h})
}

// Inject queues a captured input event. It drops the event if the queue
// is full.
func (s *Headless) Inject(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		s.log.Warn().Stringer("kind", ev.Kind).Msg("event queue full, dropping")
		return false
	}
}

func (s *Headless) Events() <-chan Event { return s.events }

func (s *Headless) Shape() (x, y, w, h int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 0, 0, s.w, s.h
}

func (s *Headless) Cursor() (x, y int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y
}

func (s *Headless) Enter(x, y int32, seq uint32, mask uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.x, s.y = x, y
	s.record("enter", x, y, seq, mask)
}

func (s *Headless) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.record("leave")
}

func (s *Headless) Warp(x, y int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x, s.y = x, y
	s.record("warp", x, y)
}

func (s *Headless) KeyDown(key, mask, button uint16, lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("key-down", key, mask, button, lang)
}

func (s *Headless) KeyRepeat(key, mask, count, button uint16, lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("key-repeat", key, mask, count, button, lang)
}

func (s *Headless) KeyUp(key, mask, button uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("key-up", key, mask, button)
}

func (s *Headless) MouseDown(button uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("mouse-down", button)
}

func (s *Headless) MouseUp(button uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("mouse-up", button)
}

func (s *Headless) MouseMove(x, y int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x, s.y = x, y
	s.record("mouse-move", x, y)
}

func (s *Headless) MouseRelativeMove(dx, dy int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x = max(0, min(s.x+dx, s.w-1))
	s.y = max(0, min(s.y+dy, s.h-1))
	s.record("mouse-rel-move", dx, dy)
}

func (s *Headless) MouseWheel(xDelta, yDelta int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("mouse-wheel", xDelta, yDelta)
}

func (s *Headless) Screensaver(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("screensaver", on)
}

func (s *Headless) GrabClipboard(id uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("grab-clipboard", id)
}

func (s *Headless) SetClipboard(id uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipboard[id] = append([]byte(nil), data...)
	s.record("set-clipboard", id, len(data))
}
