// Package switcher decides which screen receives input and moves the cursor
// between screens.
//
// The controller is driven from the event loop and is not safe for
// concurrent use.
package switcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologos/glide/internal/reactor"
	"github.com/chronologos/glide/internal/screen"
	"github.com/chronologos/glide/internal/topology"
)

var ErrNotConnected = errors.New("screen not connected")

// State is the controller's coarse state.
type State int

const (
	OnLocal State = iota
	OnRemote
)

func (s State) String() string {
	if s == OnLocal {
		return "local"
	}
	return "remote"
}

// Options tune switching behaviour.
type Options struct {
	// RelativeMoves forwards raw deltas to remote screens instead of
	// absolute positions.
	RelativeMoves bool
	// ScreenSaverSync propagates screensaver state to remote screens.
	ScreenSaverSync bool
	// ClipboardSharing forwards clipboard contents between screens.
	ClipboardSharing bool

	// SwitchDelay holds the cursor at an edge this long before switching.
	// Leaving the edge first cancels the switch.
	SwitchDelay time.Duration
	// SwitchTwoTap, if set, switches only when the edge is hit a second
	// time within this interval after moving away from it.
	SwitchTwoTap time.Duration
	// Corners never switch. A corner extends CornerSize pixels along
	// each edge.
	Corners    Corner
	CornerSize int32
	// SwitchNeeds are modifiers (screen.ModShift, ModControl, ModAlt)
	// that must be held for an edge crossing to switch.
	SwitchNeeds uint16
}

// Switch describes a completed change of active screen.
type Switch struct {
	From, To string
	X, Y     int32
	Seq      uint32
}

type clipboard struct {
	owner string
	seq   uint32
	data  []byte
	sent  map[string]bool
}

// Controller tracks the active screen and relays input to it.
type Controller struct {
	topo    *topology.Topology
	local   screen.Screen
	targets map[string]screen.Screen
	hotkeys *Hotkeys
	opts    Options
	log     zerolog.Logger

	x, y    int32 // cursor on the active screen
	seq     uint32
	mask    uint16
	locked  bool
	buttons map[uint8]bool

	clipboards map[uint8]*clipboard
	pending    pending
	now        func() time.Time

	saverActive   bool
	saverReturnTo string
	saverX        int32
	saverY        int32

	// OnSwitch, if set, is called after every change of active screen.
	OnSwitch func(Switch)
	// Scheduler runs the SwitchDelay timer. Without one, switches are
	// not delayed.
	Scheduler reactor.Scheduler
}

// New creates a controller over topo. The topology must have a local
// screen, which becomes active.
func New(topo *topology.Topology, local screen.Screen, hotkeys *Hotkeys, opts Options, logger zerolog.Logger) (*Controller, error) {
	l := topo.Local()
	if l == nil {
		return nil, fmt.Errorf("switcher: %w: no local screen", topology.ErrUnknownScreen)
	}
	if hotkeys == nil {
		hotkeys = NewHotkeys()
	}
	if err := topo.SetActive(l.Name); err != nil {
		return nil, err
	}
	c := &Controller{
		topo:       topo,
		local:      local,
		targets:    make(map[string]screen.Screen),
		hotkeys:    hotkeys,
		opts:       opts,
		log:        logger.With().Str("component", "switcher").Logger(),
		buttons:    make(map[uint8]bool),
		clipboards: make(map[uint8]*clipboard),
		now:        time.Now,
	}
	c.x, c.y = l.Center()
	if cur, ok := local.(screen.Cursor); ok {
		c.x, c.y = cur.Cursor()
	}
	return c, nil
}

// State returns OnLocal or OnRemote and the active screen name.
func (c *Controller) State() (State, string) {
	a := c.topo.Active()
	if a == nil || a.Local {
		return OnLocal, c.topo.Local().Name
	}
	return OnRemote, a.Name
}

// Position returns the cursor position on the active screen.
func (c *Controller) Position() (int32, int32) { return c.x, c.y }

// Seq returns the sequence number of the last enter.
func (c *Controller) Seq() uint32 { return c.seq }

func (c *Controller) SetOptions(opts Options) {
	c.stopSwitch()
	c.opts = opts
}

// Locked reports whether the cursor is held on the active screen, either by
// the lock toggle or by a pressed mouse button.
func (c *Controller) Locked() bool {
	return c.locked || len(c.buttons) > 0
}

// SetLocked sets the lock toggle.
func (c *Controller) SetLocked(locked bool) {
	c.locked = locked
	c.log.Info().Bool("locked", locked).Msg("cursor lock")
}

// Attach registers the input target for a connected remote screen.
func (c *Controller) Attach(name string, target screen.Screen) error {
	if err := c.topo.SetConnected(name, true); err != nil {
		return err
	}
	c.targets[name] = target
	return nil
}

// ScreenDisconnected detaches a remote screen. If it was active, the cursor
// jumps back to the local screen at its last position there.
func (c *Controller) ScreenDisconnected(name string) {
	delete(c.targets, name)
	_ = c.topo.SetConnected(name, false)
	if c.pending.dst == name {
		c.stopSwitch()
	}
	for _, cb := range c.clipboards {
		delete(cb.sent, name)
	}
	a := c.topo.Active()
	if a == nil || a.Name != name {
		return
	}
	l := c.topo.Local()
	x, y := c.lastPosition(l)
	c.log.Info().Str("screen", name).Msg("active screen disconnected, jumping to local")
	c.buttons = make(map[uint8]bool)
	c.enter(name, l, x, y)
}

func (c *Controller) target(s *topology.Screen) screen.Screen {
	if s.Local {
		return c.local
	}
	return c.targets[s.Name]
}

func (c *Controller) active() (*topology.Screen, screen.Screen) {
	a := c.topo.Active()
	if a == nil {
		return nil, nil
	}
	return a, c.target(a)
}

// OnLocalMouseMove handles an absolute motion on the local screen. While
// the local screen is active, entering a switch zone with a reachable
// neighbor switches to it, subject to the switch options. Horizontal zones
// are tested before vertical ones.
func (c *Controller) OnLocalMouseMove(x, y int32) {
	a := c.topo.Active()
	if a == nil || !a.Local {
		return
	}
	c.recordDelta(x-c.x, y-c.y)
	c.x, c.y = x, y
	z := c.topo.ZoneSize()

	type candidate struct {
		dir  topology.Direction
		x, y int32
	}
	var cands []candidate
	xc, yc := x, y
	switch {
	case x < z:
		cands = append(cands, candidate{topology.Left, x - z, y})
		xc = 0
	case x >= a.Width-z:
		cands = append(cands, candidate{topology.Right, x + z, y})
		xc = a.Width - 1
	}
	switch {
	case y < z:
		cands = append(cands, candidate{topology.Top, x, y - z})
		yc = 0
	case y >= a.Height-z:
		cands = append(cands, candidate{topology.Bottom, x, y + z})
		yc = a.Height - 1
	}
	if len(cands) == 0 {
		c.noSwitch(x, y)
		return
	}
	for _, cand := range cands {
		name, nx, ny := c.neighborAt(a, cand.dir, cand.x, cand.y)
		if !c.switchOkay(name, cand.dir, nx, ny, xc, yc) {
			continue
		}
		c.log.Debug().Stringer("dir", cand.dir).Str("to", name).Msg("switch zone crossed")
		c.SwitchScreen(name, nx, ny)
		return
	}
}

// neighborAt maps (x, y) across a's edge in dir. The name is empty when no
// neighbor can take the cursor.
func (c *Controller) neighborAt(a *topology.Screen, dir topology.Direction, x, y int32) (string, int32, int32) {
	dst, nx, ny, err := c.topo.NeighborAt(a.Name, dir, x, y)
	if err != nil || !dst.Contains(nx, ny) {
		return "", 0, 0
	}
	return dst.Name, nx, ny
}

// OnRemoteMouseMove handles raw deltas while a remote screen is active.
// Leaving the remote shape switches to the neighbor in that direction;
// when the switch is held back or there is no neighbor the cursor is
// clamped.
func (c *Controller) OnRemoteMouseMove(dx, dy int32) {
	a, t := c.active()
	if a == nil || a.Local || t == nil {
		return
	}
	c.recordDelta(dx, dy)
	oldX, oldY := c.x, c.y
	c.x += dx
	c.y += dy

	var dir topology.Direction
	crossed := true
	switch {
	case c.x < 0:
		dir = topology.Left
	case c.x > a.Width-1:
		dir = topology.Right
	case c.y < 0:
		dir = topology.Top
	case c.y > a.Height-1:
		dir = topology.Bottom
	default:
		crossed = false
	}
	if crossed {
		xc := max(0, min(c.x, a.Width-1))
		yc := max(0, min(c.y, a.Height-1))
		name, nx, ny := c.neighborAt(a, dir, c.x, c.y)
		if c.switchOkay(name, dir, nx, ny, xc, yc) {
			c.SwitchScreen(name, nx, ny)
			return
		}
	} else if c.pending.dst != "" && c.leftEdge(a) {
		c.noSwitch(c.x, c.y)
	}

	c.x = max(0, min(c.x, a.Width-1))
	c.y = max(0, min(c.y, a.Height-1))
	if c.x == oldX && c.y == oldY {
		return
	}
	if c.opts.RelativeMoves {
		t.MouseRelativeMove(c.x-oldX, c.y-oldY)
	} else {
		t.MouseMove(c.x, c.y)
	}
}

// SwitchScreen makes name active with the cursor at (x, y). Switching to
// the active screen only warps the cursor. (x, y) must lie inside the
// destination; anything else is a programming error and panics.
func (c *Controller) SwitchScreen(name string, x, y int32) {
	dst, ok := c.topo.Screen(name)
	if !ok {
		panic(fmt.Sprintf("switcher: switch to unknown screen %q", name))
	}
	if !dst.Contains(x, y) {
		panic(fmt.Sprintf("switcher: position %d,%d outside %s (%dx%d)", x, y, name, dst.Width, dst.Height))
	}
	a, t := c.active()
	if a != nil && a.Name == name {
		c.x, c.y = x, y
		if t != nil {
			if a.Local {
				t.Warp(x, y)
			} else {
				t.MouseMove(x, y)
			}
		}
		return
	}
	if c.target(dst) == nil {
		c.log.Warn().Str("screen", name).Msg("switch target has no session")
		return
	}

	from := ""
	if a != nil {
		from = a.Name
		_ = c.topo.SetCursor(a.Name, c.x, c.y)
		if t != nil {
			t.Leave()
		}
	}
	c.enter(from, dst, x, y)
}

func (c *Controller) enter(from string, dst *topology.Screen, x, y int32) {
	c.stopSwitch()
	c.seq++
	_ = c.topo.SetActive(dst.Name)
	c.x, c.y = x, y
	t := c.target(dst)
	if t == nil {
		return
	}
	t.Enter(x, y, c.seq, c.mask&screen.ModToggles)
	c.sendClipboards(dst.Name, t)

	c.log.Info().Str("from", from).Str("to", dst.Name).Int32("x", x).Int32("y", y).Uint32("seq", c.seq).Msg("switched screen")
	if c.OnSwitch != nil {
		c.OnSwitch(Switch{From: from, To: dst.Name, X: x, Y: y, Seq: c.seq})
	}
}

func (c *Controller) lastPosition(s *topology.Screen) (int32, int32) {
	if s.HasCursor && s.Contains(s.CursorX, s.CursorY) {
		return s.CursorX, s.CursorY
	}
	return s.Center()
}

// SwitchToScreen jumps to name at its last remembered cursor position, or
// its center.
func (c *Controller) SwitchToScreen(name string) error {
	s, ok := c.topo.Screen(name)
	if !ok {
		return fmt.Errorf("%w: %s", topology.ErrUnknownScreen, name)
	}
	if !s.Connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	x, y := c.lastPosition(s)
	if !s.Contains(x, y) {
		return fmt.Errorf("%w: %s has no shape", ErrNotConnected, name)
	}
	c.SwitchScreen(name, x, y)
	return nil
}

// SwitchInDirection jumps across the active screen's edge in dir, keeping
// the cursor's position along that edge.
func (c *Controller) SwitchInDirection(dir topology.Direction) error {
	a := c.topo.Active()
	if a == nil {
		return topology.ErrNoReachableNeighbor
	}
	x, y := c.x, c.y
	switch dir {
	case topology.Left:
		x = -1
	case topology.Right:
		x = a.Width
	case topology.Top:
		y = -1
	case topology.Bottom:
		y = a.Height
	}
	dst, nx, ny, err := c.topo.NeighborAt(a.Name, dir, x, y)
	if err != nil {
		return err
	}
	if !dst.Contains(nx, ny) {
		return fmt.Errorf("%w: %s has no shape", ErrNotConnected, dst.Name)
	}
	c.SwitchScreen(dst.Name, nx, ny)
	return nil
}

// ShapeChanged re-reads a screen's shape after an update and keeps the
// cursor inside it.
func (c *Controller) ShapeChanged(name string) {
	a, t := c.active()
	if a == nil || a.Name != name {
		return
	}
	nx := max(0, min(c.x, a.Width-1))
	ny := max(0, min(c.y, a.Height-1))
	if nx != c.x || ny != c.y {
		c.x, c.y = nx, ny
		if t != nil {
			t.Warp(nx, ny)
		}
	}
}

func (c *Controller) runHotkey(b Binding) {
	var err error
	switch b.Action {
	case HotkeyLockToggle:
		c.SetLocked(!c.locked)
	case HotkeySwitchToScreen:
		err = c.SwitchToScreen(b.Screen)
	case HotkeySwitchInDirection:
		err = c.SwitchInDirection(b.Direction)
	}
	if err != nil {
		c.log.Debug().Err(err).Msg("hotkey had no effect")
	}
}

// OnKeyDown relays a key press unless a hotkey consumes it.
func (c *Controller) OnKeyDown(key, mask, button uint16, lang string) {
	c.mask = mask
	if b, ok := c.hotkeys.KeyDown(key, mask); ok {
		c.runHotkey(b)
		return
	}
	if _, t := c.active(); t != nil {
		t.KeyDown(key, mask, button, lang)
	}
}

func (c *Controller) OnKeyRepeat(key, mask, count, button uint16, lang string) {
	c.mask = mask
	if c.hotkeys.KeyRepeat(key) {
		return
	}
	if _, t := c.active(); t != nil {
		t.KeyRepeat(key, mask, count, button, lang)
	}
}

func (c *Controller) OnKeyUp(key, mask, button uint16) {
	c.mask = mask
	if c.hotkeys.KeyUp(key) {
		return
	}
	if _, t := c.active(); t != nil {
		t.KeyUp(key, mask, button)
	}
}

func (c *Controller) OnMouseDown(button uint8) {
	c.buttons[button] = true
	if _, t := c.active(); t != nil {
		t.MouseDown(button)
	}
}

func (c *Controller) OnMouseUp(button uint8) {
	delete(c.buttons, button)
	if _, t := c.active(); t != nil {
		t.MouseUp(button)
	}
}

func (c *Controller) OnMouseWheel(xDelta, yDelta int32) {
	if _, t := c.active(); t != nil {
		t.MouseWheel(xDelta, yDelta)
	}
}

// OnScreenSaver handles the local screensaver starting or stopping. While
// it runs the cursor is parked on the local screen, and it returns to the
// previous screen afterwards if that screen is still connected.
func (c *Controller) OnScreenSaver(on bool) {
	if on == c.saverActive {
		return
	}
	c.saverActive = on
	if on {
		if a := c.topo.Active(); a != nil && !a.Local {
			c.saverReturnTo, c.saverX, c.saverY = a.Name, c.x, c.y
			l := c.topo.Local()
			x, y := c.lastPosition(l)
			c.SwitchScreen(l.Name, x, y)
		}
	}
	if c.opts.ScreenSaverSync {
		for _, t := range c.targets {
			t.Screensaver(on)
		}
	}
	if !on && c.saverReturnTo != "" {
		name := c.saverReturnTo
		c.saverReturnTo = ""
		if s, ok := c.topo.Screen(name); ok && s.Connected && s.Contains(c.saverX, c.saverY) {
			c.SwitchScreen(name, c.saverX, c.saverY)
		}
	}
}

// OnClipboardGrab records owner as the new owner of clipboard id. A grab
// from a remote screen carrying a sequence number older than the current
// ownership is stale and ignored. The local screen's grabs are always
// accepted. It reports whether the grab was accepted.
func (c *Controller) OnClipboardGrab(owner string, id uint8, seq uint32) bool {
	s, ok := c.topo.Screen(owner)
	if !ok {
		return false
	}
	cb := c.clipboards[id]
	if cb == nil {
		cb = &clipboard{}
		c.clipboards[id] = cb
	}
	if s.Local {
		seq = c.seq
	} else if seq < cb.seq {
		c.log.Debug().Str("owner", owner).Uint32("seq", seq).Uint32("current", cb.seq).Msg("ignoring stale clipboard grab")
		return false
	}
	cb.owner, cb.seq, cb.data = owner, seq, nil
	cb.sent = map[string]bool{owner: true}

	if !c.opts.ClipboardSharing {
		return true
	}
	for name, t := range c.targets {
		if name != owner {
			t.GrabClipboard(id)
		}
	}
	if !s.Local && c.local != nil {
		c.local.GrabClipboard(id)
	}
	return true
}

// OnClipboardData stores the owner's clipboard contents and forwards them to
// the active screen if it is not the owner.
func (c *Controller) OnClipboardData(owner string, id uint8, seq uint32, data []byte) bool {
	cb := c.clipboards[id]
	if cb == nil || cb.owner != owner {
		return false
	}
	if s, ok := c.topo.Screen(owner); ok && !s.Local && seq != cb.seq {
		return false
	}
	cb.data = data
	cb.sent = map[string]bool{owner: true}
	if a, t := c.active(); a != nil && t != nil {
		c.sendClipboard(a.Name, t, id, cb)
	}
	return true
}

func (c *Controller) sendClipboards(name string, t screen.Screen) {
	for id, cb := range c.clipboards {
		c.sendClipboard(name, t, id, cb)
	}
}

func (c *Controller) sendClipboard(name string, t screen.Screen, id uint8, cb *clipboard) {
	if !c.opts.ClipboardSharing || cb.data == nil || cb.sent[name] {
		return
	}
	t.SetClipboard(id, cb.data)
	cb.sent[name] = true
}

// ClipboardOwner returns the owner of clipboard id.
func (c *Controller) ClipboardOwner(id uint8) (string, bool) {
	cb, ok := c.clipboards[id]
	if !ok || cb.owner == "" {
		return "", false
	}
	return cb.owner, true
}

// HandleEvent dispatches a captured local input event.
func (c *Controller) HandleEvent(ev screen.Event) {
	switch ev.Kind {
	case screen.EventMouseMove:
		c.OnLocalMouseMove(ev.X, ev.Y)
	case screen.EventMouseRelMove:
		c.OnRemoteMouseMove(ev.X, ev.Y)
	case screen.EventKeyDown:
		c.OnKeyDown(ev.Key, ev.Mask, ev.Button, ev.Lang)
	case screen.EventKeyRepeat:
		c.OnKeyRepeat(ev.Key, ev.Mask, ev.Count, ev.Button, ev.Lang)
	case screen.EventKeyUp:
		c.OnKeyUp(ev.Key, ev.Mask, ev.Button)
	case screen.EventMouseDown:
		c.OnMouseDown(ev.MouseButton)
	case screen.EventMouseUp:
		c.OnMouseUp(ev.MouseButton)
	case screen.EventMouseWheel:
		c.OnMouseWheel(ev.X, ev.Y)
	case screen.EventScreenSaver:
		c.OnScreenSaver(ev.On)
	case screen.EventClipboardGrab:
		c.OnClipboardGrab(c.topo.Local().Name, ev.ClipboardID, 0)
	case screen.EventClipboardData:
		c.OnClipboardData(c.topo.Local().Name, ev.ClipboardID, 0, ev.Data)
	case screen.EventShapeChanged:
		l := c.topo.Local()
		_ = c.topo.SetShape(l.Name, l.X, l.Y, ev.X, ev.Y)
		c.ShapeChanged(l.Name)
	default:
		c.log.Debug().Stringer("kind", ev.Kind).Msg("ignoring event")
	}
}
