package switcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/chronologos/glide/internal/reactor"
	"github.com/chronologos/glide/internal/screen"
	"github.com/chronologos/glide/internal/topology"
)

// Corner is a bit set of screen corners.
type Corner uint32

const (
	CornerTopLeft Corner = 1 << iota
	CornerTopRight
	CornerBottomLeft
	CornerBottomRight

	CornersAll = CornerTopLeft | CornerTopRight | CornerBottomLeft | CornerBottomRight
)

// twoTapZone is the minimum distance from the edge the cursor must travel
// back before a second tap counts.
const twoTapZone = 3

// ParseCorners accepts corner names ("top-left", "bottom-right", ...), the
// side shorthands "left", "right", "top" and "bottom" (both corners on
// that side), "all" and "none".
func ParseCorners(names []string) (Corner, error) {
	var c Corner
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "top-left":
			c |= CornerTopLeft
		case "top-right":
			c |= CornerTopRight
		case "bottom-left":
			c |= CornerBottomLeft
		case "bottom-right":
			c |= CornerBottomRight
		case "left":
			c |= CornerTopLeft | CornerBottomLeft
		case "right":
			c |= CornerTopRight | CornerBottomRight
		case "top":
			c |= CornerTopLeft | CornerTopRight
		case "bottom":
			c |= CornerBottomLeft | CornerBottomRight
		case "all":
			c |= CornersAll
		case "none":
		default:
			return 0, fmt.Errorf("unknown corner %q", n)
		}
	}
	return c, nil
}

// corner returns the corner of s that (x, y) lies in, size pixels deep
// along the edge it touches, or 0.
func corner(s *topology.Screen, x, y, size int32) Corner {
	xSide, ySide := 0, 0
	switch {
	case x <= 0:
		xSide = -1
	case x >= s.Width-1:
		xSide = 1
	}
	switch {
	case y <= 0:
		ySide = -1
	case y >= s.Height-1:
		ySide = 1
	}
	if xSide != 0 {
		switch {
		case y < size:
			return pick(xSide < 0, CornerTopLeft, CornerTopRight)
		case y >= s.Height-size:
			return pick(xSide < 0, CornerBottomLeft, CornerBottomRight)
		}
	}
	if ySide != 0 {
		switch {
		case x < size:
			return pick(ySide < 0, CornerTopLeft, CornerBottomLeft)
		case x >= s.Width-size:
			return pick(ySide < 0, CornerTopRight, CornerBottomRight)
		}
	}
	return 0
}

func pick(first bool, a, b Corner) Corner {
	if first {
		return a
	}
	return b
}

// pending is an edge switch that has been held back by the delay or the
// double tap.
type pending struct {
	dst string // empty when nothing is pending
	dir topology.Direction

	tapEngaged bool
	tapArmed   bool
	tapStart   time.Time

	wait         reactor.Timer
	waitX, waitY int32

	// The last two motions, used to tell a deliberate second tap from
	// jitter at the edge.
	dx, dy   int32
	dx2, dy2 int32
}

func (c *Controller) recordDelta(dx, dy int32) {
	p := &c.pending
	p.dx2, p.dy2 = p.dx, p.dy
	p.dx, p.dy = dx, dy
}

// switchOkay decides whether the cursor, having crossed the active screen's
// edge in dir towards dst at (x, y), may switch now. (xc, yc) is the
// crossing point clamped to the active screen. An empty dst means there is
// no reachable neighbor.
func (c *Controller) switchOkay(dst string, dir topology.Direction, x, y, xc, yc int32) bool {
	if dst == "" {
		c.stopSwitch()
		return false
	}
	p := &c.pending
	isNew := p.dst == "" || dir != p.dir
	if isNew {
		p.dst, p.dir = dst, dir
	}

	allow, prevent := false, false

	if c.opts.SwitchTwoTap > 0 {
		if isNew || !p.tapEngaged || !c.secondTap() {
			prevent = true
			c.startTwoTap()
		} else {
			allow = true
		}
	}

	if !allow && c.opts.SwitchDelay > 0 && c.Scheduler != nil {
		if isNew || p.wait == nil {
			c.startWait(x, y)
		}
		prevent = true
	}

	if c.opts.Corners != 0 {
		if a := c.topo.Active(); a != nil && corner(a, xc, yc, c.opts.CornerSize)&c.opts.Corners != 0 {
			c.log.Debug().Msg("locked in corner")
			prevent = true
			c.stopSwitch()
		}
	}

	if !prevent && c.Locked() {
		c.log.Debug().Msg("locked to screen")
		prevent = true
		c.stopSwitch()
	}

	if need := c.opts.SwitchNeeds & screen.ModHeld; !prevent && c.mask&need != need {
		c.log.Debug().Uint16("need", need).Msg("modifiers required to switch")
		prevent = true
		c.stopSwitch()
	}

	return !prevent
}

// noSwitch is called for motion that stays clear of the edge being
// waited on.
func (c *Controller) noSwitch(x, y int32) {
	c.armTwoTap(x, y)
	c.stopWait()
}

func (c *Controller) stopSwitch() {
	p := &c.pending
	if p.dst == "" {
		return
	}
	p.dst = ""
	c.stopTwoTap()
	c.stopWait()
}

func (c *Controller) startTwoTap() {
	p := &c.pending
	p.tapEngaged, p.tapArmed = true, false
	p.tapStart = c.now()
	c.log.Debug().Msg("waiting for second tap")
}

// armTwoTap arms the second tap once the cursor has moved back into the
// screen, away from the edge, with two consecutive motions in that
// direction.
func (c *Controller) armTwoTap(x, y int32) {
	p := &c.pending
	if !p.tapEngaged {
		return
	}
	if c.now().Sub(p.tapStart) > c.opts.SwitchTwoTap {
		c.stopTwoTap()
		return
	}
	if p.tapArmed {
		return
	}
	a := c.topo.Active()
	if a == nil {
		return
	}
	zone := max(c.topo.ZoneSize(), twoTapZone)
	if x < zone || x >= a.Width-zone || y < zone || y >= a.Height-zone {
		return
	}
	switch p.dir {
	case topology.Left:
		p.tapArmed = p.dx > 0 && p.dx2 > 0
	case topology.Right:
		p.tapArmed = p.dx < 0 && p.dx2 < 0
	case topology.Top:
		p.tapArmed = p.dy > 0 && p.dy2 > 0
	case topology.Bottom:
		p.tapArmed = p.dy < 0 && p.dy2 < 0
	}
}

func (c *Controller) stopTwoTap() {
	c.pending.tapEngaged, c.pending.tapArmed = false, false
}

func (c *Controller) secondTap() bool {
	p := &c.pending
	return p.tapArmed && c.now().Sub(p.tapStart) <= c.opts.SwitchTwoTap
}

func (c *Controller) startWait(x, y int32) {
	c.stopWait()
	p := &c.pending
	p.waitX, p.waitY = x, y
	p.wait = c.Scheduler.AfterFunc(c.opts.SwitchDelay, c.waitExpired)
	c.log.Debug().Dur("delay", c.opts.SwitchDelay).Msg("waiting to switch")
}

func (c *Controller) stopWait() {
	if p := &c.pending; p.wait != nil {
		p.wait.Stop()
		p.wait = nil
	}
}

func (c *Controller) waitExpired() {
	p := &c.pending
	p.wait = nil
	if c.Locked() {
		c.stopSwitch()
		return
	}
	dst, ok := c.topo.Screen(p.dst)
	if !ok || !dst.Contains(p.waitX, p.waitY) {
		c.stopSwitch()
		return
	}
	c.SwitchScreen(dst.Name, p.waitX, p.waitY)
}

// leftEdge reports whether the remote cursor has moved far enough from the
// edge being waited on to abandon the wait.
func (c *Controller) leftEdge(a *topology.Screen) bool {
	z := c.topo.ZoneSize()
	switch c.pending.dir {
	case topology.Left:
		return c.x >= z
	case topology.Right:
		return c.x <= a.Width-1-z
	case topology.Top:
		return c.y >= z
	case topology.Bottom:
		return c.y <= a.Height-1-z
	}
	return false
}
