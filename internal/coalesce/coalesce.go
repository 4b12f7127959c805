// Package coalesce merges runs of mouse motion into a single move.
//
// While a session still has framed bytes buffered, delivering every motion
// message would replay stale positions during a fast drag. The Coalescer
// holds the latest motion and releases it when:
//
//   - no more input is immediately pending (caller calls Flush)
//   - a message of another kind arrives (absolute after relative, or any
//     non-motion message)
//   - Threshold motions have been merged, which bounds how long a steady
//     stream can defer delivery
//
// Absolute moves keep only the newest position. Relative moves are summed.
package coalesce

// Threshold is the number of merged motions after which the caller should
// flush even if more input is pending.
const Threshold = 64

// Kind distinguishes absolute from relative motion.
type Kind uint8

const (
	None Kind = iota
	Absolute
	Relative
)

// Motion is a pending mouse move. For Relative motion X and Y are deltas.
type Motion struct {
	Kind Kind
	X, Y int32
}

// Coalescer accumulates motion. All methods are used from a single
// goroutine (the event loop).
type Coalescer struct {
	pending Motion
	merged  int
}

func New() *Coalescer {
	return &Coalescer{}
}

// Add merges m into the pending motion. When m cannot merge with what is
// pending, the older motion is returned with ok set and must be delivered
// before m. full reports that the Threshold was reached.
func (c *Coalescer) Add(m Motion) (prev Motion, ok bool, full bool) {
	if m.Kind == None {
		return Motion{}, false, false
	}
	if c.pending.Kind != None && c.pending.Kind != m.Kind {
		prev, ok = c.Flush()
	}
	switch {
	case c.pending.Kind == None:
		c.pending = m
	case m.Kind == Absolute:
		c.pending.X, c.pending.Y = m.X, m.Y
	default:
		c.pending.X += m.X
		c.pending.Y += m.Y
	}
	c.merged++
	return prev, ok, c.merged >= Threshold
}

// Flush returns the pending motion and clears it. ok is false when nothing
// was pending.
func (c *Coalescer) Flush() (Motion, bool) {
	if c.pending.Kind == None {
		return Motion{}, false
	}
	m := c.pending
	c.pending = Motion{}
	c.merged = 0
	return m, true
}

// Discard drops any pending motion, as on entering a screen.
func (c *Coalescer) Discard() {
	c.pending = Motion{}
	c.merged = 0
}

// Pending returns the number of motions merged into the pending one.
func (c *Coalescer) Pending() int {
	return c.merged
}
