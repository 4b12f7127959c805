// Package topology holds the directed graph of screens and their edges,
// the active screen, and the coordinate math for crossing between them.
//
// A Topology is owned by a single goroutine and is not safe for concurrent
// use.
package topology

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrDuplicateScreen     = errors.New("screen already exists")
	ErrInvalidName         = errors.New("invalid screen name")
	ErrLocalExists         = errors.New("a local screen already exists")
	ErrScreenInUse         = errors.New("screen in use")
	ErrUnknownScreen       = errors.New("unknown screen")
	ErrNoReachableNeighbor = errors.New("no reachable neighbor")
)

// DefaultZoneSize is the width in pixels of the switch zone along each side
// of the local screen.
const DefaultZoneSize = 1

// Screen is one display in the topology. Fields are maintained by the
// owning Topology; callers treat them as read-only.
type Screen struct {
	Name   string
	Width  int32
	Height int32
	Local  bool

	// Connected is true while a session is live. The local screen is
	// always connected.
	Connected bool

	// X, Y is the screen origin as reported by the client.
	X, Y int32

	// Last cursor position seen on this screen, used when jumping to it.
	CursorX, CursorY int32
	HasCursor        bool

	// MAC is the wake-on-LAN address registered by the client, if any.
	MAC string

	edges [len(Directions)]string
}

// Contains reports whether (x, y) lies inside the screen's shape.
func (s *Screen) Contains(x, y int32) bool {
	return x >= 0 && y >= 0 && x < s.Width && y < s.Height
}

// Center returns the middle of the screen.
func (s *Screen) Center() (int32, int32) {
	return s.Width / 2, s.Height / 2
}

// Topology is the set of declared screens and the edges between them.
type Topology struct {
	screens map[string]*Screen
	local   string
	active  string
	running bool
	zone    int32
}

func New() *Topology {
	return &Topology{
		screens: make(map[string]*Screen),
		zone:    DefaultZoneSize,
	}
}

// AddScreen declares a screen. The local screen starts connected and, if no
// screen is active yet, becomes active.
func (t *Topology) AddScreen(name string, width, height int32, isLocal bool) (*Screen, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if _, ok := t.screens[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateScreen, name)
	}
	if isLocal && t.local != "" {
		return nil, fmt.Errorf("%w: %s", ErrLocalExists, t.local)
	}
	s := &Screen{Name: name, Width: width, Height: height, Local: isLocal, Connected: isLocal}
	t.screens[name] = s
	if isLocal {
		t.local = name
		if t.active == "" {
			t.active = name
		}
	}
	return s, nil
}

// RemoveScreen deletes a screen and every edge that points at it. The local
// screen may only be removed last, and nothing may be removed while the
// topology is running. If the removed screen was active, the local screen
// becomes active.
func (t *Topology) RemoveScreen(name string) error {
	s, ok := t.screens[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, name)
	}
	if t.running {
		return fmt.Errorf("%w: %s: topology is running", ErrScreenInUse, name)
	}
	if s.Local && len(t.screens) > 1 {
		return fmt.Errorf("%w: %s: local screen must be removed last", ErrScreenInUse, name)
	}
	delete(t.screens, name)
	for _, other := range t.screens {
		for i, dst := range other.edges {
			if dst == name {
				other.edges[i] = ""
			}
		}
	}
	if s.Local {
		t.local = ""
	}
	if t.active == name {
		t.active = t.local
	}
	return nil
}

// ConnectEdge links src's side dir to dst, replacing any existing edge.
func (t *Topology) ConnectEdge(src string, dir Direction, dst string) error {
	s, ok := t.screens[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, src)
	}
	if _, ok := t.screens[dst]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, dst)
	}
	if int(dir) >= len(s.edges) {
		return fmt.Errorf("connect %s: invalid %s", src, dir)
	}
	s.edges[dir] = dst
	return nil
}

// DisconnectEdge removes src's edge on side dir, if any.
func (t *Topology) DisconnectEdge(src string, dir Direction) error {
	s, ok := t.screens[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, src)
	}
	if int(dir) < len(s.edges) {
		s.edges[dir] = ""
	}
	return nil
}

// Edge returns the name src's side dir points at.
func (t *Topology) Edge(src string, dir Direction) (string, bool) {
	s, ok := t.screens[src]
	if !ok || int(dir) >= len(s.edges) || s.edges[dir] == "" {
		return "", false
	}
	return s.edges[dir], true
}

// Neighbor follows src's edge in dir, skipping screens that are declared but
// not connected. A walk that only finds disconnected screens, an empty edge
// or a loop yields ErrNoReachableNeighbor.
func (t *Topology) Neighbor(src string, dir Direction) (*Screen, error) {
	_, _, dst, err := t.walk(src, dir)
	return dst, err
}

// NeighborAt is Neighbor for a crossing at (x, y) in src coordinates, where
// the coordinate along dir already lies past the edge. It returns the
// position on the destination: the crossing axis is carried across every
// skipped screen, the other axis is rescaled to the destination's extent,
// and the result is clamped inside the destination. When the destination
// is the local screen and has a neighbor on the side it is entered from,
// the position is kept out of that side's switch zone.
func (t *Topology) NeighborAt(src string, dir Direction, x, y int32) (*Screen, int32, int32, error) {
	from, skipped, dst, err := t.walk(src, dir)
	if err != nil {
		return nil, x, y, err
	}

	switch dir {
	case Left:
		for _, s := range skipped {
			x += s.Width
		}
		x += dst.Width
		y = rescale(y, from.Height, dst.Height)
	case Right:
		x -= from.Width
		for _, s := range skipped {
			x -= s.Width
		}
		y = rescale(y, from.Height, dst.Height)
	case Top:
		for _, s := range skipped {
			y += s.Height
		}
		y += dst.Height
		x = rescale(x, from.Width, dst.Width)
	case Bottom:
		y -= from.Height
		for _, s := range skipped {
			y -= s.Height
		}
		x = rescale(x, from.Width, dst.Width)
	}

	x = clamp(x, 0, dst.Width-1)
	y = clamp(y, 0, dst.Height-1)

	if dst.Local {
		if _, ok := t.Edge(dst.Name, dir.Opposite()); ok {
			z := t.zone
			switch dir {
			case Left:
				x = min(x, dst.Width-1-z)
			case Right:
				x = max(x, z)
			case Top:
				y = min(y, dst.Height-1-z)
			case Bottom:
				y = max(y, z)
			}
		}
	}
	return dst, x, y, nil
}

// walk follows edges in dir from src until a connected screen is found.
func (t *Topology) walk(src string, dir Direction) (from *Screen, skipped []*Screen, dst *Screen, err error) {
	from, ok := t.screens[src]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrUnknownScreen, src)
	}
	if int(dir) >= len(from.edges) {
		return from, nil, nil, fmt.Errorf("%w: invalid %s", ErrNoReachableNeighbor, dir)
	}
	visited := map[string]bool{src: true}
	cur := from
	for {
		next := cur.edges[dir]
		if next == "" {
			return from, nil, nil, ErrNoReachableNeighbor
		}
		if visited[next] {
			return from, nil, nil, fmt.Errorf("%w: loop through %s", ErrNoReachableNeighbor, next)
		}
		visited[next] = true
		s, ok := t.screens[next]
		if !ok {
			return from, nil, nil, ErrNoReachableNeighbor
		}
		if s.Connected {
			return from, skipped, s, nil
		}
		skipped = append(skipped, s)
		cur = s
	}
}

// rescale maps a coordinate on a side of extent from onto extent to,
// keeping its relative position. The input is clamped to the source side.
func rescale(v, from, to int32) int32 {
	if from <= 1 || to <= 1 {
		return 0
	}
	v = clamp(v, 0, from-1)
	return int32(math.Round(float64(v) * float64(to-1) / float64(from-1)))
}

func clamp(v, lo, hi int32) int32 {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

// SetConnected records whether a session is live for name.
func (t *Topology) SetConnected(name string, connected bool) error {
	s, ok := t.screens[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, name)
	}
	if s.Local {
		return nil
	}
	s.Connected = connected
	return nil
}

// SetShape records a screen's origin and size.
func (t *Topology) SetShape(name string, x, y, width, height int32) error {
	s, ok := t.screens[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, name)
	}
	s.X, s.Y, s.Width, s.Height = x, y, width, height
	return nil
}

// SetCursor remembers the last cursor position seen on name.
func (t *Topology) SetCursor(name string, x, y int32) error {
	s, ok := t.screens[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, name)
	}
	s.CursorX, s.CursorY, s.HasCursor = x, y, true
	return nil
}

// SetMAC records the wake-on-LAN address of name.
func (t *Topology) SetMAC(name, mac string) error {
	s, ok := t.screens[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, name)
	}
	s.MAC = mac
	return nil
}

// SetRunning marks the topology as serving sessions. Screens cannot be
// removed while running.
func (t *Topology) SetRunning(running bool) { t.running = running }

func (t *Topology) Running() bool { return t.running }

// SetActive makes name the active screen.
func (t *Topology) SetActive(name string) error {
	if _, ok := t.screens[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScreen, name)
	}
	t.active = name
	return nil
}

// Active returns the active screen, or nil if there is none.
func (t *Topology) Active() *Screen { return t.screens[t.active] }

// Local returns the local screen, or nil if none is declared.
func (t *Topology) Local() *Screen { return t.screens[t.local] }

// Screen looks up a screen by name.
func (t *Topology) Screen(name string) (*Screen, bool) {
	s, ok := t.screens[name]
	return s, ok
}

// Names returns all screen names, sorted.
func (t *Topology) Names() []string {
	names := make([]string, 0, len(t.screens))
	for name := range t.screens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Topology) Len() int { return len(t.screens) }

// SetZoneSize sets the switch zone width. Values below one are raised to one.
func (t *Topology) SetZoneSize(n int32) { t.zone = max(n, 1) }

func (t *Topology) ZoneSize() int32 { return t.zone }
