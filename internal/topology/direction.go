package topology

import (
	"fmt"
	"strings"
)

// Direction is a side of a screen.
type Direction uint8

const (
	Left Direction = iota
	Right
	Top
	Bottom
)

// Directions lists every direction in the order switch zones are tested.
var Directions = [...]Direction{Left, Right, Top, Bottom}

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// Opposite returns the facing side.
func (d Direction) Opposite() Direction {
	switch d {
	case Left:
		return Right
	case Right:
		return Left
	case Top:
		return Bottom
	}
	return Top
}

// Horizontal reports whether crossing d changes x.
func (d Direction) Horizontal() bool { return d == Left || d == Right }

// ParseDirection accepts the names produced by String, case-insensitively,
// plus "up" and "down".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "top", "up":
		return Top, nil
	case "bottom", "down":
		return Bottom, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}
