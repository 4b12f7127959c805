package screen

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadlessRecordsCalls(t *testing.T) {
	s := NewHeadless(800, 600, zerolog.Nop())

	s.Enter(10, 20, 1, ModCapsLock)
	s.MouseRelativeMove(-50, 5)
	s.KeyDown('a', ModShift, 38, "")
	s.Leave()

	assert.Equal(t, []string{"enter", "mouse-rel-move", "key-down", "leave"}, s.Ops())
	x, y := s.Cursor()
	assert.Equal(t, int32(0), x, "relative motion clamps at the edge")
	assert.Equal(t, int32(25), y)
	assert.False(t, s.Active())

	s.Reset()
	assert.Empty(t, s.Calls())
}

func TestHeadlessClipboardCopies(t *testing.T) {
	s := NewHeadless(10, 10, zerolog.Nop())
	data := []byte("abc")
	s.SetClipboard(0, data)
	data[0] = 'z'
	assert.Equal(t, []byte("abc"), s.Clipboard(0))
}

func TestHeadlessResizeQueuesEvent(t *testing.T) {
	s := NewHeadless(100, 100, zerolog.Nop())
	s.Warp(90, 90)
	s.Resize(50, 40)

	_, _, w, h := s.Shape()
	assert.Equal(t, int32(50), w)
	assert.Equal(t, int32(40), h)
	x, y := s.Cursor()
	assert.Equal(t, int32(49), x)
	assert.Equal(t, int32(39), y)

	select {
	case ev := <-s.Events():
		require.Equal(t, EventShapeChanged, ev.Kind)
		assert.Equal(t, int32(50), ev.X)
	default:
		t.Fatal("no shape event")
	}
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "key-down", EventKeyDown.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
