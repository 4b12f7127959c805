package reactor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologos/glide/internal/protocol"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	l := startLoop(t)
	got := make(chan int, 100)
	for i := range 100 {
		require.True(t, l.Post(func() { got <- i }))
	}
	for i := range 100 {
		select {
		case v := <-got:
			assert.Equal(t, i, v)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout")
		}
	}
}

func TestPostAfterStop(t *testing.T) {
	l := New(zerolog.Nop())
	ran := false
	require.True(t, l.Post(func() { l.Stop() }))
	require.True(t, l.Post(func() { ran = true }))

	err := l.Run(context.Background())
	assert.NoError(t, err)
	assert.False(t, ran, "function queued behind Stop must not run")
	assert.False(t, l.Post(func() {}))

	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	l := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
	assert.False(t, l.Post(func() {}))
}

func TestAfterFunc(t *testing.T) {
	l := startLoop(t)
	fired := make(chan struct{}, 1)
	l.Post(func() {
		l.AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })
	})
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimerStop(t *testing.T) {
	l := startLoop(t)
	fired := make(chan struct{}, 1)
	tm := l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	tm.Stop()
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerResetDiscardsEarlierArming(t *testing.T) {
	l := startLoop(t)
	fired := make(chan time.Time, 2)
	start := time.Now()
	tm := l.AfterFunc(20*time.Millisecond, func() { fired <- time.Now() })
	tm.Reset(150 * time.Millisecond)

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 150*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	select {
	case <-fired:
		t.Fatal("timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

type delivery struct {
	payload []byte
	more    bool
}

func packet(t *testing.T, payload string) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, protocol.WritePacket(&b, []byte(payload)))
	return b.Bytes()
}

func TestWatchReportsBufferedInput(t *testing.T) {
	l := startLoop(t)
	pr, pw := io.Pipe()

	got := make(chan delivery, 8)
	closed := make(chan error, 1)
	l.Watch(pr, 0, func(p []byte, more bool) {
		got <- delivery{p, more}
	}, func(err error) {
		closed <- err
	})

	var burst []byte
	burst = append(burst, packet(t, "DMMV1")...)
	burst = append(burst, packet(t, "DMMV2")...)
	burst = append(burst, packet(t, "DMMV3")...)
	_, err := pw.Write(burst)
	require.NoError(t, err)

	want := []delivery{
		{[]byte("DMMV1"), true},
		{[]byte("DMMV2"), true},
		{[]byte("DMMV3"), false},
	}
	for _, w := range want {
		select {
		case d := <-got:
			assert.Equal(t, w, d)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout")
		}
	}

	require.NoError(t, pw.Close())
	select {
	case err := <-closed:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("onClose not called")
	}
}

func TestWatchPartialPacketIsNotMore(t *testing.T) {
	l := startLoop(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	got := make(chan delivery, 4)
	l.Watch(pr, 0, func(p []byte, more bool) { got <- delivery{p, more} }, func(error) {})

	second := packet(t, "CNOP")
	first := append(packet(t, "CALV"), second[:2]...)
	_, err := pw.Write(first)
	require.NoError(t, err)

	select {
	case d := <-got:
		assert.Equal(t, delivery{[]byte("CALV"), false}, d)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}

	_, err = pw.Write(second[2:])
	require.NoError(t, err)
	select {
	case d := <-got:
		assert.Equal(t, delivery{[]byte("CNOP"), false}, d)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestWatchOversizedPacket(t *testing.T) {
	l := startLoop(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	closed := make(chan error, 1)
	l.Watch(pr, 8, func([]byte, bool) {
		t.Error("oversized payload delivered")
	}, func(err error) { closed <- err })

	go pw.Write([]byte{0, 0, 0, 9, 'D', 'C', 'L', 'P', 0, 0, 0, 0, 0})

	select {
	case err := <-closed:
		assert.True(t, errors.Is(err, protocol.ErrMessageTooLarge))
	case <-time.After(2 * time.Second):
		t.Fatal("onClose not called")
	}
}
