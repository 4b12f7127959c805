// Package reactor runs the single goroutine that owns topology, switching
// and session state. Other goroutines read sockets and fire timers; they
// hand their results to the loop with Post, and the loop runs them one at
// a time in the order they were posted.
package reactor

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologos/glide/internal/protocol"
)

const readBufSize = 32 * 1024

// Loop is a FIFO of functions executed on the goroutine that calls Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	log zerolog.Logger
}

func New(logger zerolog.Logger) *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logger.With().Str("component", "loop").Logger(),
	}
}

// Post queues fn. It never blocks and reports false once the loop has
// stopped, in which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes posted functions until ctx is cancelled or Stop is called.
// Functions still queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range batch {
		select {
		case <-l.done:
			return
		default:
		}
		fn()
	}
}

// Stop ends Run after the function currently executing.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Timer is a one-shot timer that can be re-armed.
type Timer interface {
	Reset(d time.Duration)
	Stop()
}

// Scheduler creates timers whose callbacks run on the caller's event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// loopTimer runs its callback on the loop. Stop and Reset guarantee that a
// firing already queued for an earlier arming is discarded.
type loopTimer struct {
	loop *Loop
	fn   func()
	gen  atomic.Uint64

	mu sync.Mutex
	t  *time.Timer
}

var _ Scheduler = (*Loop)(nil)

// AfterFunc runs fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	tm := &loopTimer{loop: l, fn: fn}
	tm.Reset(d)
	return tm
}

// Reset re-arms the timer to fire d from now.
func (tm *loopTimer) Reset(d time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.t != nil {
		tm.t.Stop()
	}
	gen := tm.gen.Add(1)
	tm.t = time.AfterFunc(d, func() {
		tm.loop.Post(func() {
			if tm.gen.Load() == gen {
				tm.fn()
			}
		})
	})
}

// Stop disarms the timer.
func (tm *loopTimer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.gen.Add(1)
	if tm.t != nil {
		tm.t.Stop()
	}
}

// Watch starts a goroutine that reads r, splits it into packets no larger
// than maxPayload and posts each payload to the loop in order. more tells
// onPayload whether another complete packet was already buffered behind
// the payload. onClose runs on the loop exactly once, with the read or framing
// error (io.EOF on orderly close); nothing is posted after it.
func (l *Loop) Watch(r io.Reader, maxPayload int, onPayload func(p []byte, more bool), onClose func(error)) {
	go func() {
		f := protocol.NewFramer(maxPayload)
		buf := make([]byte, readBufSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				f.Feed(buf[:n])
				for {
					p, ok, ferr := f.Next()
					if ferr != nil {
						l.Post(func() { onClose(ferr) })
						return
					}
					if !ok {
						break
					}
					more := f.Ready()
					if !l.Post(func() { onPayload(p, more) }) {
						return
					}
				}
			}
			if err != nil {
				l.log.Trace().Err(err).Msg("reader done")
				l.Post(func() { onClose(err) })
				return
			}
		}
	}()
}
