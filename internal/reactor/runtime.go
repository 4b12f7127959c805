package reactor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/chronologos/glide/internal/metrics"
	"github.com/chronologos/glide/internal/transport"
)

// Runtime bundles what servers, clients and sessions need from their
// surroundings. It is passed explicitly; nothing here is global.
type Runtime struct {
	Loop      *Loop
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	Transport transport.Mode
}

// NewRuntime creates a runtime with a fresh loop. m may be nil.
func NewRuntime(logger zerolog.Logger, m *metrics.Metrics, mode transport.Mode) *Runtime {
	return &Runtime{
		Loop:      New(logger),
		Log:       logger,
		Metrics:   m,
		Transport: mode,
	}
}

// Listen opens a listener on addr with the runtime's transport.
func (rt *Runtime) Listen(addr string) (transport.Listener, error) {
	return transport.Listen(rt.Transport, addr)
}

// Dial connects to addr with the runtime's transport.
func (rt *Runtime) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	return transport.Dial(ctx, rt.Transport, addr)
}
