package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/transport"
)

// ClientConfig configures the client side of the greeting.
type ClientConfig struct {
	Name string

	// Minor is the minor version requested. Negative means the newest.
	Minor int

	// Legacy logs in with the pre-versioning login instead of HELB.
	Legacy bool

	// Timeout bounds the exchange. Zero means DefaultTimeout.
	Timeout time.Duration

	Logger zerolog.Logger
}

var refusals = map[protocol.Code]Kind{
	protocol.CodeIncompatible:  KindIncompatible,
	protocol.CodeBusy:          KindBusy,
	protocol.CodeUnknownClient: KindUnknown,
	protocol.CodeProtocolError: KindProtocol,
}

// Client answers the server's greeting and waits for the first message
// after it. A refusal fails the handshake; anything else is returned in
// Result.First for the session. On failure conn has been closed.
func Client(conn transport.Conn, cfg ClientConfig) (Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	minor := cfg.Minor
	if minor < 0 || minor > protocol.MinorVersion {
		minor = protocol.MinorVersion
	}
	log := cfg.Logger.With().Str("component", "handshake").Str("name", cfg.Name).Logger()

	if !ValidName(cfg.Name) {
		conn.Close()
		return Result{}, &Error{Kind: KindBadName, Name: cfg.Name}
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return Result{}, ioError(err, cfg.Name)
	}

	payload, err := protocol.ReadPacket(conn, protocol.MaxHelloLength)
	if err != nil {
		conn.Close()
		if errors.Is(err, protocol.ErrMessageTooLarge) {
			return Result{}, &Error{Kind: KindProtocol, Name: cfg.Name, Err: err}
		}
		return Result{}, ioError(err, cfg.Name)
	}
	if k, ok := refusal(payload); ok {
		conn.Close()
		return Result{}, &Error{Kind: k, Name: cfg.Name}
	}
	m, err := protocol.Unmarshal(payload, protocol.Current, protocol.PhaseHello, protocol.RoleServer)
	if err != nil {
		conn.Close()
		return Result{}, &Error{Kind: KindProtocol, Name: cfg.Name, Err: err}
	}
	hello, ok := m.(*protocol.Hello)
	if !ok {
		conn.Close()
		return Result{}, &Error{Kind: KindProtocol, Name: cfg.Name, Err: fmt.Errorf("unexpected %s", m.Code())}
	}
	if int(hello.Major) != protocol.MajorVersion {
		conn.Close()
		return Result{}, &Error{Kind: KindIncompatible, Name: cfg.Name,
			Err: fmt.Errorf("server version %d.%d", hello.Major, hello.Minor)}
	}

	res := Result{Name: cfg.Name, Legacy: cfg.Legacy}
	if cfg.Legacy {
		res.Version = protocol.Version{Major: protocol.MajorVersion}
		login := append([]byte(LegacyMagic), byte(len(cfg.Name)))
		_, err = conn.Write(append(login, cfg.Name...))
	} else {
		res.Version = protocol.Version{Major: protocol.MajorVersion, Minor: max(0, min(minor, int(hello.Minor)))}
		err = protocol.WriteMessage(conn, &protocol.HelloBack{
			Major: protocol.MajorVersion,
			Minor: int16(minor),
			Name:  cfg.Name,
		}, protocol.Current)
	}
	if err != nil {
		conn.Close()
		return Result{}, ioError(err, cfg.Name)
	}

	first, err := protocol.ReadPacket(conn, protocol.MaxPayloadSize)
	if err != nil {
		conn.Close()
		return Result{}, ioError(err, cfg.Name)
	}
	if k, ok := refusal(first); ok {
		conn.Close()
		herr := &Error{Kind: k, Name: cfg.Name}
		if k == KindIncompatible {
			m, err := protocol.Unmarshal(first, protocol.Current, protocol.PhaseHello, protocol.RoleServer)
			if eicv, ok := m.(*protocol.Incompatible); err == nil && ok {
				herr.Err = fmt.Errorf("server speaks %d.%d", eicv.Major, eicv.Minor)
			}
		}
		log.Info().Stringer("reason", k).Msg("login refused")
		return Result{}, herr
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return Result{}, ioError(err, cfg.Name)
	}

	res.First = first
	log.Debug().Stringer("version", res.Version).Msg("login accepted")
	return res, nil
}

func refusal(payload []byte) (Kind, bool) {
	if len(payload) < protocol.CodeSize {
		return 0, false
	}
	k, ok := refusals[protocol.Code(payload[:protocol.CodeSize])]
	return k, ok
}
