package handshake

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/transport"
)

// ServerConfig configures the server side of the greeting.
type ServerConfig struct {
	// Timeout bounds the exchange. Zero means DefaultTimeout.
	Timeout time.Duration

	// Admit decides whether a well-formed name may log in. It returns zero
	// to accept, KindBusy or KindUnknown to refuse. Nil admits everyone.
	Admit func(name string) Kind

	Logger zerolog.Logger
}

// Server greets a freshly accepted connection and reads the client's
// login. On success the caller owns conn; on failure it has been closed.
func Server(conn transport.Conn, cfg ServerConfig) (Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := cfg.Logger.With().Str("component", "handshake").Str("peer", conn.RemoteAddr().String()).Logger()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Result{}, fail(conn, ioError(err, ""))
	}
	hello := &protocol.Hello{Major: protocol.MajorVersion, Minor: protocol.MinorVersion}
	if err := protocol.WriteMessage(conn, hello, protocol.Current); err != nil {
		return Result{}, fail(conn, ioError(err, ""))
	}

	res, herr := readLogin(conn)
	if herr != nil {
		log.Debug().Err(herr).Msg("login refused")
		return Result{}, fail(conn, herr)
	}

	if cfg.Admit != nil {
		if k := cfg.Admit(res.Name); k != 0 {
			log.Info().Str("name", res.Name).Stringer("reason", k).Msg("login refused")
			return Result{}, fail(conn, &Error{Kind: k, Name: res.Name})
		}
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return Result{}, fail(conn, ioError(err, res.Name))
	}
	log.Debug().Str("name", res.Name).Stringer("version", res.Version).Bool("legacy", res.Legacy).Msg("login accepted")
	return res, nil
}

// readLogin reads either a HELB packet or a legacy login. The two are told
// apart by the first four bytes: a greeting length never spells "GLID".
func readLogin(conn transport.Conn) (Result, *Error) {
	head, err := readFull(conn, protocol.HeaderSize)
	if err != nil {
		return Result{}, ioError(err, "")
	}
	if string(head) == LegacyMagic[:protocol.HeaderSize] {
		return readLegacyLogin(conn)
	}

	n := binary.BigEndian.Uint32(head)
	if n > protocol.MaxHelloLength {
		return Result{}, &Error{Kind: KindProtocol, Err: fmt.Errorf("%w: greeting of %d bytes", protocol.ErrMessageTooLarge, n)}
	}
	payload, err := readFull(conn, int(n))
	if err != nil {
		return Result{}, ioError(err, "")
	}
	m, err := protocol.Unmarshal(payload, protocol.Current, protocol.PhaseHello, protocol.RoleClient)
	if err != nil {
		return Result{}, &Error{Kind: KindProtocol, Err: err}
	}
	hb, ok := m.(*protocol.HelloBack)
	if !ok {
		return Result{}, &Error{Kind: KindProtocol, Err: fmt.Errorf("unexpected %s", m.Code())}
	}

	v, ok := protocol.Negotiate(int(hb.Major), int(hb.Minor))
	if !ok {
		return Result{}, &Error{Kind: KindIncompatible, Name: hb.Name,
			Err: fmt.Errorf("client version %d.%d", hb.Major, hb.Minor)}
	}
	if !ValidName(hb.Name) {
		return Result{}, &Error{Kind: KindBadName, Err: fmt.Errorf("invalid name of %d bytes", len(hb.Name))}
	}
	return Result{Name: hb.Name, Version: v}, nil
}

// readLegacyLogin reads the rest of "GLIDELOGN" <len> <name>. Legacy
// clients speak version 1.0.
func readLegacyLogin(conn transport.Conn) (Result, *Error) {
	rest, err := readFull(conn, len(LegacyMagic)-protocol.HeaderSize+1)
	if err != nil {
		return Result{}, ioError(err, "")
	}
	if string(rest[:len(rest)-1]) != LegacyMagic[protocol.HeaderSize:] {
		return Result{}, &Error{Kind: KindProtocol, Err: fmt.Errorf("bad login magic")}
	}
	n := int(rest[len(rest)-1])
	if n == 0 || n > protocol.MaxNameLength {
		return Result{}, &Error{Kind: KindBadName, Err: fmt.Errorf("invalid name length %d", n)}
	}
	name, err := readFull(conn, n)
	if err != nil {
		return Result{}, ioError(err, "")
	}
	if !ValidName(string(name)) {
		return Result{}, &Error{Kind: KindBadName, Err: fmt.Errorf("invalid name %q", name)}
	}
	return Result{Name: string(name), Version: protocol.Version{Major: protocol.MajorVersion}, Legacy: true}, nil
}
