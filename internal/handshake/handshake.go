// Package handshake runs the bounded-time greeting that turns a raw
// connection into a named, versioned session.
//
// The server speaks first with HELO carrying its version. A client answers
// with HELB carrying the version it wants and its screen name, or with the
// legacy login: the magic "GLIDELOGN", a one-byte name length and the name.
// A refused client receives an error message before the connection is
// closed, except on timeout.
package handshake

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/transport"
)

// DefaultTimeout bounds the whole exchange.
const DefaultTimeout = 5 * time.Second

// LegacyMagic opens a legacy login.
const LegacyMagic = "GLIDELOGN"

// Kind classifies a failed handshake.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindIO
	KindIncompatible
	KindBadName
	KindBusy
	KindUnknown
	KindProtocol
)

var kindNames = map[Kind]string{
	KindTimeout:      "timeout",
	KindIO:           "io",
	KindIncompatible: "incompatible",
	KindBadName:      "bad-name",
	KindBusy:         "busy",
	KindUnknown:      "unknown-client",
	KindProtocol:     "protocol",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Refusal returns the message sent to the peer for this kind of failure,
// or nil when the peer is not told.
func (k Kind) Refusal() protocol.Message {
	switch k {
	case KindIncompatible:
		return &protocol.Incompatible{Major: protocol.MajorVersion, Minor: protocol.MinorVersion}
	case KindBadName, KindProtocol:
		return &protocol.ProtocolError{}
	case KindBusy:
		return &protocol.Busy{}
	case KindUnknown:
		return &protocol.UnknownClient{}
	}
	return nil
}

// Error is a failed handshake.
type Error struct {
	Kind Kind
	Name string // screen name, when known
	Err  error
}

func (e *Error) Error() string {
	msg := "handshake: " + e.Kind.String()
	if e.Name != "" {
		msg += " (" + e.Name + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a handshake Error of kind k.
func IsKind(err error, k Kind) bool {
	var he *Error
	return errors.As(err, &he) && he.Kind == k
}

// Result describes an accepted peer.
type Result struct {
	Name    string
	Version protocol.Version
	Legacy  bool

	// First holds the first payload the server sent after its greeting,
	// on the client side. It belongs to the session.
	First []byte
}

// ValidName reports whether name is 1 to 64 ASCII letters and digits.
func ValidName(name string) bool {
	if len(name) == 0 || len(name) > protocol.MaxNameLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// ioError classifies a read or write failure.
func ioError(err error, name string) *Error {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: KindTimeout, Name: name, Err: err}
	}
	return &Error{Kind: KindIO, Name: name, Err: err}
}

// fail sends the refusal for e, if any, and closes conn.
func fail(conn transport.Conn, e *Error) *Error {
	if m := e.Kind.Refusal(); m != nil {
		protocol.WriteMessage(conn, m, protocol.Current)
	}
	conn.Close()
	return e
}

func readFull(conn transport.Conn, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
