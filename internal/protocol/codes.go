package protocol

import "fmt"

// Code is the 4-byte tag that starts every payload.
type Code string

func (c Code) String() string {
	if len(c) == CodeSize && isPrintable(string(c)) {
		return string(c)
	}
	return fmt.Sprintf("%#x", string(c))
}

func isPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// Greeting codes, exchanged before a connection becomes a session.
const (
	CodeHello     Code = "HELO" // server -> client: %2i%2i major, minor
	CodeHelloBack Code = "HELB" // client -> server: %2i%2i%s major, minor, name
)

// Command codes.
const (
	CodeNoOp          Code = "CNOP"
	CodeClose         Code = "CBYE"
	CodeEnter         Code = "CINN"
	CodeLeave         Code = "COUT"
	CodeClipboardGrab Code = "CCLP"
	CodeScreenSaver   Code = "CSEC"
	CodeResetOptions  Code = "CROP"
	CodeInfoAck       Code = "CIAK"
	CodeKeepAlive     Code = "CALV"
)

// Data codes.
const (
	CodeKeyDown      Code = "DKDN"
	CodeKeyDownLang  Code = "DKDL"
	CodeKeyRepeat    Code = "DKRP"
	CodeKeyUp        Code = "DKUP"
	CodeMouseDown    Code = "DMDN"
	CodeMouseUp      Code = "DMUP"
	CodeMouseMove    Code = "DMMV"
	CodeMouseRelMove Code = "DMRM"
	CodeMouseWheel   Code = "DMWM"
	CodeClipboard    Code = "DCLP"
	CodeInfo         Code = "DINF"
	CodeSetOptions   Code = "DSOP"
	CodeFileTransfer Code = "DFTR"
	CodeDragInfo     Code = "DDRG"
	CodeSecureInput  Code = "SECN"
	CodeLanguageSync Code = "LSYN"
	CodeWakeOnLAN    Code = "DWOL"
	CodeQueryInfo    Code = "QINF"
)

// Error codes. The sender closes the connection after sending one.
const (
	CodeIncompatible  Code = "EICV"
	CodeBusy          Code = "EBSY"
	CodeUnknownClient Code = "EUNK"
	CodeProtocolError Code = "EBAD"
)

// Phase is the part of a connection's life a message arrives in.
type Phase uint8

const (
	PhaseHello Phase = 1 << iota
	PhaseHandshake
	PhaseEstablished
)

func (p Phase) String() string {
	switch p {
	case PhaseHello:
		return "hello"
	case PhaseHandshake:
		return "handshake"
	case PhaseEstablished:
		return "established"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Role identifies which end of a connection sent a message.
type Role uint8

const (
	RoleServer Role = 1 << iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	}
	return "unknown"
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleServer {
		return RoleClient
	}
	return RoleServer
}
