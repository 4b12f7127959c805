package protocol

import "time"

// Protocol version spoken by this build. Peers must agree on the major
// version; the minor version is negotiated down to the lower of the two.
//
//	1.0  initial protocol
//	1.1  key button added to key press, release and repeat
//	1.2  relative mouse motion
//	1.3  keep-alive (replaces heartbeats), horizontal scrolling
//	1.5  file transfer and drag info
//	1.6  chunked clipboard transfer
//	1.7  secure input notification, wake-on-LAN registration
//	1.8  language synchronisation, key press with language tag
const (
	MajorVersion = 1
	MinorVersion = 8
)

// DefaultPort is the default contact port for servers.
const DefaultPort = 24800

// Packet header: [4B payload_length big-endian]. Every payload starts
// with a 4-byte message code.
const (
	HeaderSize = 4
	CodeSize   = 4
)

// Maximum payload size (4 MB).
const MaxPayloadSize = 4 * 1024 * 1024

// MaxHelloLength bounds the greeting a client may send before it is known.
const MaxHelloLength = 1024

// MaxNameLength is the longest screen name accepted at login.
const MaxNameLength = 64

// Keep-alive defaults. The receiver declares the peer dead after
// KeepAlivesUntilDeath intervals pass without a keep-alive.
const (
	DefaultKeepAliveInterval = 3 * time.Second
	KeepAlivesUntilDeath     = 3
)

// ClipboardChunkSize is the largest clipboard chunk sent at minor >= 6.
const ClipboardChunkSize = 32 * 1024

// Clipboard chunk marks (minor >= 6).
const (
	ChunkStart uint8 = 1
	ChunkData  uint8 = 2
	ChunkEnd   uint8 = 3
)

// Option identifiers carried in SetOptions as (id, value) pairs.
const (
	OptionHeartbeat      uint32 = 'H'<<24 | 'A'<<16 | 'R'<<8 | 'T' // keep-alive interval, ms
	OptionRelativeMoves  uint32 = 'M'<<24 | 'D'<<16 | 'L'<<8 | 'T' // 0/1
	OptionScreenSaver    uint32 = 'S'<<24 | 'S'<<16 | 'V'<<8 | 'R' // 0/1
	OptionClipboardShare uint32 = 'C'<<24 | 'L'<<16 | 'P'<<8 | 'S' // 0/1
)
