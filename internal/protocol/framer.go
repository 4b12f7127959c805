package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Framer reassembles length-prefixed packets from a byte stream that may
// arrive in arbitrary chunks. It is not safe for concurrent use.
type Framer struct {
	buf    []byte
	max    int
	length int // cached payload length, -1 until a header is decoded
	err    error
}

// NewFramer returns a Framer that rejects payloads larger than max bytes.
// A max of zero means MaxPayloadSize.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = MaxPayloadSize
	}
	return &Framer{max: max, length: -1}
}

// Feed appends bytes read from the stream.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Buffered returns the number of bytes received but not yet returned as a
// payload, including a partially received header.
func (f *Framer) Buffered() int {
	n := len(f.buf)
	if f.length >= 0 {
		n += HeaderSize
	}
	return n
}

// Ready reports whether a whole payload is buffered, so that the next call
// to Next returns it. A header above the limit also counts, since Next
// fails on it without waiting.
func (f *Framer) Ready() bool {
	if f.err != nil {
		return true
	}
	if f.length >= 0 {
		return len(f.buf) >= f.length
	}
	if len(f.buf) < HeaderSize {
		return false
	}
	n := binary.BigEndian.Uint32(f.buf[:HeaderSize])
	return uint64(n) > uint64(f.max) || uint64(len(f.buf)-HeaderSize) >= uint64(n)
}

// Next pops one complete payload. ok is false when more bytes are needed.
// A length prefix above the limit fails with ErrMessageTooLarge, and every
// later call returns the same error.
func (f *Framer) Next() (payload []byte, ok bool, err error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.length < 0 {
		if len(f.buf) < HeaderSize {
			return nil, false, nil
		}
		n := binary.BigEndian.Uint32(f.buf[:HeaderSize])
		if uint64(n) > uint64(f.max) {
			f.err = fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, f.max)
			return nil, false, f.err
		}
		f.length = int(n)
		f.consume(HeaderSize)
	}
	if len(f.buf) < f.length {
		return nil, false, nil
	}
	payload = make([]byte, f.length)
	copy(payload, f.buf)
	f.consume(f.length)
	f.length = -1
	return payload, true, nil
}

func (f *Framer) consume(n int) {
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
}

// WritePacket writes the length prefix and payload with a single Write.
func WritePacket(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrMessageTooLarge
	}
	pkt := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(pkt, uint32(len(payload)))
	copy(pkt[HeaderSize:], payload)
	_, err := w.Write(pkt)
	return err
}

// ReadPacket reads one packet from a blocking reader. It is used before a
// connection is handed to a session, where the greeting bounds max.
func ReadPacket(r io.Reader, max int) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, max)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteMessage marshals m for version v and writes it as one packet.
func WriteMessage(w io.Writer, m Message, v Version) error {
	payload, err := Marshal(m, v)
	if err != nil {
		return err
	}
	return WritePacket(w, payload)
}
