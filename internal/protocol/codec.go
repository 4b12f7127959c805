package protocol

import (
	"encoding/binary"
	"fmt"
)

// Format strings describe message bodies:
//
//	%1i %2i %4i   N-byte integer, network byte order
//	%1I %2I %4I   u32 element count followed by N-byte integers
//	%s            u32 length followed by raw bytes
//
// Any other character is copied (or matched) verbatim, which is how message
// codes are written: "DMMV%2i%2i".

// Buffer is an append-only payload builder. The zero value is ready to use.
type Buffer struct {
	b []byte
}

func (b *Buffer) PutUint8(v uint8) { b.b = append(b.b, v) }

func (b *Buffer) PutUint16(v uint16) { b.b = binary.BigEndian.AppendUint16(b.b, v) }

func (b *Buffer) PutUint32(v uint32) { b.b = binary.BigEndian.AppendUint32(b.b, v) }

// PutBytes writes a u32 length followed by p.
func (b *Buffer) PutBytes(p []byte) {
	b.PutUint32(uint32(len(p)))
	b.b = append(b.b, p...)
}

// PutRaw appends p without a length prefix.
func (b *Buffer) PutRaw(p []byte) { b.b = append(b.b, p...) }

// Bytes returns the accumulated payload. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.b }

func (b *Buffer) Len() int { return len(b.b) }

// Reader is a bounds-checked cursor over a payload. Every read that would
// run past the end fails with ErrFormatMismatch and consumes nothing.
type Reader struct {
	p   []byte
	off int
}

func NewReader(p []byte) *Reader { return &Reader{p: p} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.p) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrFormatMismatch, n, r.Remaining())
	}
	out := r.p[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Bytes reads a u32 length-prefixed byte string. The result is a copy, or
// nil when the string is empty.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		r.off -= 4
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Raw reads exactly n bytes without a length prefix.
func (r *Reader) Raw(n int) ([]byte, error) {
	return r.take(n)
}

// spec is one parsed format directive.
type spec struct {
	verb    byte // 'i', 'I', 's', or 0 for a literal
	width   int
	literal byte
}

func parseFormat(format string) ([]spec, error) {
	var out []spec
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out = append(out, spec{literal: c})
			continue
		}
		i++
		width := 0
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			width = width*10 + int(format[i]-'0')
			i++
		}
		if i >= len(format) {
			return nil, fmt.Errorf("%w: %q ends mid-directive", ErrBadFormat, format)
		}
		switch verb := format[i]; verb {
		case 'i', 'I':
			if width != 1 && width != 2 && width != 4 {
				return nil, fmt.Errorf("%w: %q has integer width %d", ErrBadFormat, format, width)
			}
			out = append(out, spec{verb: verb, width: width})
		case 's':
			if width != 0 {
				return nil, fmt.Errorf("%w: %q has width on %%s", ErrBadFormat, format)
			}
			out = append(out, spec{verb: 's'})
		case '%':
			out = append(out, spec{literal: '%'})
		default:
			return nil, fmt.Errorf("%w: %q has verb %q", ErrBadFormat, format, verb)
		}
	}
	return out, nil
}

// Encode builds a payload from format and args. Integer directives accept
// any Go integer type (or a pointer to one); vector directives accept a
// slice of the matching unsigned width; %s accepts a string or []byte.
func Encode(format string, args ...any) ([]byte, error) {
	var b Buffer
	if err := AppendEncode(&b, format, args...); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// AppendEncode is Encode into an existing buffer.
func AppendEncode(b *Buffer, format string, args ...any) error {
	specs, err := parseFormat(format)
	if err != nil {
		return err
	}
	next := 0
	for _, s := range specs {
		if s.verb == 0 {
			b.PutUint8(s.literal)
			continue
		}
		if next >= len(args) {
			return fmt.Errorf("%w: %q needs more than %d args", ErrBadFormat, format, len(args))
		}
		arg := deref(args[next])
		next++
		switch s.verb {
		case 'i':
			v, ok := toUint32(arg)
			if !ok {
				return fmt.Errorf("%w: %%%di given %T", ErrBadFormat, s.width, arg)
			}
			putInt(b, s.width, v)
		case 'I':
			if err := putVector(b, s.width, arg); err != nil {
				return err
			}
		case 's':
			switch v := arg.(type) {
			case string:
				b.PutBytes([]byte(v))
			case []byte:
				b.PutBytes(v)
			default:
				return fmt.Errorf("%w: %%s given %T", ErrBadFormat, arg)
			}
		}
	}
	if next != len(args) {
		return fmt.Errorf("%w: %q given %d extra args", ErrBadFormat, format, len(args)-next)
	}
	return nil
}

func putInt(b *Buffer, width int, v uint32) {
	switch width {
	case 1:
		b.PutUint8(uint8(v))
	case 2:
		b.PutUint16(uint16(v))
	case 4:
		b.PutUint32(v)
	}
}

func putVector(b *Buffer, width int, arg any) error {
	switch v := arg.(type) {
	case []uint8:
		if width != 1 {
			break
		}
		b.PutUint32(uint32(len(v)))
		b.PutRaw(v)
		return nil
	case []uint16:
		if width != 2 {
			break
		}
		b.PutUint32(uint32(len(v)))
		for _, e := range v {
			b.PutUint16(e)
		}
		return nil
	case []uint32:
		if width != 4 {
			break
		}
		b.PutUint32(uint32(len(v)))
		for _, e := range v {
			b.PutUint32(e)
		}
		return nil
	}
	return fmt.Errorf("%w: %%%dI given %T", ErrBadFormat, width, arg)
}

func deref(a any) any {
	switch v := a.(type) {
	case *int:
		return *v
	case *int8:
		return *v
	case *int16:
		return *v
	case *int32:
		return *v
	case *uint8:
		return *v
	case *uint16:
		return *v
	case *uint32:
		return *v
	case *bool:
		return *v
	case *string:
		return *v
	case *[]byte:
		return *v
	case *[]uint16:
		return *v
	case *[]uint32:
		return *v
	}
	return a
}

func toUint32(a any) (uint32, bool) {
	switch v := a.(type) {
	case int:
		return uint32(v), true
	case int8:
		return uint32(v), true
	case int16:
		return uint32(v), true
	case int32:
		return uint32(v), true
	case int64:
		return uint32(v), true
	case uint:
		return uint32(v), true
	case uint8:
		return uint32(v), true
	case uint16:
		return uint32(v), true
	case uint32:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Decode parses payload according to format into dests, which must be
// pointers. Signed destinations are sign-extended from the wire width.
// A payload that ends mid-field or whose literals differ fails with
// ErrFormatMismatch. Trailing bytes are ignored so newer peers may append
// fields.
func Decode(payload []byte, format string, dests ...any) error {
	return DecodeFrom(NewReader(payload), format, dests...)
}

// DecodeFrom is Decode from an existing cursor.
func DecodeFrom(r *Reader, format string, dests ...any) error {
	specs, err := parseFormat(format)
	if err != nil {
		return err
	}
	next := 0
	for _, s := range specs {
		if s.verb == 0 {
			c, err := r.Uint8()
			if err != nil {
				return err
			}
			if c != s.literal {
				return fmt.Errorf("%w: expected %q, got %q", ErrFormatMismatch, s.literal, c)
			}
			continue
		}
		if next >= len(dests) {
			return fmt.Errorf("%w: %q needs more than %d dests", ErrBadFormat, format, len(dests))
		}
		dst := dests[next]
		next++
		switch s.verb {
		case 'i':
			v, err := readInt(r, s.width)
			if err != nil {
				return err
			}
			if err := storeInt(dst, s.width, v); err != nil {
				return err
			}
		case 'I':
			if err := readVector(r, s.width, dst); err != nil {
				return err
			}
		case 's':
			p, err := r.Bytes()
			if err != nil {
				return err
			}
			switch d := dst.(type) {
			case *string:
				*d = string(p)
			case *[]byte:
				*d = p
			default:
				return fmt.Errorf("%w: %%s into %T", ErrBadFormat, dst)
			}
		}
	}
	return nil
}

func readInt(r *Reader, width int) (uint32, error) {
	switch width {
	case 1:
		v, err := r.Uint8()
		return uint32(v), err
	case 2:
		v, err := r.Uint16()
		return uint32(v), err
	default:
		return r.Uint32()
	}
}

func signExtend(v uint32, width int) int32 {
	switch width {
	case 1:
		return int32(int8(v))
	case 2:
		return int32(int16(v))
	}
	return int32(v)
}

func storeInt(dst any, width int, v uint32) error {
	switch d := dst.(type) {
	case *uint8:
		*d = uint8(v)
	case *uint16:
		*d = uint16(v)
	case *uint32:
		*d = v
	case *int8:
		*d = int8(signExtend(v, width))
	case *int16:
		*d = int16(signExtend(v, width))
	case *int32:
		*d = signExtend(v, width)
	case *int:
		*d = int(signExtend(v, width))
	case *bool:
		*d = v != 0
	default:
		return fmt.Errorf("%w: %%%di into %T", ErrBadFormat, width, dst)
	}
	return nil
}

func readVector(r *Reader, width int, dst any) error {
	n, err := r.Uint32()
	if err != nil {
		return err
	}
	if uint64(n)*uint64(width) > uint64(r.Remaining()) {
		r.off -= 4
		return fmt.Errorf("%w: vector of %d x %d bytes, have %d", ErrFormatMismatch, n, width, r.Remaining())
	}
	switch d := dst.(type) {
	case *[]uint8:
		if width != 1 {
			break
		}
		raw, _ := r.take(int(n))
		*d = nil
		if n > 0 {
			*d = append([]uint8{}, raw...)
		}
		return nil
	case *[]uint16:
		if width != 2 {
			break
		}
		var out []uint16
		for range n {
			v, _ := r.Uint16()
			out = append(out, v)
		}
		*d = out
		return nil
	case *[]uint32:
		if width != 4 {
			break
		}
		var out []uint32
		for range n {
			v, _ := r.Uint32()
			out = append(out, v)
		}
		*d = out
		return nil
	}
	return fmt.Errorf("%w: %%%dI into %T", ErrBadFormat, width, dst)
}
