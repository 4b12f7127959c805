package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packet(payload []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(payload)))
	return append(out, payload...)
}

func TestFramerReassemblesAcrossReads(t *testing.T) {
	// 4-byte length + 6-byte payload delivered as 3, 4 and 3 bytes.
	raw := packet([]byte("CNOPab"))
	require.Len(t, raw, 10)

	f := NewFramer(0)
	for i, chunk := range [][]byte{raw[:3], raw[3:7]} {
		f.Feed(chunk)
		_, ok, err := f.Next()
		require.NoError(t, err)
		assert.False(t, ok, "chunk %d", i)
	}
	f.Feed(raw[7:])
	got, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("CNOPab"), got)
	assert.Zero(t, f.Buffered())

	_, ok, err = f.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFramerChunkBoundaryIndependent(t *testing.T) {
	var stream []byte
	payloads := [][]byte{[]byte("DMMV\x00\x01\x00\x02"), {}, []byte("CALV"), bytes.Repeat([]byte{7}, 300)}
	for _, p := range payloads {
		stream = append(stream, packet(p)...)
	}

	for size := 1; size <= len(stream); size++ {
		f := NewFramer(1024)
		var got [][]byte
		for off := 0; off < len(stream); off += size {
			f.Feed(stream[off:min(off+size, len(stream))])
			for {
				p, ok, err := f.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
				got = append(got, p)
			}
		}
		require.Len(t, got, len(payloads), "chunk size %d", size)
		for i := range payloads {
			assert.Equal(t, payloads[i], got[i], "chunk size %d payload %d", size, i)
		}
	}
}

func TestFramerShortInputNeverYields(t *testing.T) {
	raw := packet([]byte("CBYE"))
	for n := 0; n < len(raw); n++ {
		f := NewFramer(0)
		f.Feed(raw[:n])
		_, ok, err := f.Next()
		require.NoError(t, err)
		assert.False(t, ok, "prefix of %d bytes", n)
	}
}

func TestFramerRejectsOversizedLength(t *testing.T) {
	f := NewFramer(16)
	f.Feed([]byte{0, 0, 0, 17})
	_, ok, err := f.Next()
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrMessageTooLarge)

	// Sticky: the stream cannot be resynchronised.
	f.Feed(packet([]byte("CNOP")))
	_, _, err = f.Next()
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestFramerBufferedCountsPending(t *testing.T) {
	f := NewFramer(0)
	f.Feed(append(packet([]byte("CNOP")), packet([]byte("CALV"))[:6]...))
	_, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6, f.Buffered())
}

func TestFramerReady(t *testing.T) {
	f := NewFramer(8)
	assert.False(t, f.Ready())

	first := packet([]byte("CNOP"))
	second := packet([]byte("CALV"))
	f.Feed(append(first, second[:2]...))
	assert.True(t, f.Ready())
	_, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, f.Ready(), "half a header")
	f.Feed(second[2:6])
	assert.False(t, f.Ready(), "header without its body")
	f.Feed(second[6:])
	assert.True(t, f.Ready())
	_, ok, err = f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, f.Ready())

	f.Feed([]byte{0, 0, 0, 9})
	assert.True(t, f.Ready(), "oversized header fails at once")
}

func TestWritePacketReadPacket(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, []byte("QINF")))
	assert.Equal(t, []byte{0, 0, 0, 4, 'Q', 'I', 'N', 'F'}, buf.Bytes())

	got, err := ReadPacket(&buf, MaxHelloLength)
	require.NoError(t, err)
	assert.Equal(t, []byte("QINF"), got)
}

func TestReadPacketEnforcesLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, bytes.Repeat([]byte{'x'}, 40)))
	_, err := ReadPacket(&buf, 32)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}
