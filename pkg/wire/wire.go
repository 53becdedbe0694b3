// Package wire implements the runtime's length-prefixed binary wire format:
// a growable byte buffer plus a small typed codec used for every RMI message
// body and for serializing hardware pools across a collective gather/scatter.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Order is the wire byte order: target-native, which in this implementation
// means little-endian, matching the spec's reference little-endian encoding.
var Order = binary.LittleEndian

// Buffer is a growable byte buffer with a read cursor, used to both build
// outgoing messages and consume incoming ones.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer returns an empty buffer ready for writing.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// FromBytes wraps existing bytes for reading.
func FromBytes(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Bytes returns the buffer's full content.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of unread bytes remaining.
func (b *Buffer) Len() int {
	return len(b.data) - b.pos
}

// Append appends raw bytes to the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

func (b *Buffer) need(n int) error {
	if b.Len() < n {
		return errors.Errorf("wire: short buffer, need %d bytes, have %d", n, b.Len())
	}
	return nil
}

// WriteUint32 appends a 4-byte unsigned integer.
func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	Order.PutUint32(tmp[:], v)
	b.Append(tmp[:])
}

// ReadUint32 reads a 4-byte unsigned integer.
func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := Order.Uint32(b.data[b.pos : b.pos+4])
	b.pos += 4
	return v, nil
}

// WriteUint64 appends an 8-byte unsigned integer.
func (b *Buffer) WriteUint64(v uint64) {
	var tmp [8]byte
	Order.PutUint64(tmp[:], v)
	b.Append(tmp[:])
}

// ReadUint64 reads an 8-byte unsigned integer.
func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := Order.Uint64(b.data[b.pos : b.pos+8])
	b.pos += 8
	return v, nil
}

// WriteInt32 appends a signed 4-byte integer (used for function ids and codes).
func (b *Buffer) WriteInt32(v int32) {
	b.WriteUint32(uint32(v))
}

// ReadInt32 reads a signed 4-byte integer.
func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// WriteString appends a NUL-terminated string.
func (b *Buffer) WriteString(s string) {
	b.Append([]byte(s))
	b.Append([]byte{0})
}

// ReadString reads a NUL-terminated string.
func (b *Buffer) ReadString() (string, error) {
	for i := b.pos; i < len(b.data); i++ {
		if b.data[i] == 0 {
			s := string(b.data[b.pos:i])
			b.pos = i + 1
			return s, nil
		}
	}
	return "", errors.New("wire: unterminated string")
}

// WriteBlob appends a usize-length-prefixed opaque byte blob. hwpool.Pack
// does not use it; pools and devices are written field by field.
func (b *Buffer) WriteBlob(p []byte) {
	b.WriteUint64(uint64(len(p)))
	b.Append(p)
}

// ReadBlob reads a usize-length-prefixed opaque byte blob.
func (b *Buffer) ReadBlob() ([]byte, error) {
	n, err := b.ReadUint64()
	if err != nil {
		return nil, err
	}
	if err := b.need(int(n)); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	copy(p, b.data[b.pos:b.pos+int(n)])
	b.pos += int(n)
	return p, nil
}

// WriteVectorLen appends the usize count prefix for a vector of n elements;
// callers then Write each element themselves.
func (b *Buffer) WriteVectorLen(n int) {
	b.WriteUint64(uint64(n))
}

// ReadVectorLen reads the usize count prefix for a vector.
func (b *Buffer) ReadVectorLen() (int, error) {
	n, err := b.ReadUint64()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PackStrings appends a length-prefixed vector of NUL-terminated strings.
func PackStrings(b *Buffer, vals []string) {
	b.WriteVectorLen(len(vals))
	for _, v := range vals {
		b.WriteString(v)
	}
}

// UnpackStrings reads a length-prefixed vector of NUL-terminated strings.
func UnpackStrings(b *Buffer) ([]string, error) {
	n, err := b.ReadVectorLen()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		out[i], err = b.ReadString()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PackInt32s appends a length-prefixed vector of int32 values.
func PackInt32s(b *Buffer, vals []int32) {
	b.WriteVectorLen(len(vals))
	for _, v := range vals {
		b.WriteInt32(v)
	}
}

// UnpackInt32s reads a length-prefixed vector of int32 values.
func UnpackInt32s(b *Buffer) ([]int32, error) {
	n, err := b.ReadVectorLen()
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		v, err := b.ReadInt32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
