// Package codec provides bounds-checked primitives for decoding the
// binary profile and coverage mapping formats: fixed-width reads in
// either byte order, LEB128 varints, and the truncated MD5 name hash.
package codec

import (
	"encoding/binary"
	"fmt"
)

// ErrOutOfBounds is returned (wrapped) whenever a read would pass the
// end of the buffer. Truncated input is a data defect, never a panic.
var ErrOutOfBounds = fmt.Errorf("read past end of buffer")

// Cursor decodes values sequentially from an in-memory buffer. All
// reads are bounds checked and the byte order is fixed at creation.
type Cursor struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
}

// NewCursor returns a cursor over buf reading little-endian values.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf, order: binary.LittleEndian}
}

// NewCursorOrder returns a cursor over buf with an explicit byte order.
func NewCursorOrder(buf []byte, order binary.ByteOrder) *Cursor {
	return &Cursor{buf: buf, order: order}
}

// Order returns the cursor's byte order.
func (c *Cursor) Order() binary.ByteOrder { return c.order }

// Pos returns the current offset from the start of the buffer.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Seek moves the cursor to an absolute offset.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return fmt.Errorf("seek to %d in %d-byte buffer: %w", pos, len(c.buf), ErrOutOfBounds)
	}
	c.pos = pos
	return nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return fmt.Errorf("skip %d bytes with %d remaining: %w", n, c.Remaining(), ErrOutOfBounds)
	}
	c.pos += n
	return nil
}

// Align advances the cursor to the next multiple of n from the buffer
// start. n must be a power of two.
func (c *Cursor) Align(n int) error {
	rem := c.pos & (n - 1)
	if rem == 0 {
		return nil
	}
	return c.Skip(n - rem)
}

// Bytes returns the next n bytes without copying and advances past
// them. The returned slice aliases the cursor's buffer.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, fmt.Errorf("read %d bytes with %d remaining: %w", n, c.Remaining(), ErrOutOfBounds)
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a 16-bit value in the cursor's byte order.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return c.order.Uint16(b), nil
}

// Uint32 reads a 32-bit value in the cursor's byte order.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return c.order.Uint32(b), nil
}

// Uint64 reads a 64-bit value in the cursor's byte order.
func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return c.order.Uint64(b), nil
}

// Int32 reads a signed 32-bit value in the cursor's byte order.
func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}
