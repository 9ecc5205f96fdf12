package codec

import "fmt"

// maxULEBBytes bounds a ULEB128 encoding of a 64-bit value. Longer
// sequences are malformed regardless of remaining input.
const maxULEBBytes = 10

// ULEB128 reads an unsigned LEB128 varint from the cursor.
func (c *Cursor) ULEB128() (uint64, error) {
	var value uint64
	var shift uint
	for i := 0; i < maxULEBBytes; i++ {
		b, err := c.Uint8()
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("uleb128 value exceeds %d bytes", maxULEBBytes)
}

// AppendULEB128 appends the ULEB128 encoding of v to dst. Used by test
// fixtures and the text profile writer.
func AppendULEB128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}
