package codec

import (
	"crypto/md5"
	"encoding/binary"
)

// NameHash returns the truncated MD5 of name used to key symbol tables
// and function record references: the low 8 bytes of the digest read
// as a little-endian word.
func NameHash(name string) uint64 {
	sum := md5.Sum([]byte(name))
	return binary.LittleEndian.Uint64(sum[:8])
}

// DataHash hashes an arbitrary byte blob the same way NameHash hashes
// a name: the low 8 bytes of its MD5 digest read little endian.
func DataHash(data []byte) uint64 {
	sum := md5.Sum(data)
	return binary.LittleEndian.Uint64(sum[:8])
}

// NameHashOrder is NameHash with an explicit byte order, for profiles
// produced on big-endian targets.
func NameHashOrder(name string, order binary.ByteOrder) uint64 {
	sum := md5.Sum([]byte(name))
	return order.Uint64(sum[:8])
}
