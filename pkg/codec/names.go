package codec

import (
	"bytes"
	"fmt"

	"github.com/covparse/pkg/compression"
)

// nameSeparator joins function names inside an encoded string blob.
const nameSeparator = 0x01

// DecodeNameBlob decodes an encoded-strings blob into its function
// names. A blob is a sequence of chunks, each a ULEB128 uncompressed
// length, a ULEB128 compressed length, then the payload: zlib
// compressed when the compressed length is non-zero, raw otherwise.
// Names inside a chunk are separated by 0x01.
func DecodeNameBlob(blob []byte) ([]string, error) {
	cur := NewCursor(blob)
	zlib := compression.NewZlibCompressor(compression.LevelDefault)

	var names []string
	for cur.Remaining() > 0 {
		uncompressedLen, err := cur.ULEB128()
		if err != nil {
			return nil, fmt.Errorf("name blob chunk header: %w", err)
		}
		compressedLen, err := cur.ULEB128()
		if err != nil {
			return nil, fmt.Errorf("name blob chunk header: %w", err)
		}

		var chunk []byte
		if compressedLen != 0 {
			payload, err := cur.Bytes(int(compressedLen))
			if err != nil {
				return nil, fmt.Errorf("name blob payload: %w", err)
			}
			chunk, err = zlib.DecompressLimit(payload, uncompressedLen)
			if err != nil {
				return nil, fmt.Errorf("name blob payload: %w", err)
			}
			if uint64(len(chunk)) != uncompressedLen {
				return nil, fmt.Errorf("name blob chunk declared %d bytes, decompressed to %d", uncompressedLen, len(chunk))
			}
		} else {
			raw, err := cur.Bytes(int(uncompressedLen))
			if err != nil {
				return nil, fmt.Errorf("name blob payload: %w", err)
			}
			chunk = raw
		}

		for _, name := range bytes.Split(chunk, []byte{nameSeparator}) {
			if len(name) > 0 {
				names = append(names, string(name))
			}
		}
	}
	return names, nil
}

// EncodeNameBlob builds an uncompressed encoded-strings blob. Used by
// tests and by tools that synthesize profiles.
func EncodeNameBlob(names []string) []byte {
	joined := bytes.Join(toByteSlices(names), []byte{nameSeparator})
	out := AppendULEB128(nil, uint64(len(joined)))
	out = AppendULEB128(out, 0)
	return append(out, joined...)
}

func toByteSlices(names []string) [][]byte {
	out := make([][]byte, len(names))
	for i, name := range names {
		out[i] = []byte(name)
	}
	return out
}
