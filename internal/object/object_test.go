package object

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covparse/pkg/errors"
)

// buildELF assembles a minimal 64-bit little-endian ELF with the given
// named sections.
func buildELF(sections map[string][]byte) []byte {
	le := binary.LittleEndian

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}

	shstrtab := []byte{0}
	nameOff := map[string]uint32{}
	for _, name := range names {
		nameOff[name] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
	}
	nameOff[".shstrtab"] = uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab"...)
	shstrtab = append(shstrtab, 0)

	type sec struct {
		name   string
		data   []byte
		typ    uint32
		offset uint64
	}
	all := make([]sec, 0, len(names)+1)
	for _, name := range names {
		all = append(all, sec{name: name, data: sections[name], typ: 1})
	}
	all = append(all, sec{name: ".shstrtab", data: shstrtab, typ: 3})

	body := make([]byte, 64)
	for i := range all {
		all[i].offset = uint64(len(body))
		body = append(body, all[i].data...)
	}
	shoff := uint64(len(body))

	// Section header table: null entry first.
	sh := make([]byte, 64)
	for _, s := range all {
		entry := make([]byte, 64)
		le.PutUint32(entry[0:], nameOff[s.name])
		le.PutUint32(entry[4:], s.typ)
		le.PutUint64(entry[24:], s.offset)
		le.PutUint64(entry[32:], uint64(len(s.data)))
		le.PutUint64(entry[48:], 1) // addralign
		sh = append(sh, entry...)
	}
	body = append(body, sh...)

	hdr := body[:64]
	copy(hdr, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(hdr[16:], 2)    // ET_EXEC
	le.PutUint16(hdr[18:], 0x3e) // x86-64
	le.PutUint32(hdr[20:], 1)
	le.PutUint64(hdr[40:], shoff)
	le.PutUint16(hdr[52:], 64)
	le.PutUint16(hdr[58:], 64)
	le.PutUint16(hdr[60:], uint16(len(all)+1))
	le.PutUint16(hdr[62:], uint16(len(all))) // shstrtab is last
	return body
}

func TestReadELF(t *testing.T) {
	data := buildELF(map[string][]byte{
		"__llvm_covmap":    []byte("covmap-bytes"),
		"__llvm_covfun":    []byte("covfun-bytes!"),
		"__llvm_prf_names": []byte("names"),
	})

	s, err := Read(data)
	require.NoError(t, err)

	assert.Equal(t, []byte("covmap-bytes"), s.Covmap)
	assert.Equal(t, []byte("covfun-bytes!"), s.Covfun)
	assert.Equal(t, []byte("names"), s.ProfNames)
	assert.Equal(t, binary.ByteOrder(binary.LittleEndian), s.Order)
	assert.True(t, s.HasCoverage())
}

func TestReadELFWithoutCoverage(t *testing.T) {
	data := buildELF(map[string][]byte{
		".text": []byte{0x90},
	})

	s, err := Read(data)
	require.NoError(t, err)

	assert.Nil(t, s.Covmap)
	assert.Nil(t, s.Covfun)
	assert.False(t, s.HasCoverage())
}

func TestReadUnknownContainer(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("plain text"),
		{0x00, 0x01, 0x02, 0x03},
	} {
		_, err := Read(data)
		require.Error(t, err)
		assert.True(t, errors.IsFormatError(err))
	}
}

func TestReadMalformedELF(t *testing.T) {
	data := append([]byte("\x7fELF"), make([]byte, 8)...)
	_, err := Read(data)
	require.Error(t, err)
	assert.True(t, errors.IsFormatError(err))
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open("/nonexistent/binary")
	assert.Error(t, err)
}
