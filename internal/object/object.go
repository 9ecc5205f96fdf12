// Package object locates coverage instrumentation sections inside
// compiled binaries. It understands ELF, Mach-O and PE containers and
// hands the raw section bytes to internal/covmap, which stays
// container-agnostic.
package object

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/binary"
	"os"

	apperrors "github.com/covparse/pkg/errors"
)

// Sections holds the coverage sections pulled out of one binary. A nil
// slice means the binary does not carry that section.
type Sections struct {
	// Covmap holds the per-unit filename tables.
	Covmap []byte
	// Covfun holds the function mapping records.
	Covfun []byte
	// ProfNames holds the encoded function name blob.
	ProfNames []byte
	// Order is the container's byte order.
	Order binary.ByteOrder
}

// HasCoverage reports whether both mapping sections were found.
func (s *Sections) HasCoverage() bool {
	return len(s.Covmap) > 0 && len(s.Covfun) > 0
}

// Open reads a binary from disk and extracts its coverage sections.
func Open(path string) (*Sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(data)
}

// Read extracts coverage sections from in-memory binary contents.
func Read(data []byte) (*Sections, error) {
	switch {
	case bytes.HasPrefix(data, []byte("\x7fELF")):
		return readELF(data)
	case isMachO(data):
		return readMachO(data)
	case bytes.HasPrefix(data, []byte("MZ")):
		return readPE(data)
	}
	return nil, apperrors.FormatErrorf("unrecognized object container")
}

func isMachO(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	switch binary.LittleEndian.Uint32(data[:4]) {
	case macho.Magic32, macho.Magic64, macho.MagicFat,
		swap32(macho.Magic32), swap32(macho.Magic64), swap32(macho.MagicFat):
		return true
	}
	return false
}

func swap32(v uint32) uint32 {
	return v<<24 | v&0xff00<<8 | v>>8&0xff00 | v>>24
}

func readELF(data []byte) (*Sections, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "malformed ELF", err)
	}
	defer f.Close()

	out := &Sections{Order: f.ByteOrder}
	if out.Covmap, err = elfSection(f, "__llvm_covmap"); err != nil {
		return nil, err
	}
	if out.Covfun, err = elfSection(f, "__llvm_covfun"); err != nil {
		return nil, err
	}
	if out.ProfNames, err = elfSection(f, "__llvm_prf_names"); err != nil {
		return nil, err
	}
	return out, nil
}

func elfSection(f *elf.File, name string) ([]byte, error) {
	s := f.Section(name)
	if s == nil {
		return nil, nil
	}
	data, err := s.Data()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "reading ELF section "+name, err)
	}
	return data, nil
}

func readMachO(data []byte) (*Sections, error) {
	if binary.LittleEndian.Uint32(data[:4]) == macho.MagicFat || binary.BigEndian.Uint32(data[:4]) == macho.MagicFat {
		fat, err := macho.NewFatFile(bytes.NewReader(data))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "malformed fat Mach-O", err)
		}
		defer fat.Close()
		if len(fat.Arches) == 0 {
			return nil, apperrors.FormatErrorf("fat Mach-O holds no architectures")
		}
		// The first architecture slice carries the same mapping data as
		// the rest.
		return machoSections(fat.Arches[0].File)
	}

	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "malformed Mach-O", err)
	}
	defer f.Close()
	return machoSections(f)
}

func machoSections(f *macho.File) (*Sections, error) {
	out := &Sections{Order: f.ByteOrder}
	var err error
	if out.Covmap, err = machoSection(f, "__llvm_covmap"); err != nil {
		return nil, err
	}
	if out.Covfun, err = machoSection(f, "__llvm_covfun"); err != nil {
		return nil, err
	}
	if out.ProfNames, err = machoSection(f, "__llvm_prf_names"); err != nil {
		return nil, err
	}
	return out, nil
}

func machoSection(f *macho.File, name string) ([]byte, error) {
	s := f.Section(name)
	if s == nil {
		return nil, nil
	}
	data, err := s.Data()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "reading Mach-O section "+name, err)
	}
	return data, nil
}

func readPE(data []byte) (*Sections, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "malformed PE", err)
	}
	defer f.Close()

	// PE images are always little endian.
	out := &Sections{Order: binary.LittleEndian}
	if out.Covmap, err = peSection(f, ".lcovmap$M"); err != nil {
		return nil, err
	}
	if out.Covfun, err = peSection(f, ".lcovfun$M"); err != nil {
		return nil, err
	}
	if out.ProfNames, err = peSection(f, ".lprfn$M"); err != nil {
		return nil, err
	}
	return out, nil
}

func peSection(f *pe.File, name string) ([]byte, error) {
	for _, s := range f.Sections {
		if s.Name != name {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "reading PE section "+name, err)
		}
		// VirtualSize trims the file-alignment padding PE appends to
		// section payloads.
		if s.VirtualSize != 0 && uint32(len(data)) > s.VirtualSize {
			data = data[:s.VirtualSize]
		}
		return data, nil
	}
	return nil, nil
}
