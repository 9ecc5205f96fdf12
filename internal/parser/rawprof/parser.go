// Package rawprof decodes raw instrumentation profiles written by
// instrumented processes at exit. The format mirrors the writer's
// in-memory layout, so the header carries relocation deltas that must
// be applied before any section offset is trusted.
package rawprof

import (
	"context"
	"encoding/binary"

	"github.com/covparse/internal/parser"
	"github.com/covparse/pkg/codec"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/utils"

	apperrors "github.com/covparse/pkg/errors"
)

// Magic words as a little-endian read of the first 8 bytes. The wide
// and narrow variants differ only in the case of the 'r'.
const (
	magic64 uint64 = 255<<56 | 'l'<<48 | 'p'<<40 | 'r'<<32 | 'o'<<24 | 'f'<<16 | 'r'<<8 | 129
	magic32 uint64 = 255<<56 | 'l'<<48 | 'p'<<40 | 'r'<<32 | 'o'<<24 | 'f'<<16 | 'R'<<8 | 129
)

// Versions outside this window have layouts this decoder does not know.
const (
	minVersion = 4
	maxVersion = 9
)

const (
	recordSize   = 48 // NameRef, FuncHash, CounterPtr, FuncPtr, ValuesPtr, NumCounters, 2x NumValueSites
	recordSizeV9 = 64 // adds BitmapPtr, NumBitmapBytes and trailing pad
)

// Options configures the raw profile parser.
type Options struct {
	// Logger receives per-record diagnostics. Defaults to NullLogger.
	Logger utils.Logger
}

// DefaultOptions returns the default parser options.
func DefaultOptions() *Options {
	return &Options{
		Logger: &utils.NullLogger{},
	}
}

// Parser decodes raw profiles.
type Parser struct {
	opts *Options
}

// NewParser creates a raw profile parser. A nil opts uses defaults.
func NewParser(opts *Options) *Parser {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	return &Parser{opts: opts}
}

// Name implements parser.Parser.
func (p *Parser) Name() string {
	return "rawprof"
}

// SupportedFormats implements parser.Parser.
func (p *Parser) SupportedFormats() []string {
	return []string{"raw"}
}

// CanParse reports whether data starts with a raw profile magic in
// either byte order.
func (p *Parser) CanParse(data []byte) bool {
	_, _, ok := sniff(data)
	return ok
}

// sniff returns the byte order and pointer width implied by the magic.
func sniff(data []byte) (order binary.ByteOrder, wide bool, ok bool) {
	if len(data) < 8 {
		return nil, false, false
	}
	le := binary.LittleEndian.Uint64(data[:8])
	be := binary.BigEndian.Uint64(data[:8])
	switch {
	case le == magic64:
		return binary.LittleEndian, true, true
	case le == magic32:
		return binary.LittleEndian, false, true
	case be == magic64:
		return binary.BigEndian, true, true
	case be == magic32:
		return binary.BigEndian, false, true
	}
	return nil, false, false
}

// header is the decoded raw profile header with all section extents
// resolved to absolute buffer offsets.
type header struct {
	rawVersion uint64
	version    uint64

	binaryIDsSize uint64
	dataLen       uint64
	countersLen   uint64
	namesLen      uint64
	countersDelta uint64
	namesDelta    uint64
	valueKindLast uint64

	dataStart     int
	countersStart int
	countersSize  int
	namesStart    int
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, data []byte) (*model.InstrumentationProfile, error) {
	order, _, ok := sniff(data)
	if !ok {
		return nil, apperrors.FormatErrorf("not a raw profile: bad magic")
	}

	cur := codec.NewCursorOrder(data, order)
	if err := cur.Skip(8); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "raw profile truncated", err)
	}

	hdr, err := p.parseHeader(cur)
	if err != nil {
		return nil, err
	}

	profile := model.NewInstrumentationProfile()
	profile.ApplyVersion(hdr.rawVersion)

	if err := p.parseNames(data, order, hdr, profile); err != nil {
		return nil, err
	}
	if err := p.parseRecords(ctx, data, order, hdr, profile); err != nil {
		return nil, err
	}

	p.opts.Logger.Debug("decoded raw profile: version=%d records=%d", hdr.version, profile.NumRecords())
	return profile, nil
}

// parseHeader decodes the version-gated header fields and computes the
// absolute extents of the data, counter and name sections.
func (p *Parser) parseHeader(cur *codec.Cursor) (*header, error) {
	rawVersion, err := cur.Uint64()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "raw profile header truncated", err)
	}

	hdr := &header{
		rawVersion: rawVersion,
		version:    rawVersion &^ model.VariantMasksAll,
	}
	if hdr.version < minVersion || hdr.version > maxVersion {
		return nil, apperrors.Newf(apperrors.CodeUnsupported, "raw profile version %d not supported", hdr.version)
	}

	var padBefore, padAfter uint64
	read := func(dst *uint64) {
		if err != nil {
			return
		}
		*dst, err = cur.Uint64()
	}

	if hdr.version >= 7 {
		read(&hdr.binaryIDsSize)
	}
	read(&hdr.dataLen)
	if hdr.version >= 5 {
		read(&padBefore)
	}
	read(&hdr.countersLen)
	if hdr.version >= 5 {
		read(&padAfter)
	}
	read(&hdr.namesLen)
	read(&hdr.countersDelta)
	read(&hdr.namesDelta)
	read(&hdr.valueKindLast)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "raw profile header truncated", err)
	}

	bufLen := uint64(cur.Remaining()) + uint64(cur.Pos())

	// Resolve section extents, guarding every sum against overflow.
	pos := uint64(cur.Pos())
	pos, err = addChecked(pos, hdr.binaryIDsSize, bufLen)
	if err != nil {
		return nil, err
	}
	hdr.dataStart = int(pos)

	recSize := uint64(recordSize)
	if hdr.version >= 9 {
		recSize = recordSizeV9
	}
	dataSize, err := mulChecked(hdr.dataLen, recSize, bufLen)
	if err != nil {
		return nil, err
	}
	pos, err = addChecked(pos, dataSize, bufLen)
	if err != nil {
		return nil, err
	}
	pos, err = addChecked(pos, padBefore, bufLen)
	if err != nil {
		return nil, err
	}
	hdr.countersStart = int(pos)

	counterWidth := uint64(8)
	if hdr.rawVersion&model.VariantMaskByteCoverage != 0 {
		counterWidth = 1
	}
	countersSize, err := mulChecked(hdr.countersLen, counterWidth, bufLen)
	if err != nil {
		return nil, err
	}
	hdr.countersSize = int(countersSize)
	pos, err = addChecked(pos, countersSize, bufLen)
	if err != nil {
		return nil, err
	}
	pos, err = addChecked(pos, padAfter, bufLen)
	if err != nil {
		return nil, err
	}
	hdr.namesStart = int(pos)

	if _, err := addChecked(pos, hdr.namesLen, bufLen); err != nil {
		return nil, err
	}
	return hdr, nil
}

// parseNames decodes the name section and fills the profile symtab.
func (p *Parser) parseNames(data []byte, order binary.ByteOrder, hdr *header, profile *model.InstrumentationProfile) error {
	blob := data[hdr.namesStart : hdr.namesStart+int(hdr.namesLen)]
	names, err := codec.DecodeNameBlob(blob)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeFormatError, "raw profile name section", err)
	}
	for _, name := range names {
		profile.AddSymbol(codec.NameHashOrder(name, order), name)
	}
	return nil
}

// parseRecords decodes the per-function data records and attaches
// counter values read from the counter section.
func (p *Parser) parseRecords(ctx context.Context, data []byte, order binary.ByteOrder, hdr *header, profile *model.InstrumentationProfile) error {
	cur := codec.NewCursorOrder(data, order)
	if err := cur.Seek(hdr.dataStart); err != nil {
		return apperrors.Wrap(apperrors.CodeFormatError, "raw profile data section", err)
	}

	byteCoverage := hdr.rawVersion&model.VariantMaskByteCoverage != 0
	counters := data[hdr.countersStart : hdr.countersStart+hdr.countersSize]

	for i := uint64(0); i < hdr.dataLen; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := p.parseDataRecord(cur, hdr)
		if err != nil {
			return err
		}

		name, ok := profile.Symtab[rec.nameRef]
		if !ok {
			return apperrors.FormatErrorf("raw profile record %d references unknown name hash %#x", i, rec.nameRef)
		}

		counts, err := p.readCounters(counters, order, hdr, rec, byteCoverage)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "counters for "+name, err)
		}

		named := &model.NamedRecord{
			Name:   name,
			Hash:   rec.funcHash,
			Counts: counts,
		}
		// Value-profile payloads are not decoded from raw profiles, but
		// the declared site counts are preserved so merges union
		// correctly against profiles that carry them.
		if rec.numValueSites[0] > 0 || rec.numValueSites[1] > 0 {
			named.ValueData = &model.ValueProfData{
				IndirectCallSites: make([]model.ValueSite, rec.numValueSites[0]),
				MemOpSizes:        make([]model.ValueSite, rec.numValueSites[1]),
			}
		}
		profile.PushRecord(named)
	}
	return nil
}

// dataRecord is one entry of the data section.
type dataRecord struct {
	nameRef       uint64
	funcHash      uint64
	counterPtr    uint64
	numCounters   uint32
	numValueSites [model.NumValueKinds]uint16
}

func (p *Parser) parseDataRecord(cur *codec.Cursor, hdr *header) (*dataRecord, error) {
	rec := &dataRecord{}
	var err error

	readU64 := func(dst *uint64) {
		if err != nil {
			return
		}
		*dst, err = cur.Uint64()
	}

	var funcPtr, valuesPtr uint64
	readU64(&rec.nameRef)
	readU64(&rec.funcHash)
	readU64(&rec.counterPtr)
	readU64(&funcPtr)
	readU64(&valuesPtr)
	if err == nil {
		rec.numCounters, err = cur.Uint32()
	}
	for k := 0; k < model.NumValueKinds && err == nil; k++ {
		rec.numValueSites[k], err = cur.Uint16()
	}
	if hdr.version >= 9 && err == nil {
		// BitmapPtr + NumBitmapBytes + pad; condition bitmaps are not
		// decoded.
		err = cur.Skip(16)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "raw profile data record truncated", err)
	}
	return rec, nil
}

// readCounters resolves a record's counter pointer against the counter
// section and reads its values. Byte-coverage counters are one byte
// wide and widened on read.
func (p *Parser) readCounters(counters []byte, order binary.ByteOrder, hdr *header, rec *dataRecord, byteCoverage bool) ([]uint64, error) {
	// CounterPtr is an address in the writer's memory; CountersDelta is
	// the address the counter section claimed. Their difference is the
	// byte offset into the section.
	offset := rec.counterPtr - hdr.countersDelta

	width := uint64(8)
	if byteCoverage {
		width = 1
	}
	need := uint64(rec.numCounters) * width
	if offset > uint64(len(counters)) || need > uint64(len(counters))-offset {
		return nil, apperrors.FormatErrorf(
			"counter range [%d, %d) outside section of %d bytes", offset, offset+need, len(counters))
	}

	counts := make([]uint64, rec.numCounters)
	raw := counters[offset : offset+need]
	if byteCoverage {
		for i := range counts {
			counts[i] = uint64(raw[i])
		}
	} else {
		for i := range counts {
			counts[i] = order.Uint64(raw[i*8 : i*8+8])
		}
	}
	return counts, nil
}

// addChecked returns a+b, failing if the sum overflows or passes limit.
func addChecked(a, b, limit uint64) (uint64, error) {
	sum := a + b
	if sum < a || sum > limit {
		return 0, apperrors.FormatErrorf("section extent %d+%d exceeds %d-byte input", a, b, limit)
	}
	return sum, nil
}

// mulChecked returns a*b, failing if the product overflows or passes limit.
func mulChecked(a, b, limit uint64) (uint64, error) {
	if a != 0 && b > limit/a {
		return 0, apperrors.FormatErrorf("section size %d*%d exceeds %d-byte input", a, b, limit)
	}
	return a * b, nil
}

var _ parser.Parser = (*Parser)(nil)
