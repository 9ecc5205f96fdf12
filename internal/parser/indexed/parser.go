// Package indexed decodes indexed instrumentation profiles, the
// merged on-disk format produced by profile post-processing. Function
// records live in an on-disk chained hash table, so lookups by name
// can avoid decoding the whole payload.
package indexed

import (
	"context"
	"encoding/binary"

	"github.com/covparse/internal/parser"
	"github.com/covparse/pkg/codec"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/utils"

	apperrors "github.com/covparse/pkg/errors"
)

// magic is the little-endian read of \xff l p r o f i \x81. Indexed
// profiles are always little endian.
const magic uint64 = 255<<56 | 'l'<<48 | 'p'<<40 | 'r'<<32 | 'o'<<24 | 'f'<<16 | 'i'<<8 | 129

const (
	minVersion = 4
	maxVersion = 10
)

// hashKindMD5 is the only supported key hash scheme.
const hashKindMD5 = 0

// Options configures the indexed profile parser.
type Options struct {
	// Logger receives decode diagnostics. Defaults to NullLogger.
	Logger utils.Logger
}

// DefaultOptions returns the default parser options.
func DefaultOptions() *Options {
	return &Options{
		Logger: &utils.NullLogger{},
	}
}

// Parser decodes indexed profiles.
type Parser struct {
	opts *Options
}

// NewParser creates an indexed profile parser. A nil opts uses defaults.
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
	return "indexed"
}

// SupportedFormats implements parser.Parser.
func (p *Parser) SupportedFormats() []string {
	return []string{"indexed"}
}

// CanParse reports whether data starts with the indexed profile magic.
func (p *Parser) CanParse(data []byte) bool {
	return len(data) >= 8 && binary.LittleEndian.Uint64(data[:8]) == magic
}

// Parse implements parser.Parser. It materializes every record; use
// NewReader directly for lazy, per-name access.
func (p *Parser) Parse(ctx context.Context, data []byte) (*model.InstrumentationProfile, error) {
	r, err := NewReader(data)
	if err != nil {
		return nil, err
	}
	profile := r.Profile()
	for _, name := range r.Names() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := r.Records(name)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			profile.PushRecord(rec)
		}
	}
	p.opts.Logger.Debug("decoded indexed profile: version=%d records=%d", profile.Version, profile.NumRecords())
	return profile, nil
}

// keyEntry is one hash table key with the byte range of its record
// bodies.
type keyEntry struct {
	hash  uint64
	start int
	end   int
}

// Reader is a decoded indexed profile with lazy record access. The
// hash table is indexed up front as byte ranges; record bodies decode
// on first access and are cached.
type Reader struct {
	data    []byte
	profile *model.InstrumentationProfile
	names   []string
	index   map[string]keyEntry
	cache   map[string][]*model.NamedRecord
}

// NewReader parses the header, summaries and hash table index of an
// indexed profile.
func NewReader(data []byte) (*Reader, error) {
	cur := codec.NewCursor(data)

	m, err := cur.Uint64()
	if err != nil || m != magic {
		return nil, apperrors.FormatErrorf("not an indexed profile: bad magic")
	}

	rawVersion, err := cur.Uint64()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "indexed profile header truncated", err)
	}
	version := rawVersion &^ model.VariantMasksAll
	if version < minVersion || version > maxVersion {
		return nil, apperrors.Newf(apperrors.CodeUnsupported, "indexed profile version %d not supported", version)
	}

	profile := model.NewInstrumentationProfile()
	profile.ApplyVersion(rawVersion)

	var unused, hashKind, hashOffset uint64
	read := func(dst *uint64) {
		if err != nil {
			return
		}
		*dst, err = cur.Uint64()
	}
	read(&unused)
	read(&hashKind)
	read(&hashOffset)

	var memProfOffset, binaryIDOffset, temporalOffset uint64
	if version >= 8 {
		read(&memProfOffset)
	}
	if version >= 9 {
		read(&binaryIDOffset)
	}
	if version >= 10 {
		read(&temporalOffset)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "indexed profile header truncated", err)
	}
	if hashKind != hashKindMD5 {
		return nil, apperrors.FormatErrorf("indexed profile uses unknown hash kind %d", hashKind)
	}
	if memProfOffset != 0 {
		profile.MemoryProfiling = true
	}

	profile.Summary, err = parseSummary(cur)
	if err != nil {
		return nil, err
	}
	if profile.HasCSIR {
		profile.CSSummary, err = parseSummary(cur)
		if err != nil {
			return nil, err
		}
	}

	r := &Reader{
		data:    data,
		profile: profile,
		index:   make(map[string]keyEntry),
		cache:   make(map[string][]*model.NamedRecord),
	}
	if err := r.indexHashTable(hashOffset); err != nil {
		return nil, err
	}
	return r, nil
}

// parseSummary decodes one profile summary block.
func parseSummary(cur *codec.Cursor) (*model.ProfileSummary, error) {
	numFields, err := cur.Uint64()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "summary block truncated", err)
	}
	numEntries, err := cur.Uint64()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFormatError, "summary block truncated", err)
	}

	summary := &model.ProfileSummary{}
	for i := uint64(0); i < numFields; i++ {
		v, err := cur.Uint64()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "summary block truncated", err)
		}
		// Fields beyond the known kinds come from newer writers and are
		// ignored.
		switch model.SummaryFieldKind(i) {
		case model.SummaryTotalNumFunctions:
			summary.TotalFunctions = v
		case model.SummaryTotalNumBlocks:
			summary.TotalBlocks = v
		case model.SummaryMaxFunctionCount:
			summary.MaxFunctionCount = v
		case model.SummaryMaxBlockCount:
			summary.MaxBlockCount = v
		case model.SummaryMaxInternalBlockCount:
			summary.MaxInternalBlockCount = v
		case model.SummaryTotalBlockCount:
			summary.TotalBlockCount = v
		}
	}
	for i := uint64(0); i < numEntries; i++ {
		var entry model.SummaryEntry
		var err error
		entry.Cutoff, err = cur.Uint64()
		if err == nil {
			entry.MinCount, err = cur.Uint64()
		}
		if err == nil {
			entry.NumCounts, err = cur.Uint64()
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "summary entries truncated", err)
		}
		summary.Detailed = append(summary.Detailed, entry)
	}
	return summary, nil
}

// indexHashTable walks every bucket and records each key's data byte
// range without decoding record bodies.
func (r *Reader) indexHashTable(offset uint64) error {
	if offset > uint64(len(r.data)) {
		return apperrors.FormatErrorf("hash table offset %d outside %d-byte input", offset, len(r.data))
	}
	cur := codec.NewCursor(r.data)
	if err := cur.Seek(int(offset)); err != nil {
		return apperrors.Wrap(apperrors.CodeFormatError, "hash table", err)
	}

	numBuckets, err := cur.Uint64()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeFormatError, "hash table header truncated", err)
	}
	numEntries, err := cur.Uint64()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeFormatError, "hash table header truncated", err)
	}

	seen := uint64(0)
	for b := uint64(0); b < numBuckets; b++ {
		itemCount, err := cur.Uint16()
		if err != nil {
			return apperrors.Wrap(apperrors.CodeFormatError, "hash table bucket truncated", err)
		}
		for i := uint16(0); i < itemCount; i++ {
			hash, err := cur.Uint64()
			if err != nil {
				return apperrors.Wrap(apperrors.CodeFormatError, "hash table item truncated", err)
			}
			keyLen, err := cur.Uint64()
			if err != nil {
				return apperrors.Wrap(apperrors.CodeFormatError, "hash table item truncated", err)
			}
			dataLen, err := cur.Uint64()
			if err != nil {
				return apperrors.Wrap(apperrors.CodeFormatError, "hash table item truncated", err)
			}
			key, err := cur.Bytes(int(keyLen))
			if err != nil {
				return apperrors.Wrap(apperrors.CodeFormatError, "hash table key truncated", err)
			}
			start := cur.Pos()
			if err := cur.Skip(int(dataLen)); err != nil {
				return apperrors.Wrap(apperrors.CodeFormatError, "hash table data truncated", err)
			}

			name := string(key)
			r.names = append(r.names, name)
			r.index[name] = keyEntry{hash: hash, start: start, end: cur.Pos()}
			r.profile.AddSymbol(hash, name)
			seen++
		}
	}
	if seen != numEntries {
		return apperrors.FormatErrorf("hash table declares %d entries, found %d", numEntries, seen)
	}
	return nil
}

// Profile returns the profile shell: version, variant flags, summaries
// and symtab. Records are attached by the caller as they are decoded.
func (r *Reader) Profile() *model.InstrumentationProfile {
	return r.profile
}

// Names returns every function name in the table, in table order.
func (r *Reader) Names() []string {
	return append([]string(nil), r.names...)
}

// Records decodes the record bodies for a name. A name can carry
// several records when the function's structure changed between
// builds. The decoded slice is cached.
func (r *Reader) Records(name string) ([]*model.NamedRecord, error) {
	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}
	entry, ok := r.index[name]
	if !ok {
		return nil, apperrors.LookupErrorf("no profile data for function %q", name)
	}

	records, err := decodeBodies(name, r.data[entry.start:entry.end])
	if err != nil {
		return nil, err
	}
	r.cache[name] = records
	return records, nil
}

// decodeBodies decodes the one or more (funcHash, counts, value
// profile) bodies packed into a key's data range. The value-profile
// block is always present and skipped by its declared size; the block
// header is part of that size.
func decodeBodies(name string, data []byte) ([]*model.NamedRecord, error) {
	cur := codec.NewCursor(data)
	var records []*model.NamedRecord
	for cur.Remaining() > 0 {
		funcHash, err := cur.Uint64()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "record body for "+name, err)
		}
		countsLen, err := cur.Uint64()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "record body for "+name, err)
		}
		if countsLen > uint64(cur.Remaining())/8 {
			return nil, apperrors.FormatErrorf("record for %q declares %d counters, only %d bytes remain", name, countsLen, cur.Remaining())
		}
		counts := make([]uint64, countsLen)
		for i := range counts {
			counts[i], err = cur.Uint64()
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeFormatError, "record body for "+name, err)
			}
		}

		totalSize, err := cur.Uint32()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "value profile block for "+name, err)
		}
		if _, err := cur.Uint32(); err != nil { // NumValueKinds
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "value profile block for "+name, err)
		}
		if totalSize < 8 {
			return nil, apperrors.FormatErrorf("value profile block for %q declares %d bytes, minimum is 8", name, totalSize)
		}
		if err := cur.Skip(int(totalSize) - 8); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFormatError, "value profile block for "+name, err)
		}

		records = append(records, &model.NamedRecord{
			Name:   name,
			Hash:   funcHash,
			Counts: counts,
		})
	}
	return records, nil
}

var _ parser.Parser = (*Parser)(nil)
